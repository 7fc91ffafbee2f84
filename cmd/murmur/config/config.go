// Package configcmder provides the config command for managing persistent
// murmur configuration stored in the .murmur/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent murmur configuration.

Configuration is stored as config.toml in the .murmur/ directory and provides
default values for command flags. CLI flags always take precedence over
config file values, and MURMUR_* environment variables sit between the two.

Keys use dotted notation matching the TOML section structure:
  storage.driver, storage.sqlite_path, storage.postgres_dsn,
  api.listen,
  vector_store.provider, vector_store.target, vector_store.dimensions,
  embedding.provider, embedding.target, embedding.model,
  transcription.target, classification.provider, narrative.provider,
  scoring.*, scheduler.*, repair.*, ratelimit.*, search.index_path,
  telegram.token, nudges.enabled, eventstream.brokers

Use subcommands to get, set, or list configuration values:
  murmur config set <key> <value>    Set a configuration value
  murmur config get <key>            Get a configuration value
  murmur config list                 List all configuration values

Examples:
  murmur config set classification.provider openai
  murmur config set embedding.model nomic-embed-text
  murmur config get storage.driver
  murmur config list`

const configShortDesc string = "Manage persistent murmur configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
