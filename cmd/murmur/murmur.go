// Package murmurcmder
package murmurcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/murmurhq/murmur/cmd/murmur/config"
	generatecmder "github.com/murmurhq/murmur/cmd/murmur/generate"
	ingestcmder "github.com/murmurhq/murmur/cmd/murmur/ingest"
	initcmder "github.com/murmurhq/murmur/cmd/murmur/init"
	servecmder "github.com/murmurhq/murmur/cmd/murmur/serve"
	statuscmder "github.com/murmurhq/murmur/cmd/murmur/status"
	versioncmder "github.com/murmurhq/murmur/cmd/version"
)

const murmurLongDesc string = `Murmur is a voice-note journaling backend.

Speak a note, get it transcribed, classified, and committed across the
raw, structured, vector, and relational memory tiers. The scheduler
turns each day's entries into reflections and each week's into reports.

Common commands:
  murmur serve             Run the API server and scheduler
  murmur ingest            Ingest one voice note or text entry
  murmur generate          Generate a reflection or report on demand
  murmur status            Show streak and entry summary for a user
  murmur config list       Show the active configuration`

const murmurShortDesc string = "Murmur - Voice-Note Journaling"

func NewMurmurCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "murmur",
		Short: murmurShortDesc,
		Long:  murmurLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().StringP("config-dir", "c", "", "Override the .murmur config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(ingestcmder.NewIngestCmd())
	cmd.AddCommand(generatecmder.NewGenerateCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
