// Package initcmder provides the init command for initializing a local
// .murmur directory in the current working directory.
package initcmder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/murmurhq/murmur/pkg/cliui"
	"github.com/murmurhq/murmur/pkg/config"
	"github.com/murmurhq/murmur/pkg/dotdir"
)

const (
	dirName = ".murmur"
)

const initLongDesc string = `Initialize a new .murmur/ directory in the current working directory.

Creates a local .murmur/ directory that takes precedence over the default
~/.murmur/ directory for configuration, profile state, storage, and other
murmur operations. This is useful for maintaining separate journals per
project or directory.

With --preset, writes a config.toml from a named adapter stack:
  openai   Cloud transcription, classification, and narration
  local    Ollama embeddings with a local whisper server
  memory   Everything in process, nothing persisted

With --user, saves the default user for ingest, generate, and status.

Examples:
  murmur init
  murmur init --preset local --user ada`

const initShortDesc string = "Initialize a local .murmur/ directory"

type InitCommander struct {
	preset string
	userID string
}

func NewInitCmd() *cobra.Command {
	cmder := &InitCommander{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.preset, "preset", "p", "", "Write config.toml from a preset (openai, local, memory)")
	cmd.Flags().StringVarP(&cmder.userID, "user", "u", "", "Save the default user profile")

	return cmd
}

func (c *InitCommander) run() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	info, statErr := os.Stat(dir)
	switch {
	case statErr == nil && info.IsDir():
		fmt.Printf("Already initialized: %s\n", dir)
	default:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating .murmur directory: %w", err)
		}
		fmt.Printf("Initialized .murmur directory: %s\n", dir)
	}

	if c.preset != "" {
		if err := c.writePreset(dir); err != nil {
			return err
		}
	}

	if c.userID != "" {
		m := dotdir.NewManager()
		if err := m.SaveProfile(&dotdir.Profile{UserID: c.userID}, dir); err != nil {
			return fmt.Errorf("saving profile: %w", err)
		}
		fmt.Printf("  %s Default user set to %s\n",
			cliui.SuccessMark, cliui.ValueStyle.Render(c.userID))
	}

	return nil
}

func (c *InitCommander) writePreset(dir string) error {
	cfg, err := config.PresetConfig(c.preset)
	if err != nil {
		return fmt.Errorf("%w\n\nValid presets: %s", err, strings.Join(config.ValidPresetNames(), ", "))
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfger.SaveConfig(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("  %s Wrote %s preset to %s\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(c.preset),
		cliui.DimStyle.Render(filepath.Join(dir, "config.toml")),
	)
	return nil
}
