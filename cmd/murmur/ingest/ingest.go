// Package ingestcmder provides the ingest command for running one voice note
// or text entry through the local pipeline.
package ingestcmder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/cmd/murmur/stack"
	"github.com/murmurhq/murmur/pkg/cliui"
	"github.com/murmurhq/murmur/pkg/config"
	"github.com/murmurhq/murmur/pkg/dotdir"
	"github.com/murmurhq/murmur/pkg/ingest"
	"github.com/murmurhq/murmur/pkg/logger"
)

type IngestCommander struct {
	userID        string
	text          string
	audioPath     string
	occurredAt    string
	storageDriver string
	sqlitePath    string
	configDir     string
	debug         bool

	viper  *viper.Viper
	logger *zap.Logger
}

var ingestFlagKeys = []string{
	config.FlagStorageDriver,
	config.FlagSQLite,
}

const ingestLongDesc string = `Ingest one entry through the local pipeline.

Provide either --audio with a voice note file (transcribed via the
configured Whisper endpoint) or --text with an already-written entry.
The entry is classified and committed across the memory tiers.

The user defaults to the profile set by "murmur init --user".

Examples:
  murmur ingest --text "Shipped the retry logic today, felt great"
  murmur ingest --audio note.ogg --user ada
  murmur ingest --text "Slow day" --occurred-at 2026-08-27T21:30:00Z`

const ingestShortDesc string = "Ingest a voice note or text entry"

func NewIngestCmd() *cobra.Command {
	cmder := &IngestCommander{}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: ingestShortDesc,
		Long:  ingestLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.configDir, err = cmd.Flags().GetString("config-dir")
			if err != nil {
				return fmt.Errorf("could not get config-dir flag: %w", err)
			}

			cmder.viper, err = config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(cmder.viper, cmd, config.ServeFlags, ingestFlagKeys)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.userID, "user", "u", "", "User to ingest for (defaults to the profile user)")
	cmd.Flags().StringVarP(&cmder.text, "text", "t", "", "Entry text, skipping transcription")
	cmd.Flags().StringVarP(&cmder.audioPath, "audio", "a", "", "Path to a voice note file")
	cmd.Flags().StringVar(&cmder.occurredAt, "occurred-at", "", "When the entry happened (RFC3339, defaults to now)")
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagSQLite, &cmder.sqlitePath)

	return cmd
}

func (c *IngestCommander) run(ctx context.Context) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	if c.text == "" && c.audioPath == "" {
		return fmt.Errorf("either --text or --audio is required")
	}

	userID, err := ResolveUser(c.userID, c.configDir)
	if err != nil {
		return err
	}

	occurredAt := time.Now().UTC()
	if c.occurredAt != "" {
		occurredAt, err = time.Parse(time.RFC3339, c.occurredAt)
		if err != nil {
			return fmt.Errorf("invalid --occurred-at %q: %w", c.occurredAt, err)
		}
	}

	cfg := config.FromViper(c.viper)
	st, err := stack.Build(ctx, cfg, c.logger)
	if err != nil {
		return err
	}
	defer st.Close()

	in := ingest.Input{
		UserID:     userID,
		OccurredAt: occurredAt,
		Transcript: c.text,
	}

	if c.audioPath != "" {
		f, err := os.Open(c.audioPath)
		if err != nil {
			return fmt.Errorf("opening audio file: %w", err)
		}
		defer f.Close()
		in.Audio = f
		in.Filename = filepath.Base(c.audioPath)
		in.AudioRef = c.audioPath
	}

	var result *ingest.Result
	err = cliui.Step(os.Stdout, "ingesting entry", func() error {
		var ingestErr error
		result, ingestErr = st.Pipeline.Ingest(ctx, in)
		return ingestErr
	})
	if err != nil {
		return err
	}

	if result.Duplicate {
		fmt.Printf("\n  %s Duplicate of entry %s\n\n",
			cliui.DimStyle.Render("●"),
			cliui.ValueStyle.Render(result.Entry.ID),
		)
		return nil
	}

	fmt.Printf("\n  %s  %s\n", cliui.KeyStyle.Render("Entry:  "), cliui.ValueStyle.Render(result.Entry.ID))
	fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("Status: "), cliui.ValueStyle.Render(string(result.Entry.IngestStatus)))
	if result.Streak != nil {
		fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("Streak: "),
			cliui.ValueStyle.Render(fmt.Sprintf("%d days", result.Streak.CurrentStreak)))
	}
	fmt.Println()
	return nil
}

// ResolveUser prefers the explicit flag, then the saved profile.
func ResolveUser(flagUser, configDir string) (string, error) {
	if flagUser != "" {
		return flagUser, nil
	}

	m := dotdir.NewManager()
	profile, err := m.LoadProfile(configDir)
	if err != nil {
		return "", fmt.Errorf("loading profile: %w", err)
	}
	if profile == nil || profile.UserID == "" {
		return "", fmt.Errorf("no user given: pass --user or run \"murmur init --user <id>\"")
	}
	return profile.UserID, nil
}
