// Package statuscmder provides the status command for displaying a user's
// journaling state: streak, entry history, and preferences.
package statuscmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	ingestcmder "github.com/murmurhq/murmur/cmd/murmur/ingest"
	"github.com/murmurhq/murmur/cmd/murmur/stack"
	"github.com/murmurhq/murmur/pkg/cliui"
	"github.com/murmurhq/murmur/pkg/config"
	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/logger"
	"github.com/murmurhq/murmur/pkg/storage"
)

type StatusCommander struct {
	userID    string
	configDir string
	debug     bool
}

const statusLongDesc string = `Show a user's journaling state.

Reads the configured storage backend to display the current and longest
streak, the last entry, the number of days journaled, and any aggregation
jobs that failed permanently.

The user defaults to the profile set by "murmur init --user".

Examples:
  murmur status
  murmur status --user ada`

const statusShortDesc string = "Show streak and entry summary"

func NewStatusCmd() *cobra.Command {
	cmder := &StatusCommander{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.configDir, err = cmd.Flags().GetString("config-dir")
			if err != nil {
				return fmt.Errorf("could not get config-dir flag: %w", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.userID, "user", "u", "", "User to show (defaults to the profile user)")

	return cmd
}

func (c *StatusCommander) run(ctx context.Context) error {
	log := logger.NewLogger(c.debug)
	defer log.Sync()

	userID, err := ingestcmder.ResolveUser(c.userID, c.configDir)
	if err != nil {
		return err
	}

	v, err := config.InitViper(c.configDir)
	if err != nil {
		return err
	}
	cfg := config.FromViper(v)

	store, err := stack.NewStorageDriver(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Printf("\n  %s  %s\n\n", cliui.KeyStyle.Render("User:   "), cliui.ValueStyle.Render(userID))

	streak, err := store.GetStreak(ctx, userID)
	if err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("loading streak: %w", err)
	}

	if streak == nil || streak.CurrentStreak == 0 {
		fmt.Printf("  %s No entries yet. Speak your first note with \"murmur ingest\".\n\n",
			cliui.DimStyle.Render("●"))
	} else {
		fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("Streak: "),
			cliui.ValueStyle.Render(fmt.Sprintf("%d days (longest %d)", streak.CurrentStreak, streak.LongestStreak)))
		fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("Last:   "),
			cliui.ValueStyle.Render(streak.LastEntryDate))
	}

	dates, err := store.EntryDates(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading entry dates: %w", err)
	}
	if len(dates) > 0 {
		fmt.Printf("  %s  %s\n\n", cliui.KeyStyle.Render("Days:   "),
			cliui.ValueStyle.Render(fmt.Sprintf("%d days journaled", len(dates))))
	}

	failed, err := store.ListJobs(ctx, journal.JobFailedTerminal, 50)
	if err != nil {
		return fmt.Errorf("loading failed jobs: %w", err)
	}
	shown := 0
	for _, job := range failed {
		if job.UserID != userID {
			continue
		}
		if shown == 0 {
			fmt.Printf("  %s\n", cliui.KeyStyle.Render("Failed jobs:"))
		}
		shown++
		fmt.Printf("    %s %s  %s\n",
			cliui.FailMark,
			cliui.ValueStyle.Render(fmt.Sprintf("%s %s", job.Kind, job.PeriodKey)),
			cliui.DimStyle.Render(job.LastError),
		)
	}
	if shown > 0 {
		fmt.Println()
	}

	return nil
}
