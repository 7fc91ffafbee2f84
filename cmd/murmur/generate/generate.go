// Package generatecmder provides the generate command for producing a daily
// reflection or weekly report on demand.
package generatecmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	ingestcmder "github.com/murmurhq/murmur/cmd/murmur/ingest"
	"github.com/murmurhq/murmur/cmd/murmur/stack"
	"github.com/murmurhq/murmur/pkg/aggregate"
	"github.com/murmurhq/murmur/pkg/cliui"
	"github.com/murmurhq/murmur/pkg/config"
	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/logger"
	"github.com/murmurhq/murmur/pkg/storage"
)

type GenerateCommander struct {
	userID    string
	periodKey string
	kind      string
	force     bool
	configDir string
	debug     bool

	viper  *viper.Viper
	logger *zap.Logger
}

const generateLongDesc string = `Generate an aggregation artifact on demand.

Produces the daily reflection or weekly report for the given period.
An already committed artifact is returned as-is unless --force
regenerates its content under the same identity.

The period defaults to today (daily) or the current week (weekly) in
the user's timezone. Weekly keys use ISO-8601 week notation.

Examples:
  murmur generate --user ada
  murmur generate --user ada --kind weekly --period 2026-W35
  murmur generate --user ada --period 2026-08-27 --force`

const generateShortDesc string = "Generate a reflection or report"

func NewGenerateCmd() *cobra.Command {
	cmder := &GenerateCommander{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: generateShortDesc,
		Long:  generateLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.configDir, err = cmd.Flags().GetString("config-dir")
			if err != nil {
				return fmt.Errorf("could not get config-dir flag: %w", err)
			}
			cmder.viper, err = config.InitViper(cmder.configDir)
			return err
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

	cmd.Flags().StringVarP(&cmder.userID, "user", "u", "", "User to generate for (defaults to the profile user)")
	cmd.Flags().StringVarP(&cmder.periodKey, "period", "p", "", "Period key (2006-01-02 for daily, 2006-W01 for weekly)")
	cmd.Flags().StringVarP(&cmder.kind, "kind", "k", "daily", "Artifact kind (daily or weekly)")
	cmd.Flags().BoolVarP(&cmder.force, "force", "f", false, "Regenerate even if the artifact already exists")

	return cmd
}

func (c *GenerateCommander) run(ctx context.Context) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	kind := journal.ArtifactKind(c.kind)
	if kind != journal.KindDaily && kind != journal.KindWeekly {
		return fmt.Errorf("invalid kind %q: want daily or weekly", c.kind)
	}

	userID, err := ingestcmder.ResolveUser(c.userID, c.configDir)
	if err != nil {
		return err
	}

	cfg := config.FromViper(c.viper)
	st, err := stack.Build(ctx, cfg, c.logger)
	if err != nil {
		return err
	}
	defer st.Close()

	periodKey := c.periodKey
	if periodKey == "" {
		periodKey, err = currentPeriodKey(ctx, st.Store, userID, kind)
		if err != nil {
			return err
		}
	}

	engine, err := aggregate.NewEngine(&aggregate.Config{
		Store:    st.Store,
		Vectors:  st.Vectors,
		Embed:    st.Embedder,
		Narrator: st.Narrator,
		Fallback: st.Fallback,
		Events:   st.Events,
		Weights:  cfg.Scoring,
		Logger:   c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating aggregation engine: %w", err)
	}

	var artifact *journal.AggregationArtifact
	err = cliui.Step(os.Stdout, fmt.Sprintf("generating %s artifact for %s", kind, periodKey), func() error {
		var genErr error
		artifact, genErr = engine.Generate(ctx, userID, periodKey, kind, c.force)
		return genErr
	})
	if err != nil {
		if errors.Is(err, aggregate.ErrNoEntries) {
			fmt.Printf("\n  %s No entries in %s, nothing to generate.\n\n",
				cliui.DimStyle.Render("●"), periodKey)
			return nil
		}
		return err
	}

	rendered, renderErr := cliui.RenderMarkdown(artifact.Content)
	if renderErr != nil {
		rendered = artifact.Content
	}
	fmt.Println(rendered)

	fmt.Printf("  %s  %s entries, score %.1f",
		cliui.KeyStyle.Render("Summary:"),
		cliui.ValueStyle.Render(fmt.Sprintf("%d", artifact.EntryCount)),
		artifact.ProductivityScore,
	)
	if artifact.Degraded {
		fmt.Printf("  %s", cliui.DimStyle.Render("(degraded narrative)"))
	}
	fmt.Print("\n\n")
	return nil
}

// currentPeriodKey resolves the default period in the user's timezone.
func currentPeriodKey(ctx context.Context, store storage.Driver, userID string, kind journal.ArtifactKind) (string, error) {
	prefs, err := store.GetPrefs(ctx, userID)
	if err != nil {
		if storage.IsNotFound(err) {
			p := journal.DefaultPrefs(userID)
			prefs = &p
		} else {
			return "", fmt.Errorf("loading prefs: %w", err)
		}
	}

	now := time.Now()
	if kind == journal.KindWeekly {
		return journal.WeekKey(now, prefs.Location()), nil
	}
	return journal.DayKey(now, prefs.Location()), nil
}
