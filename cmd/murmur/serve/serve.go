// Package servecmder provides the serve command for running the murmur
// backend: the dashboard API, the scheduler, and the repair pool.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/api"
	"github.com/murmurhq/murmur/cmd/murmur/stack"
	"github.com/murmurhq/murmur/pkg/aggregate"
	"github.com/murmurhq/murmur/pkg/config"
	"github.com/murmurhq/murmur/pkg/logger"
	"github.com/murmurhq/murmur/pkg/notify"
	"github.com/murmurhq/murmur/pkg/notify/telegram"
	"github.com/murmurhq/murmur/pkg/scheduler"
	"github.com/murmurhq/murmur/pkg/worker"
)

type ServeCommander struct {
	listen        string
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	vectorProv    string
	vectorTgt     string
	embedProv     string
	embedTgt      string
	embedModel    string
	embedDims     uint
	transcribeTgt string
	redisURL      string
	searchIndex   string
	telegramToken string
	configDir     string
	debug         bool

	viper  *viper.Viper
	logger *zap.Logger
}

// serveFlagKeys is the registry subset this command exposes.
var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagTranscribeTgt,
	config.FlagRedisURL,
	config.FlagSearchIndex,
	config.FlagTelegramToken,
}

const serveLongDesc string = `Run the murmur backend.

Starts the dashboard API server, the scheduler that generates daily
reflections and weekly reports on each user's local clock, and the
background pool that repairs degraded entries.

Configuration comes from CLI flags, MURMUR_* environment variables, and
config.toml in the .murmur/ directory, in that order of precedence.`

const serveShortDesc string = "Run the murmur backend"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
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
			config.BindRegisteredFlags(cmder.viper, cmd, config.ServeFlags, serveFlagKeys)
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

	config.AddStringFlag(cmd, config.ServeFlags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagVectorStoreProv, &cmder.vectorProv)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagVectorStoreTgt, &cmder.vectorTgt)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEmbeddingProv, &cmder.embedProv)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEmbeddingTgt, &cmder.embedTgt)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEmbeddingModel, &cmder.embedModel)
	config.AddUintFlag(cmd, config.ServeFlags, config.FlagEmbeddingDims, &cmder.embedDims)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagTranscribeTgt, &cmder.transcribeTgt)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagRedisURL, &cmder.redisURL)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagSearchIndex, &cmder.searchIndex)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagTelegramToken, &cmder.telegramToken)

	return cmd
}

func (c *ServeCommander) run(ctx context.Context) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	cfg := config.FromViper(c.viper)

	st, err := stack.Build(ctx, cfg, c.logger)
	if err != nil {
		return err
	}
	defer st.Close()

	aggregator, err := aggregate.NewEngine(&aggregate.Config{
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

	pool, err := worker.NewPool(&worker.Config{
		Store:       st.Store,
		Applier:     st.Coordinator,
		Classifier:  st.Classifier,
		Fallback:    st.ClassifierFallback,
		MaxAttempts: int(cfg.Repair.MaxAttempts),
		NumWorkers:  cfg.Repair.Workers,
		Logger:      c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating repair pool: %w", err)
	}
	defer pool.Close()

	jobBudget, err := time.ParseDuration(cfg.Scheduler.JobBudget)
	if err != nil {
		return fmt.Errorf("invalid scheduler job budget %q: %w", cfg.Scheduler.JobBudget, err)
	}

	engine := scheduler.NewEngine(&scheduler.Config{
		Store:       st.Store,
		Aggregator:  aggregator,
		Notifier:    c.newNotifier(cfg),
		Repair:      pool,
		MaxAttempts: int(cfg.Scheduler.MaxAttempts),
		JobBudget:   jobBudget,
		Logger:      c.logger,
	})
	if err := engine.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer engine.Stop()

	apiServer := api.NewServer(api.Config{ListenAddr: cfg.API.Listen}, api.Deps{
		Storer:      st.Store,
		Pipeline:    st.Pipeline,
		Engine:      engine,
		Coordinator: st.Coordinator,
		Index:       st.Index,
	}, c.logger)

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return apiServer.Shutdown()
	}
}

// newNotifier selects telegram delivery when a token is configured,
// otherwise nudges are decided and logged but not sent.
func (c *ServeCommander) newNotifier(cfg *config.Config) notify.Notifier {
	if !cfg.Nudges.Enabled || cfg.Telegram.Token == "" {
		return notify.NewNopNotifier(c.logger)
	}

	notifier, err := telegram.NewNotifier(telegram.Config{
		Token:   cfg.Telegram.Token,
		ChatIDs: cfg.Telegram.Chats,
	}, c.logger)
	if err != nil {
		c.logger.Warn("telegram notifier unavailable, nudges will not be sent", zap.Error(err))
		return notify.NewNopNotifier(c.logger)
	}
	return notifier
}
