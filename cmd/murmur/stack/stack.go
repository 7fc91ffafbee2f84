// Package stack assembles the storage tiers and model adapters that murmur
// commands share. Serve, ingest, and generate all stand up the same stack
// from the same config; only what they run on top of it differs.
package stack

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/classify"
	classifyheuristic "github.com/murmurhq/murmur/pkg/classify/heuristic"
	classifyopenai "github.com/murmurhq/murmur/pkg/classify/openai"
	"github.com/murmurhq/murmur/pkg/config"
	"github.com/murmurhq/murmur/pkg/embeddings"
	embeddingutils "github.com/murmurhq/murmur/pkg/embeddings/utils"
	"github.com/murmurhq/murmur/pkg/eventstream"
	eventkafka "github.com/murmurhq/murmur/pkg/eventstream/kafka"
	eventnop "github.com/murmurhq/murmur/pkg/eventstream/nop"
	"github.com/murmurhq/murmur/pkg/ingest"
	"github.com/murmurhq/murmur/pkg/memory"
	"github.com/murmurhq/murmur/pkg/narrative"
	narrativeopenai "github.com/murmurhq/murmur/pkg/narrative/openai"
	narrativetemplate "github.com/murmurhq/murmur/pkg/narrative/template"
	"github.com/murmurhq/murmur/pkg/ratelimit"
	"github.com/murmurhq/murmur/pkg/search"
	"github.com/murmurhq/murmur/pkg/storage"
	"github.com/murmurhq/murmur/pkg/storage/inmemory"
	"github.com/murmurhq/murmur/pkg/storage/postgres"
	"github.com/murmurhq/murmur/pkg/storage/sqlite"
	"github.com/murmurhq/murmur/pkg/transcribe"
	"github.com/murmurhq/murmur/pkg/transcribe/whisper"
	"github.com/murmurhq/murmur/pkg/vector"
	vectorutils "github.com/murmurhq/murmur/pkg/vector/utils"
)

// Stack holds the wired storage tiers, adapters, and pipeline.
type Stack struct {
	Store       storage.Driver
	Vectors     vector.VectorDriver
	Embedder    embeddings.Embedder
	Index       *search.Index
	Limiter     ratelimit.Limiter
	Events      eventstream.Publisher
	Transcriber transcribe.Transcriber
	Classifier  classify.Classifier

	// ClassifierFallback is the local classifier the repair pool falls back
	// to once a remote classifier exhausts its retries. Nil when the primary
	// classifier is already local.
	ClassifierFallback classify.Classifier

	Narrator    narrative.Composer
	Fallback    narrative.Composer
	Coordinator *memory.Coordinator
	Pipeline    *ingest.Pipeline

	logger *zap.Logger
}

// Build wires the full stack from config. Optional pieces degrade rather
// than fail: a missing embedding target disables the vector tier, an empty
// broker list selects the no-op publisher.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stack, error) {
	s := &Stack{logger: logger}

	var err error
	s.Store, err = NewStorageDriver(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s.Vectors, err = vectorutils.NewVectorDriver(ctx, &vectorutils.NewVectorDriverOpts{
		ProviderType: cfg.VectorStore.Provider,
		TargetURL:    cfg.VectorStore.Target,
		Dimensions:   cfg.VectorStore.Dimensions,
		Logger:       logger,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating vector driver: %w", err)
	}

	s.Embedder, err = embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		APIKey:       cfg.Embedding.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	s.Index, err = newSearchIndex(cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Limiter, err = newLimiter(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Events, err = newPublisher(cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Transcriber, err = newTranscriber(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Classifier, err = newClassifier(cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	if cfg.Classification.Provider == "openai" {
		s.ClassifierFallback = classifyheuristic.NewClassifier()
	}

	s.Narrator, err = newNarrator(cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Fallback = narrativetemplate.NewComposer()

	s.Coordinator = memory.NewCoordinator(s.Store, s.Vectors, s.Embedder, s.Events, logger)

	s.Pipeline = ingest.NewPipeline(&ingest.Config{
		Coordinator: s.Coordinator,
		Store:       s.Store,
		Transcriber: s.Transcriber,
		Classifier:  s.Classifier,
		Limiter:     s.Limiter,
		Index:       s.Index,
		Logger:      logger,
	})

	return s, nil
}

// Close releases every backend the stack opened. Safe on a partially
// built stack.
func (s *Stack) Close() {
	if s.Events != nil {
		if err := s.Events.Close(); err != nil {
			s.logger.Warn("closing event publisher", zap.Error(err))
		}
	}
	if s.Limiter != nil {
		if err := s.Limiter.Close(); err != nil {
			s.logger.Warn("closing rate limiter", zap.Error(err))
		}
	}
	if s.Index != nil {
		if err := s.Index.Close(); err != nil {
			s.logger.Warn("closing search index", zap.Error(err))
		}
	}
	if s.Vectors != nil {
		if err := s.Vectors.Close(); err != nil {
			s.logger.Warn("closing vector driver", zap.Error(err))
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			s.logger.Warn("closing storage driver", zap.Error(err))
		}
	}
}

// NewStorageDriver selects the relational backend from config. Commands that
// only read state use this directly instead of building the whole stack.
func NewStorageDriver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Driver, error) {
	switch cfg.Storage.Driver {
	case "sqlite", "":
		path := cfg.Storage.SQLitePath
		if path == "" {
			logger.Info("using in-memory storage")
			return inmemory.NewDriver(), nil
		}
		driver, err := sqlite.NewDriver(path)
		if err != nil {
			return nil, fmt.Errorf("creating SQLite driver: %w", err)
		}
		logger.Info("using SQLite storage", zap.String("path", path))
		return driver, nil
	case "postgres":
		driver, err := postgres.NewDriver(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("creating Postgres driver: %w", err)
		}
		logger.Info("using Postgres storage")
		return driver, nil
	case "memory":
		logger.Info("using in-memory storage")
		return inmemory.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

func newSearchIndex(cfg *config.Config, logger *zap.Logger) (*search.Index, error) {
	if cfg.Search.IndexPath == "" {
		logger.Info("using in-memory search index")
		return search.OpenInMemory()
	}
	idx, err := search.Open(cfg.Search.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("opening search index: %w", err)
	}
	logger.Info("using on-disk search index", zap.String("path", cfg.Search.IndexPath))
	return idx, nil
}

func newLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.Limiter, error) {
	limit := int(cfg.RateLimit.PerMinute)
	if limit == 0 {
		limit = 10
	}
	if cfg.RateLimit.RedisURL == "" {
		return ratelimit.NewMemoryLimiter(limit, time.Minute), nil
	}
	limiter, err := ratelimit.NewRedisLimiter(ctx, cfg.RateLimit.RedisURL, limit, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("creating redis limiter: %w", err)
	}
	logger.Info("using redis rate limiter", zap.String("url", cfg.RateLimit.RedisURL))
	return limiter, nil
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (eventstream.Publisher, error) {
	if len(cfg.EventStream.Brokers) == 0 {
		return eventnop.NewPublisher(), nil
	}
	pub, err := eventkafka.NewPublisher(eventkafka.Config{
		Brokers: cfg.EventStream.Brokers,
		Topic:   cfg.EventStream.Topic,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}
	return pub, nil
}

func newTranscriber(cfg *config.Config) (transcribe.Transcriber, error) {
	if cfg.Transcription.Target == "" {
		return nil, nil
	}
	t, err := whisper.NewTranscriber(whisper.Config{
		BaseURL: cfg.Transcription.Target,
		Model:   cfg.Transcription.Model,
		APIKey:  cfg.Transcription.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating transcriber: %w", err)
	}
	return t, nil
}

func newClassifier(cfg *config.Config, logger *zap.Logger) (classify.Classifier, error) {
	switch cfg.Classification.Provider {
	case "heuristic", "":
		return classifyheuristic.NewClassifier(), nil
	case "openai":
		c, err := classifyopenai.NewClassifier(classifyopenai.Config{
			APIKey:  cfg.Classification.APIKey,
			BaseURL: cfg.Classification.Target,
			Model:   cfg.Classification.Model,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating classifier: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported classification provider: %s", cfg.Classification.Provider)
	}
}

func newNarrator(cfg *config.Config, logger *zap.Logger) (narrative.Composer, error) {
	switch cfg.Narrative.Provider {
	case "template", "":
		return narrativetemplate.NewComposer(), nil
	case "openai":
		c, err := narrativeopenai.NewComposer(narrativeopenai.Config{
			APIKey:  cfg.Narrative.APIKey,
			BaseURL: cfg.Narrative.Target,
			Model:   cfg.Narrative.Model,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating narrative composer: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported narrative provider: %s", cfg.Narrative.Provider)
	}
}
