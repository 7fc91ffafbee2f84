package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/ingest"
	"github.com/murmurhq/murmur/pkg/memory"
	"github.com/murmurhq/murmur/pkg/scheduler"
	"github.com/murmurhq/murmur/pkg/search"
	"github.com/murmurhq/murmur/pkg/storage"
)

// Server is the API server for the murmur journal.
type Server struct {
	config      Config
	storer      storage.Driver
	pipeline    *ingest.Pipeline
	engine      *scheduler.Engine
	coordinator *memory.Coordinator
	index       *search.Index
	logger      *zap.Logger
	app         *fiber.App
}

// Deps carries the server's collaborators. Storer and Pipeline are required;
// the rest degrade their endpoints to 503 when nil.
type Deps struct {
	Storer      storage.Driver
	Pipeline    *ingest.Pipeline
	Engine      *scheduler.Engine
	Coordinator *memory.Coordinator
	Index       *search.Index
}

// NewServer creates a new API server. Dependencies are injected to allow
// sharing with other components (e.g., the scheduler's aggregation engine).
func NewServer(config Config, deps Deps, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:      config,
		storer:      deps.Storer,
		pipeline:    deps.Pipeline,
		engine:      deps.Engine,
		coordinator: deps.Coordinator,
		index:       deps.Index,
		logger:      logger,
		app:         app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Post("/entries", s.handleIngestEntry)
	v1.Get("/entries", s.handleListEntries)
	v1.Get("/entries/:id", s.handleGetEntry)
	v1.Delete("/entries/:id", s.handleDeleteEntry)
	v1.Get("/artifacts", s.handleListArtifacts)
	v1.Post("/artifacts/generate", s.handleGenerate)
	v1.Get("/jobs", s.handleListJobs)
	v1.Get("/recall", s.handleRecall)
	v1.Get("/users/:user/streak", s.handleStreak)
	v1.Get("/users/:user/stats", s.handleStats)
	v1.Get("/users/:user/calendar", s.handleCalendar)
	v1.Get("/users/:user/prefs", s.handleGetPrefs)
	v1.Put("/users/:user/prefs", s.handlePutPrefs)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
