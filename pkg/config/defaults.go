package config

import "github.com/murmurhq/murmur/pkg/journal"

const (
	defaultStorageDriver = "sqlite"
	defaultAPIListen     = ":8080"

	defaultVectorProvider = "sqlitevec"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768

	defaultTranscriptionProvider = "whisper"
	defaultTranscriptionTarget   = "https://api.openai.com/v1"
	defaultTranscriptionModel    = "whisper-1"

	defaultClassificationProvider = "heuristic"
	defaultNarrativeProvider      = "template"

	defaultSchedulerMaxAttempts = 3
	defaultSchedulerJobBudget   = "2m"

	defaultRepairMaxAttempts = 5
	defaultRepairWorkers     = 3

	defaultRateLimitPerMinute = 10

	defaultEventTopic = "murmur.events"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values. The default
// adapter stack runs fully offline: heuristic classification, template
// narratives, local embeddings, and no nudge delivery.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		VectorStore: VectorStoreConfig{
			Provider:   defaultVectorProvider,
			Dimensions: defaultEmbeddingDimensions,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Transcription: AdapterConfig{
			Provider: defaultTranscriptionProvider,
			Target:   defaultTranscriptionTarget,
			Model:    defaultTranscriptionModel,
		},
		Classification: AdapterConfig{
			Provider: defaultClassificationProvider,
		},
		Narrative: AdapterConfig{
			Provider: defaultNarrativeProvider,
		},
		Scoring: journal.DefaultScoreWeights(),
		Scheduler: SchedulerConfig{
			MaxAttempts: defaultSchedulerMaxAttempts,
			JobBudget:   defaultSchedulerJobBudget,
		},
		Repair: RepairConfig{
			MaxAttempts: defaultRepairMaxAttempts,
			Workers:     defaultRepairWorkers,
		},
		RateLimit: RateLimitConfig{
			PerMinute: defaultRateLimitPerMinute,
		},
		Nudges: NudgeConfig{
			Enabled: true,
		},
		EventStream: EventStreamConfig{
			Topic: defaultEventTopic,
		},
	}
}
