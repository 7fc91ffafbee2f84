package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/murmurhq/murmur/pkg/journal"
)

// Config represents the persistent murmur configuration stored as config.toml
// in the .murmur/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version        int                  `toml:"version"`
	Storage        StorageConfig        `toml:"storage"`
	API            APIConfig            `toml:"api"`
	VectorStore    VectorStoreConfig    `toml:"vector_store"`
	Embedding      EmbeddingConfig      `toml:"embedding"`
	Transcription  AdapterConfig        `toml:"transcription"`
	Classification AdapterConfig        `toml:"classification"`
	Narrative      AdapterConfig        `toml:"narrative"`
	Scoring        journal.ScoreWeights `toml:"scoring"`
	Scheduler      SchedulerConfig      `toml:"scheduler"`
	Repair         RepairConfig         `toml:"repair"`
	RateLimit      RateLimitConfig      `toml:"ratelimit"`
	Search         SearchConfig         `toml:"search"`
	Telegram       TelegramConfig       `toml:"telegram"`
	Nudges         NudgeConfig          `toml:"nudges"`
	EventStream    EventStreamConfig    `toml:"eventstream"`
}

// StorageConfig holds raw/structured/relational tier storage settings.
type StorageConfig struct {
	// Driver selects the storage backend: "sqlite", "postgres", or "memory".
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// APIConfig holds dashboard API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// VectorStoreConfig holds vector tier settings.
type VectorStoreConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
	APIKey     string `toml:"api_key,omitempty"`
}

// AdapterConfig holds settings for an external model adapter. The same shape
// serves transcription, classification, and narrative composition.
type AdapterConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	Model    string `toml:"model,omitempty"`
	APIKey   string `toml:"api_key,omitempty"`
}

// SchedulerConfig holds aggregation job scheduling settings.
type SchedulerConfig struct {
	MaxAttempts uint   `toml:"max_attempts,omitempty"`
	JobBudget   string `toml:"job_budget,omitempty"`
}

// RepairConfig holds degraded-entry repair pool settings.
type RepairConfig struct {
	MaxAttempts uint `toml:"max_attempts,omitempty"`
	Workers     uint `toml:"workers,omitempty"`
}

// RateLimitConfig holds ingestion rate limit settings. An empty RedisURL
// selects the in-process limiter.
type RateLimitConfig struct {
	PerMinute uint   `toml:"per_minute,omitempty"`
	RedisURL  string `toml:"redis_url,omitempty"`
}

// SearchConfig holds full-text index settings. An empty IndexPath keeps the
// index in memory.
type SearchConfig struct {
	IndexPath string `toml:"index_path,omitempty"`
}

// TelegramConfig holds nudge delivery settings. Chats maps user IDs to
// Telegram chat IDs.
type TelegramConfig struct {
	Token string           `toml:"token,omitempty"`
	Chats map[string]int64 `toml:"chats,omitempty"`
}

// NudgeConfig holds the global nudge switch. Per-user opt-out lives in prefs.
type NudgeConfig struct {
	Enabled bool `toml:"enabled,omitempty"`
}

// EventStreamConfig holds event publishing settings. Empty Brokers selects
// the no-op publisher.
type EventStreamConfig struct {
	Brokers []string `toml:"brokers,omitempty"`
	Topic   string   `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func uintKey(get func(c *Config) uint, set func(c *Config, n uint)) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if get(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(get(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid unsigned integer value %q: %w", v, err)
			}
			set(c, uint(n))
			return nil
		},
	}
}

func floatKey(get func(c *Config) float64, set func(c *Config, f float64)) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			return strconv.FormatFloat(get(c), 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid numeric value %q: %w", v, err)
			}
			set(c, f)
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver": {
		get: func(c *Config) string { return c.Storage.Driver },
		set: func(c *Config, v string) error { c.Storage.Driver = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_dsn": {
		get: func(c *Config) string { return c.Storage.PostgresDSN },
		set: func(c *Config, v string) error { c.Storage.PostgresDSN = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"vector_store.provider": {
		get: func(c *Config) string { return c.VectorStore.Provider },
		set: func(c *Config, v string) error { c.VectorStore.Provider = v; return nil },
	},
	"vector_store.target": {
		get: func(c *Config) string { return c.VectorStore.Target },
		set: func(c *Config, v string) error { c.VectorStore.Target = v; return nil },
	},
	"vector_store.dimensions": uintKey(
		func(c *Config) uint { return c.VectorStore.Dimensions },
		func(c *Config, n uint) { c.VectorStore.Dimensions = n },
	),
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": uintKey(
		func(c *Config) uint { return c.Embedding.Dimensions },
		func(c *Config, n uint) { c.Embedding.Dimensions = n },
	),
	"embedding.api_key": {
		get: func(c *Config) string { return c.Embedding.APIKey },
		set: func(c *Config, v string) error { c.Embedding.APIKey = v; return nil },
	},
	"transcription.provider": {
		get: func(c *Config) string { return c.Transcription.Provider },
		set: func(c *Config, v string) error { c.Transcription.Provider = v; return nil },
	},
	"transcription.target": {
		get: func(c *Config) string { return c.Transcription.Target },
		set: func(c *Config, v string) error { c.Transcription.Target = v; return nil },
	},
	"transcription.model": {
		get: func(c *Config) string { return c.Transcription.Model },
		set: func(c *Config, v string) error { c.Transcription.Model = v; return nil },
	},
	"transcription.api_key": {
		get: func(c *Config) string { return c.Transcription.APIKey },
		set: func(c *Config, v string) error { c.Transcription.APIKey = v; return nil },
	},
	"classification.provider": {
		get: func(c *Config) string { return c.Classification.Provider },
		set: func(c *Config, v string) error { c.Classification.Provider = v; return nil },
	},
	"classification.target": {
		get: func(c *Config) string { return c.Classification.Target },
		set: func(c *Config, v string) error { c.Classification.Target = v; return nil },
	},
	"classification.model": {
		get: func(c *Config) string { return c.Classification.Model },
		set: func(c *Config, v string) error { c.Classification.Model = v; return nil },
	},
	"classification.api_key": {
		get: func(c *Config) string { return c.Classification.APIKey },
		set: func(c *Config, v string) error { c.Classification.APIKey = v; return nil },
	},
	"narrative.provider": {
		get: func(c *Config) string { return c.Narrative.Provider },
		set: func(c *Config, v string) error { c.Narrative.Provider = v; return nil },
	},
	"narrative.target": {
		get: func(c *Config) string { return c.Narrative.Target },
		set: func(c *Config, v string) error { c.Narrative.Target = v; return nil },
	},
	"narrative.model": {
		get: func(c *Config) string { return c.Narrative.Model },
		set: func(c *Config, v string) error { c.Narrative.Model = v; return nil },
	},
	"narrative.api_key": {
		get: func(c *Config) string { return c.Narrative.APIKey },
		set: func(c *Config, v string) error { c.Narrative.APIKey = v; return nil },
	},
	"scoring.floor": floatKey(
		func(c *Config) float64 { return c.Scoring.Floor },
		func(c *Config, f float64) { c.Scoring.Floor = f },
	),
	"scoring.volume": floatKey(
		func(c *Config) float64 { return c.Scoring.Volume },
		func(c *Config, f float64) { c.Scoring.Volume = f },
	),
	"scoring.volume_cap": {
		get: func(c *Config) string { return strconv.Itoa(c.Scoring.VolumeCap) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for scoring.volume_cap: %w", err)
			}
			c.Scoring.VolumeCap = n
			return nil
		},
	},
	"scoring.accomplishment": floatKey(
		func(c *Config) float64 { return c.Scoring.Accomplishment },
		func(c *Config, f float64) { c.Scoring.Accomplishment = f },
	),
	"scoring.blocker": floatKey(
		func(c *Config) float64 { return c.Scoring.Blocker },
		func(c *Config, f float64) { c.Scoring.Blocker = f },
	),
	"scoring.learning": floatKey(
		func(c *Config) float64 { return c.Scoring.Learning },
		func(c *Config, f float64) { c.Scoring.Learning = f },
	),
	"scheduler.max_attempts": uintKey(
		func(c *Config) uint { return c.Scheduler.MaxAttempts },
		func(c *Config, n uint) { c.Scheduler.MaxAttempts = n },
	),
	"scheduler.job_budget": {
		get: func(c *Config) string { return c.Scheduler.JobBudget },
		set: func(c *Config, v string) error { c.Scheduler.JobBudget = v; return nil },
	},
	"repair.max_attempts": uintKey(
		func(c *Config) uint { return c.Repair.MaxAttempts },
		func(c *Config, n uint) { c.Repair.MaxAttempts = n },
	),
	"repair.workers": uintKey(
		func(c *Config) uint { return c.Repair.Workers },
		func(c *Config, n uint) { c.Repair.Workers = n },
	),
	"ratelimit.per_minute": uintKey(
		func(c *Config) uint { return c.RateLimit.PerMinute },
		func(c *Config, n uint) { c.RateLimit.PerMinute = n },
	),
	"ratelimit.redis_url": {
		get: func(c *Config) string { return c.RateLimit.RedisURL },
		set: func(c *Config, v string) error { c.RateLimit.RedisURL = v; return nil },
	},
	"search.index_path": {
		get: func(c *Config) string { return c.Search.IndexPath },
		set: func(c *Config, v string) error { c.Search.IndexPath = v; return nil },
	},
	"telegram.token": {
		get: func(c *Config) string { return c.Telegram.Token },
		set: func(c *Config, v string) error { c.Telegram.Token = v; return nil },
	},
	"nudges.enabled": {
		get: func(c *Config) string { return strconv.FormatBool(c.Nudges.Enabled) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for nudges.enabled: %w", err)
			}
			c.Nudges.Enabled = b
			return nil
		},
	},
	"eventstream.brokers": {
		get: func(c *Config) string { return strings.Join(c.EventStream.Brokers, ",") },
		set: func(c *Config, v string) error {
			if v == "" {
				c.EventStream.Brokers = nil
				return nil
			}
			parts := strings.Split(v, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			c.EventStream.Brokers = parts
			return nil
		},
	},
	"eventstream.topic": {
		get: func(c *Config) string { return c.EventStream.Topic },
		set: func(c *Config, v string) error { c.EventStream.Topic = v; return nil },
	},
}
