package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/murmurhq/murmur/pkg/dotdir"
	"github.com/murmurhq/murmur/pkg/journal"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the MURMUR_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (MURMUR_API_LISTEN, MURMUR_STORAGE_DRIVER, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: MURMUR_API_LISTEN, MURMUR_TELEGRAM_TOKEN, etc.
	v.SetEnvPrefix("MURMUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// FromViper materializes a Config from the merged viper precedence chain
// (flags > env > config file > defaults). Use this in commands after
// InitViper and BindRegisteredFlags so every source is already folded in.
func FromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Version: v.GetInt("version"),
		Storage: StorageConfig{
			Driver:      v.GetString("storage.driver"),
			SQLitePath:  v.GetString("storage.sqlite_path"),
			PostgresDSN: v.GetString("storage.postgres_dsn"),
		},
		API: APIConfig{
			Listen: v.GetString("api.listen"),
		},
		VectorStore: VectorStoreConfig{
			Provider:   v.GetString("vector_store.provider"),
			Target:     v.GetString("vector_store.target"),
			Dimensions: v.GetUint("vector_store.dimensions"),
		},
		Embedding: EmbeddingConfig{
			Provider:   v.GetString("embedding.provider"),
			Target:     v.GetString("embedding.target"),
			Model:      v.GetString("embedding.model"),
			Dimensions: v.GetUint("embedding.dimensions"),
			APIKey:     v.GetString("embedding.api_key"),
		},
		Transcription:  adapterFromViper(v, "transcription"),
		Classification: adapterFromViper(v, "classification"),
		Narrative:      adapterFromViper(v, "narrative"),
		Scoring: journal.ScoreWeights{
			Floor:          v.GetFloat64("scoring.floor"),
			Volume:         v.GetFloat64("scoring.volume"),
			VolumeCap:      v.GetInt("scoring.volume_cap"),
			Accomplishment: v.GetFloat64("scoring.accomplishment"),
			Blocker:        v.GetFloat64("scoring.blocker"),
			Learning:       v.GetFloat64("scoring.learning"),
		},
		Scheduler: SchedulerConfig{
			MaxAttempts: v.GetUint("scheduler.max_attempts"),
			JobBudget:   v.GetString("scheduler.job_budget"),
		},
		Repair: RepairConfig{
			MaxAttempts: v.GetUint("repair.max_attempts"),
			Workers:     v.GetUint("repair.workers"),
		},
		RateLimit: RateLimitConfig{
			PerMinute: v.GetUint("ratelimit.per_minute"),
			RedisURL:  v.GetString("ratelimit.redis_url"),
		},
		Search: SearchConfig{
			IndexPath: v.GetString("search.index_path"),
		},
		Telegram: TelegramConfig{
			Token: v.GetString("telegram.token"),
			Chats: chatsFromViper(v),
		},
		Nudges: NudgeConfig{
			Enabled: v.GetBool("nudges.enabled"),
		},
		EventStream: EventStreamConfig{
			Brokers: v.GetStringSlice("eventstream.brokers"),
			Topic:   v.GetString("eventstream.topic"),
		},
	}
	return cfg
}

func adapterFromViper(v *viper.Viper, section string) AdapterConfig {
	return AdapterConfig{
		Provider: v.GetString(section + ".provider"),
		Target:   v.GetString(section + ".target"),
		Model:    v.GetString(section + ".model"),
		APIKey:   v.GetString(section + ".api_key"),
	}
}

// chatsFromViper coerces the [telegram.chats] table into user -> chat id.
// TOML integers arrive as int64, but env or flag overrides arrive as strings.
func chatsFromViper(v *viper.Viper) map[string]int64 {
	raw := v.GetStringMap("telegram.chats")
	if len(raw) == 0 {
		return nil
	}

	chats := make(map[string]int64, len(raw))
	for user, val := range raw {
		switch n := val.(type) {
		case int64:
			chats[user] = n
		case int:
			chats[user] = int64(n)
		case float64:
			chats[user] = int64(n)
		case string:
			id, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				continue
			}
			chats[user] = id
		}
	}
	return chats
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Vector store
	v.SetDefault("vector_store.provider", d.VectorStore.Provider)
	v.SetDefault("vector_store.target", d.VectorStore.Target)
	v.SetDefault("vector_store.dimensions", d.VectorStore.Dimensions)

	// Embedding
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)

	// Adapters
	v.SetDefault("transcription.provider", d.Transcription.Provider)
	v.SetDefault("transcription.target", d.Transcription.Target)
	v.SetDefault("transcription.model", d.Transcription.Model)
	v.SetDefault("transcription.api_key", d.Transcription.APIKey)
	v.SetDefault("classification.provider", d.Classification.Provider)
	v.SetDefault("classification.target", d.Classification.Target)
	v.SetDefault("classification.model", d.Classification.Model)
	v.SetDefault("classification.api_key", d.Classification.APIKey)
	v.SetDefault("narrative.provider", d.Narrative.Provider)
	v.SetDefault("narrative.target", d.Narrative.Target)
	v.SetDefault("narrative.model", d.Narrative.Model)
	v.SetDefault("narrative.api_key", d.Narrative.APIKey)

	// Scoring
	v.SetDefault("scoring.floor", d.Scoring.Floor)
	v.SetDefault("scoring.volume", d.Scoring.Volume)
	v.SetDefault("scoring.volume_cap", d.Scoring.VolumeCap)
	v.SetDefault("scoring.accomplishment", d.Scoring.Accomplishment)
	v.SetDefault("scoring.blocker", d.Scoring.Blocker)
	v.SetDefault("scoring.learning", d.Scoring.Learning)

	// Scheduler and repair
	v.SetDefault("scheduler.max_attempts", d.Scheduler.MaxAttempts)
	v.SetDefault("scheduler.job_budget", d.Scheduler.JobBudget)
	v.SetDefault("repair.max_attempts", d.Repair.MaxAttempts)
	v.SetDefault("repair.workers", d.Repair.Workers)

	// Rate limit
	v.SetDefault("ratelimit.per_minute", d.RateLimit.PerMinute)
	v.SetDefault("ratelimit.redis_url", d.RateLimit.RedisURL)

	// Search
	v.SetDefault("search.index_path", d.Search.IndexPath)

	// Nudges
	v.SetDefault("telegram.token", d.Telegram.Token)
	v.SetDefault("nudges.enabled", d.Nudges.Enabled)

	// Event stream
	v.SetDefault("eventstream.brokers", d.EventStream.Brokers)
	v.SetDefault("eventstream.topic", d.EventStream.Topic)
}
