package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/murmurhq/murmur/pkg/dotdir"
	"github.com/murmurhq/murmur/pkg/journal"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	// If no .murmur/ directory was resolved, targetPath stays empty;
	// LoadConfig will return defaults and SaveConfig will error clearly.
	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Always set targetPath when the directory exists so SaveConfig
	// can create or overwrite the file.
	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns the sorted list of all supported configuration key names.
func ValidConfigKeys() []string {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}

	// Return in a stable, logical order matching the TOML section layout.
	ordered := []string{
		"storage.driver",
		"storage.sqlite_path",
		"storage.postgres_dsn",
		"api.listen",
		"vector_store.provider",
		"vector_store.target",
		"vector_store.dimensions",
		"embedding.provider",
		"embedding.target",
		"embedding.model",
		"embedding.dimensions",
		"embedding.api_key",
		"transcription.provider",
		"transcription.target",
		"transcription.model",
		"transcription.api_key",
		"classification.provider",
		"classification.target",
		"classification.model",
		"classification.api_key",
		"narrative.provider",
		"narrative.target",
		"narrative.model",
		"narrative.api_key",
		"scoring.floor",
		"scoring.volume",
		"scoring.volume_cap",
		"scoring.accomplishment",
		"scoring.blocker",
		"scoring.learning",
		"scheduler.max_attempts",
		"scheduler.job_budget",
		"repair.max_attempts",
		"repair.workers",
		"ratelimit.per_minute",
		"ratelimit.redis_url",
		"search.index_path",
		"telegram.token",
		"nudges.enabled",
		"eventstream.brokers",
		"eventstream.topic",
	}

	// Sanity: only return keys that actually exist in the map.
	result := make([]string, 0, len(ordered))
	for _, k := range ordered {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
		}
	}

	// Append any keys in the map that we missed in the ordered list.
	seen := make(map[string]bool, len(result))
	for _, k := range result {
		seen[k] = true
	}
	for _, k := range keys {
		if !seen[k] {
			result = append(result, k)
		}
	}

	return result
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads the configuration from config.toml in the target .murmur/ directory.
// If the file does not exist, returns NewDefaultConfig() so callers always receive
// a fully-populated Config with sane defaults. Fields explicitly set in the file
// override the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	// Merge in defaults: fill in any zero-value fields from the loaded config
	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	defaults := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaults.Storage.Driver
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = defaults.VectorStore.Provider
	}
	if cfg.VectorStore.Dimensions == 0 {
		cfg.VectorStore.Dimensions = defaults.VectorStore.Dimensions
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = defaults.Embedding.Provider
	}
	if cfg.Embedding.Target == "" {
		cfg.Embedding.Target = defaults.Embedding.Target
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaults.Embedding.Model
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = defaults.Embedding.Dimensions
	}

	if cfg.Transcription.Provider == "" {
		cfg.Transcription.Provider = defaults.Transcription.Provider
	}
	if cfg.Transcription.Target == "" {
		cfg.Transcription.Target = defaults.Transcription.Target
	}
	if cfg.Transcription.Model == "" {
		cfg.Transcription.Model = defaults.Transcription.Model
	}

	if cfg.Classification.Provider == "" {
		cfg.Classification.Provider = defaults.Classification.Provider
	}

	if cfg.Narrative.Provider == "" {
		cfg.Narrative.Provider = defaults.Narrative.Provider
	}

	if cfg.Scoring == (journal.ScoreWeights{}) {
		cfg.Scoring = defaults.Scoring
	}

	if cfg.Scheduler.MaxAttempts == 0 {
		cfg.Scheduler.MaxAttempts = defaults.Scheduler.MaxAttempts
	}
	if cfg.Scheduler.JobBudget == "" {
		cfg.Scheduler.JobBudget = defaults.Scheduler.JobBudget
	}

	if cfg.Repair.MaxAttempts == 0 {
		cfg.Repair.MaxAttempts = defaults.Repair.MaxAttempts
	}
	if cfg.Repair.Workers == 0 {
		cfg.Repair.Workers = defaults.Repair.Workers
	}

	if cfg.RateLimit.PerMinute == 0 {
		cfg.RateLimit.PerMinute = defaults.RateLimit.PerMinute
	}

	if cfg.EventStream.Topic == "" {
		cfg.EventStream.Topic = defaults.EventStream.Topic
	}
}

// SaveConfig persists the configuration to config.toml in the target .murmur/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// PresetConfig returns a Config with sane defaults for the named adapter preset.
// Supported presets: "openai", "local", "memory".
// Returns an error if the preset name is not recognized.
func PresetConfig(name string) (*Config, error) {
	base := NewDefaultConfig()

	switch strings.ToLower(name) {
	case "openai":
		// Cloud adapters end to end: Whisper transcription, chat-based
		// classification and narratives, OpenAI embeddings.
		base.Embedding = EmbeddingConfig{
			Provider:   "openai",
			Target:     "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		}
		base.VectorStore.Dimensions = 1536
		base.Transcription = AdapterConfig{
			Provider: "whisper",
			Target:   "https://api.openai.com/v1",
			Model:    "whisper-1",
		}
		base.Classification = AdapterConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		}
		base.Narrative = AdapterConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		}
		return base, nil

	case "local":
		// Local model stack: Ollama embeddings, a local Whisper server,
		// heuristic classification, template narratives.
		base.Transcription = AdapterConfig{
			Provider: "whisper",
			Target:   "http://localhost:8090/v1",
			Model:    "whisper-1",
		}
		return base, nil

	case "memory":
		// Everything in process. Useful for demos and tests; nothing
		// survives a restart.
		base.Storage = StorageConfig{Driver: "memory"}
		base.VectorStore = VectorStoreConfig{
			Provider:   "memory",
			Dimensions: base.Embedding.Dimensions,
		}
		return base, nil

	default:
		return nil, fmt.Errorf("unknown preset: %q (available: openai, local, memory)", name)
	}
}

// ValidPresetNames returns the list of recognized preset names.
func ValidPresetNames() []string {
	return []string{"openai", "local", "memory"}
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
