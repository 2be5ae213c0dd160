// Package config loads and validates the daemon's configuration: a single
// YAML file with environment-variable overrides, using one Config struct
// with nested sections and a DefaultConfig() constructor.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all daem0nmcp configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	BM25       BM25Config       `yaml:"bm25"`
	RRF        RRFConfig        `yaml:"rrf"`
	Covenant   CovenantConfig   `yaml:"covenant"`
	Dream      DreamConfig      `yaml:"dream"`
	Task       TaskConfig       `yaml:"task"`
	Subprocess SubprocessConfig `yaml:"subprocess"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StorageConfig controls the on-disk SQLite store location and pragmas.
type StorageConfig struct {
	Root            string `yaml:"root"`              // project-scoped storage root, e.g. <project>/.daem0n
	DatabaseFile    string `yaml:"database_file"`      // relative to Root
	BusyTimeoutMS   int    `yaml:"busy_timeout_ms"`
	VectorExtension bool   `yaml:"vector_extension"` // whether to attempt loading sqlite-vec
	RequireVector   bool   `yaml:"require_vector"`   // fail startup if the extension can't load
}

// EmbeddingConfig controls the dense embedding backend.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // "ollama" | "none"
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	Dimensions     int    `yaml:"dimensions"`
	Timeout        string `yaml:"timeout"`
}

// BM25Config holds the lexical scoring parameters.
type BM25Config struct {
	K1            float64 `yaml:"k1"`
	B             float64 `yaml:"b"`
	TagMultiplier int     `yaml:"tag_multiplier"`
}

// RRFConfig holds hybrid-fusion tuning parameters.
type RRFConfig struct {
	K                int     `yaml:"k"`
	BM25Candidates   int     `yaml:"bm25_candidates"`
	VectorCandidates int     `yaml:"vector_candidates"`
	BM25Threshold    float64 `yaml:"bm25_threshold"`
	VectorThreshold  float64 `yaml:"vector_threshold"`

	RecencyEnabled    bool    `yaml:"recency_enabled"`
	RecencyTauDays    float64 `yaml:"recency_tau_days"`
	ImportanceEnabled bool    `yaml:"importance_enabled"`
	PinnedEnabled     bool    `yaml:"pinned_enabled"`
	PinnedBonus       float64 `yaml:"pinned_bonus"`
}

// CovenantConfig holds the covenant enforcement middleware's timing rules.
type CovenantConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ContextCheckTTL  string `yaml:"context_check_ttl"` // e.g. "300s"
	SessionIDBucket  string `yaml:"session_id_bucket"` // "hour" | "day"
}

// DreamConfig holds the idle "dreaming" scheduler's tuning parameters.
type DreamConfig struct {
	Enabled      bool   `yaml:"enabled"`
	IdleTimeout  string `yaml:"idle_timeout"` // e.g. "60s"
	MaxDecisions int    `yaml:"max_decisions"`
	MinAgeHours  int    `yaml:"min_age_hours"`

	ReviewCooldownHours     int  `yaml:"review_cooldown_hours"`
	MaxConnections          int  `yaml:"max_connections"`
	CommunityStalenessHours int  `yaml:"community_staleness_hours"`
	EvidenceThreshold       int  `yaml:"evidence_threshold"`
	DryRun                  bool `yaml:"dry_run"`
}

// TaskConfig holds background-task-manager tuning.
type TaskConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	QueueSize     int    `yaml:"queue_size"`
	DefaultTTL    string `yaml:"default_ttl"`
}

// SubprocessConfig gates the optional execute/execute_python convenience action.
type SubprocessConfig struct {
	Allowed []string `yaml:"allowed"` // non-empty enables execute; entries are not checked one by one
	Timeout string   `yaml:"timeout"`
}

// LoggingConfig mirrors the logging package's Settings, duplicated here so
// the config file is self-describing without importing internal/logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "daem0nmcp",
		Version: "0.1.0",

		Storage: StorageConfig{
			Root:            ".daem0n",
			DatabaseFile:    "memory.db",
			BusyTimeoutMS:   5000,
			VectorExtension: true,
			RequireVector:   false,
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			Dimensions:     768,
			Timeout:        "30s",
		},

		BM25: BM25Config{
			K1:            1.5,
			B:             0.75,
			TagMultiplier: 3,
		},

		RRF: RRFConfig{
			K:                60,
			BM25Candidates:   50,
			VectorCandidates: 50,
			BM25Threshold:    0.0,
			VectorThreshold:  0.3,

			RecencyEnabled:    false,
			RecencyTauDays:    30.0,
			ImportanceEnabled: false,
			PinnedEnabled:     true,
			PinnedBonus:       1000.0,
		},

		Covenant: CovenantConfig{
			Enabled:         true,
			ContextCheckTTL: "300s",
			SessionIDBucket: "hour",
		},

		Dream: DreamConfig{
			Enabled:      true,
			IdleTimeout:  "60s",
			MaxDecisions: 10,
			MinAgeHours:  24,
		},

		Task: TaskConfig{
			MaxConcurrent: 4,
			QueueSize:     100,
			DefaultTTL:    "1h",
		},

		Subprocess: SubprocessConfig{
			Allowed: []string{"go", "git", "python3"},
			Timeout: "30s",
		},

		Logging: LoggingConfig{
			DebugMode:  false,
			Level:      "info",
			JSONFormat: false,
		},
	}
}

// Load reads a YAML config file at path, falling back to DefaultConfig if
// the file does not exist, then applies environment-variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config to path as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets deployment environments override select fields
// without editing the checked-in config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DAEM0N_STORAGE_ROOT"); v != "" {
		c.Storage.Root = v
	}
	if v := os.Getenv("DAEM0N_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("DAEM0N_OLLAMA_ENDPOINT"); v != "" {
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("DAEM0N_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
	if v := os.Getenv("DAEM0N_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DEVILMCP_TOOL_EXECUTION_ENABLED"); v == "" {
		// absence disables execute/execute_python regardless of Subprocess.Allowed
		c.Subprocess.Allowed = nil
	}
}

// DatabasePath returns Storage.Root joined with Storage.DatabaseFile; the
// result is relative whenever Storage.Root is relative.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.Root, c.Storage.DatabaseFile)
}

// LogsDir returns the category log directory, "logs" under Storage.Root
// (relative whenever Storage.Root is relative).
func (c *Config) LogsDir() string {
	return filepath.Join(c.Storage.Root, "logs")
}
