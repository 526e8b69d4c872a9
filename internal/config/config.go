package config

import (
	"fmt"
	"path/filepath"
)

// Config represents the main aimo configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Storage
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Embedding
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	// Search
	Search SearchConfig `json:"search" mapstructure:"search"`

	// Reconciler
	Reconciler ReconcilerConfig `json:"reconciler" mapstructure:"reconciler"`

	// API server
	API APIConfig `json:"api" mapstructure:"api"`

	// AI enrichment (tag suggestion)
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	// Driver selects the backend: "sqlite" (embedded) or "postgres"
	Driver string `json:"driver" mapstructure:"driver"`

	// Path to the relational sqlite database file
	Path string `json:"path" mapstructure:"path"`

	// VectorPath to the vector sqlite database file
	VectorPath string `json:"vector_path" mapstructure:"vector_path"`

	// PostgresURL for the postgres driver
	PostgresURL string `json:"postgres_url" mapstructure:"postgres_url"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider  string `json:"provider" mapstructure:"provider"` // openai
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Model     string `json:"model" mapstructure:"model"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`
	CacheSize int    `json:"cache_size" mapstructure:"cache_size"` // entries, 0 disables
}

// SearchConfig holds search behavior configuration
type SearchConfig struct {
	DefaultLimit int `json:"default_limit" mapstructure:"default_limit"`
	MaxLimit     int `json:"max_limit" mapstructure:"max_limit"`
}

// ReconcilerConfig holds vector repair job configuration
type ReconcilerConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"` // cron expression or @every duration
}

// APIConfig holds HTTP server configuration
type APIConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// AIConfig holds LLM enrichment configuration
type AIConfig struct {
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Model    string `json:"model" mapstructure:"model"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			CacheSize: 4096,
		},
		Search: SearchConfig{
			DefaultLimit: 20,
			MaxLimit:     100,
		},
		Reconciler: ReconcilerConfig{
			Enabled:  true,
			Schedule: "@every 1h",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 3210,
		},
		AI: AIConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-20250514",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// ApplyDefaults fills derived paths once DataDir is known
func (c *Config) ApplyDefaults() {
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "aimo.db")
	}
	if c.Storage.VectorPath == "" {
		c.Storage.VectorPath = filepath.Join(c.DataDir, "vectors.db")
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.DataDir, "aimo.log")
	}
}

// Validate checks cross-field constraints that the schema cannot express
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		// paths are derived from DataDir when empty
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}

	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive")
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search limits are inconsistent")
	}
	return nil
}
