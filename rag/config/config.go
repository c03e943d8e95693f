package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/course-rag/rag"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingCredential is returned by Validate when a backend that needs an API key has none.
var ErrMissingCredential = errors.New("missing credential")

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Index     IndexConfig     `mapstructure:"index"`
	Session   SessionConfig   `mapstructure:"session"`
	Harness   HarnessConfig   `mapstructure:"harness"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig stores the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"` // Deadline applied to one query
}

// DatabaseConfig stores database connection details.
type DatabaseConfig struct {
	DSN  string `mapstructure:"dsn"`
	Type string `mapstructure:"type"`
	// Embedded-only configuration
	LibSQLDataDir string `mapstructure:"libsql_data_dir"`
	// Postgres connection string, used when index.backend is "postgres"
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// LLMConfig stores language model configurations.
type LLMConfig struct {
	Provider  string `mapstructure:"provider"` // "openai", "ollama", "perplexity", "anthropic"
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	MaxTokens int    `mapstructure:"max_tokens"`
	Seed      int    `mapstructure:"seed"`
}

// EmbeddingConfig stores embedding model configurations.
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"` // "openai", "ollama", "hash"
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Dims     int    `mapstructure:"dims"`
}

// IndexConfig stores retrieval index settings.
type IndexConfig struct {
	Backend                string  `mapstructure:"backend"` // "libsql", "postgres"
	MaxResults             int     `mapstructure:"max_results"`
	CourseMatchMaxDistance float64 `mapstructure:"course_match_max_distance"`
	EmbedBatchSize         int     `mapstructure:"embed_batch_size"`
	EmbedConcurrency       int     `mapstructure:"embed_concurrency"`
	QueryCacheCapacity     int     `mapstructure:"query_cache_capacity"`
	QueryCacheTTLSeconds   int     `mapstructure:"query_cache_ttl_seconds"`
}

// SessionConfig stores conversation store settings.
type SessionConfig struct {
	Store      string `mapstructure:"store"` // "memory", "libsql"
	MaxHistory int    `mapstructure:"max_history"`
}

// HarnessConfig stores orchestrator settings.
type HarnessConfig struct {
	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`

	// Safety and validation
	EnableGuardrails bool `mapstructure:"enable_guardrails"`

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"`
}

// LoggingConfig stores logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json", "console"
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
// A .env file in the working directory is loaded first so its values reach viper.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", rag.DefaultAppName))
		v.AddConfigPath(rag.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(rag.DefaultEnvPrefix)
	v.AutomaticEnv()
	// llm.api_key becomes COURSE_RAG_LLM_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	AppConfig = cfg
	return &AppConfig, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.query_timeout", "90s")

	v.SetDefault("database.dsn", rag.DefaultDatabaseDSN)
	v.SetDefault("database.type", rag.DefaultDatabaseType)
	v.SetDefault("database.libsql_data_dir", rag.DefaultDatabaseDir)
	v.SetDefault("database.postgres_dsn", "")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.max_tokens", 800)
	v.SetDefault("llm.seed", 42)

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dims", 384)

	v.SetDefault("index.backend", "libsql")
	v.SetDefault("index.max_results", 5)
	v.SetDefault("index.course_match_max_distance", 0.6)
	v.SetDefault("index.embed_batch_size", 32)
	v.SetDefault("index.embed_concurrency", 4)
	v.SetDefault("index.query_cache_capacity", 1000)
	v.SetDefault("index.query_cache_ttl_seconds", 3600)

	v.SetDefault("session.store", "memory")
	v.SetDefault("session.max_history", 2)

	v.SetDefault("harness.rate_limit_enabled", true)
	v.SetDefault("harness.rate_limit_capacity", 10)
	v.SetDefault("harness.rate_limit_refill_rate", "1s")
	v.SetDefault("harness.enable_guardrails", true)
	v.SetDefault("harness.enable_tracing", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate reports configuration that would make the service unusable.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "perplexity", "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm provider %q: %w: set %s_LLM_API_KEY", c.LLM.Provider, ErrMissingCredential, rag.DefaultEnvPrefix)
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding provider %q: %w: set %s_EMBEDDING_API_KEY", c.Embedding.Provider, ErrMissingCredential, rag.DefaultEnvPrefix)
		}
	case "ollama", "hash":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}

	switch c.Index.Backend {
	case "libsql":
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return errors.New("index backend postgres requires database.postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}

	switch c.Session.Store {
	case "memory", "libsql":
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}

	if c.Session.MaxHistory < 1 {
		return fmt.Errorf("session.max_history must be positive, got %d", c.Session.MaxHistory)
	}
	if c.Index.MaxResults < 1 {
		return fmt.Errorf("index.max_results must be positive, got %d", c.Index.MaxResults)
	}
	return nil
}
