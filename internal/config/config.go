// Package config provides configuration loading for issuerag.
//
// Configuration is assembled from defaults, an optional YAML file and
// ISSUERAG_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/cache"
	"github.com/fyrsmithlabs/issuerag/internal/chunker"
)

// Config holds the complete issuerag configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Chunker       chunker.Config      `koanf:"chunker"`
	Cache         cache.Config        `koanf:"cache"`
	Calibration   CalibrationConfig   `koanf:"calibration"`
	Feedback      FeedbackConfig      `koanf:"feedback"`
	Ingest        IngestConfig        `koanf:"ingest"`
	Secrets       SecretsConfig       `koanf:"secrets"`
	Query         QueryConfig         `koanf:"query"`
	Generation    GenerationConfig    `koanf:"generation"`
	Source        SourceConfig        `koanf:"source"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"`
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Provider   string        `koanf:"provider"`
	Collection string        `koanf:"collection"`
	Chromem    ChromemConfig `koanf:"chromem"`
	Qdrant     QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
	InMemory bool   `koanf:"in_memory"`
}

// QdrantConfig configures the Qdrant gRPC store.
type QdrantConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	UseTLS       bool          `koanf:"use_tls"`
	APIKey       Secret        `koanf:"api_key"`
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	Dimension int    `koanf:"dimension"`
	CacheDir  string `koanf:"cache_dir"`
}

// CalibrationConfig configures distance normalization and recalibration.
type CalibrationConfig struct {
	MinDistance    float64 `koanf:"min_distance"`
	MaxDistance    float64 `koanf:"max_distance"`
	ErrorThreshold float64 `koanf:"error_threshold"`
	RelevantRating int     `koanf:"relevant_rating"`
	MinSamples     int     `koanf:"min_samples"`
	Window         int     `koanf:"window"`
	// Schedule is a five-field cron expression for periodic recalibration.
	// Empty disables the scheduler.
	Schedule string `koanf:"schedule"`
}

// FeedbackConfig configures the feedback log.
type FeedbackConfig struct {
	DatabasePath      string `koanf:"database_path"`
	RecordImpressions bool   `koanf:"record_impressions"`
	PrecisionK        int    `koanf:"precision_k"`
}

// IngestConfig configures the ingestion worker pool.
type IngestConfig struct {
	Workers      int           `koanf:"workers"`
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// SecretsConfig controls credential redaction before indexing.
type SecretsConfig struct {
	Redact bool `koanf:"redact"`

	// AllowlistPath is a Gitleaks-style TOML allowlist. A missing file is
	// ignored.
	AllowlistPath string   `koanf:"allowlist_path"`
	Allow         []string `koanf:"allow"`
}

// QueryConfig bounds query size.
type QueryConfig struct {
	DefaultK       int `koanf:"default_k"`
	MaxK           int `koanf:"max_k"`
	ContextResults int `koanf:"context_results"`
}

// GenerationConfig configures the optional answer generator.
type GenerationConfig struct {
	Provider          string        `koanf:"provider"`
	Model             string        `koanf:"model"`
	APIKey            Secret        `koanf:"api_key"`
	RequestsPerMinute int           `koanf:"requests_per_minute"`
	Timeout           time.Duration `koanf:"timeout"`
}

// SourceConfig configures document sources.
type SourceConfig struct {
	GitHub GitHubConfig `koanf:"github"`
}

// GitHubConfig configures the GitHub issues source.
type GitHubConfig struct {
	Token             Secret  `koanf:"token"`
	BaseURL           string  `koanf:"base_url"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	MaxIssues         int     `koanf:"max_issues"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Chunker: chunker.DefaultConfig(),
		Calibration: CalibrationConfig{
			MinDistance:    0.8,
			MaxDistance:    2.0,
			ErrorThreshold: 0.2,
			RelevantRating: 4,
			MinSamples:     5,
			Window:         500,
		},
		Secrets: SecretsConfig{Redact: true},
	}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	switch c.Observability.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("observability protocol must be grpc or http, got %q", c.Observability.Protocol)
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown vectorstore provider %q", c.VectorStore.Provider)
	}
	switch c.Embeddings.Provider {
	case "fastembed", "tei", "gemini", "hash":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Provider == "hash" && c.Embeddings.Dimension <= 0 {
		return errors.New("embeddings dimension required for hash provider")
	}
	switch c.Generation.Provider {
	case "none", "gemini":
	default:
		return fmt.Errorf("unknown generation provider %q", c.Generation.Provider)
	}

	if err := c.Chunker.Validate(); err != nil {
		return fmt.Errorf("chunker: %w", err)
	}

	cal := c.Calibration
	if cal.MinDistance < 0 || cal.MaxDistance > 2 || cal.MinDistance >= cal.MaxDistance {
		return fmt.Errorf("calibration range must satisfy 0 <= min < max <= 2, got [%v, %v]", cal.MinDistance, cal.MaxDistance)
	}
	if cal.ErrorThreshold <= 0 || cal.ErrorThreshold > 1 {
		return fmt.Errorf("calibration error threshold must be in (0, 1], got %v", cal.ErrorThreshold)
	}
	if cal.RelevantRating < 1 || cal.RelevantRating > 5 {
		return fmt.Errorf("relevant rating must be 1-5, got %d", cal.RelevantRating)
	}

	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest workers must be >= 1, got %d", c.Ingest.Workers)
	}
	if c.Query.DefaultK < 1 || c.Query.MaxK < c.Query.DefaultK {
		return fmt.Errorf("query bounds must satisfy 1 <= default_k <= max_k, got %d/%d", c.Query.DefaultK, c.Query.MaxK)
	}
	return nil
}
