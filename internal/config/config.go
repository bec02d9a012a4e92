// Package config loads knowledged configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full daemon configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Store         StoreConfig         `koanf:"store"`
	Cache         CacheConfig         `koanf:"cache"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embedding     EmbeddingConfig     `koanf:"embedding"`
	Sources       SourcesConfig       `koanf:"sources"`
	Chunking      ChunkingConfig      `koanf:"chunking"`
	Orchestrator  OrchestratorConfig  `koanf:"orchestrator"`
	Secrets       SecretsConfig       `koanf:"secrets"`
	Events        EventsConfig        `koanf:"events"`
	Temporal      TemporalConfig      `koanf:"temporal"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `koanf:"addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig is mapped onto logging.Config at startup.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// ObservabilityConfig is mapped onto telemetry.Config at startup.
type ObservabilityConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// StoreConfig configures the relational metadata store.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// CacheConfig configures the source cache.
type CacheConfig struct {
	Backend       string   `koanf:"backend"` // memory | badger
	Path          string   `koanf:"path"`    // badger dir, empty = in-memory
	StructuredTTL Duration `koanf:"structured_ttl"`
	DocumentTTL   Duration `koanf:"document_ttl"`
}

// VectorStoreConfig selects and configures the vector index.
type VectorStoreConfig struct {
	Provider    string `koanf:"provider"` // chromem | qdrant
	UpsertBatch int    `koanf:"upsert_batch"`

	QdrantHost           string `koanf:"qdrant_host"`
	QdrantPort           int    `koanf:"qdrant_port"`
	QdrantTLS            bool   `koanf:"qdrant_tls"`
	QdrantMaxRetries     int    `koanf:"qdrant_max_retries"`
	QdrantBreakerFailing int    `koanf:"qdrant_breaker_failures"`

	ChromemPath     string `koanf:"chromem_path"`
	ChromemCompress bool   `koanf:"chromem_compress"`
}

// EmbeddingConfig configures the embedding provider and batch pipeline.
type EmbeddingConfig struct {
	Provider  string `koanf:"provider"` // tei | openai | fastembed
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	APIKey    Secret `koanf:"api_key"`
	Dimension int    `koanf:"dimension"`
	CacheDir  string `koanf:"cache_dir"`

	BatchSize           int      `koanf:"batch_size"`
	RateLimitCooldown   Duration `koanf:"rate_limit_cooldown"`
	MaxRateLimitRetries int      `koanf:"max_rate_limit_retries"`
	InterBatchDelay     Duration `koanf:"inter_batch_delay"`
	MetadataTextLimit   int      `koanf:"metadata_text_limit"`
}

// SourcesConfig configures the Google source adapters.
type SourcesConfig struct {
	CredentialsFile   string   `koanf:"credentials_file"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
	MaxDocuments      int      `koanf:"max_documents"`
	MaxDownloadBytes  ByteSize `koanf:"max_download_bytes"`
	ExtractWorkers    int      `koanf:"extract_workers"`
	PDFToTextPath     string   `koanf:"pdftotext_path"`
	StaticDir         string   `koanf:"static_dir"`
}

// ChunkingConfig configures the document splitter.
type ChunkingConfig struct {
	TargetSize   int `koanf:"target_size"`
	OverlapWords int `koanf:"overlap_words"`
}

// OrchestratorConfig bounds setup and update operations.
type OrchestratorConfig struct {
	OperationTimeout   Duration `koanf:"operation_timeout"`
	RollbackTimeout    Duration `koanf:"rollback_timeout"`
	VerifyAttempts     int      `koanf:"verify_attempts"`
	VerifyInitialDelay Duration `koanf:"verify_initial_delay"`
}

// SecretsConfig configures scrubbing of document text.
type SecretsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistFile string `koanf:"allowlist_file"`
}

// EventsConfig configures operation event publication.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// TemporalConfig enables the scheduled resync worker when HostPort is set.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Secrets: SecretsConfig{Enabled: true}}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8420"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "knowledged"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "knowledged.db"
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.StructuredTTL == 0 {
		cfg.Cache.StructuredTTL = Duration(5 * time.Minute)
	}
	if cfg.Cache.DocumentTTL == 0 {
		cfg.Cache.DocumentTTL = Duration(24 * time.Hour)
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.UpsertBatch == 0 {
		cfg.VectorStore.UpsertBatch = 100
	}
	if cfg.VectorStore.QdrantHost == "" {
		cfg.VectorStore.QdrantHost = "localhost"
	}
	if cfg.VectorStore.QdrantPort == 0 {
		cfg.VectorStore.QdrantPort = 6334
	}
	if cfg.VectorStore.QdrantMaxRetries == 0 {
		cfg.VectorStore.QdrantMaxRetries = 3
	}
	if cfg.VectorStore.QdrantBreakerFailing == 0 {
		cfg.VectorStore.QdrantBreakerFailing = 5
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "tei"
	}
	if cfg.Embedding.BaseURL == "" && cfg.Embedding.Provider == "tei" {
		cfg.Embedding.BaseURL = "http://localhost:8080"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 384
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 10
	}
	if cfg.Embedding.RateLimitCooldown == 0 {
		cfg.Embedding.RateLimitCooldown = Duration(60 * time.Second)
	}
	if cfg.Embedding.MaxRateLimitRetries == 0 {
		cfg.Embedding.MaxRateLimitRetries = 3
	}
	if cfg.Embedding.InterBatchDelay == 0 {
		cfg.Embedding.InterBatchDelay = Duration(time.Second)
	}
	if cfg.Embedding.MetadataTextLimit == 0 {
		cfg.Embedding.MetadataTextLimit = 1000
	}

	if cfg.Sources.RequestsPerSecond == 0 {
		cfg.Sources.RequestsPerSecond = 5
	}
	if cfg.Sources.Burst == 0 {
		cfg.Sources.Burst = 5
	}
	if cfg.Sources.MaxDocuments == 0 {
		cfg.Sources.MaxDocuments = 5
	}
	if cfg.Sources.MaxDownloadBytes == 0 {
		cfg.Sources.MaxDownloadBytes = 5 << 20
	}
	if cfg.Sources.ExtractWorkers == 0 {
		cfg.Sources.ExtractWorkers = 4
	}
	if cfg.Sources.PDFToTextPath == "" {
		cfg.Sources.PDFToTextPath = "pdftotext"
	}
	if cfg.Sources.StaticDir == "" {
		cfg.Sources.StaticDir = "tenants"
	}

	if cfg.Chunking.TargetSize == 0 {
		cfg.Chunking.TargetSize = 800
	}
	if cfg.Chunking.OverlapWords == 0 {
		cfg.Chunking.OverlapWords = 20
	}

	if cfg.Orchestrator.OperationTimeout == 0 {
		cfg.Orchestrator.OperationTimeout = Duration(10 * time.Minute)
	}
	if cfg.Orchestrator.RollbackTimeout == 0 {
		cfg.Orchestrator.RollbackTimeout = Duration(2 * time.Minute)
	}
	if cfg.Orchestrator.VerifyAttempts == 0 {
		cfg.Orchestrator.VerifyAttempts = 3
	}
	if cfg.Orchestrator.VerifyInitialDelay == 0 {
		cfg.Orchestrator.VerifyInitialDelay = Duration(2 * time.Second)
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "knowledged.ops"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "knowledged-resync"
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error

	switch c.Cache.Backend {
	case "memory", "badger":
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be memory or badger, got %q", c.Cache.Backend))
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("vectorstore.provider must be chromem or qdrant, got %q", c.VectorStore.Provider))
	}
	switch c.Embedding.Provider {
	case "tei", "openai", "fastembed":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider must be tei, openai or fastembed, got %q", c.Embedding.Provider))
	}
	if c.Embedding.Provider == "openai" && !c.Embedding.APIKey.IsSet() {
		errs = append(errs, errors.New("embedding.api_key is required for the openai provider"))
	}
	if c.VectorStore.QdrantPort < 1 || c.VectorStore.QdrantPort > 65535 {
		errs = append(errs, fmt.Errorf("vectorstore.qdrant_port out of range: %d", c.VectorStore.QdrantPort))
	}
	if c.Embedding.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize))
	}
	if c.Chunking.TargetSize < 1 || c.Chunking.OverlapWords < 0 {
		errs = append(errs, fmt.Errorf("chunking: invalid target_size=%d overlap_words=%d",
			c.Chunking.TargetSize, c.Chunking.OverlapWords))
	}
	if c.Orchestrator.VerifyAttempts < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.verify_attempts must be >= 1, got %d", c.Orchestrator.VerifyAttempts))
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("observability.sample_rate must be in [0,1], got %v", c.Observability.SampleRate))
	}

	return errors.Join(errs...)
}
