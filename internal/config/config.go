// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64 // Upload bound; datasets arrive inline.

	// Storage settings.
	DatabaseURL string // Postgres URL; empty selects the embedded SQLite ledger.
	DataDir     string // Root for the SQLite file and the dataset spool.
	RedisURL    string // Shared memo cache; empty selects the in-process store.

	// Engine settings.
	MaxWorkers   int           // Process-wide concurrent agent executions.
	AgentTimeout time.Duration // Default per-agent deadline.
	PlanTimeout  time.Duration
	CacheTTL     time.Duration

	// Collaborator endpoints. Empty planner/codegen URLs select the
	// built-in catalog planner and local analyses.
	PlannerURL  string
	CodegenURL  string
	SandboxURL  string
	CatalogPath string

	// Auth settings. Auth is enabled when APIKey is set.
	APIKey            string
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Embedding provider settings for the insight index.
	EmbeddingProvider   string // "auto", "openai", "ollama", or "noop"
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int // Vector dimensions; must match the chosen model's output.
	OllamaURL           string
	OllamaModel         string

	// Insight index settings. An empty QdrantURL disables the index.
	QdrantURL          string
	QdrantAPIKey       string
	QdrantCollection   string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Operational settings.
	LogLevel        string
	RateLimitPerMin int // Submissions per client per minute; 0 disables.
	MCPEnabled      bool
}

// Load reads configuration from environment variables with sensible
// defaults. Malformed values are collected and reported together so a
// broken deployment fails with every problem named at once.
func Load() (Config, error) {
	var errs []error
	collectInt := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	collectDuration := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	collectBool := func(key string, def bool) bool {
		v, err := envBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := Config{
		Port:                collectInt("HIRAMEKI_PORT", 8080),
		ReadTimeout:         collectDuration("HIRAMEKI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        collectDuration("HIRAMEKI_WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBodyBytes: int64(collectInt("HIRAMEKI_MAX_REQUEST_BODY_BYTES", 32*1024*1024)), // 32 MB default
		DatabaseURL:         envStr("DATABASE_URL", ""),
		DataDir:             envStr("HIRAMEKI_DATA_DIR", "./data"),
		RedisURL:            envStr("REDIS_URL", ""),
		MaxWorkers:          collectInt("HIRAMEKI_MAX_WORKERS", 4),
		AgentTimeout:        collectDuration("HIRAMEKI_AGENT_TIMEOUT", 5*time.Minute),
		PlanTimeout:         collectDuration("HIRAMEKI_PLAN_TIMEOUT", 30*time.Second),
		CacheTTL:            collectDuration("HIRAMEKI_CACHE_TTL", 24*time.Hour),
		PlannerURL:          envStr("HIRAMEKI_PLANNER_URL", ""),
		CodegenURL:          envStr("HIRAMEKI_CODEGEN_URL", ""),
		SandboxURL:          envStr("HIRAMEKI_SANDBOX_URL", ""),
		CatalogPath:         envStr("HIRAMEKI_CATALOG", ""),
		APIKey:              envStr("HIRAMEKI_API_KEY", ""),
		JWTPrivateKeyPath:   envStr("HIRAMEKI_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    envStr("HIRAMEKI_JWT_PUBLIC_KEY", ""),
		JWTExpiration:       collectDuration("HIRAMEKI_JWT_EXPIRATION", 24*time.Hour),
		EmbeddingProvider:   envStr("HIRAMEKI_EMBEDDING_PROVIDER", "auto"),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:      envStr("HIRAMEKI_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: collectInt("HIRAMEKI_EMBEDDING_DIMENSIONS", 1024),
		OllamaURL:           envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:         envStr("OLLAMA_MODEL", "mxbai-embed-large"),
		QdrantURL:           envStr("HIRAMEKI_QDRANT_URL", ""),
		QdrantAPIKey:        envStr("HIRAMEKI_QDRANT_API_KEY", ""),
		QdrantCollection:    envStr("HIRAMEKI_QDRANT_COLLECTION", "hirameki_insights"),
		OutboxPollInterval:  collectDuration("HIRAMEKI_OUTBOX_POLL_INTERVAL", 5*time.Second),
		OutboxBatchSize:     collectInt("HIRAMEKI_OUTBOX_BATCH_SIZE", 50),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "hirameki"),
		OTELInsecure:        collectBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		LogLevel:            envStr("HIRAMEKI_LOG_LEVEL", "info"),
		RateLimitPerMin:     collectInt("HIRAMEKI_RATE_LIMIT_PER_MIN", 0),
		MCPEnabled:          collectBool("HIRAMEKI_MCP_ENABLED", true),
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: HIRAMEKI_PORT must be in 1-65535, got %d", c.Port)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("config: HIRAMEKI_MAX_WORKERS must be positive, got %d", c.MaxWorkers)
	}
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("config: HIRAMEKI_AGENT_TIMEOUT must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: HIRAMEKI_CACHE_TTL must be positive")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: HIRAMEKI_DATA_DIR is required")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: HIRAMEKI_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: HIRAMEKI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.OutboxPollInterval <= 0 {
		return fmt.Errorf("config: HIRAMEKI_OUTBOX_POLL_INTERVAL must be positive")
	}
	if c.OutboxBatchSize < 1 {
		return fmt.Errorf("config: HIRAMEKI_OUTBOX_BATCH_SIZE must be positive, got %d", c.OutboxBatchSize)
	}
	if c.RateLimitPerMin < 0 {
		return fmt.Errorf("config: HIRAMEKI_RATE_LIMIT_PER_MIN must not be negative")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: HIRAMEKI_LOG_LEVEL must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	if (c.CodegenURL == "") != (c.SandboxURL == "") {
		return fmt.Errorf("config: HIRAMEKI_CODEGEN_URL and HIRAMEKI_SANDBOX_URL must be set together")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
