package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Valkey    ValkeyConfig    `yaml:"valkey"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Worker    WorkerConfig    `yaml:"worker"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Export    ExportConfig    `yaml:"export"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address      string          `yaml:"address"`
	ReadTimeout  time.Duration   `yaml:"readTimeout"`
	WriteTimeout time.Duration   `yaml:"writeTimeout"`
	RateLimit    RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig drives the per-user request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// AuthConfig holds the bearer token settings. Token issuance lives in a
// separate service; this one only validates.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
}

// PostgresConfig contains DSN and pooling settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// ValkeyConfig configures the cross-process wake-up signal.
type ValkeyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	WakeKey string `yaml:"wakeKey"`
}

// EmbeddingConfig contains the embedding backend settings.
type EmbeddingConfig struct {
	APIKey        string        `yaml:"apiKey"`
	BaseURL       string        `yaml:"baseUrl"`
	Model         string        `yaml:"model"`
	Dimensions    int           `yaml:"dimensions"`
	MaxConcurrent int64         `yaml:"maxConcurrent"`
	MaxTokens     int           `yaml:"maxTokens"`
	Timeout       time.Duration `yaml:"timeout"`
}

// WorkerConfig tunes the vectorization worker pool and reaper.
type WorkerConfig struct {
	PoolSize     int           `yaml:"poolSize"`
	BatchSize    int           `yaml:"batchSize"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
	PollInterval time.Duration `yaml:"pollInterval"`
	StaleAfter   time.Duration `yaml:"staleAfter"`
	ReapInterval time.Duration `yaml:"reapInterval"`
}

// RetrievalConfig bounds the search path.
type RetrievalConfig struct {
	DefaultTopK int           `yaml:"defaultTopK"`
	MaxTopK     int           `yaml:"maxTopK"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ExportConfig configures the optional snapshot sink.
type ExportConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
}

// Load reads configuration from a YAML file and environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	setInt := func(key string, target *int) {
		if v := os.Getenv(key); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				*target = parsed
			}
		}
	}
	setDuration := func(key string, target *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				*target = parsed
			}
		}
	}
	setBool := func(key string, target *bool) {
		if v := os.Getenv(key); v != "" {
			*target = v == "1" || strings.EqualFold(v, "true")
		}
	}

	setString("HTTP_ADDRESS", &cfg.HTTP.Address)
	setBool("HTTP_RATE_LIMIT_ENABLED", &cfg.HTTP.RateLimit.Enabled)
	setInt("HTTP_RATE_LIMIT_RPM", &cfg.HTTP.RateLimit.RequestsPerMinute)
	setInt("HTTP_RATE_LIMIT_BURST", &cfg.HTTP.RateLimit.Burst)

	setString("AUTH_JWT_SECRET", &cfg.Auth.JWTSecret)

	setString("POSTGRES_DSN", &cfg.Postgres.DSN)
	if v := os.Getenv("POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MinConns = int32(parsed)
		}
	}

	setBool("VALKEY_ENABLED", &cfg.Valkey.Enabled)
	setString("VALKEY_ADDR", &cfg.Valkey.Addr)
	setString("VALKEY_WAKE_KEY", &cfg.Valkey.WakeKey)

	setString("EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	setString("EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL)
	setString("EMBEDDING_MODEL", &cfg.Embedding.Model)
	setInt("EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions)
	if v := os.Getenv("EMBEDDING_MAX_CONCURRENT"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Embedding.MaxConcurrent = parsed
		}
	}
	setInt("EMBEDDING_MAX_TOKENS", &cfg.Embedding.MaxTokens)
	setDuration("EMBEDDING_TIMEOUT", &cfg.Embedding.Timeout)

	setInt("WORKER_POOL_SIZE", &cfg.Worker.PoolSize)
	setInt("WORKER_BATCH_SIZE", &cfg.Worker.BatchSize)
	setInt("WORKER_MAX_ATTEMPTS", &cfg.Worker.MaxAttempts)
	setDuration("WORKER_RETRY_BACKOFF", &cfg.Worker.RetryBackoff)
	setDuration("WORKER_POLL_INTERVAL", &cfg.Worker.PollInterval)
	setDuration("WORKER_STALE_AFTER", &cfg.Worker.StaleAfter)
	setDuration("WORKER_REAP_INTERVAL", &cfg.Worker.ReapInterval)

	setInt("RETRIEVAL_DEFAULT_TOP_K", &cfg.Retrieval.DefaultTopK)
	setInt("RETRIEVAL_MAX_TOP_K", &cfg.Retrieval.MaxTopK)
	setDuration("RETRIEVAL_TIMEOUT", &cfg.Retrieval.Timeout)

	setBool("EXPORT_ENABLED", &cfg.Export.Enabled)
	setString("EXPORT_ENDPOINT", &cfg.Export.Endpoint)
	setString("EXPORT_ACCESS_KEY", &cfg.Export.AccessKey)
	setString("EXPORT_SECRET_KEY", &cfg.Export.SecretKey)
	setString("EXPORT_BUCKET", &cfg.Export.Bucket)
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             30,
			},
		},
		Postgres: PostgresConfig{
			MaxConns: 8,
			MinConns: 0,
		},
		Valkey: ValkeyConfig{
			WakeKey: "trainbase:wake",
		},
		Embedding: EmbeddingConfig{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "text-embedding-3-small",
			Dimensions:    1536,
			MaxConcurrent: 8,
			MaxTokens:     8191,
			Timeout:       30 * time.Second,
		},
		Worker: WorkerConfig{
			PoolSize:     4,
			BatchSize:    16,
			MaxAttempts:  3,
			RetryBackoff: 5 * time.Second,
			PollInterval: 10 * time.Second,
			StaleAfter:   2 * time.Minute,
			ReapInterval: 30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			DefaultTopK: 4,
			MaxTopK:     20,
			Timeout:     3 * time.Second,
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if c.Valkey.Enabled && strings.TrimSpace(c.Valkey.Addr) == "" {
		return errors.New("valkey.addr cannot be empty when valkey is enabled")
	}
	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding.dimensions must be positive")
	}
	if c.Embedding.MaxConcurrent <= 0 {
		return errors.New("embedding.maxConcurrent must be positive")
	}
	if c.Worker.PoolSize <= 0 {
		return errors.New("worker.poolSize must be positive")
	}
	if c.Worker.BatchSize <= 0 {
		return errors.New("worker.batchSize must be positive")
	}
	if c.Worker.MaxAttempts <= 0 {
		return errors.New("worker.maxAttempts must be positive")
	}
	if c.Worker.StaleAfter <= 0 {
		return errors.New("worker.staleAfter must be positive")
	}
	if c.Retrieval.DefaultTopK <= 0 {
		return errors.New("retrieval.defaultTopK must be positive")
	}
	if c.Retrieval.MaxTopK < c.Retrieval.DefaultTopK {
		return errors.New("retrieval.maxTopK cannot be below retrieval.defaultTopK")
	}
	if c.Export.Enabled {
		if strings.TrimSpace(c.Export.Endpoint) == "" || strings.TrimSpace(c.Export.Bucket) == "" {
			return errors.New("export.endpoint and export.bucket are required when export is enabled")
		}
	}
	return nil
}
