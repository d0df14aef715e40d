package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/facturio/invoicing-engine/shared/common"
)

// Config represents the configuration for the invoicing engine
type Config struct {
	// Service configuration
	Service ServiceConfig `mapstructure:"service"`

	// Extraction configuration
	Extraction ExtractionConfig `mapstructure:"extraction"`

	// Validation guard configuration
	Validation ValidationConfig `mapstructure:"validation"`

	// Distributed locking configuration
	Locking LockingConfig `mapstructure:"locking"`

	// Batch state store configuration
	BatchStore BatchStoreConfig `mapstructure:"batch_store"`

	// Invoice generation configuration
	Generation GenerationConfig `mapstructure:"generation"`

	// External invoicing provider configuration
	Provider ProviderConfig `mapstructure:"provider"`

	// Async job runner configuration
	Jobs JobsConfig `mapstructure:"jobs"`

	// Shared store configuration
	Cache CacheConfig `mapstructure:"cache"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Notification sink configuration
	Notifications common.KafkaConfig `mapstructure:"notifications"`

	// Logging configuration
	Logging common.LoggingConfig `mapstructure:"logging"`

	// Metrics configuration
	Metrics common.MetricsConfig `mapstructure:"metrics"`
}

// ServiceConfig contains service-level configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	InstanceID  string `mapstructure:"instance_id"`
}

// ExtractionConfig contains document extraction configuration
type ExtractionConfig struct {
	MaxDocumentBytes int64 `mapstructure:"max_document_bytes"`
	MaxSections      int   `mapstructure:"max_sections"`
}

// ValidationConfig contains validation guard configuration
type ValidationConfig struct {
	// DefaultAmountCeiling is the sanity ceiling applied when no per-client
	// override exists. Totals above it are hard-rejected.
	DefaultAmountCeiling float64            `mapstructure:"default_amount_ceiling"`
	ClientCeilings       map[string]float64 `mapstructure:"client_ceilings"`

	// DiscrepancyTolerance is the absolute delta between declared and
	// computed totals above which a discrepancy is flagged.
	DiscrepancyTolerance float64 `mapstructure:"discrepancy_tolerance"`
}

// LockingConfig contains distributed lock configuration
type LockingConfig struct {
	FolioTTL      time.Duration      `mapstructure:"folio_ttl"`
	MaxRetries    int                `mapstructure:"max_retries"`
	RetryDelay    time.Duration      `mapstructure:"retry_delay"`
	MaxRetryDelay time.Duration      `mapstructure:"max_retry_delay"`
	SweepInterval time.Duration      `mapstructure:"sweep_interval"`
	Retry         common.RetryConfig `mapstructure:"retry"`
}

// BatchStoreConfig contains batch state store configuration
type BatchStoreConfig struct {
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	Compress  bool          `mapstructure:"compress"`
}

// GenerationConfig contains orchestrator configuration
type GenerationConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// ProviderConfig contains external invoicing provider configuration
type ProviderConfig struct {
	BaseURL        string                      `mapstructure:"base_url"`
	RequestTimeout time.Duration               `mapstructure:"request_timeout"`
	RatePerSecond  float64                     `mapstructure:"rate_per_second"`
	RateBurst      int                         `mapstructure:"rate_burst"`
	Retry          common.RetryConfig          `mapstructure:"retry"`
	CircuitBreaker common.CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// JobsConfig contains async job runner configuration
type JobsConfig struct {
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queue_size"`
	ArtifactDir       string        `mapstructure:"artifact_dir"`
	ArtifactRetention time.Duration `mapstructure:"artifact_retention"`

	// JobRetention is how long a finished job record stays queryable after
	// its result has been delivered.
	JobRetention time.Duration `mapstructure:"job_retention"`
}

// CacheConfig contains shared key-value store configuration
type CacheConfig struct {
	Redis common.RedisConfig `mapstructure:"redis"`

	// AllowFallback permits degrading to the in-process store when Redis is
	// unreachable at startup. Unsafe for multi-process deployments.
	AllowFallback bool `mapstructure:"allow_fallback"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	PostgreSQL common.PostgreSQLConfig `mapstructure:"postgresql"`
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	v.SetEnvPrefix("INVOICING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Environment-only configuration is acceptable
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "invoicing-engine")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.environment", "development")

	v.SetDefault("extraction.max_document_bytes", 32*1024*1024)
	v.SetDefault("extraction.max_sections", 64)

	v.SetDefault("validation.default_amount_ceiling", 1000000.0)
	v.SetDefault("validation.discrepancy_tolerance", 0.01)

	v.SetDefault("locking.folio_ttl", "30s")
	v.SetDefault("locking.max_retries", 5)
	v.SetDefault("locking.retry_delay", "100ms")
	v.SetDefault("locking.max_retry_delay", "5s")
	v.SetDefault("locking.sweep_interval", "10s")

	v.SetDefault("batch_store.ttl", "15m")
	v.SetDefault("batch_store.key_prefix", "batch")
	v.SetDefault("batch_store.compress", true)

	v.SetDefault("generation.max_concurrency", 1)

	v.SetDefault("provider.request_timeout", "15s")
	v.SetDefault("provider.rate_per_second", 5.0)
	v.SetDefault("provider.rate_burst", 5)
	v.SetDefault("provider.retry.max_attempts", 3)
	v.SetDefault("provider.retry.initial_interval", "200ms")
	v.SetDefault("provider.retry.max_interval", "3s")
	v.SetDefault("provider.retry.multiplier", 2.0)

	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue_size", 128)
	v.SetDefault("jobs.artifact_dir", "/var/lib/invoicing-engine/artifacts")
	v.SetDefault("jobs.artifact_retention", "6h")
	v.SetDefault("jobs.job_retention", "1h")

	v.SetDefault("cache.allow_fallback", true)
	v.SetDefault("cache.redis.addresses", []string{"localhost:6379"})
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.pool_size", 10)

	v.SetDefault("database.postgresql.host", "localhost")
	v.SetDefault("database.postgresql.port", 5432)
	v.SetDefault("database.postgresql.database", "invoicing")
	v.SetDefault("database.postgresql.ssl_mode", "disable")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.host", "0.0.0.0")
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}

	if c.Validation.DefaultAmountCeiling <= 0 {
		return fmt.Errorf("validation.default_amount_ceiling must be positive")
	}
	if c.Validation.DiscrepancyTolerance < 0 {
		return fmt.Errorf("validation.discrepancy_tolerance must not be negative")
	}

	if c.Locking.FolioTTL <= 0 {
		return fmt.Errorf("locking.folio_ttl must be positive")
	}
	if c.Locking.MaxRetries < 0 {
		return fmt.Errorf("locking.max_retries must not be negative")
	}

	// A lock that can expire while the provider call it guards is still in
	// flight lets a second caller through mid-folio-assignment.
	if c.Locking.FolioTTL <= c.Provider.RequestTimeout {
		return fmt.Errorf("locking.folio_ttl (%s) must exceed provider.request_timeout (%s)",
			c.Locking.FolioTTL, c.Provider.RequestTimeout)
	}

	if c.BatchStore.TTL <= 0 {
		return fmt.Errorf("batch_store.ttl must be positive")
	}

	if c.Generation.MaxConcurrency <= 0 {
		return fmt.Errorf("generation.max_concurrency must be positive")
	}

	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be positive")
	}
	if c.Jobs.ArtifactRetention <= 0 {
		return fmt.Errorf("jobs.artifact_retention must be positive")
	}
	if c.Jobs.JobRetention <= 0 {
		return fmt.Errorf("jobs.job_retention must be positive")
	}

	return nil
}
