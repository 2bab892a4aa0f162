package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nimbushost/billing/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Archive (object storage) configuration
	Archive ArchiveConfig

	// Kafka event bus configuration
	Kafka KafkaConfig

	// Renewal scanner configuration
	Renewal RenewalConfig

	// Observability configuration
	Observability ObservabilityConfig

	// GatewayBootstrapPath points at an optional YAML file with gateway
	// configurations to seed on startup (dev and test environments).
	GatewayBootstrapPath string

	// AuditLogFile enables a secondary NDJSON audit sink alongside the
	// database when set.
	AuditLogFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for orchestrator health checks)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string
	ReplicaURLs string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds Redis configuration. Redis backs the webhook dedup
// ledger when enabled; the PostgreSQL ledger is the fallback.
type RedisConfig struct {
	Enabled    bool
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	DedupTTL   time.Duration
}

// ArchiveConfig holds webhook payload archive (S3) configuration
type ArchiveConfig struct {
	Enabled      bool
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// KafkaConfig holds event bus configuration
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// RenewalConfig holds the subscription renewal scanner configuration
type RenewalConfig struct {
	Enabled   bool
	Schedule  string
	BatchSize int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:               loadServerConfig(),
		Database:             loadDatabaseConfig(),
		Redis:                loadRedisConfig(),
		Archive:              loadArchiveConfig(),
		Kafka:                loadKafkaConfig(),
		Renewal:              loadRenewalConfig(),
		Observability:        loadObservabilityConfig(),
		GatewayBootstrapPath: getEnv("BILLING_GATEWAY_BOOTSTRAP", ""),
		AuditLogFile:         getEnv("BILLING_AUDIT_LOG_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("BILLING_HOST", "0.0.0.0"),
		Port:            getEnv("BILLING_PORT", "8080"),
		ReadTimeout:     getEnvDuration("BILLING_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("BILLING_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("BILLING_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("BILLING_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("BILLING_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("BILLING_POSTGRES_URL", ""),
		ReplicaURLs: getEnv("BILLING_POSTGRES_REPLICA_URLS", ""),
		MaxConns:    getEnvInt("BILLING_POSTGRES_MAX_CONNS", 25),
		MinConns:    getEnvInt("BILLING_POSTGRES_MIN_CONNS", 5),
		Timeout:     getEnvDuration("BILLING_POSTGRES_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("BILLING_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("BILLING_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:    getEnvBool("BILLING_REDIS_ENABLED", false),
		URL:        getEnv("BILLING_REDIS_URL", "redis://localhost:6379/0"),
		Password:   getEnv("BILLING_REDIS_PASSWORD", ""),
		DB:         getEnvInt("BILLING_REDIS_DB", 0),
		MaxRetries: getEnvInt("BILLING_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("BILLING_REDIS_POOL_SIZE", 10),
		DedupTTL:   getEnvDuration("BILLING_REDIS_DEDUP_TTL", 30*24*time.Hour),
	}
}

// loadArchiveConfig loads webhook archive configuration from environment
func loadArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled:      getEnvBool("BILLING_ARCHIVE_ENABLED", false),
		Bucket:       getEnv("BILLING_ARCHIVE_BUCKET", ""),
		Region:       getEnv("BILLING_ARCHIVE_REGION", "us-east-1"),
		Endpoint:     getEnv("BILLING_ARCHIVE_ENDPOINT", ""),
		AccessKey:    getEnv("BILLING_ARCHIVE_ACCESS_KEY", ""),
		SecretKey:    getEnv("BILLING_ARCHIVE_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("BILLING_ARCHIVE_USE_PATH_STYLE", false),
	}
}

// loadKafkaConfig loads event bus configuration from environment
func loadKafkaConfig() KafkaConfig {
	brokers := getEnv("BILLING_KAFKA_BROKERS", "")
	cfg := KafkaConfig{
		Enabled: getEnvBool("BILLING_KAFKA_ENABLED", false),
		Topic:   getEnv("BILLING_KAFKA_TOPIC", "billing-events"),
	}
	if brokers != "" {
		for _, broker := range strings.Split(brokers, ",") {
			if trimmed := strings.TrimSpace(broker); trimmed != "" {
				cfg.Brokers = append(cfg.Brokers, trimmed)
			}
		}
	}
	return cfg
}

// loadRenewalConfig loads the renewal scanner configuration from environment
func loadRenewalConfig() RenewalConfig {
	return RenewalConfig{
		Enabled:   getEnvBool("BILLING_RENEWAL_ENABLED", true),
		Schedule:  getEnv("BILLING_RENEWAL_SCHEDULE", "@hourly"),
		BatchSize: getEnvInt("BILLING_RENEWAL_BATCH_SIZE", 100),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("BILLING_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("BILLING_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("BILLING_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("BILLING_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("BILLING_OTEL_SERVICE_NAME", "billingd"),
		OTelServiceVersion: getEnv("BILLING_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("BILLING_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when redis is enabled")
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive bucket is required when the archive is enabled")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	if c.Renewal.Enabled {
		if c.Renewal.Schedule == "" {
			return fmt.Errorf("renewal schedule is required when the scanner is enabled")
		}
		if c.Renewal.BatchSize <= 0 {
			return fmt.Errorf("renewal batch size must be positive")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
