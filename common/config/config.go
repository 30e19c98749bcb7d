package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service    ServiceConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	Session    SessionConfig
	Blob       BlobConfig
	Processing ProcessingConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// DatabaseConfig holds Postgres connection settings for the audit trail
type DatabaseConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// SessionConfig holds session store settings
type SessionConfig struct {
	Backend   string // "redis" for production, "memory" for dev/tests
	ReapGrace time.Duration
}

// BlobConfig holds blob store settings
type BlobConfig struct {
	Backend     string // "disk" or "s3"
	Dir         string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

// ProcessingConfig holds conversion pipeline settings
type ProcessingConfig struct {
	MaxFileSize       int64
	WorkerConcurrency int
	DefaultTTL        time.Duration
	CompletedTTL      time.Duration
	ProcessingTimeout time.Duration
	SingleUseDownload bool
	ReapInterval      time.Duration
	WatchdogInterval  time.Duration
	WatchdogGrace     time.Duration
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Enabled:     getEnvBool("AUDIT_ENABLED", false),
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "convertd"),
			User:        getEnv("POSTGRES_USER", "convertd"),
			Password:    getEnv("POSTGRES_PASSWORD", "convertd"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Session: SessionConfig{
			Backend:   getEnv("SESSION_BACKEND", "redis"),
			ReapGrace: getEnvDuration("SESSION_REAP_GRACE", 1*time.Hour),
		},
		Blob: BlobConfig{
			Backend:     getEnv("BLOB_BACKEND", "disk"),
			Dir:         getEnv("BLOB_DIR", "./data/blobs"),
			S3Region:    getEnv("S3_REGION", "us-east-1"),
			S3Bucket:    getEnv("S3_BUCKET", ""),
			S3AccessKey: getEnv("S3_ACCESS_KEY_ID", ""),
			S3SecretKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		},
		Processing: ProcessingConfig{
			MaxFileSize:       getEnvInt64("MAX_FILE_SIZE", 50*1024*1024),
			WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
			DefaultTTL:        getEnvDuration("DEFAULT_TTL", 1*time.Hour),
			CompletedTTL:      getEnvDuration("COMPLETED_TTL", 24*time.Hour),
			ProcessingTimeout: getEnvDuration("PROCESSING_TIMEOUT", 2*time.Minute),
			SingleUseDownload: getEnvBool("SINGLE_USE_DOWNLOAD", false),
			ReapInterval:      getEnvDuration("REAP_INTERVAL", 1*time.Minute),
			WatchdogInterval:  getEnvDuration("WATCHDOG_INTERVAL", 30*time.Second),
			WatchdogGrace:     getEnvDuration("WATCHDOG_GRACE", 5*time.Minute),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	switch c.Session.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown session backend: %s", c.Session.Backend)
	}

	switch c.Blob.Backend {
	case "disk":
	case "s3":
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("s3 blob backend requires S3_BUCKET")
		}
	default:
		return fmt.Errorf("unknown blob backend: %s", c.Blob.Backend)
	}

	if c.Processing.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive")
	}

	if c.Processing.WorkerConcurrency < 1 {
		return fmt.Errorf("worker_concurrency must be at least 1")
	}

	if c.Processing.ProcessingTimeout <= 0 {
		return fmt.Errorf("processing_timeout must be positive")
	}

	if c.Processing.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive")
	}

	if c.Database.Enabled && c.Database.Host == "" {
		return fmt.Errorf("database host is required when audit is enabled")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
