// Package config provides configuration management for the favorites indexer.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Queue       QueueConfig
	AWS         AWSConfig
	Index       IndexConfig
	Blob        BlobConfig
	Source      SourceConfig
	Indexing    IndexingConfig
	Dispatcher  DispatcherConfig
	Credentials CredentialsConfig
	Logging     LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port       string
	Host       string
	RPS        int
	AdminToken string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// QueueConfig holds job queue configuration
type QueueConfig struct {
	Backend           string // "sqs" or "redis"
	SQSURL            string
	Name              string
	VisibilityTimeout time.Duration
	MaxMessages       int
}

// AWSConfig holds the shared AWS settings used for SQS and index signing
type AWSConfig struct {
	Region  string
	Profile string
}

// IndexConfig holds text index configuration
type IndexConfig struct {
	Endpoint        string
	Signing         bool
	Prefix          string
	BulkBatch       int
	PageSize        int
	ScrollPage      int
	ScrollKeepAlive time.Duration
}

// BlobConfig holds watermark blob store configuration
type BlobConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
}

// SourceConfig holds content source API configuration
type SourceConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	PageSize       int
	HydrateBatch   int
	Timeout        time.Duration
	ClientCache    int
}

// IndexingConfig holds indexing run configuration
type IndexingConfig struct {
	PageCooldown    time.Duration
	HydrateCooldown time.Duration
	LockLease       time.Duration
	RunTimeout      time.Duration
	BatchRetries    int
	OnboardRounds   int
	ReindexRounds   int
}

// DispatcherConfig holds dispatcher loop configuration
type DispatcherConfig struct {
	Interval    time.Duration
	Polls       int
	Concurrency int
}

// CredentialsConfig holds the key used to seal stored access tokens
type CredentialsConfig struct {
	SymmetricKey string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	region := getEnv("AWS_REGION", "us-east-1")

	config := &Config{
		Server: ServerConfig{
			Port:       getEnv("SERVER_PORT", "9090"),
			Host:       getEnv("SERVER_HOST", "0.0.0.0"),
			RPS:        getEnvAsInt("API_RPS", 10),
			AdminToken: getEnv("ADMIN_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "faveindex"),
				User:           getEnv("POSTGRES_USER", "faveindex"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "faveindex"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Queue: QueueConfig{
			Backend:           getEnv("QUEUE_BACKEND", "sqs"),
			SQSURL:            getEnv("SQS_QUEUE_URL", ""),
			Name:              getEnv("QUEUE_NAME", "faveindex"),
			VisibilityTimeout: getEnvAsDuration("QUEUE_VISIBILITY_TIMEOUT", 300*time.Second),
			MaxMessages:       getEnvAsInt("QUEUE_MAX_MESSAGES", 10),
		},
		AWS: AWSConfig{
			Region:  region,
			Profile: getEnv("AWS_PROFILE", ""),
		},
		Index: IndexConfig{
			Endpoint:        getEnv("INDEX_ENDPOINT", "http://localhost:9200"),
			Signing:         getEnvAsBool("INDEX_SIGNING", true),
			Prefix:          getEnv("INDEX_PREFIX", "tweets_"),
			BulkBatch:       getEnvAsInt("INDEX_BULK_BATCH", 200),
			PageSize:        getEnvAsInt("INDEX_PAGE_SIZE", 10),
			ScrollPage:      getEnvAsInt("INDEX_SCROLL_PAGE", 100),
			ScrollKeepAlive: getEnvAsDuration("INDEX_SCROLL_KEEPALIVE", 5*time.Second),
		},
		Blob: BlobConfig{
			Endpoint:  getEnv("BLOB_ENDPOINT", "s3.amazonaws.com"),
			AccessKey: getEnv("BLOB_ACCESS_KEY", ""),
			SecretKey: getEnv("BLOB_SECRET_KEY", ""),
			UseSSL:    getEnvAsBool("BLOB_USE_SSL", true),
			Bucket:    getEnv("BLOB_BUCKET", "faveindex-userdata"),
			Region:    region,
		},
		Source: SourceConfig{
			BaseURL:        getEnv("SOURCE_BASE_URL", "https://api.twitter.com/1.1"),
			ConsumerKey:    getEnv("SOURCE_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("SOURCE_CONSUMER_SECRET", ""),
			PageSize:       getEnvAsInt("SOURCE_PAGE_SIZE", 200),
			HydrateBatch:   getEnvAsInt("SOURCE_HYDRATE_BATCH", 100),
			Timeout:        getEnvAsDuration("SOURCE_TIMEOUT", 30*time.Second),
			ClientCache:    getEnvAsInt("SOURCE_CLIENT_CACHE", 1000),
		},
		Indexing: IndexingConfig{
			PageCooldown:    getEnvAsDuration("INDEX_PAGE_COOLDOWN", 12*time.Second),
			HydrateCooldown: getEnvAsDuration("INDEX_HYDRATE_COOLDOWN", time.Second),
			LockLease:       getEnvAsDuration("INDEX_LOCK_LEASE", time.Hour),
			RunTimeout:      getEnvAsDuration("INDEX_RUN_TIMEOUT", 45*time.Minute),
			BatchRetries:    getEnvAsInt("INDEX_BATCH_RETRIES", 3),
			OnboardRounds:   getEnvAsInt("ONBOARD_ROUNDS", 15),
			ReindexRounds:   getEnvAsInt("REINDEX_ROUNDS", 2),
		},
		Dispatcher: DispatcherConfig{
			Interval:    getEnvAsDuration("DISPATCH_INTERVAL", 12*time.Second),
			Polls:       getEnvAsInt("DISPATCH_POLLS", 3),
			Concurrency: getEnvAsInt("DISPATCH_CONCURRENCY", 8),
		},
		Credentials: CredentialsConfig{
			SymmetricKey: getEnv("SYMMETRIC_KEY", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings that would break the pipeline at runtime
func (c *Config) Validate() error {
	switch c.Queue.Backend {
	case "sqs", "redis":
	default:
		return fmt.Errorf("invalid QUEUE_BACKEND %q: want sqs or redis", c.Queue.Backend)
	}
	if c.Source.HydrateBatch <= 0 || c.Source.HydrateBatch > 100 {
		return fmt.Errorf("SOURCE_HYDRATE_BATCH must be in 1..100, got %d", c.Source.HydrateBatch)
	}
	if c.Index.PageSize <= 0 || c.Index.PageSize > 100 {
		return fmt.Errorf("INDEX_PAGE_SIZE must be in 1..100, got %d", c.Index.PageSize)
	}
	if c.Index.BulkBatch <= 0 {
		return fmt.Errorf("INDEX_BULK_BATCH must be positive, got %d", c.Index.BulkBatch)
	}
	if c.Queue.MaxMessages <= 0 || c.Queue.MaxMessages > 10 {
		return fmt.Errorf("QUEUE_MAX_MESSAGES must be in 1..10, got %d", c.Queue.MaxMessages)
	}
	if c.Indexing.LockLease <= 0 {
		return fmt.Errorf("INDEX_LOCK_LEASE must be positive, got %s", c.Indexing.LockLease)
	}
	if c.Indexing.RunTimeout <= 0 {
		return fmt.Errorf("INDEX_RUN_TIMEOUT must be positive, got %s", c.Indexing.RunTimeout)
	}
	// a run still going when its lease expires can be overtaken by another worker
	if c.Indexing.RunTimeout >= c.Indexing.LockLease {
		return fmt.Errorf("INDEX_RUN_TIMEOUT (%s) must be shorter than INDEX_LOCK_LEASE (%s)",
			c.Indexing.RunTimeout, c.Indexing.LockLease)
	}
	if c.Dispatcher.Concurrency <= 0 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be positive, got %d", c.Dispatcher.Concurrency)
	}
	return nil
}

// PostgresDSN returns the connection string for the user store
func (c *PostgresConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
