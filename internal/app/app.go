// Package app wires configuration into the stores, clients and services
// shared by the server, worker and admin binaries.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/faveindex/internal/adapter"
	"github.com/faveindex/internal/config"
	"github.com/faveindex/internal/credentials"
	"github.com/faveindex/internal/job"
	"github.com/faveindex/internal/logging"
	"github.com/faveindex/internal/service"
	"github.com/faveindex/internal/storage"
	"github.com/faveindex/internal/textindex"
)

// App holds the long-lived dependencies of a process
type App struct {
	Config     *config.Config
	Postgres   *storage.PostgresDB
	ClickHouse *storage.ClickHouseDB // nil when the run ledger is disabled
	Redis      *redis.Client         // nil unless the queue backend is redis
	Users      *storage.UserRepository
	Watermarks *storage.WatermarkStore
	Index      *textindex.Client
	Queue      job.Queue
	Ledger     storage.RunLedger
	Sources    *adapter.ClientFactory
	Cipher     *credentials.Cipher
}

// InitLogging configures the global logger from cfg
func InitLogging(cfg *config.Config) *logging.Logger {
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")
	return logger
}

// New connects every backing service. On error, whatever was opened is closed.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger := logging.GetGlobalLogger()

	a.Cipher, err = credentials.NewCipher(cfg.Credentials.SymmetricKey)
	if err != nil {
		return nil, fmt.Errorf("invalid SYMMETRIC_KEY: %w", err)
	}

	a.Postgres, err = storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	a.Users = storage.NewUserRepository(a.Postgres)

	var awsCfg *aws.Config
	if cfg.Queue.Backend == "sqs" || cfg.Index.Signing {
		loaded, err := loadAWSConfig(ctx, &cfg.AWS)
		if err != nil {
			return nil, err
		}
		awsCfg = &loaded
	}

	transport := http.DefaultTransport
	if cfg.Index.Signing {
		transport = textindex.NewSigningTransport(http.DefaultTransport, awsCfg.Credentials, cfg.AWS.Region)
	}
	a.Index, err = textindex.NewClient(textindex.Config{
		Endpoint:        cfg.Index.Endpoint,
		Prefix:          cfg.Index.Prefix,
		MaxBatch:        cfg.Index.BulkBatch,
		PageSize:        cfg.Index.PageSize,
		ScrollPage:      cfg.Index.ScrollPage,
		ScrollKeepAlive: cfg.Index.ScrollKeepAlive,
	}, transport)
	if err != nil {
		return nil, err
	}

	switch cfg.Queue.Backend {
	case "sqs":
		a.Queue = job.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.Queue.SQSURL, cfg.Queue.MaxMessages, cfg.Queue.VisibilityTimeout)
	case "redis":
		a.Redis, err = storage.NewRedisClient(&cfg.Database.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.Queue = job.NewRedisQueue(a.Redis, cfg.Queue.Name, cfg.Queue.MaxMessages, cfg.Queue.VisibilityTimeout)
	default:
		return nil, fmt.Errorf("unknown queue backend: %s", cfg.Queue.Backend)
	}

	blobs, err := storage.NewMinioBlobStore(&cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}
	if err := blobs.EnsureBucket(ctx, cfg.Blob.Region); err != nil {
		return nil, err
	}
	a.Watermarks = storage.NewWatermarkStore(blobs)

	a.Sources, err = adapter.NewClientFactory(adapter.ClientConfig{
		BaseURL:         cfg.Source.BaseURL,
		PageSize:        cfg.Source.PageSize,
		HydrateBatch:    cfg.Source.HydrateBatch,
		HydrateCooldown: cfg.Indexing.HydrateCooldown,
		Timeout:         cfg.Source.Timeout,
	}, cfg.Source.ConsumerKey, cfg.Source.ConsumerSecret, a.Cipher, cfg.Source.ClientCache)
	if err != nil {
		return nil, err
	}

	a.Ledger = storage.NopRunLedger{}
	if cfg.Database.ClickHouse.Enabled {
		a.ClickHouse, err = storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		a.Ledger = storage.NewClickHouseRunLedger(a.ClickHouse)
	}

	logger.WithFields(map[string]interface{}{
		"queue":  cfg.Queue.Backend,
		"index":  cfg.Index.Endpoint,
		"bucket": cfg.Blob.Bucket,
		"ledger": cfg.Database.ClickHouse.Enabled,
	}).Info("Dependencies initialized")

	return a, nil
}

func loadAWSConfig(ctx context.Context, cfg *config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// IndexingService builds the indexing engine
func (a *App) IndexingService() *service.IndexingService {
	c := a.Config.Indexing
	return service.NewIndexingService(a.Users, a.Watermarks, a.Index, a.Sources, a.Ledger, service.IndexingConfig{
		PageCooldown: c.PageCooldown,
		LockLease:    c.LockLease,
		RunTimeout:   c.RunTimeout,
		BulkBatch:    a.Config.Index.BulkBatch,
		BatchRetries: c.BatchRetries,
	})
}

// AccountService builds the account service
func (a *App) AccountService() *service.AccountService {
	return service.NewAccountService(a.Users, a.Watermarks, a.Index, a.Queue, a.Cipher, a.Ledger, a.Sources, service.AccountConfig{
		OnboardRounds: a.Config.Indexing.OnboardRounds,
		ReindexRounds: a.Config.Indexing.ReindexRounds,
	})
}

// SearchService builds the search service
func (a *App) SearchService() *service.SearchService {
	return service.NewSearchService(a.Users, a.Index, a.Sources)
}

// Close releases every open connection
func (a *App) Close() {
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			logging.WithError(err).Warn("Error closing ClickHouse connection")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logging.WithError(err).Warn("Error closing Redis connection")
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}
