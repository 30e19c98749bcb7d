package container

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lyzr/convertd/cmd/convertd/converter"
	"github.com/lyzr/convertd/cmd/convertd/repository"
	"github.com/lyzr/convertd/cmd/convertd/service"
	"github.com/lyzr/convertd/common/blob"
	"github.com/lyzr/convertd/common/config"
	"github.com/lyzr/convertd/common/db"
	"github.com/lyzr/convertd/common/logger"
	rediscommon "github.com/lyzr/convertd/common/redis"
	"github.com/lyzr/convertd/common/sessionstore"
)

// Container holds all initialized services and stores (singleton pattern)
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	// Infrastructure (nil when the configured backend does not need them)
	Redis    *rediscommon.Client
	RedisRaw *goredis.Client
	DB       *db.DB

	// Stores
	Sessions sessionstore.Store
	Blobs    blob.Store

	// Repositories
	AuditRepo *repository.AuditRepository

	// Services
	Registry  *converter.Registry
	Lifecycle *service.Lifecycle
	Executor  *service.Executor
	Reaper    *service.Reaper
	Watchdog  *service.Watchdog
}

// NewContainer initializes all services and stores once
func NewContainer(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: log}

	if err := c.setupSessionStore(ctx, cfg, log); err != nil {
		return nil, err
	}
	if err := c.setupBlobStore(ctx, cfg, log); err != nil {
		return nil, err
	}
	if err := c.setupAudit(ctx, cfg, log); err != nil {
		return nil, err
	}

	c.Registry = converter.Default(log)
	c.Lifecycle = service.NewLifecycle(c.Sessions, c.Blobs, c.Registry, cfg.Processing, log)

	var audit service.Auditor
	if c.AuditRepo != nil {
		audit = c.AuditRepo
	}
	c.Executor = service.NewExecutor(c.Sessions, c.Blobs, c.Registry, cfg.Processing, log, audit)
	c.Reaper = service.NewReaper(c.Sessions, c.Blobs, cfg.Processing.ReapInterval, log)
	c.Watchdog = service.NewWatchdog(c.Sessions, cfg.Processing.WatchdogInterval, cfg.Processing.WatchdogGrace, log)

	return c, nil
}

func (c *Container) setupSessionStore(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	switch cfg.Session.Backend {
	case "memory":
		c.Sessions = sessionstore.NewMemoryStore()
		return nil
	case "redis":
		raw := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		client := rediscommon.NewClient(raw, log)
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.RedisRaw = raw
		c.Redis = client
		c.Sessions = sessionstore.NewRedisStore(client, cfg.Session.ReapGrace, log)
		return nil
	default:
		return fmt.Errorf("unknown session backend: %s", cfg.Session.Backend)
	}
}

func (c *Container) setupBlobStore(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	switch cfg.Blob.Backend {
	case "disk":
		store, err := blob.NewDiskStore(cfg.Blob.Dir, log)
		if err != nil {
			return fmt.Errorf("failed to create disk blob store: %w", err)
		}
		c.Blobs = store
		return nil
	case "s3":
		store, err := blob.NewS3Store(ctx, cfg.Blob, log)
		if err != nil {
			return fmt.Errorf("failed to create s3 blob store: %w", err)
		}
		c.Blobs = store
		return nil
	default:
		return fmt.Errorf("unknown blob backend: %s", cfg.Blob.Backend)
	}
}

// setupAudit connects Postgres and prepares the audit trail. Auditing is
// optional; when disabled the lifecycle runs without it.
func (c *Container) setupAudit(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if !cfg.Database.Enabled {
		return nil
	}

	database, err := db.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}

	auditRepo := repository.NewAuditRepository(database)
	if err := auditRepo.EnsureSchema(ctx); err != nil {
		database.Close()
		return fmt.Errorf("failed to prepare audit schema: %w", err)
	}

	c.DB = database
	c.AuditRepo = auditRepo
	return nil
}

// StartBackground launches the worker pool, reaper and watchdog. They run
// until ctx is cancelled.
func (c *Container) StartBackground(ctx context.Context) {
	c.Executor.Start(ctx)
	go c.Reaper.Start(ctx)
	go c.Watchdog.Start(ctx)
}

// Shutdown waits for workers to drain and closes connections
func (c *Container) Shutdown() {
	c.Executor.Wait()
	if c.RedisRaw != nil {
		if err := c.RedisRaw.Close(); err != nil {
			c.Logger.Warn("failed to close redis client", "error", err)
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
