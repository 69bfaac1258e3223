// Package app assembles the stores and services shared by the API server and
// the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/spec-kit/account-hierarchy/internal/auth"
	"github.com/spec-kit/account-hierarchy/internal/config"
	"github.com/spec-kit/account-hierarchy/internal/events"
	"github.com/spec-kit/account-hierarchy/internal/observability"
	"github.com/spec-kit/account-hierarchy/internal/persistence"
	"github.com/spec-kit/account-hierarchy/internal/repository"
	"github.com/spec-kit/account-hierarchy/internal/repository/memory"
	"github.com/spec-kit/account-hierarchy/internal/service"
)

// Container holds the wired dependencies.
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	Registry     *prometheus.Registry
	Metrics      *observability.Metrics
	Postgres     *persistence.Postgres
	Redis        *persistence.Redis
	Store        repository.Store
	Dispatcher   events.Dispatcher
	Policy       *auth.Policy
	Tokens       *auth.TokenManager
	Auth         *service.AuthService
	Hierarchy    *service.HierarchyService
	SecretKeys   *service.SecretKeyService
	Notification *service.NotificationService
}

// Build connects infrastructure and constructs the services. Without a
// POSTGRES_DSN it runs on the in-memory store.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	c := &Container{
		Config:     cfg,
		Logger:     logger,
		Registry:   prometheus.NewRegistry(),
		Dispatcher: events.NewInMemoryDispatcher(),
		Policy:     auth.NewPolicy(cfg.Hierarchy.MasterEmail),
		Tokens:     auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
	}
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = observability.NewMetrics(c.Registry)

	if cfg.Hierarchy.MasterEmail == "" {
		logger.Warn("MASTER_EMAIL not set; no account is protected as the original master")
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	switch {
	case errors.Is(err, persistence.ErrNoDatabase):
		logger.Warn("POSTGRES_DSN not provided; using in-memory store")
		c.Store = memory.NewStore()
	case err != nil:
		return nil, err
	default:
		c.Postgres = pg
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.Pool, logger); err != nil {
				pg.Close()
				return nil, err
			}
		}
		c.Store = repository.NewPostgresStore(pg.Pool)
	}

	var attempts service.AttemptCounter
	rdb, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	switch {
	case errors.Is(err, persistence.ErrNoRedis):
		logger.Warn("REDIS_ADDR not provided; recovery attempts are not throttled")
	case err != nil:
		c.Close()
		return nil, fmt.Errorf("redis: %w", err)
	default:
		c.Redis = rdb
		attempts = repository.NewRecoveryAttemptRepository(rdb.Client)
	}

	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	c.Auth = service.NewAuthService(service.AuthDependencies{
		Store:        c.Store,
		Hasher:       hasher,
		TokenManager: c.Tokens,
		Logger:       logger,
	})
	c.Hierarchy = service.NewHierarchyService(service.HierarchyDependencies{
		Store:      c.Store,
		Policy:     c.Policy,
		Dispatcher: c.Dispatcher,
		Metrics:    c.Metrics,
		Logger:     logger,
	})
	c.SecretKeys = service.NewSecretKeyService(cfg.Recovery, service.SecretKeyDependencies{
		Store:      c.Store,
		Hasher:     hasher,
		Attempts:   attempts,
		Dispatcher: c.Dispatcher,
		Metrics:    c.Metrics,
		Logger:     logger,
	})
	c.Notification = service.NewNotificationService(c.Dispatcher, logger, cfg.Notification)
	c.Notification.RegisterHandlers()

	return c, nil
}

// BootstrapMaster creates the protected account when credentials are configured.
func (c *Container) BootstrapMaster(ctx context.Context) error {
	h := c.Config.Hierarchy
	if h.MasterEmail == "" || h.MasterPassword == "" {
		return nil
	}
	_, err := c.Auth.BootstrapMaster(ctx, h.MasterUsername, h.MasterEmail, h.MasterPassword)
	return err
}

// Close releases infrastructure connections.
func (c *Container) Close() {
	c.Redis.Close()
	c.Postgres.Close()
}
