package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/account-hierarchy/internal/api/http"
	"github.com/spec-kit/account-hierarchy/internal/api/http/handlers"
	"github.com/spec-kit/account-hierarchy/internal/app"
	"github.com/spec-kit/account-hierarchy/internal/auth"
	"github.com/spec-kit/account-hierarchy/internal/config"
	"github.com/spec-kit/account-hierarchy/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build application", zap.Error(err))
	}
	defer container.Close()

	if err := container.BootstrapMaster(ctx); err != nil {
		logger.Fatal("failed to bootstrap master account", zap.Error(err))
	}

	authMiddleware := auth.NewAuthMiddleware(container.Tokens, container.Store.Users())
	validator := handlers.NewValidator()

	deps := map[string]handlers.Pinger{}
	if container.Postgres != nil {
		deps["postgres"] = container.Postgres
	}
	if container.Redis != nil {
		deps["redis"] = container.Redis
	}

	fiberApp := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(fiberApp, logger, container.Metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(fiberApp, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps),
		Auth:           handlers.NewAuthHandler(container.Auth, validator),
		AdminUsers:     handlers.NewAdminUsersHandler(container.Hierarchy, validator),
		RecoveryKeys:   handlers.NewRecoveryKeyHandler(container.SecretKeys, validator),
		AuthMiddleware: authMiddleware,
		Gatherer:       container.Registry,
	})

	go func() {
		if err := fiberApp.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = fiberApp.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
