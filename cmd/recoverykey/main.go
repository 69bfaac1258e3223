// Command recoverykey issues a recovery key for the protected master account
// and prints it once.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/account-hierarchy/internal/app"
	"github.com/spec-kit/account-hierarchy/internal/config"
	"github.com/spec-kit/account-hierarchy/internal/observability"
	"github.com/spec-kit/account-hierarchy/internal/repository"
)

func main() {
	email := flag.String("email", "", "master account email (defaults to MASTER_EMAIL)")
	status := flag.Bool("status", false, "only report whether a valid key exists")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.Logger.Level = "warn"

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger, *email, *status); err != nil {
		fmt.Fprintln(os.Stderr, "recoverykey:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, email string, statusOnly bool) error {
	if email == "" {
		email = cfg.Hierarchy.MasterEmail
	}
	if email == "" {
		return errors.New("no master email: pass -email or set MASTER_EMAIL")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("POSTGRES_DSN is required; an in-memory key would be lost on exit")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	user, err := container.Store.Users().GetByUsernameOrEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("no account with email %s", email)
		}
		return err
	}

	if statusOnly {
		valid, err := container.SecretKeys.HasValidSecretKey(ctx, user.ID)
		if err != nil {
			return err
		}
		fmt.Printf("valid recovery key: %t\n", valid)
		return nil
	}

	key, expiresAt, err := container.SecretKeys.IssueSecretKey(ctx, user.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Recovery key for %s (shown once, expires %s):\n\n    %s\n\n", email, expiresAt.UTC().Format(time.RFC3339), key)
	return nil
}
