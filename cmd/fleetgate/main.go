// Command fleetgate serves the fleet dashboard aggregation gateway.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reportmate/fleetgate/api"
	"github.com/reportmate/fleetgate/auth"
	"github.com/reportmate/fleetgate/cache/memory"
	"github.com/reportmate/fleetgate/config"
	"github.com/reportmate/fleetgate/db/sql/postgres"
	"github.com/reportmate/fleetgate/httpx"
	"github.com/reportmate/fleetgate/metrics"
	"github.com/reportmate/fleetgate/upstream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("fleetgate exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secrets, err := auth.NewSecretVerifier(cfg.Auth.SecretHash)
	if err != nil {
		return err
	}

	store := memory.NewStore(memory.WithSweepInterval(time.Minute))
	defer store.Close()
	sessions := auth.NewSessionStore(store, auth.SessionStoreOptions{DefaultTTL: cfg.Auth.SessionTTL})

	client := upstream.NewClient(
		upstream.WithBaseURL(cfg.Upstream.BaseURL),
		upstream.WithSecret(cfg.Upstream.Secret),
		upstream.WithSecretHeader(cfg.Upstream.SecretHeader),
		upstream.WithTimeout(cfg.Upstream.Timeout),
	)

	var events api.EventSource
	if cfg.Postgres.DSN != "" {
		db, err := postgres.Open(
			postgres.WithDSN(cfg.Postgres.DSN),
			postgres.WithPoolLimits(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns),
			postgres.WithConnMaxLifetime(cfg.Postgres.ConnLifetime),
		)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.ApplyMigrations(ctx, db, postgres.EventsMigration); err != nil {
			return err
		}
		events = postgres.NewEventRepository(db)
		logger.Info("events endpoint backed by postgres")
	}

	svc, err := api.NewService(api.ServiceConfig{
		Config:   cfg,
		Upstream: client,
		Secrets:  secrets,
		Sessions: sessions,
		Metrics:  metrics.New(),
		Events:   events,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	server := httpx.NewServer(httpx.WithAddress(cfg.Listen))
	var regErr error
	server.RegisterRoutes(func(a *httpx.App) {
		regErr = svc.Register(a)
	})
	if regErr != nil {
		return regErr
	}

	logger.Info("fleetgate listening", "address", cfg.Listen, "upstream", cfg.Upstream.BaseURL)
	return server.Start(ctx, httpx.WithShutdownTimeout(10*time.Second))
}
