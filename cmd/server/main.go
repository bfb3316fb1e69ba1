package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/fieldserve/importer/internal/config"
	_ "github.com/fieldserve/importer/internal/contracts" // register entity contracts
	"github.com/fieldserve/importer/internal/filestore"
	"github.com/fieldserve/importer/internal/httpapi"
	"github.com/fieldserve/importer/internal/importer"
	"github.com/fieldserve/importer/internal/logging"
	"github.com/fieldserve/importer/internal/store"
)

func main() {
	// Load .env if present; real environment variables win in production.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"batch_size", cfg.Import.BatchSize,
		"max_concurrent_commits", cfg.Import.MaxConcurrentCommits,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	files, err := filestore.NewLocal(cfg.Import.SpoolDir)
	if err != nil {
		slog.Error("failed to prepare spool directory", "error", err)
		os.Exit(1)
	}

	service := importer.NewService(
		store.NewJobStore(pool),
		store.NewRecordStore(pool),
		files,
		importer.ServiceConfig{
			Commit: importer.CommitConfig{
				BatchSize:       cfg.Import.BatchSize,
				MaxAttempts:     cfg.Import.MaxAttempts,
				RetryBackoff:    cfg.Import.RetryBackoff,
				MaxStoredErrors: cfg.Import.MaxStoredErrors,
			},
			MaxConcurrentCommits: cfg.Import.MaxConcurrentCommits,
			CommitSlotWait:       cfg.Import.CommitSlotWait,
		},
		slog.Default(),
	)

	slog.Info("entity contracts registered", "count", len(importer.Contracts()))

	// Jobs interrupted mid-commit by the previous process pick up from
	// their checkpoint.
	if err := service.ResumeInterrupted(ctx); err != nil {
		slog.Error("failed to resume interrupted imports", "error", err)
		os.Exit(1)
	}

	server := httpapi.NewServer(service, cfg)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if active := service.ActiveCommits(); active > 0 {
			slog.Info("waiting for running commits", "active", active)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("commits did not drain in time, they will resume on restart", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
