package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/kalstad/migrate/internal/config"
	"github.com/kalstad/migrate/internal/core"
	"github.com/kalstad/migrate/internal/entities"
	"github.com/kalstad/migrate/internal/fileparse"
	"github.com/kalstad/migrate/internal/logging"
	"github.com/kalstad/migrate/internal/store"
	"github.com/kalstad/migrate/internal/target"
	"github.com/kalstad/migrate/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
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
		"max_concurrent_runs", cfg.Import.MaxConcurrentRuns,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	fileparse.MaxFileSize = cfg.Import.MaxFileSize

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

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
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	// Build the entity catalog; a cyclic dependency declaration is fatal here.
	cat, err := entities.Default()
	if err != nil {
		slog.Error("failed to build entity catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("entity catalog ready",
		"entities", cat.Count(),
		"migration_order", cat.MigrationOrder(),
	)

	service := core.NewService(cat, store.NewPostgres(pool), target.NewPostgres(pool), core.Options{
		MaxConcurrentRuns: cfg.Import.MaxConcurrentRuns,
		MaxRunWait:        cfg.Import.MaxRunWait,
		FlushEvery:        cfg.Import.FlushEvery,
	})

	// Jobs left running by a previous process are failed, never resumed.
	if recovered, err := service.RecoverInterrupted(ctx); err != nil {
		slog.Error("failed to recover interrupted jobs", "error", err)
		os.Exit(1)
	} else if recovered > 0 {
		slog.Warn("marked interrupted jobs as failed", "count", recovered)
	}

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active executions to complete (with timeout)
		if status := service.RunnerStatus(); status.Active > 0 {
			slog.Info("waiting for executions to complete", "active", status.Active)
			if err := service.WaitForRuns(shutdownCtx); err != nil {
				slog.Warn("executions did not complete in time", "error", err)
			} else {
				slog.Info("all executions completed")
			}
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
