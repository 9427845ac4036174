package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/horizon/portal-ledger/internal/config"
	"github.com/horizon/portal-ledger/internal/core"
	"github.com/horizon/portal-ledger/internal/database"
	_ "github.com/horizon/portal-ledger/internal/entities" // Register entity types
	"github.com/horizon/portal-ledger/internal/logging"
	"github.com/horizon/portal-ledger/internal/storage"
	_ "github.com/horizon/portal-ledger/internal/storage/local"
	_ "github.com/horizon/portal-ledger/internal/storage/s3"
	"github.com/horizon/portal-ledger/internal/web"
)

// importSlotsKey holds the cluster-wide import slots in Redis.
const importSlotsKey = "portal-ledger:import-slots"

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(pool); err != nil {
			return err
		}
		if version, dirty, err := database.Version(pool); err == nil {
			logger.Info("schema migrated", "version", version, "dirty", dirty)
		}
	}

	blobs, err := storage.New(&cfg.Storage)
	if err != nil {
		return err
	}

	opts := core.Options{
		MaxFileSize:   cfg.Import.MaxFileSize,
		ImportTimeout: cfg.Import.Timeout,
		Archive:       blobs,
		Limiter:       core.NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		Logger:        logger,
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		opts.Cluster, err = core.NewRedisImportLimiter(rdb, importSlotsKey,
			cfg.Import.MaxConcurrent, cfg.Redis.ImportCapTTL, cfg.Import.MaxWaitTime)
		if err != nil {
			return err
		}
		logger.Info("cluster import cap enabled", "redis", cfg.Redis.Addr)
	}

	store := core.NewPgStore(pool)
	service := core.NewService(store, opts)
	server := web.NewServer(service, cfg)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Export.Enabled {
		if blobs == nil {
			logger.Warn("ledger export enabled without a storage backend; skipping")
		} else {
			exporter := core.NewLedgerExporter(store, blobs, core.ExportConfig{
				Interval:  cfg.Export.Interval,
				BatchSize: cfg.Export.BatchSize,
				Lag:       cfg.Export.Lag,
			}, logger)
			g.Go(func() error { return exporter.Run(gctx) })
		}
	}

	if cfg.Watch.Dir != "" {
		folder := core.NewDropFolder(service, cfg.Watch.Dir, cfg.Watch.SettleDelay, logger)
		g.Go(func() error { return folder.Run(gctx) })
	}

	g.Go(func() error {
		if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}

		// Wait for active imports to commit or roll back
		if status := service.Limiter().Status(); status.Active > 0 {
			logger.Info("waiting for imports to complete", "active", status.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				logger.Warn("imports did not complete in time", "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}
