package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"career-docgen/pkg/config"
	"career-docgen/pkg/database"
	"career-docgen/pkg/observability"
	"career-docgen/pkg/result"
)

// The sweeper is the reconciliation loop the worker cannot provide for
// itself: it fails jobs abandoned in PROCESSING (crashed worker, message
// dead-lettered before the final status write) and purges job rows and
// result blobs past their windows.
func main() {
	logger := observability.NewLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	resultStore := result.NewStore(dbClient.Pool(), cfg.ResultRetention)

	slog.Info("sweeper started", "interval", cfg.SweepInterval, "processing_ceiling", cfg.ProcessingCeiling)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return
		case <-ticker.C:
			sweep(ctx, dbClient, resultStore, cfg.ProcessingCeiling, logger)
		}
	}
}

func sweep(ctx context.Context, db *database.Client, results *result.Store, ceiling time.Duration, logger *slog.Logger) {
	swept, err := db.FailStuckProcessing(ctx, ceiling)
	if err != nil {
		logger.Error("failed to sweep stuck jobs", "error", err)
	} else if len(swept) > 0 {
		logger.Warn("failed stuck PROCESSING jobs", "count", len(swept), "job_ids", swept)
		observability.StuckJobsSwept.Add(float64(len(swept)))
	}

	if n, err := db.DeleteExpired(ctx); err != nil {
		logger.Error("failed to purge expired jobs", "error", err)
	} else if n > 0 {
		logger.Info("purged expired job records", "count", n)
	}

	if n, err := results.DeleteExpired(ctx); err != nil {
		logger.Error("failed to purge expired results", "error", err)
	} else if n > 0 {
		logger.Info("purged expired results", "count", n)
	}
}
