package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/scenegen/internal/store"
)

// WorkspaceSweeper removes render leftovers older than maxAge.
type WorkspaceSweeper interface {
	Sweep(maxAge time.Duration, now time.Time) (int, error)
}

// RecordPruner deletes finished audit records older than a cutoff.
type RecordPruner interface {
	PruneGenerations(ctx context.Context, before time.Time) (int64, error)
}

// SweepConfig controls the background sweeper.
type SweepConfig struct {
	Interval        time.Duration
	StaleAfter      time.Duration
	RecordRetention time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
}

// StartSweeper runs a background goroutine that periodically removes stale
// workspace files and expired audit records. repo may be nil.
func StartSweeper(ctx context.Context, ws WorkspaceSweeper, repo RecordPruner, cfg SweepConfig) {
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Sweeper started", "interval", cfg.Interval, "stale_after", cfg.StaleAfter, "retention", cfg.RecordRetention)

		for {
			select {
			case <-ticker.C:
				sweepOnce(ctx, ws, repo, cfg, time.Now())
			case <-ctx.Done():
				slog.Info("Sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepOnce(ctx context.Context, ws WorkspaceSweeper, repo RecordPruner, cfg SweepConfig, now time.Time) {
	if ws != nil {
		if _, err := ws.Sweep(cfg.StaleAfter, now); err != nil {
			slog.Error("Sweeper failed to clean workspace", "error", err)
		}
	}

	if repo == nil || cfg.RecordRetention <= 0 {
		return
	}
	deleted, err := pruneWithRetry(ctx, repo, now.Add(-cfg.RecordRetention), cfg.MaxRetries, cfg.RetryBaseDelay)
	if err != nil {
		slog.Error("Sweeper failed to prune generation records", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Sweeper pruned generation records", "count", deleted)
	}
}

// pruneWithRetry retries on SQLITE_BUSY with exponential backoff, since the
// audit recorder may be writing concurrently.
func pruneWithRetry(ctx context.Context, repo RecordPruner, before time.Time, maxRetries int, baseDelay time.Duration) (int64, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		deleted, err := repo.PruneGenerations(ctx, before)
		if err == nil {
			return deleted, nil
		}
		lastErr = err
		if !store.IsConflict(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("Sweeper: database locked during prune, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}
	return 0, fmt.Errorf("prune generations after retries: %w", lastErr)
}
