// Package retention removes devices that have been idle for too long.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/amumu-chat/amumu/internal/store"
)

// Sweep deletes devices idle for longer than ttl, calls onPurge (if set) for
// each of them and returns how many went.
func Sweep(ctx context.Context, repo store.Repository, ttl time.Duration, onPurge func(deviceID string)) int {
	deleted, err := repo.DeleteIdleDevices(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention sweep interrupted", "error", err)
			return 0
		}
		slog.Error("Retention worker failed to delete idle devices", "error", err)
		return 0
	}
	if len(deleted) > 0 {
		slog.Info("Retention worker deleted idle devices", "count", len(deleted), "ttl", ttl)
	}
	if onPurge != nil {
		for _, id := range deleted {
			onPurge(id)
		}
	}
	return len(deleted)
}

// StartWorker runs a background goroutine that sweeps every interval until
// ctx is done. A ttl of zero disables the worker. onPurge receives every
// deleted device, so open connections can be dropped with it.
func StartWorker(ctx context.Context, repo store.Repository, ttl, interval time.Duration, onPurge func(deviceID string)) {
	if ttl <= 0 {
		slog.Info("Retention worker disabled")
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "ttl", ttl)

		Sweep(ctx, repo, ttl, onPurge)
		for {
			select {
			case <-ticker.C:
				Sweep(ctx, repo, ttl, onPurge)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
