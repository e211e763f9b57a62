// Package retention removes idle sessions and visitors.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/tripmate/internal/store"
)

// CleanupCallback is called for every session removed by the TTL worker,
// before the row is deleted.
type CleanupCallback func(visitorID, sessionID string)

// Policy configures the worker.
type Policy struct {
	SessionTTL time.Duration
	VisitorTTL time.Duration
	Interval   time.Duration
}

// StartTTLWorker runs a background goroutine that periodically sweeps
// sessions untouched for longer than the session TTL and visitors with no
// sessions left.
func StartTTLWorker(ctx context.Context, repo store.Repository, policy Policy, onCleanup CleanupCallback) {
	ticker := time.NewTicker(policy.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started",
			"interval", policy.Interval,
			"session_ttl", policy.SessionTTL,
			"visitor_ttl", policy.VisitorTTL)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, repo, policy, onCleanup)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one cleanup pass and reports how many sessions were removed.
func Sweep(ctx context.Context, repo store.Repository, policy Policy, onCleanup CleanupCallback) int {
	expired, err := repo.GetExpiredSessions(ctx, policy.SessionTTL)
	if err != nil {
		slog.Error("TTL worker failed to get expired sessions", "error", err)
		return 0
	}

	removed := 0
	if len(expired) > 0 {
		slog.Info("TTL worker found expired sessions", "count", len(expired))
	}
	for _, rec := range expired {
		if onCleanup != nil {
			onCleanup(rec.VisitorID, rec.SessionID)
		}
		if err := repo.DeleteSession(ctx, rec.VisitorID, rec.SessionID); err != nil {
			if ctx.Err() != nil {
				slog.Debug("TTL worker: context canceled, cleanup may be incomplete", "error", err)
				return removed
			}
			slog.Warn("TTL worker failed to delete session",
				"error", err,
				"visitor_id", rec.VisitorID,
				"session_id", rec.SessionID)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("TTL worker cleanup completed", "cleaned", removed)
	}

	if policy.VisitorTTL > 0 {
		if deleted, err := repo.DeleteIdleVisitors(ctx, policy.VisitorTTL); err != nil {
			slog.Error("TTL worker failed to delete idle visitors", "error", err)
		} else if deleted > 0 {
			slog.Info("TTL worker deleted idle visitors", "count", deleted)
		}
	}
	return removed
}
