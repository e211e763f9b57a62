package shared

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy bounds retries of SQLite writes that hit lock contention.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy backs off 50ms, 100ms, 200ms.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: 50 * time.Millisecond}

// RetryOnConflict runs fn until it succeeds, returns a non-conflict error,
// or the policy is exhausted. Backoff doubles after every conflict.
func RetryOnConflict(ctx context.Context, policy RetryPolicy, op string, fn func(context.Context) error) error {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = 1
	}

	var err error
	for i := 0; i < policy.MaxRetries; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsSQLiteConflictError(err) || i == policy.MaxRetries-1 {
			return err
		}

		delay := policy.BaseDelay * time.Duration(1<<i)
		slog.Debug("Database locked, retrying",
			"op", op,
			"attempt", i+1,
			"delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
