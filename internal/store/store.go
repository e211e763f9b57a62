// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/tripmate/internal/domain"
)

// Repository defines the interface for persisting visitors and their
// conversation sessions.
type Repository interface {
	// GetVisitor retrieves a visitor by ID. It returns nil, nil when absent.
	GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error)

	// UpsertVisitor creates or updates a visitor record.
	UpsertVisitor(ctx context.Context, visitor *domain.Visitor) error

	// UpdateLastSeen updates the last_seen_at timestamp for a visitor.
	UpdateLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error

	// GetSession retrieves one tab session. It returns nil, nil when absent.
	GetSession(ctx context.Context, visitorID, sessionID string) (*domain.SessionRecord, error)

	// UpsertSession creates or replaces session state.
	UpsertSession(ctx context.Context, rec *domain.SessionRecord) error

	// DeleteSession removes session state.
	DeleteSession(ctx context.Context, visitorID, sessionID string) error

	// GetExpiredSessions lists sessions not updated within ttl. Only the
	// identifying fields and timestamps are populated.
	GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.SessionRecord, error)

	// DeleteIdleVisitors removes visitors unseen within ttl that own no sessions.
	DeleteIdleVisitors(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
