package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/tripmate/internal/domain"
	"github.com/ashureev/tripmate/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes session writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a session is being written.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS visitors (
		visitor_id TEXT PRIMARY KEY,
		nickname TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_visitors_last_seen ON visitors(last_seen_at);

	CREATE TABLE IF NOT EXISTS travel_sessions (
		visitor_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		profile_json TEXT,
		messages_json TEXT NOT NULL DEFAULT '[]',
		pending_json TEXT NOT NULL DEFAULT '',
		trigger_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (visitor_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_travel_sessions_updated ON travel_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetVisitor retrieves a visitor by ID.
func (s *SQLiteStore) GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error) {
	query := `
		SELECT visitor_id, nickname, last_seen_at, created_at, updated_at
		FROM visitors WHERE visitor_id = ?`

	var v domain.Visitor
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, visitorID).Scan(
		&v.VisitorID, &v.Nickname, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan visitor row: %w", err)
	}

	v.LastSeenAt = time.Unix(lastSeen, 0)
	v.CreatedAt = time.Unix(createdAt, 0)
	v.UpdatedAt = time.Unix(updatedAt, 0)
	return &v, nil
}

// UpsertVisitor creates or updates a visitor record.
func (s *SQLiteStore) UpsertVisitor(ctx context.Context, v *domain.Visitor) error {
	query := `
	INSERT INTO visitors (visitor_id, nickname, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(visitor_id) DO UPDATE SET
		nickname = excluded.nickname,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		v.VisitorID, v.Nickname, v.LastSeenAt.Unix(),
		v.CreatedAt.Unix(), v.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert visitor: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a visitor.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error {
	query := `UPDATE visitors SET last_seen_at = ?, updated_at = ? WHERE visitor_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), visitorID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "visitor_id", visitorID)
	}
	return nil
}

// GetSession retrieves session state for one tab.
func (s *SQLiteStore) GetSession(ctx context.Context, visitorID, sessionID string) (*domain.SessionRecord, error) {
	query := `
		SELECT visitor_id, session_id, profile_json, messages_json, pending_json,
		       trigger_count, last_error, created_at, updated_at
		FROM travel_sessions WHERE visitor_id = ? AND session_id = ?`

	var rec domain.SessionRecord
	var profileJSON sql.NullString
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, visitorID, sessionID).Scan(
		&rec.VisitorID, &rec.SessionID, &profileJSON, &rec.MessagesJSON, &rec.PendingJSON,
		&rec.TriggerCount, &rec.LastError, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if profileJSON.Valid {
		rec.ProfileJSON = &profileJSON.String
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

// UpsertSession creates or replaces session state. A nil profile clears
// the stored profile.
func (s *SQLiteStore) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	query := `
		INSERT INTO travel_sessions (
			visitor_id, session_id, profile_json, messages_json, pending_json,
			trigger_count, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(visitor_id, session_id) DO UPDATE SET
			profile_json = excluded.profile_json,
			messages_json = excluded.messages_json,
			pending_json = excluded.pending_json,
			trigger_count = excluded.trigger_count,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`

	var profileJSON interface{}
	if rec.ProfileJSON != nil {
		profileJSON = *rec.ProfileJSON
	}
	messagesJSON := rec.MessagesJSON
	if messagesJSON == "" {
		messagesJSON = "[]"
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "upsert_session", func(ctx context.Context) error {
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()

		_, err := s.db.ExecContext(ctx, query,
			rec.VisitorID, rec.SessionID, profileJSON, messagesJSON, rec.PendingJSON,
			rec.TriggerCount, rec.LastError, createdAt.Unix(), updatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// DeleteSession removes session state, retrying on lock contention.
func (s *SQLiteStore) DeleteSession(ctx context.Context, visitorID, sessionID string) error {
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "delete_session", func(ctx context.Context) error {
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()

		query := `DELETE FROM travel_sessions WHERE visitor_id = ? AND session_id = ?`
		if _, err := s.db.ExecContext(ctx, query, visitorID, sessionID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", domain.SessionKey(visitorID, sessionID), err)
	}
	return nil
}

// GetExpiredSessions lists sessions whose last update is older than ttl.
func (s *SQLiteStore) GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.SessionRecord, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT visitor_id, session_id, created_at, updated_at
		FROM travel_sessions WHERE updated_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var records []*domain.SessionRecord
	for rows.Next() {
		var rec domain.SessionRecord
		var createdAt, updatedAt int64
		if err := rows.Scan(&rec.VisitorID, &rec.SessionID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0)
		rec.UpdatedAt = time.Unix(updatedAt, 0)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return records, nil
}

// DeleteIdleVisitors removes visitors that have no sessions left and have
// not been seen within ttl.
func (s *SQLiteStore) DeleteIdleVisitors(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		DELETE FROM visitors
		WHERE last_seen_at < ?
		  AND NOT EXISTS (SELECT 1 FROM travel_sessions t WHERE t.visitor_id = visitors.visitor_id)`

	result, err := s.db.ExecContext(ctx, query, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete idle visitors: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
