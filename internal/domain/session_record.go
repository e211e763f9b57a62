package domain

import (
	"time"
)

// SessionRecord is the persisted form of a conversation session.
type SessionRecord struct {
	VisitorID    string
	SessionID    string
	ProfileJSON  *string
	MessagesJSON string
	PendingJSON  string
	TriggerCount int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Key returns the composite identifier used by caches and log files.
func (r *SessionRecord) Key() string {
	return SessionKey(r.VisitorID, r.SessionID)
}

// SessionKey joins a visitor ID and a tab session ID.
func SessionKey(visitorID, sessionID string) string {
	return visitorID + ":" + sessionID
}
