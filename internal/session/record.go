package session

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ashureev/tripmate/internal/domain"
)

// Record serializes the session for storage.
func (s *Session) Record() (*domain.SessionRecord, error) {
	messages := s.messages
	if messages == nil {
		messages = []domain.Message{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}

	rec := &domain.SessionRecord{
		VisitorID:    s.visitorID,
		SessionID:    s.id,
		MessagesJSON: string(messagesJSON),
		TriggerCount: s.triggerCount,
		LastError:    s.lastError,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}

	if s.profile != nil {
		profileJSON, err := json.Marshal(s.profile)
		if err != nil {
			return nil, fmt.Errorf("marshal profile: %w", err)
		}
		str := string(profileJSON)
		rec.ProfileJSON = &str
	}

	if s.pending != nil {
		pendingJSON, err := json.Marshal(s.pending)
		if err != nil {
			return nil, fmt.Errorf("marshal pending command: %w", err)
		}
		rec.PendingJSON = string(pendingJSON)
	}

	return rec, nil
}

// FromRecord restores a session. Transcripts written before the command
// queue existed may carry system_trigger entries; they are removed and
// collapse into a single pending command.
func FromRecord(rec *domain.SessionRecord) (*Session, error) {
	s := &Session{
		visitorID:    rec.VisitorID,
		id:           rec.SessionID,
		triggerCount: rec.TriggerCount,
		lastError:    rec.LastError,
		createdAt:    rec.CreatedAt,
		updatedAt:    rec.UpdatedAt,
	}

	if rec.ProfileJSON != nil && *rec.ProfileJSON != "" {
		var p domain.Profile
		if err := json.Unmarshal([]byte(*rec.ProfileJSON), &p); err != nil {
			return nil, fmt.Errorf("unmarshal profile: %w", err)
		}
		s.profile = &p
	}

	if rec.MessagesJSON != "" {
		if err := json.Unmarshal([]byte(rec.MessagesJSON), &s.messages); err != nil {
			return nil, fmt.Errorf("unmarshal messages: %w", err)
		}
	}

	if rec.PendingJSON != "" {
		var cmd Command
		if err := json.Unmarshal([]byte(rec.PendingJSON), &cmd); err != nil {
			return nil, fmt.Errorf("unmarshal pending command: %w", err)
		}
		s.pending = &cmd
	}

	if stripped := s.stripTriggers(); stripped > 0 {
		slog.Warn("Removed legacy trigger entries from transcript",
			"session_key", rec.Key(),
			"count", stripped,
		)
		if s.pending == nil && s.profile != nil {
			// Re-queue without counting it as a new request.
			s.triggerCount--
			s.requestRecommendation()
		}
	}

	return s, nil
}
