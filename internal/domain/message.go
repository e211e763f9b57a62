package domain

import "time"

// Role tags who produced a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystemTrigger marks a legacy "generate now" sentinel. New
	// transcripts never contain it; loaders strip it.
	RoleSystemTrigger Role = "system_trigger"
)

// Message is one transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// IsTrigger reports whether the entry is a control sentinel rather than content.
func (m Message) IsTrigger() bool {
	return m.Role == RoleSystemTrigger
}
