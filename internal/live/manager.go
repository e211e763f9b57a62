// Package live serves the conversation over a WebSocket, one connection
// per visitor tab.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Conn is the part of *websocket.Conn the manager needs.
type Conn interface {
	Close(code websocket.StatusCode, reason string) error
}

// SessionManager tracks the open connection of every visitor tab.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]Conn),
	}
}

// GetActive returns the active connection for a visitor and tab session.
func (m *SessionManager) GetActive(visitorID, sessionID string) Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[visitorID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds a connection. A previous connection for the same tab is
// closed.
func (m *SessionManager) Register(visitorID, sessionID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[visitorID]; !exists {
		m.active[visitorID] = make(map[string]Conn)
	}

	if existing, exists := m.active[visitorID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[visitorID][sessionID] = conn
	slog.Info("Live session registered", "visitor_id", visitorID, "session_id", sessionID)
}

// Unregister removes a connection if it is still the current one.
func (m *SessionManager) Unregister(visitorID, sessionID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[visitorID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, visitorID)
			}
			slog.Info("Live session unregistered", "visitor_id", visitorID, "session_id", sessionID)
		}
	}
}

// CloseSession terminates the connection of one tab session. It is called
// when the session expires.
func (m *SessionManager) CloseSession(visitorID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[visitorID]
	if !ok {
		return
	}
	conn, ok := sessions[sessionID]
	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusGoingAway, "session expired")
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(m.active, visitorID)
	}
	slog.Info("Live session closed", "visitor_id", visitorID, "session_id", sessionID)
}

// CloseVisitor terminates every tab of a visitor.
func (m *SessionManager) CloseVisitor(visitorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[visitorID]
	if !ok {
		return
	}
	for sid, conn := range sessions {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		slog.Info("Live session closed", "visitor_id", visitorID, "session_id", sid)
	}
	delete(m.active, visitorID)
}

// Count returns the number of open connections.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}
