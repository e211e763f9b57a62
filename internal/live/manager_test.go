package live

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

type fakeConn struct {
	mu     sync.Mutex
	closed []websocket.StatusCode
}

func (c *fakeConn) Close(code websocket.StatusCode, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, code)
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.closed)
}

func TestSessionManager_Register(t *testing.T) {
	sm := NewSessionManager()
	conn := &fakeConn{}

	sm.Register("visitor", "tab-1", conn)

	if active := sm.GetActive("visitor", "tab-1"); active != conn {
		t.Errorf("Expected connection %v, got %v", conn, active)
	}
}

func TestSessionManager_RegisterReplacesSameTab(t *testing.T) {
	sm := NewSessionManager()
	first := &fakeConn{}
	second := &fakeConn{}

	sm.Register("visitor", "tab-1", first)
	sm.Register("visitor", "tab-1", second)

	if first.closeCount() != 1 {
		t.Error("replaced connection should be closed")
	}
	if sm.GetActive("visitor", "tab-1") != second {
		t.Error("newest connection should be active")
	}

	// A late unregister from the replaced socket must not drop the new one.
	sm.Unregister("visitor", "tab-1", first)
	if sm.GetActive("visitor", "tab-1") != second {
		t.Error("stale unregister removed the active connection")
	}
}

func TestSessionManager_UnregisterKeepsOtherTabs(t *testing.T) {
	sm := NewSessionManager()
	conn1 := &fakeConn{}
	conn2 := &fakeConn{}

	sm.Register("visitor", "tab-1", conn1)
	sm.Register("visitor", "tab-2", conn2)
	sm.Unregister("visitor", "tab-1", conn1)

	if sm.GetActive("visitor", "tab-1") != nil {
		t.Error("expected tab-1 to be gone")
	}
	if sm.GetActive("visitor", "tab-2") != conn2 {
		t.Error("expected tab-2 to remain")
	}
}

func TestSessionManager_CloseSession(t *testing.T) {
	sm := NewSessionManager()
	conn1 := &fakeConn{}
	conn2 := &fakeConn{}
	sm.Register("visitor", "tab-1", conn1)
	sm.Register("visitor", "tab-2", conn2)

	sm.CloseSession("visitor", "tab-1")
	sm.CloseSession("visitor", "missing")

	if conn1.closeCount() != 1 || conn2.closeCount() != 0 {
		t.Errorf("only the expired tab should close, got %d/%d", conn1.closeCount(), conn2.closeCount())
	}
	if sm.Count() != 1 {
		t.Errorf("expected one connection left, got %d", sm.Count())
	}

	sm.CloseVisitor("visitor")
	if conn2.closeCount() != 1 || sm.Count() != 0 {
		t.Error("CloseVisitor should close every tab")
	}
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	sm := NewSessionManager()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.Register("concurrent", "tab-"+strconv.Itoa(i), &fakeConn{})
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.GetActive("concurrent", "tab-"+strconv.Itoa(i))
		}
	}()

	wg.Wait()
	if sm.Count() != 1000 {
		t.Errorf("expected 1000 connections, got %d", sm.Count())
	}
}
