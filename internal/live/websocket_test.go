package live

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/tripmate/internal/concierge"
	"github.com/ashureev/tripmate/internal/config"
	"github.com/ashureev/tripmate/internal/gateway/gatewaytest"
	"github.com/ashureev/tripmate/internal/identity"
	"github.com/ashureev/tripmate/internal/session"
	"github.com/ashureev/tripmate/internal/store"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

type staticCreds struct{}

func (staticCreds) APIKey() (string, error) { return "test-key", nil }
func (staticCreds) Status() config.CredentialStatus {
	return config.CredentialStatus{Configured: true, Source: config.SourceEnv}
}

func newLiveServer(t *testing.T, fake *gatewaytest.Fake) (*httptest.Server, *SessionManager) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "live.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	svc := concierge.NewService(repo, &gatewaytest.Provider{Gateway: fake}, staticCreds{}, concierge.Options{
		RecommendModel: "recommend",
		ChatModel:      "chat",
	}, nil, nil)
	sm := NewSessionManager()
	h := NewChatHandler(svc, repo, nil, nil, sm, "*", true)

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	r.Handle("/ws/chat", h)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, sm
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{identity.SessionHeaderName: []string{"tab-1"}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) ServerFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var frame ServerFrame
	if err := wsjson.Read(ctx, ws, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func send(t *testing.T, ws *websocket.Conn, frame ClientFrame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, ws, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestChatHandlerRecommendationFlow(t *testing.T) {
	srv, sm := newLiveServer(t, &gatewaytest.Fake{Fragments: []string{"Visit ", "Gyeongju."}})
	ws := dial(t, srv)

	initial := readFrame(t, ws)
	if initial.Type != FrameState || initial.Session == nil || initial.Session.SessionID != "tab-1" {
		t.Fatalf("expected initial state for tab-1, got %+v", initial)
	}
	if sm.Count() != 1 {
		t.Errorf("expected registered connection, got %d", sm.Count())
	}

	send(t, ws, ClientFrame{Type: FrameSample, Name: "solo"})
	if f := readFrame(t, ws); f.Type != FrameState || f.Session.State != session.StatePending {
		t.Fatalf("expected pending state, got %+v", f)
	}

	send(t, ws, ClientFrame{Type: FrameGenerate})
	var updates []string
	var reply *concierge.MessageView
	for {
		f := readFrame(t, ws)
		if f.Type == FrameUpdate {
			updates = append(updates, f.Text)
			continue
		}
		if f.Type == FrameMessage {
			reply = f.Message
			continue
		}
		if f.Type != FrameState {
			t.Fatalf("unexpected frame %+v", f)
		}
		if f.Session.State != session.StateIdle || len(f.Session.Messages) != 1 {
			t.Fatalf("expected settled session, got %+v", f.Session)
		}
		break
	}
	if len(updates) != 2 || updates[1] != "Visit Gyeongju." {
		t.Errorf("unexpected updates %v", updates)
	}
	if reply == nil || reply.Content != "Visit Gyeongju." || reply.HTML == "" {
		t.Errorf("expected rendered reply frame, got %+v", reply)
	}
}

func TestChatHandlerErrors(t *testing.T) {
	srv, _ := newLiveServer(t, &gatewaytest.Fake{})
	ws := dial(t, srv)
	readFrame(t, ws)

	send(t, ws, ClientFrame{Type: FrameAsk, Content: "anything"})
	if f := readFrame(t, ws); f.Type != FrameError || f.Error.Error != session.ErrNoProfile.Error() {
		t.Errorf("expected no-profile error, got %+v", f)
	}

	send(t, ws, ClientFrame{Type: "dance"})
	if f := readFrame(t, ws); f.Type != FrameError || !strings.Contains(f.Error.Error, "unknown message type") {
		t.Errorf("expected unknown type error, got %+v", f)
	}

	send(t, ws, ClientFrame{Type: FramePing})
	if f := readFrame(t, ws); f.Type != FramePong {
		t.Errorf("expected pong, got %+v", f)
	}
}

func TestCloseSessionDisconnectsClient(t *testing.T) {
	srv, sm := newLiveServer(t, &gatewaytest.Fake{})
	ws := dial(t, srv)
	first := readFrame(t, ws)

	visitorID := ""
	// The visitor ID is assigned by the server; find it through the manager.
	sm.mu.RLock()
	for id := range sm.active {
		visitorID = id
	}
	sm.mu.RUnlock()
	if visitorID == "" {
		t.Fatal("connection not registered")
	}

	sm.CloseSession(visitorID, first.Session.SessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := ws.Read(ctx)
	var closeErr websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.StatusGoingAway {
		t.Errorf("expected going-away close, got %v", err)
	}
}
