package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/tripmate/internal/concierge"
	"github.com/ashureev/tripmate/internal/domain"
	"github.com/ashureev/tripmate/internal/identity"
	"github.com/ashureev/tripmate/internal/prompt"
	"github.com/ashureev/tripmate/internal/render"
	"github.com/ashureev/tripmate/internal/session"
	"github.com/ashureev/tripmate/internal/store"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 10 * time.Second

// Frame types.
const (
	FrameProfile     = "profile"
	FrameSample      = "sample"
	FrameGenerate    = "generate"
	FrameAlternative = "alternative"
	FrameAsk         = "ask"
	FrameQuick       = "quick"
	FrameReset       = "reset"
	FramePing        = "ping"

	FrameState   = "state"
	FrameUpdate  = "update"
	FrameMessage = "message"
	FrameError   = "error"
	FramePong    = "pong"
)

var errUnknownFrame = errors.New("unknown message type")

// ClientFrame is a message sent by the browser.
type ClientFrame struct {
	Type          string          `json:"type"`
	Content       string          `json:"content,omitempty"`
	Action        string          `json:"action,omitempty"`
	Name          string          `json:"name,omitempty"`
	Profile       *domain.Profile `json:"profile,omitempty"`
	ForgetProfile bool            `json:"forget_profile,omitempty"`
}

// ServerFrame is a message sent to the browser. "update" carries the
// text generated so far, "message" the stored reply and "state" the
// session after an operation.
type ServerFrame struct {
	Type    string                 `json:"type"`
	Text    string                 `json:"text,omitempty"`
	Message *concierge.MessageView `json:"message,omitempty"`
	Session *concierge.SessionView `json:"session,omitempty"`
	Error   *concierge.ErrorView   `json:"error,omitempty"`
}

// ChatHandler serves the conversation over a WebSocket. Frames of one
// connection are handled in order.
type ChatHandler struct {
	svc           *concierge.Service
	repo          store.Repository
	renderer      *render.Renderer
	limiter       *concierge.RateLimiter
	sm            *SessionManager
	allowedOrigin string
	isDev         bool
}

// NewChatHandler creates a new WebSocket handler. limiter may be nil.
func NewChatHandler(svc *concierge.Service, repo store.Repository, renderer *render.Renderer, limiter *concierge.RateLimiter, sm *SessionManager, allowedOrigin string, isDev bool) *ChatHandler {
	if renderer == nil {
		renderer = render.New()
	}
	return &ChatHandler{
		svc:           svc,
		repo:          repo,
		renderer:      renderer,
		limiter:       limiter,
		sm:            sm,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if visitorID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "visitor_id", visitorID, "nickname", identity.NicknameFromContext(r.Context()), "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "visitor_id", visitorID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "visitor_id", visitorID)
		}
	}()

	h.sm.Register(visitorID, sessionID, ws)
	defer h.sm.Unregister(visitorID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess, err := h.svc.Session(ctx, visitorID, sessionID)
	if err != nil {
		slog.Error("Failed to load session", "error", err, "visitor_id", visitorID)
		h.sendError(ctx, ws, err)
		return
	}
	if err := h.sendState(ctx, ws, sess); err != nil {
		return
	}

	h.readLoop(ctx, ws, visitorID, sessionID)
	slog.Info("Live session ended", "visitor_id", visitorID, "session_id", sessionID)
}

func (h *ChatHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *ChatHandler) readLoop(ctx context.Context, ws *websocket.Conn, visitorID, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "visitor_id", visitorID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "visitor_id", visitorID)
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			if werr := h.write(ctx, ws, ServerFrame{Type: FrameError, Error: &concierge.ErrorView{Error: "invalid message"}}); werr != nil {
				return
			}
			continue
		}

		if frame.Type == FramePing {
			if err := h.write(ctx, ws, ServerFrame{Type: FramePong}); err != nil {
				return
			}
			continue
		}

		if generates(frame.Type) && h.limiter != nil && !h.limiter.Allow(visitorID) {
			if err := h.write(ctx, ws, ServerFrame{Type: FrameError, Error: &concierge.ErrorView{Error: "rate limit exceeded"}}); err != nil {
				return
			}
			continue
		}

		onUpdate := func(snapshot string) {
			if err := h.write(ctx, ws, ServerFrame{Type: FrameUpdate, Text: snapshot}); err != nil {
				slog.Debug("Failed to send update", "error", err, "visitor_id", visitorID)
			}
		}
		before := 0
		if generates(frame.Type) {
			if sess, err := h.svc.Session(ctx, visitorID, sessionID); err == nil {
				before = len(sess.Messages())
			}
		}
		sess, opErr := h.dispatch(ctx, frame, visitorID, sessionID, onUpdate)
		if opErr != nil {
			h.sendError(ctx, ws, opErr)
		}
		if sess != nil && generates(frame.Type) {
			if err := h.sendReply(ctx, ws, sess, before); err != nil {
				return
			}
		}
		if sess != nil {
			if err := h.sendState(ctx, ws, sess); err != nil {
				return
			}
		}

		go h.touch(visitorID)
	}
}

func generates(frameType string) bool {
	switch frameType {
	case FrameGenerate, FrameAsk, FrameQuick:
		return true
	}
	return false
}

func (h *ChatHandler) dispatch(ctx context.Context, frame ClientFrame, visitorID, sessionID string, onUpdate func(string)) (*session.Session, error) {
	switch frame.Type {
	case FrameProfile:
		if frame.Profile == nil {
			return nil, &domain.ValidationError{Fields: []domain.FieldError{{Field: "profile", Message: "profile is required"}}}
		}
		return h.svc.SubmitProfile(ctx, visitorID, sessionID, *frame.Profile)
	case FrameSample:
		return h.svc.ApplySample(ctx, visitorID, sessionID, frame.Name)
	case FrameGenerate:
		return h.svc.GenerateRecommendation(ctx, visitorID, sessionID, onUpdate)
	case FrameAlternative:
		return h.svc.RequestAlternative(ctx, visitorID, sessionID)
	case FrameAsk:
		return h.svc.Ask(ctx, visitorID, sessionID, frame.Content, onUpdate)
	case FrameQuick:
		action, err := prompt.ParseQuickAction(frame.Action)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errUnknownFrame, err)
		}
		return h.svc.QuickAction(ctx, visitorID, sessionID, action, onUpdate)
	case FrameReset:
		if frame.ForgetProfile {
			return h.svc.Clear(ctx, visitorID, sessionID)
		}
		return h.svc.Reset(ctx, visitorID, sessionID)
	default:
		return nil, fmt.Errorf("%w %q", errUnknownFrame, frame.Type)
	}
}

func (h *ChatHandler) touch(visitorID string) {
	if h.repo == nil {
		return
	}
	updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.repo.UpdateLastSeen(updateCtx, visitorID, time.Now()); err != nil {
		slog.Warn("Failed to update last seen", "error", err)
	}
}

func (h *ChatHandler) sendState(ctx context.Context, ws *websocket.Conn, sess *session.Session) error {
	view := concierge.NewSessionView(sess, h.renderer)
	return h.write(ctx, ws, ServerFrame{Type: FrameState, Session: &view})
}

// sendReply sends the assistant message appended by the operation, if any.
func (h *ChatHandler) sendReply(ctx context.Context, ws *websocket.Conn, sess *session.Session, before int) error {
	msgs := sess.Messages()
	if len(msgs) <= before {
		return nil
	}
	last := msgs[len(msgs)-1]
	if last.Role != domain.RoleAssistant {
		return nil
	}
	view := concierge.NewMessageView(last, h.renderer)
	return h.write(ctx, ws, ServerFrame{Type: FrameMessage, Message: &view})
}

func (h *ChatHandler) sendError(ctx context.Context, ws *websocket.Conn, err error) {
	view := concierge.ErrorView{Error: err.Error()}
	if !errors.Is(err, errUnknownFrame) {
		var status int
		status, view = concierge.DescribeError(err, h.svc.CredentialStatus())
		if status == http.StatusInternalServerError {
			slog.Error("Live operation failed", "error", err)
		}
	}
	if werr := h.write(ctx, ws, ServerFrame{Type: FrameError, Error: &view}); werr != nil {
		slog.Debug("Failed to send error frame", "error", werr)
	}
}

func (h *ChatHandler) write(ctx context.Context, ws *websocket.Conn, frame ServerFrame) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, ws, frame)
}
