package concierge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/tripmate/internal/api"
	"github.com/ashureev/tripmate/internal/config"
	"github.com/ashureev/tripmate/internal/domain"
	"github.com/ashureev/tripmate/internal/gateway"
	"github.com/ashureev/tripmate/internal/identity"
	"github.com/ashureev/tripmate/internal/prompt"
	"github.com/ashureev/tripmate/internal/render"
	"github.com/ashureev/tripmate/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler serves the conversation API. Generating routes answer with
// server-sent events: "update" carries the text so far, "error" a failed
// generation and "done" the final session view.
type Handler struct {
	svc         *Service
	renderer    *render.Renderer
	rateLimiter *RateLimiter
	maxBodySize int64
	keepalive   time.Duration
}

// NewHandler creates a Handler. cfg may be nil in tests.
func NewHandler(svc *Service, renderer *render.Renderer, cfg *config.Config) *Handler {
	rateLimitRequests := 10
	rateLimitWindow := time.Minute
	maxBodySize := int64(defaultMaxRequestBodySize)
	keepalive := 10 * time.Second

	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
		maxBodySize = cfg.SSE.MaxRequestBodySize
		keepalive = cfg.SSE.KeepaliveInterval
	}
	if renderer == nil {
		renderer = render.New()
	}

	return &Handler{
		svc:         svc,
		renderer:    renderer,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
		maxBodySize: maxBodySize,
		keepalive:   keepalive,
	}
}

// RegisterRoutes registers the conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/options", h.GetOptions)
	r.Get("/api/session", h.GetSession)
	r.Post("/api/profile", h.SubmitProfile)
	r.Post("/api/samples/{name}", h.ApplySample)
	r.Post("/api/recommendations", h.RequestAlternative)
	r.Post("/api/recommendations/generate", h.GenerateRecommendation)
	r.Post("/api/chat", h.HandleChat)
	r.Post("/api/quick/{action}", h.HandleQuickAction)
	r.Post("/api/reset", h.Reset)
}

// Close stops background work.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

// GetOptions returns the form option tables, defaults and samples.
func (h *Handler) GetOptions(w http.ResponseWriter, _ *http.Request) {
	api.JSON(w, http.StatusOK, NewOptionsView())
}

// GetSession returns the caller's session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	visitorID, sessionID, ok := callerIDs(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.Session(r.Context(), visitorID, sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, NewSessionView(sess, h.renderer))
}

// SubmitProfile handles POST /api/profile.
func (h *Handler) SubmitProfile(w http.ResponseWriter, r *http.Request) {
	visitorID, sessionID, ok := callerIDs(w, r)
	if !ok {
		return
	}
	var p domain.Profile
	if !h.decode(w, r, &p) {
		return
	}
	sess, err := h.svc.SubmitProfile(r.Context(), visitorID, sessionID, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("Profile submitted", "visitor_id", visitorID, "session_id", sessionID, "trigger_count", sess.TriggerCount())
	api.JSON(w, http.StatusOK, NewSessionView(sess, h.renderer))
}

// ApplySample handles POST /api/samples/{name}.
func (h *Handler) ApplySample(w http.ResponseWriter, r *http.Request) {
	visitorID, sessionID, ok := callerIDs(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.ApplySample(r.Context(), visitorID, sessionID, chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, NewSessionView(sess, h.renderer))
}

// RequestAlternative handles POST /api/recommendations.
func (h *Handler) RequestAlternative(w http.ResponseWriter, r *http.Request) {
	visitorID, sessionID, ok := callerIDs(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.RequestAlternative(r.Context(), visitorID, sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, NewSessionView(sess, h.renderer))
}

// Reset handles POST /api/reset. An empty body keeps the profile.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	visitorID, sessionID, ok := callerIDs(w, r)
	if !ok {
		return
	}
	var req ResetRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	var (
		sess *session.Session
		err  error
	)
	if req.ForgetProfile {
		sess, err = h.svc.Clear(r.Context(), visitorID, sessionID)
	} else {
		sess, err = h.svc.Reset(r.Context(), visitorID, sessionID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.JSON(w, http.StatusOK, NewSessionView(sess, h.renderer))
}

// GenerateRecommendation handles POST /api/recommendations/generate.
func (h *Handler) GenerateRecommendation(w http.ResponseWriter, r *http.Request) {
	visitorID, sessionID, ok := h.generationCaller(w, r)
	if !ok {
		return
	}
	h.stream(w, r, func(onUpdate gateway.UpdateFunc) (*session.Session, error) {
		return h.svc.GenerateRecommendation(r.Context(), visitorID, sessionID, onUpdate)
	})
}

// HandleChat handles POST /api/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	visitorID, sessionID, ok := h.generationCaller(w, r)
	if !ok {
		return
	}
	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}

	slog.Info("Chat request",
		"visitor_id", visitorID,
		"nickname", identity.NicknameFromContext(r.Context()),
		"session_id", sessionID,
		"message_length", len(req.Message),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)
	h.stream(w, r, func(onUpdate gateway.UpdateFunc) (*session.Session, error) {
		return h.svc.Ask(r.Context(), visitorID, sessionID, req.Message, onUpdate)
	})
}

// HandleQuickAction handles POST /api/quick/{action}.
func (h *Handler) HandleQuickAction(w http.ResponseWriter, r *http.Request) {
	action, err := prompt.ParseQuickAction(chi.URLParam(r, "action"))
	if err != nil {
		api.Error(w, http.StatusNotFound, err.Error())
		return
	}
	visitorID, sessionID, ok := h.generationCaller(w, r)
	if !ok {
		return
	}
	h.stream(w, r, func(onUpdate gateway.UpdateFunc) (*session.Session, error) {
		return h.svc.QuickAction(r.Context(), visitorID, sessionID, action, onUpdate)
	})
}

func callerIDs(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	if visitorID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	return visitorID, identity.SessionIDFromContext(r.Context()), true
}

// generationCaller identifies the caller and applies the per-visitor rate
// limit. Keying on the visitor alone stops clients from rotating tab IDs
// to escape throttling.
func (h *Handler) generationCaller(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	visitorID, sessionID, ok := callerIDs(w, r)
	if !ok {
		return "", "", false
	}
	if !h.rateLimiter.Allow(visitorID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return "", "", false
	}
	return visitorID, sessionID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeError maps service errors to JSON responses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, view := h.errorView(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	}
	api.JSON(w, status, view)
}

func (h *Handler) errorView(err error) (int, ErrorView) {
	return DescribeError(err, h.svc.CredentialStatus())
}

// Limiter returns the per-visitor generation limiter so other transports
// can share the budget.
func (h *Handler) Limiter() *RateLimiter {
	return h.rateLimiter
}

// sseStream writes server-sent events. Headers are sent with the first
// event so that errors raised before generation starts can still be
// answered with a plain JSON status.
type sseStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	failed  bool
}

func (s *sseStream) send(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to marshal SSE payload", "event", event, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if err := writeSSE(s.w, event, string(data)); err != nil {
		slog.Warn("failed to write SSE event", "event", event, "error", err)
		s.failed = true
		return
	}
	s.flusher.Flush()
}

func (s *sseStream) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

type updateEvent struct {
	Text string `json:"text"`
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, run func(gateway.UpdateFunc) (*session.Session, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	st := &sseStream{w: w, flusher: flusher}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	if h.keepalive > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(h.keepalive)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-r.Context().Done():
					return
				case <-ticker.C:
					st.send("ping", map[string]string{"status": "alive"})
				}
			}
		}()
	}

	sess, err := run(func(snapshot string) {
		st.send("update", updateEvent{Text: snapshot})
	})
	close(stop)
	wg.Wait()

	generationFailed := errors.Is(err, gateway.ErrGenerationFailed)
	if err != nil && !generationFailed && !st.isStarted() {
		h.writeError(w, r, err)
		return
	}
	if err != nil {
		_, view := h.errorView(err)
		st.send("error", view)
	}
	if sess != nil {
		st.send("done", NewSessionView(sess, h.renderer))
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
