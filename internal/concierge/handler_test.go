package concierge

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/tripmate/internal/config"
	"github.com/ashureev/tripmate/internal/gateway/gatewaytest"
	"github.com/ashureev/tripmate/internal/identity"
	"github.com/ashureev/tripmate/internal/session"
	"github.com/go-chi/chi/v5"
)

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.name == "" {
			t.Fatalf("malformed SSE block %q", block)
		}
		events = append(events, ev)
	}
	return events
}

func newTestRouter(t *testing.T, fake *gatewaytest.Fake, key string, cfg *config.Config) http.Handler {
	t.Helper()
	svc, _, _ := newTestService(fake, key)
	h := NewHandler(svc, nil, cfg)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := identity.WithIdentity(req.Context(), testVisitor, req.Header.Get(identity.SessionHeaderName))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	h.RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(identity.SessionHeaderName, testSession)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeView[T any](t *testing.T, data string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return v
}

func TestSubmitProfileRejectsInvalidFields(t *testing.T) {
	r := newTestRouter(t, &gatewaytest.Fake{}, "k", nil)

	w := do(r, http.MethodPost, "/api/profile", `{"age":3,"gender":"male","budget":"2m_3m","style":"balanced","duration":"5_7_days","interests":[],"destination":"any","season":"any"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	view := decodeView[ErrorView](t, w.Body.String())
	fields := map[string]bool{}
	for _, f := range view.Fields {
		fields[f.Field] = true
	}
	if !fields["age"] || !fields["interests"] {
		t.Errorf("expected age and interests field errors, got %+v", view.Fields)
	}
}

func TestGenerateStreamsUpdatesThenDone(t *testing.T) {
	r := newTestRouter(t, &gatewaytest.Fake{Fragments: []string{"**Jeju**", " island"}}, "k", nil)

	if w := do(r, http.MethodPost, "/api/samples/family", ""); w.Code != http.StatusOK {
		t.Fatalf("apply sample: %d %s", w.Code, w.Body.String())
	}

	w := do(r, http.MethodPost, "/api/recommendations/generate", "")
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}
	events := parseSSE(t, w.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected two updates and done, got %+v", events)
	}
	if events[0].name != "update" || decodeView[updateEvent](t, events[0].data).Text != "**Jeju**" {
		t.Errorf("unexpected first update %+v", events[0])
	}
	if decodeView[updateEvent](t, events[1].data).Text != "**Jeju** island" {
		t.Errorf("updates must carry the accumulated text, got %s", events[1].data)
	}
	if events[2].name != "done" {
		t.Fatalf("expected done last, got %s", events[2].name)
	}
	view := decodeView[SessionView](t, events[2].data)
	if view.State != session.StateIdle || len(view.Messages) != 1 {
		t.Fatalf("unexpected final view %+v", view)
	}
	if !strings.Contains(view.Messages[0].HTML, "<strong>Jeju</strong>") {
		t.Errorf("assistant message should be rendered, got %q", view.Messages[0].HTML)
	}
}

func TestGenerateFailureSendsErrorEvent(t *testing.T) {
	fake := &gatewaytest.Fake{StreamErr: errors.New("boom"), GenerateErr: errors.New("model overloaded")}
	r := newTestRouter(t, fake, "k", nil)
	do(r, http.MethodPost, "/api/samples/solo", "")

	w := do(r, http.MethodPost, "/api/recommendations/generate", "")
	events := parseSSE(t, w.Body.String())
	if len(events) != 2 || events[0].name != "error" || events[1].name != "done" {
		t.Fatalf("expected error then done, got %+v", events)
	}
	if got := decodeView[ErrorView](t, events[0].data).Error; got != "model overloaded" {
		t.Errorf("unexpected error reason %q", got)
	}
	if view := decodeView[SessionView](t, events[1].data); view.LastError != "model overloaded" || view.State != session.StateIdle {
		t.Errorf("expected settled failure, got %+v", view)
	}
}

func TestGenerateWithoutCredentialReturnsRemediation(t *testing.T) {
	r := newTestRouter(t, &gatewaytest.Fake{}, "", nil)
	do(r, http.MethodPost, "/api/samples/couple", "")

	w := do(r, http.MethodPost, "/api/recommendations/generate", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
	view := decodeView[ErrorView](t, w.Body.String())
	if view.Remediation == "" {
		t.Error("expected remediation text")
	}

	w = do(r, http.MethodGet, "/api/session", "")
	if got := decodeView[SessionView](t, w.Body.String()); got.State != session.StatePending {
		t.Errorf("command should remain queued, got %s", got.State)
	}
}

func TestChatStreamsAnswer(t *testing.T) {
	r := newTestRouter(t, &gatewaytest.Fake{Fragments: []string{"Try the night market."}}, "k", nil)
	do(r, http.MethodPost, "/api/samples/family", "")

	w := do(r, http.MethodPost, "/api/chat", `{"message":"Where should we eat?"}`)
	events := parseSSE(t, w.Body.String())
	last := events[len(events)-1]
	if last.name != "done" {
		t.Fatalf("expected done, got %+v", events)
	}
	view := decodeView[SessionView](t, last.data)
	if len(view.Messages) != 2 || view.Messages[0].Content != "Where should we eat?" {
		t.Errorf("unexpected transcript %+v", view.Messages)
	}

	w = do(r, http.MethodPost, "/api/chat", `{"message":"  "}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank question should be 400, got %d", w.Code)
	}
}

func TestGenerationRateLimit(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour},
		SSE:       config.SSEConfig{MaxRequestBodySize: 1 << 20},
	}
	r := newTestRouter(t, &gatewaytest.Fake{Fragments: []string{"ok"}}, "k", cfg)
	do(r, http.MethodPost, "/api/samples/family", "")

	if w := do(r, http.MethodPost, "/api/recommendations/generate", ""); w.Code != http.StatusOK {
		t.Fatalf("first generation should pass, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/quick/food", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
	// Non-generating routes are not throttled.
	if w := do(r, http.MethodGet, "/api/session", ""); w.Code != http.StatusOK {
		t.Errorf("session read should not be limited, got %d", w.Code)
	}
}

func TestRouteErrors(t *testing.T) {
	r := newTestRouter(t, &gatewaytest.Fake{}, "k", nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown sample", http.MethodPost, "/api/samples/honeymoon", "", http.StatusNotFound},
		{"unknown quick action", http.MethodPost, "/api/quick/weather", "", http.StatusNotFound},
		{"alternative without profile", http.MethodPost, "/api/recommendations", "", http.StatusConflict},
		{"nothing pending", http.MethodPost, "/api/recommendations/generate", "", http.StatusConflict},
		{"malformed body", http.MethodPost, "/api/profile", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(r, tt.method, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestResetForgetProfile(t *testing.T) {
	r := newTestRouter(t, &gatewaytest.Fake{}, "k", nil)
	do(r, http.MethodPost, "/api/samples/family", "")

	w := do(r, http.MethodPost, "/api/reset", "")
	if view := decodeView[SessionView](t, w.Body.String()); view.Profile == nil || view.TriggerCount != 0 {
		t.Errorf("plain reset keeps the profile, got %+v", view)
	}

	w = do(r, http.MethodPost, "/api/reset", `{"forget_profile":true}`)
	if view := decodeView[SessionView](t, w.Body.String()); view.Profile != nil {
		t.Errorf("forget_profile should drop the profile, got %+v", view.Profile)
	}
}

func TestOptionsListsSamplesAndQuickActions(t *testing.T) {
	r := newTestRouter(t, &gatewaytest.Fake{}, "k", nil)

	w := do(r, http.MethodGet, "/api/options", "")
	view := decodeView[OptionsView](t, w.Body.String())
	if len(view.Samples) != 3 || len(view.QuickActions) != 4 {
		t.Errorf("expected 3 samples and 4 quick actions, got %d/%d", len(view.Samples), len(view.QuickActions))
	}
	if view.Defaults.Age == 0 {
		t.Error("expected default profile values")
	}
	if view.PendingState != session.StatePending {
		t.Errorf("expected pending state %q, got %q", session.StatePending, view.PendingState)
	}
}
