package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/tripmate/internal/config"
	"github.com/go-chi/chi/v5"
)

// Pinger is the part of the repository the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CredentialStatuser reports whether the model credential is available.
type CredentialStatuser interface {
	Status() config.CredentialStatus
}

// SystemHandler serves health and client configuration endpoints.
type SystemHandler struct {
	db    Pinger
	creds CredentialStatuser
	cfg   *config.Config
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(db Pinger, creds CredentialStatuser, cfg *config.Config) *SystemHandler {
	return &SystemHandler{db: db, creds: creds, cfg: cfg}
}

// RegisterRoutes registers the system routes.
func (h *SystemHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)
	r.Get("/api/config", h.GetConfig)
}

// Health returns the health status of the API and its dependencies. A
// missing credential degrades the report but the service stays up.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		checks["database"] = "unreachable"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.creds.Status().Configured {
		checks["credential"] = "ok"
	} else {
		checks["credential"] = "missing"
		status = "degraded"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// GetConfig returns what the frontend needs to know about the server.
func (h *SystemHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]interface{}{
		"credential": h.creds.Status(),
	}
	if h.cfg != nil {
		resp["provider"] = h.cfg.LLM.Provider
		resp["recommend_model"] = h.cfg.LLM.RecommendModel
		resp["chat_model"] = h.cfg.LLM.ChatModel
		resp["history_window"] = h.cfg.LLM.HistoryWindow
	}
	JSON(w, http.StatusOK, resp)
}
