// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/tripmate/internal/domain"
	"github.com/ashureev/tripmate/internal/store"
)

const (
	VisitorCookieName     = "tripmate_visitor_id"
	SessionHeaderName     = "X-Tripmate-Session-ID"
	DefaultSessionIDValue = "default"
	visitorCookieMaxAge   = 30 * 24 * time.Hour
	lastSeenResolution    = time.Minute
)

type contextKey int

const (
	visitorIDKey contextKey = iota
	nicknameKey
	sessionIDKey
)

var (
	visitorIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// VisitorIDFromContext extracts the visitor ID from the request context.
func VisitorIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(visitorIDKey).(string); ok {
		return v
	}
	return ""
}

// NicknameFromContext extracts the visitor nickname from the request context.
func NicknameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(nicknameKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithIdentity returns ctx carrying the given identity. Tests and
// non-HTTP callers use it in place of Middleware.
func WithIdentity(ctx context.Context, visitorID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, visitorIDKey, visitorID)
	ctx = context.WithValue(ctx, nicknameKey, deriveNickname(visitorID))
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

func generateVisitorID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate visitor id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidVisitorID(id string) bool {
	return visitorIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func deriveNickname(visitorID string) string {
	if len(visitorID) > 13 {
		return "traveler-" + visitorID[len(visitorID)-8:]
	}
	return "traveler"
}

// ensureVisitor creates the visitor on first sight and otherwise refreshes
// last_seen_at at most once per lastSeenResolution.
func ensureVisitor(ctx context.Context, repo store.Repository, visitorID string) error {
	visitor, err := repo.GetVisitor(ctx, visitorID)
	if err != nil {
		return err
	}

	now := time.Now()
	if visitor != nil {
		if now.Sub(visitor.LastSeenAt) < lastSeenResolution {
			return nil
		}
		return repo.UpdateLastSeen(ctx, visitorID, now)
	}

	return repo.UpsertVisitor(ctx, &domain.Visitor{
		VisitorID:  visitorID,
		Nickname:   deriveNickname(visitorID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func setVisitorCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     VisitorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(visitorCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(visitorCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateVisitorID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(VisitorCookieName); err == nil && isValidVisitorID(c.Value) {
		setVisitorCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateVisitorID()
	if err != nil {
		return "", err
	}
	setVisitorCookie(w, id, isDev)
	return id, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects anonymous per-device identity and per-request session ID.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			visitorID, err := getOrCreateVisitorID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			if err := ensureVisitor(r.Context(), repo, visitorID); err != nil {
				slog.Error("Failed to initialize visitor", "visitor_id", visitorID, "error", err)
				http.Error(w, `{"error":"failed to initialize visitor"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithIdentity(r.Context(), visitorID, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
