// Tripmate - travel destination recommendation server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/tripmate/internal/api"
	"github.com/ashureev/tripmate/internal/concierge"
	"github.com/ashureev/tripmate/internal/config"
	"github.com/ashureev/tripmate/internal/domain"
	"github.com/ashureev/tripmate/internal/gateway"
	"github.com/ashureev/tripmate/internal/identity"
	"github.com/ashureev/tripmate/internal/live"
	"github.com/ashureev/tripmate/internal/middleware"
	"github.com/ashureev/tripmate/internal/render"
	"github.com/ashureev/tripmate/internal/retention"
	"github.com/ashureev/tripmate/internal/store"
	"github.com/ashureev/tripmate/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"provider", cfg.LLM.Provider,
		"recommend_model", cfg.LLM.RecommendModel,
		"chat_model", cfg.LLM.ChatModel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	db, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := db.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")
	repo := store.NewCached(db, cfg.SessionCacheTTL)

	creds := config.NewCredentialSource(cfg.SecretsPath, logger)
	if err := creds.Watch(ctx); err != nil {
		slog.Warn("Secrets file will not be reloaded", "error", err)
	}
	if status := creds.Status(); !status.Configured {
		slog.Warn("Model API key is not configured; generation is disabled until it is",
			"remediation", status.Remediation)
	}

	gateways, err := gateway.NewFactory(cfg.LLM.Provider, cfg.LLM.BaseURL)
	if err != nil {
		slog.Error("Failed to initialize model gateway", "error", err)
		os.Exit(1)
	}

	conversationLogger, err := concierge.NewConversationLogger(concierge.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	svc := concierge.NewService(repo, gateways, creds, concierge.OptionsFromConfig(cfg.LLM), conversationLogger, logger)
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize handlers.
	renderer := render.New()
	systemHandler := api.NewSystemHandler(db, creds, cfg)
	chatHandler := concierge.NewHandler(svc, renderer, cfg)
	defer chatHandler.Close()

	sm := live.NewSessionManager()
	wsHandler := live.NewChatHandler(svc, repo, renderer, chatHandler.Limiter(), sm, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}, identity.SessionHeaderName))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	systemHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	retention.StartTTLWorker(ctx, repo, retention.Policy{
		SessionTTL: cfg.SessionTTL,
		VisitorTTL: cfg.VisitorTTL,
		Interval:   cfg.SweepInterval,
	}, func(visitorID, sessionID string) {
		sm.CloseSession(visitorID, sessionID)
		repo.Evict(domain.SessionKey(visitorID, sessionID))
	})

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
