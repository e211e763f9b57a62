// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration. The model credential is not
// part of it; see CredentialSource.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	SessionTTL      time.Duration
	SessionCacheTTL time.Duration
	VisitorTTL      time.Duration
	SweepInterval   time.Duration
	SecretsPath     string
	LLM             LLMConfig
	RateLimit       RateLimitConfig
	SSE             SSEConfig
	ConversationLog ConversationLogConfig
}

// LLMConfig selects the model provider and the two model configurations.
type LLMConfig struct {
	Provider          string
	BaseURL           string
	RecommendModel    string
	ChatModel         string
	GenerationTimeout time.Duration
	HistoryWindow     int
}

// RateLimitConfig bounds generation requests per visitor.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls streamed responses.
type SSEConfig struct {
	MaxRequestBodySize int64
	KeepaliveInterval  time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/tripmate.db"),
		SessionTTL:      getEnvDuration("SESSION_TTL", 24*time.Hour),
		SessionCacheTTL: getEnvDuration("SESSION_CACHE_TTL", 10*time.Minute),
		VisitorTTL:      getEnvDuration("VISITOR_TTL", 30*24*time.Hour),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		SecretsPath:     getEnv("SECRETS_PATH", "./secrets.toml"),
		LLM: LLMConfig{
			Provider:          strings.ToLower(getEnv("LLM_PROVIDER", "gemini")),
			BaseURL:           getEnv("LLM_BASE_URL", ""),
			RecommendModel:    getEnv("RECOMMEND_MODEL", "gemini-2.5-flash"),
			ChatModel:         getEnv("CHAT_MODEL", "gemini-2.0-flash-exp"),
			GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 2*time.Minute),
			HistoryWindow:     getEnvInt("HISTORY_WINDOW", 10),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.VisitorTTL < c.SessionTTL {
		return fmt.Errorf("VISITOR_TTL must be >= SESSION_TTL")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("LLM_PROVIDER must be gemini or openai, got %q", c.LLM.Provider)
	}
	if c.LLM.RecommendModel == "" || c.LLM.ChatModel == "" {
		return fmt.Errorf("RECOMMEND_MODEL and CHAT_MODEL cannot be empty")
	}
	if c.LLM.HistoryWindow <= 0 || c.LLM.HistoryWindow > 10 {
		return fmt.Errorf("HISTORY_WINDOW must be between 1 and 10")
	}
	if c.LLM.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.SSE.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
