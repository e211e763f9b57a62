// Package concierge runs the travel conversation: it loads a visitor's
// session, applies profile and chat operations, calls the model and
// persists the result.
package concierge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/tripmate/internal/config"
	"github.com/ashureev/tripmate/internal/domain"
	"github.com/ashureev/tripmate/internal/gateway"
	"github.com/ashureev/tripmate/internal/prompt"
	"github.com/ashureev/tripmate/internal/session"
	"github.com/ashureev/tripmate/internal/store"
	"github.com/samber/lo"
)

// FollowUpApology is stored as the assistant reply when a question could
// not be answered.
const FollowUpApology = "Sorry, something went wrong while generating the answer. Please try again."

var (
	// ErrGenerationInProgress is returned when the session is already generating a recommendation.
	ErrGenerationInProgress = errors.New("a recommendation is already being generated")
	// ErrNothingPending is returned when a generation is requested with an empty queue.
	ErrNothingPending = errors.New("no recommendation is pending")
	// ErrEmptyQuestion is returned for a blank follow-up question.
	ErrEmptyQuestion = errors.New("question is required")
)

// GatewayProvider returns a gateway authenticated with an API key.
type GatewayProvider interface {
	ForKey(ctx context.Context, apiKey string) (gateway.Gateway, error)
}

// CredentialProvider resolves the model API key per request.
type CredentialProvider interface {
	APIKey() (string, error)
	Status() config.CredentialStatus
}

// Options configures model calls.
type Options struct {
	RecommendModel    string
	ChatModel         string
	GenerationTimeout time.Duration
	HistoryWindow     int
}

// OptionsFromConfig maps the LLM configuration.
func OptionsFromConfig(cfg config.LLMConfig) Options {
	return Options{
		RecommendModel:    cfg.RecommendModel,
		ChatModel:         cfg.ChatModel,
		GenerationTimeout: cfg.GenerationTimeout,
		HistoryWindow:     cfg.HistoryWindow,
	}
}

// Service is the application service shared by the HTTP and WebSocket
// transports. It is safe for concurrent use.
type Service struct {
	repo     store.Repository
	gateways GatewayProvider
	creds    CredentialProvider
	opts     Options
	log      ConversationLogger
	logger   *slog.Logger

	locks    *keyedMutex
	inflight sync.Map // session key -> struct{}
}

// NewService creates a Service.
func NewService(repo store.Repository, gateways GatewayProvider, creds CredentialProvider, opts Options, convLog ConversationLogger, logger *slog.Logger) *Service {
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 2 * time.Minute
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = session.DefaultHistoryWindow
	}
	return &Service{
		repo:     repo,
		gateways: gateways,
		creds:    creds,
		opts:     opts,
		log:      convLog,
		logger:   logger,
		locks:    newKeyedMutex(),
	}
}

// CredentialStatus reports whether generation can run.
func (s *Service) CredentialStatus() config.CredentialStatus {
	return s.creds.Status()
}

// Close releases the conversation logger.
func (s *Service) Close() error {
	return s.log.Close()
}

// Session returns the current state of a tab session. Unknown sessions
// are returned empty.
func (s *Service) Session(ctx context.Context, visitorID, sessionID string) (*session.Session, error) {
	unlock := s.locks.Lock(domain.SessionKey(visitorID, sessionID))
	defer unlock()
	return s.load(ctx, visitorID, sessionID)
}

// SubmitProfile replaces the profile and queues a recommendation. A
// *domain.ValidationError leaves the session untouched.
func (s *Service) SubmitProfile(ctx context.Context, visitorID, sessionID string, p domain.Profile) (*session.Session, error) {
	sess, err := s.mutate(ctx, visitorID, sessionID, func(sess *session.Session) error {
		_, err := sess.SetProfile(p)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logEvent(visitorID, sessionID, "profile_submitted", "", map[string]any{
		"trigger_count": sess.TriggerCount(),
	})
	return sess, nil
}

// ApplySample loads a preset profile and queues a recommendation.
func (s *Service) ApplySample(ctx context.Context, visitorID, sessionID, name string) (*session.Session, error) {
	sess, err := s.mutate(ctx, visitorID, sessionID, func(sess *session.Session) error {
		_, err := sess.ApplySample(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logEvent(visitorID, sessionID, "sample_applied", "", map[string]any{"sample": name})
	return sess, nil
}

// RequestAlternative queues a recommendation for different destinations.
func (s *Service) RequestAlternative(ctx context.Context, visitorID, sessionID string) (*session.Session, error) {
	sess, err := s.mutate(ctx, visitorID, sessionID, func(sess *session.Session) error {
		_, err := sess.RequestAlternative()
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logEvent(visitorID, sessionID, "alternative_requested", "", map[string]any{
		"trigger_count": sess.TriggerCount(),
	})
	return sess, nil
}

// Reset clears the conversation and keeps the profile.
func (s *Service) Reset(ctx context.Context, visitorID, sessionID string) (*session.Session, error) {
	sess, err := s.mutate(ctx, visitorID, sessionID, func(sess *session.Session) error {
		sess.Reset()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logEvent(visitorID, sessionID, "session_reset", "", map[string]any{"forget_profile": false})
	return sess, nil
}

// Clear returns the session to its empty state.
func (s *Service) Clear(ctx context.Context, visitorID, sessionID string) (*session.Session, error) {
	sess, err := s.mutate(ctx, visitorID, sessionID, func(sess *session.Session) error {
		sess.Clear()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logEvent(visitorID, sessionID, "session_reset", "", map[string]any{"forget_profile": true})
	return sess, nil
}

// GenerateRecommendation drains the pending recommendation command,
// streaming snapshots of the text to onUpdate. The command is settled
// whatever the outcome; on a generation failure the settled session is
// returned together with the error. A missing credential leaves the
// command queued and the session unchanged.
func (s *Service) GenerateRecommendation(ctx context.Context, visitorID, sessionID string, onUpdate gateway.UpdateFunc) (*session.Session, error) {
	key := domain.SessionKey(visitorID, sessionID)
	if _, busy := s.inflight.LoadOrStore(key, struct{}{}); busy {
		return nil, ErrGenerationInProgress
	}
	defer s.inflight.Delete(key)

	unlock := s.locks.Lock(key)
	sess, err := s.load(ctx, visitorID, sessionID)
	if err != nil {
		unlock()
		return nil, err
	}
	cmd, ok := sess.Pending()
	if !ok {
		unlock()
		return sess, ErrNothingPending
	}
	profile, ok := sess.Profile()
	if !ok {
		// A queued command without a profile cannot be generated.
		err := s.settle(ctx, sess, cmd, session.Failed(session.ErrNoProfile.Error()))
		unlock()
		if err != nil {
			return nil, err
		}
		return sess, session.ErrNoProfile
	}
	gw, err := s.gatewayFor(ctx)
	if err != nil {
		unlock()
		return sess, err
	}
	promptText, err := prompt.Recommendation(profile, string(cmd.Kind))
	if err != nil {
		unlock()
		return nil, err
	}
	if err := sess.Dispatch(cmd.ID); err != nil {
		unlock()
		return nil, err
	}
	if err := s.save(ctx, sess); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	s.logEvent(visitorID, sessionID, "recommendation_requested", "", map[string]any{
		"command_id": cmd.ID,
		"kind":       cmd.Kind,
		"model":      s.opts.RecommendModel,
	})

	genCtx, cancel := context.WithTimeout(ctx, s.opts.GenerationTimeout)
	defer cancel()
	started := time.Now()
	text, genErr := gateway.Complete(genCtx, gw, gateway.Request{
		Model:  s.opts.RecommendModel,
		Prompt: promptText,
	}, onUpdate)

	outcome := session.Succeeded(text)
	if genErr != nil {
		outcome = session.Failed(failureReason(genErr))
		s.logger.Warn("Recommendation generation failed",
			"visitor_id", visitorID,
			"session_id", sessionID,
			"command_id", cmd.ID,
			"error", genErr,
		)
	}

	// The request may be gone; the outcome is still recorded.
	saveCtx := context.WithoutCancel(ctx)
	unlock = s.locks.Lock(key)
	defer unlock()

	sess, err = s.load(saveCtx, visitorID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.settle(saveCtx, sess, cmd, outcome); err != nil {
		if errors.Is(err, session.ErrStaleCommand) {
			s.logger.Info("Discarding recommendation for a superseded command",
				"visitor_id", visitorID,
				"session_id", sessionID,
				"command_id", cmd.ID,
			)
			return sess, genErr
		}
		return nil, err
	}

	eventType := "recommendation_generated"
	if genErr != nil {
		eventType = "recommendation_failed"
	}
	s.logEvent(visitorID, sessionID, eventType, text, map[string]any{
		"command_id":  cmd.ID,
		"duration_ms": time.Since(started).Milliseconds(),
		"error":       outcome.Reason,
	})
	return sess, genErr
}

// Ask answers a free-text question using the recent conversation. It
// does not touch the recommendation queue. On a generation failure the
// apology is stored as the reply and the error is returned with the session.
func (s *Service) Ask(ctx context.Context, visitorID, sessionID, question string, onUpdate gateway.UpdateFunc) (*session.Session, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	key := domain.SessionKey(visitorID, sessionID)

	unlock := s.locks.Lock(key)
	sess, err := s.load(ctx, visitorID, sessionID)
	if err != nil {
		unlock()
		return nil, err
	}
	profile, ok := sess.Profile()
	if !ok {
		unlock()
		return nil, session.ErrNoProfile
	}
	gw, err := s.gatewayFor(ctx)
	if err != nil {
		unlock()
		return nil, err
	}
	userMsg := sess.AppendUser(question)
	promptText, err := prompt.FollowUp(profile, sess.History(s.opts.HistoryWindow), question)
	if err != nil {
		unlock()
		return nil, err
	}
	if err := s.save(ctx, sess); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	s.logEvent(visitorID, sessionID, "chat_user_message", question, map[string]any{
		"message_id": userMsg.ID,
	})

	genCtx, cancel := context.WithTimeout(ctx, s.opts.GenerationTimeout)
	defer cancel()
	text, genErr := gateway.Complete(genCtx, gw, gateway.Request{
		Model:  s.opts.ChatModel,
		Prompt: promptText,
	}, onUpdate)
	if genErr != nil {
		s.logger.Warn("Follow-up generation failed",
			"visitor_id", visitorID,
			"session_id", sessionID,
			"error", genErr,
		)
		text = FollowUpApology
	}

	saveCtx := context.WithoutCancel(ctx)
	unlock = s.locks.Lock(key)
	defer unlock()

	sess, err = s.load(saveCtx, visitorID, sessionID)
	if err != nil {
		return nil, err
	}
	asked := lo.ContainsBy(sess.Messages(), func(m domain.Message) bool { return m.ID == userMsg.ID })
	if !asked {
		// The conversation was reset while the answer was generated.
		return sess, genErr
	}
	sess.AppendAssistant(text)
	if err := s.save(saveCtx, sess); err != nil {
		return nil, err
	}

	s.logEvent(visitorID, sessionID, "chat_assistant_message", text, map[string]any{
		"reply_to": userMsg.ID,
		"failed":   genErr != nil,
	})
	return sess, genErr
}

// QuickAction runs one of the canned follow-up buttons. The alternative
// action queues and generates a new recommendation; the others ask their
// fixed question.
func (s *Service) QuickAction(ctx context.Context, visitorID, sessionID string, action prompt.QuickAction, onUpdate gateway.UpdateFunc) (*session.Session, error) {
	if action == prompt.QuickAlternative {
		if _, err := s.RequestAlternative(ctx, visitorID, sessionID); err != nil {
			return nil, err
		}
		return s.GenerateRecommendation(ctx, visitorID, sessionID, onUpdate)
	}
	question, ok := prompt.QuickQuestion(action)
	if !ok {
		return nil, fmt.Errorf("unknown quick action %q", action)
	}
	return s.Ask(ctx, visitorID, sessionID, question, onUpdate)
}

func (s *Service) gatewayFor(ctx context.Context) (gateway.Gateway, error) {
	apiKey, err := s.creds.APIKey()
	if err != nil {
		return nil, err
	}
	gw, err := s.gateways.ForKey(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}
	return gw, nil
}

func (s *Service) mutate(ctx context.Context, visitorID, sessionID string, fn func(*session.Session) error) (*session.Session, error) {
	unlock := s.locks.Lock(domain.SessionKey(visitorID, sessionID))
	defer unlock()

	sess, err := s.load(ctx, visitorID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) settle(ctx context.Context, sess *session.Session, cmd session.Command, outcome session.Outcome) error {
	if err := sess.Settle(cmd.ID, outcome); err != nil {
		return err
	}
	return s.save(ctx, sess)
}

func (s *Service) load(ctx context.Context, visitorID, sessionID string) (*session.Session, error) {
	rec, err := s.repo.GetSession(ctx, visitorID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if rec == nil {
		return session.New(visitorID, sessionID), nil
	}
	sess, err := session.FromRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", rec.Key(), err)
	}
	return sess, nil
}

func (s *Service) save(ctx context.Context, sess *session.Session) error {
	rec, err := sess.Record()
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.repo.UpsertSession(ctx, rec); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Service) logEvent(visitorID, sessionID, eventType, content string, meta map[string]any) {
	direction := "outbound"
	switch eventType {
	case "recommendation_generated", "recommendation_failed", "chat_assistant_message":
		direction = "inbound"
	}
	s.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		VisitorID:  visitorID,
		SessionID:  sessionID,
		Channel:    "concierge",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}

// failureReason is the user-facing cause stored in LastError.
func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "the model did not answer in time"
	case errors.Is(err, context.Canceled):
		return "the request was cancelled"
	}
	var genErr *gateway.GenerationError
	if errors.As(err, &genErr) {
		return genErr.Reason
	}
	return err.Error()
}
