// Package session implements the per-visitor conversation state: the
// single live travel profile, the chat transcript and the recommendation
// request protocol.
//
// A Session is owned by whoever loaded it (usually one HTTP request). It is
// not safe for concurrent use; callers serialize access per session key.
package session

import (
	"errors"
	"time"

	"github.com/ashureev/tripmate/internal/domain"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// DefaultHistoryWindow is how many prior messages follow-up prompts carry.
const DefaultHistoryWindow = 10

var (
	// ErrNoProfile is returned by operations that need a submitted profile.
	ErrNoProfile = errors.New("no travel profile submitted")
	// ErrUnknownSample is returned for a sample shortcut that does not exist.
	ErrUnknownSample = errors.New("unknown sample profile")
	// ErrStaleCommand is returned when settling a command that is no longer pending.
	ErrStaleCommand = errors.New("recommendation command is not pending")
)

// State of the recommendation protocol.
type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending_recommendation"
)

// Kind distinguishes the first recommendation from follow-up alternatives.
type Kind string

const (
	KindFirst       Kind = "first"
	KindAlternative Kind = "alternative"
)

// Command is a queued request to generate a recommendation.
type Command struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	RequestedAt time.Time `json:"requested_at"`
	// Dispatched is set once generation has started for this command.
	Dispatched bool `json:"dispatched,omitempty"`
}

// Outcome settles a pending command.
type Outcome struct {
	Success bool
	Content string
	Reason  string
}

// Succeeded is the outcome of a generation that produced content.
func Succeeded(content string) Outcome {
	return Outcome{Success: true, Content: content}
}

// Failed is the outcome of a generation that could not complete.
func Failed(reason string) Outcome {
	return Outcome{Reason: reason}
}

// Session is one visitor tab's conversation.
type Session struct {
	visitorID    string
	id           string
	profile      *domain.Profile
	messages     []domain.Message
	pending      *Command
	triggerCount int
	lastError    string
	createdAt    time.Time
	updatedAt    time.Time
}

// New creates an empty session.
func New(visitorID, sessionID string) *Session {
	now := time.Now()
	return &Session{
		visitorID: visitorID,
		id:        sessionID,
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the tab session ID.
func (s *Session) ID() string { return s.id }

// VisitorID returns the owning visitor.
func (s *Session) VisitorID() string { return s.visitorID }

// Key returns the composite visitor/session key.
func (s *Session) Key() string { return domain.SessionKey(s.visitorID, s.id) }

// TriggerCount returns how many recommendations were requested since the last reset.
func (s *Session) TriggerCount() int { return s.triggerCount }

// LastError returns the reason the last recommendation failed, if any.
func (s *Session) LastError() string { return s.lastError }

// UpdatedAt returns the time of the last mutation.
func (s *Session) UpdatedAt() time.Time { return s.updatedAt }

// Profile returns the live profile.
func (s *Session) Profile() (domain.Profile, bool) {
	if s.profile == nil {
		return domain.Profile{}, false
	}
	p := *s.profile
	p.Interests = append([]domain.Interest(nil), p.Interests...)
	return p, true
}

// SetProfile validates and stores p, replacing any previous profile, and
// requests a recommendation for it. On validation failure nothing changes.
func (s *Session) SetProfile(p domain.Profile) (Command, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return Command{}, err
	}
	s.profile = &p
	return s.requestRecommendation(), nil
}

// ApplySample stores the named sample profile and requests a recommendation.
func (s *Session) ApplySample(name string) (Command, error) {
	sample, ok := domain.LookupSample(name)
	if !ok {
		return Command{}, ErrUnknownSample
	}
	return s.SetProfile(sample.Profile)
}

// RequestAlternative asks for a different set of destinations for the
// current profile.
func (s *Session) RequestAlternative() (Command, error) {
	if s.profile == nil {
		return Command{}, ErrNoProfile
	}
	return s.requestRecommendation(), nil
}

// requestRecommendation moves the session to StatePending. At most one
// command is queued: a request while one is waiting refreshes its kind. A
// request after the command was dispatched replaces it with a new one, so
// the running generation settles as stale.
func (s *Session) requestRecommendation() Command {
	s.triggerCount++
	kind := KindAlternative
	if s.triggerCount == 1 {
		kind = KindFirst
	}
	if s.pending != nil && !s.pending.Dispatched {
		s.pending.Kind = kind
	} else {
		s.pending = &Command{
			ID:          uuid.NewString(),
			Kind:        kind,
			RequestedAt: time.Now(),
		}
	}
	s.touch()
	return *s.pending
}

// Pending returns the queued recommendation command, if any.
func (s *Session) Pending() (Command, bool) {
	if s.pending == nil {
		return Command{}, false
	}
	return *s.pending, true
}

// Dispatch marks the pending command identified by id as being generated.
// Later requests no longer coalesce into it.
func (s *Session) Dispatch(id string) error {
	if s.pending == nil || s.pending.ID != id {
		return ErrStaleCommand
	}
	s.pending.Dispatched = true
	s.touch()
	return nil
}

// State reports whether a recommendation is waiting to be generated.
func (s *Session) State() State {
	if s.pending != nil {
		return StatePending
	}
	return StateIdle
}

// Settle resolves the pending command identified by id. Success appends
// exactly one assistant message; failure records the reason. Either way
// the session returns to StateIdle.
func (s *Session) Settle(id string, outcome Outcome) error {
	if s.pending == nil || s.pending.ID != id {
		return ErrStaleCommand
	}
	s.pending = nil
	s.stripTriggers()
	if outcome.Success {
		s.lastError = ""
		s.append(domain.RoleAssistant, outcome.Content)
	} else {
		s.lastError = outcome.Reason
	}
	s.touch()
	return nil
}

// Reset clears the transcript, the counter and any queued request. The
// profile is kept so follow-up actions remain available.
func (s *Session) Reset() {
	s.messages = nil
	s.pending = nil
	s.triggerCount = 0
	s.lastError = ""
	s.touch()
}

// Clear returns the session to its empty state, profile included.
func (s *Session) Clear() {
	s.Reset()
	s.profile = nil
}

// AppendUser adds a user message to the transcript.
func (s *Session) AppendUser(content string) domain.Message {
	return s.append(domain.RoleUser, content)
}

// AppendAssistant adds an assistant message to the transcript.
func (s *Session) AppendAssistant(content string) domain.Message {
	return s.append(domain.RoleAssistant, content)
}

func (s *Session) append(role domain.Role, content string) domain.Message {
	msg := domain.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.messages = append(s.messages, msg)
	s.touch()
	return msg
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []domain.Message {
	return append([]domain.Message(nil), s.messages...)
}

// History returns the last n content messages, oldest first.
func (s *Session) History(n int) []domain.Message {
	if n <= 0 {
		n = DefaultHistoryWindow
	}
	content := lo.Reject(s.messages, func(m domain.Message, _ int) bool { return m.IsTrigger() })
	if len(content) > n {
		content = content[len(content)-n:]
	}
	return content
}

// stripTriggers removes legacy sentinel entries and reports how many were found.
func (s *Session) stripTriggers() int {
	before := len(s.messages)
	s.messages = lo.Reject(s.messages, func(m domain.Message, _ int) bool { return m.IsTrigger() })
	return before - len(s.messages)
}

func (s *Session) touch() {
	s.updatedAt = time.Now()
}
