package concierge

import (
	"errors"
	"net/http"
	"time"

	"github.com/ashureev/tripmate/internal/config"
	"github.com/ashureev/tripmate/internal/domain"
	"github.com/ashureev/tripmate/internal/gateway"
	"github.com/ashureev/tripmate/internal/prompt"
	"github.com/ashureev/tripmate/internal/render"
	"github.com/ashureev/tripmate/internal/session"
	"github.com/samber/lo"
)

// MessageView is a transcript entry as sent to clients.
type MessageView struct {
	ID        string      `json:"id"`
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	HTML      string      `json:"html"`
	CreatedAt time.Time   `json:"created_at"`
}

// SessionView is the client-facing state of a tab session.
type SessionView struct {
	SessionID    string           `json:"session_id"`
	Profile      *domain.Profile  `json:"profile"`
	Messages     []MessageView    `json:"messages"`
	TriggerCount int              `json:"trigger_count"`
	State        session.State    `json:"state"`
	Pending      *session.Command `json:"pending,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
}

// NewSessionView renders sess for clients.
func NewSessionView(sess *session.Session, r *render.Renderer) SessionView {
	view := SessionView{
		SessionID:    sess.ID(),
		TriggerCount: sess.TriggerCount(),
		State:        sess.State(),
		LastError:    sess.LastError(),
		Messages: lo.Map(sess.Messages(), func(m domain.Message, _ int) MessageView {
			return NewMessageView(m, r)
		}),
	}
	if p, ok := sess.Profile(); ok {
		view.Profile = &p
	}
	if cmd, ok := sess.Pending(); ok {
		view.Pending = &cmd
	}
	return view
}

// NewMessageView renders one message.
func NewMessageView(m domain.Message, r *render.Renderer) MessageView {
	return MessageView{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		HTML:      r.Message(m),
		CreatedAt: m.CreatedAt,
	}
}

// QuickActionView describes one quick action button.
type QuickActionView struct {
	Action   prompt.QuickAction `json:"action"`
	Question string             `json:"question,omitempty"`
}

// OptionsView is everything the profile form needs.
type OptionsView struct {
	Genders       []domain.Option   `json:"genders"`
	Personalities []domain.Option   `json:"personalities"`
	Budgets       []domain.Option   `json:"budgets"`
	Styles        []domain.Option   `json:"styles"`
	Durations     []domain.Option   `json:"durations"`
	Interests     []domain.Option   `json:"interests"`
	Destinations  []domain.Option   `json:"destinations"`
	Seasons       []domain.Option   `json:"seasons"`
	Defaults      domain.Profile    `json:"defaults"`
	Samples       []domain.Sample   `json:"samples"`
	QuickActions  []QuickActionView `json:"quick_actions"`
	PendingState  session.State     `json:"pending_state"`
}

// NewOptionsView collects the form tables.
func NewOptionsView() OptionsView {
	actions := lo.Map(
		[]prompt.QuickAction{prompt.QuickLodging, prompt.QuickFood, prompt.QuickTransit, prompt.QuickAlternative},
		func(a prompt.QuickAction, _ int) QuickActionView {
			q, _ := prompt.QuickQuestion(a)
			return QuickActionView{Action: a, Question: q}
		},
	)
	return OptionsView{
		Genders:       domain.GenderOptions,
		Personalities: domain.PersonalityOptions,
		Budgets:       domain.BudgetOptions,
		Styles:        domain.StyleOptions,
		Durations:     domain.DurationOptions,
		Interests:     domain.InterestOptions,
		Destinations:  domain.DestinationOptions,
		Seasons:       domain.SeasonOptions,
		Defaults:      domain.DefaultProfile(),
		Samples:       domain.Samples(),
		QuickActions:  actions,
		PendingState:  session.StatePending,
	}
}

// ErrorView is the JSON body of failed requests.
type ErrorView struct {
	Error       string              `json:"error"`
	Fields      []domain.FieldError `json:"fields,omitempty"`
	Remediation string              `json:"remediation,omitempty"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ResetRequest is the body of POST /api/reset.
type ResetRequest struct {
	ForgetProfile bool `json:"forget_profile"`
}

func remediationFor(status config.CredentialStatus) string {
	if status.Remediation != "" {
		return status.Remediation
	}
	return config.Remediation
}

// DescribeError maps a service error to an HTTP status and a client view.
// creds supplies the remediation for a missing credential.
func DescribeError(err error, creds config.CredentialStatus) (int, ErrorView) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, ErrorView{Error: "invalid profile", Fields: verr.Fields}
	case errors.Is(err, config.ErrMissingCredential):
		return http.StatusServiceUnavailable, ErrorView{
			Error:       err.Error(),
			Remediation: remediationFor(creds),
		}
	case errors.Is(err, session.ErrUnknownSample):
		return http.StatusNotFound, ErrorView{Error: err.Error()}
	case errors.Is(err, session.ErrNoProfile),
		errors.Is(err, ErrGenerationInProgress),
		errors.Is(err, ErrNothingPending):
		return http.StatusConflict, ErrorView{Error: err.Error()}
	case errors.Is(err, ErrEmptyQuestion):
		return http.StatusBadRequest, ErrorView{Error: err.Error()}
	case errors.Is(err, gateway.ErrGenerationFailed):
		return http.StatusBadGateway, ErrorView{Error: failureReason(err)}
	default:
		return http.StatusInternalServerError, ErrorView{Error: "internal error"}
	}
}
