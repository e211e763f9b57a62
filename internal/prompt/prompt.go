// Package prompt renders the generation prompts sent to the model.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/ashureev/tripmate/internal/domain"
	"github.com/samber/lo"
)

// QuickAction is one of the canned follow-up buttons.
type QuickAction string

const (
	QuickLodging     QuickAction = "lodging"
	QuickFood        QuickAction = "food"
	QuickTransit     QuickAction = "transit"
	QuickAlternative QuickAction = "alternative"
)

var quickQuestions = map[QuickAction]string{
	QuickLodging: "Please recommend places to stay at the destinations you suggested, grouped by price range.",
	QuickFood:    "Please recommend local restaurants and the dishes I must try.",
	QuickTransit: "How do I get to the destination, and how should I get around once I'm there?",
}

// QuickQuestion returns the question a quick action asks. The alternative
// action has no question; it requests a new recommendation instead.
func QuickQuestion(action QuickAction) (string, bool) {
	q, ok := quickQuestions[action]
	return q, ok
}

// ParseQuickAction validates a quick action name.
func ParseQuickAction(name string) (QuickAction, error) {
	action := QuickAction(strings.ToLower(strings.TrimSpace(name)))
	switch action {
	case QuickLodging, QuickFood, QuickTransit, QuickAlternative:
		return action, nil
	default:
		return "", fmt.Errorf("unknown quick action %q", name)
	}
}

var recommendationTmpl = template.Must(template.New("recommendation").Parse(
	`You are a professional travel consultant. Recommend {{.Kind}} travel destinations for a traveler with the following profile.

[Traveler profile]
- Age: {{.Profile.Age}}, {{.Gender}}
{{- if .Personality}}
- MBTI: {{.Personality}}
{{- end}}
- Budget: {{.Budget}} (per person)
- Trip length: {{.Duration}}
- Travel style: {{.Style}}
- Interests: {{.Interests}}
- Preferred region: {{.Destination}}
- Travel period: {{.Season}}
{{- if .Profile.Notes}}
- Special requirements: {{.Profile.Notes}}
{{- end}}

Recommend three destinations in the following format:

1. **Top 3 destinations**
   For each destination:
   - Name and a short introduction
   - Why it fits this profile
   - Expected cost
   - Best season
   - Three main sights or activities

2. **Tailored travel tips**
   - Three tips that especially help this traveler

3. **Things to keep in mind**
   - Cautions or things to prepare

Write in a friendly, enthusiastic tone while staying specific and practical.
Use emoji where they make the answer easier to read.
`))

var followUpTmpl = template.Must(template.New("followup").Parse(
	`You are a professional travel consultant.

[Traveler profile]
- Age: {{.Profile.Age}}, {{.Gender}}
- Budget: {{.Budget}}
- Interests: {{.Interests}}
- Travel style: {{.Style}}

[Previous conversation]
{{range .History}}{{.Role}}: {{.Content}}

{{end}}
[Question]
{{.Question}}

Answer helpfully and warmly based on the information above.
Include concrete information and practical tips.
`))

type promptData struct {
	Profile     domain.Profile
	Gender      string
	Personality string
	Budget      string
	Duration    string
	Style       string
	Interests   string
	Destination string
	Season      string

	Kind     string
	History  []domain.Message
	Question string
}

func viewOf(p domain.Profile) promptData {
	v := promptData{
		Profile:     p,
		Gender:      domain.Label(domain.GenderOptions, string(p.Gender)),
		Budget:      domain.Label(domain.BudgetOptions, string(p.Budget)),
		Duration:    domain.Label(domain.DurationOptions, string(p.Duration)),
		Style:       domain.Label(domain.StyleOptions, string(p.Style)),
		Interests:   strings.Join(p.InterestLabels(), ", "),
		Destination: domain.Label(domain.DestinationOptions, string(p.Destination)),
		Season:      domain.Label(domain.SeasonOptions, string(p.Season)),
	}
	if p.HasPersonality() {
		v.Personality = string(p.Personality)
	}
	return v
}

// Recommendation renders the destination recommendation prompt. kind is
// "first" or "alternative".
func Recommendation(p domain.Profile, kind string) (string, error) {
	data := viewOf(p)
	data.Kind = kind

	var buf bytes.Buffer
	if err := recommendationTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render recommendation prompt: %w", err)
	}
	return buf.String(), nil
}

// FollowUp renders the free-text question prompt with prior conversation.
func FollowUp(p domain.Profile, history []domain.Message, question string) (string, error) {
	data := viewOf(p)
	data.History = lo.Reject(history, func(m domain.Message, _ int) bool { return m.IsTrigger() })
	data.Question = question

	var buf bytes.Buffer
	if err := followUpTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render follow-up prompt: %w", err)
	}
	return buf.String(), nil
}
