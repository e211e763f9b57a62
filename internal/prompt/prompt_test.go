package prompt

import (
	"strings"
	"testing"

	"github.com/ashureev/tripmate/internal/domain"
)

func TestRecommendationIncludesProfile(t *testing.T) {
	p := domain.DefaultProfile()
	p.Age = 40
	p.Personality = "ISFJ"
	p.Notes = "traveling with kids"

	got, err := Recommendation(p, "first")
	if err != nil {
		t.Fatalf("Recommendation failed: %v", err)
	}
	for _, want := range []string{
		"Recommend first travel destinations",
		"Age: 40, Male",
		"MBTI: ISFJ",
		"Budget: 1,000,000 - 2,000,000 KRW (per person)",
		"Interests: Food & dining, Nature & scenery",
		"Special requirements: traveling with kids",
		"Top 3 destinations",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestRecommendationOmitsUnsetOptionalLines(t *testing.T) {
	p := domain.DefaultProfile()

	got, err := Recommendation(p, "alternative")
	if err != nil {
		t.Fatalf("Recommendation failed: %v", err)
	}
	if strings.Contains(got, "MBTI") {
		t.Error("MBTI line must be omitted when unset")
	}
	if strings.Contains(got, "Special requirements") {
		t.Error("notes line must be omitted when empty")
	}
	if !strings.Contains(got, "Recommend alternative travel destinations") {
		t.Error("expected alternative wording")
	}
}

func TestFollowUpIncludesHistoryAndQuestion(t *testing.T) {
	p := domain.DefaultProfile()
	history := []domain.Message{
		{Role: domain.RoleAssistant, Content: "Visit Gyeongju."},
		{Role: domain.RoleSystemTrigger, Content: "generate_recommendation"},
		{Role: domain.RoleUser, Content: "What about food?"},
	}

	got, err := FollowUp(p, history, "What about food?")
	if err != nil {
		t.Fatalf("FollowUp failed: %v", err)
	}
	if !strings.Contains(got, "assistant: Visit Gyeongju.") {
		t.Errorf("history missing:\n%s", got)
	}
	if strings.Contains(got, "generate_recommendation") {
		t.Error("trigger entries must not reach the prompt")
	}
	if !strings.Contains(got, "[Question]\nWhat about food?") {
		t.Errorf("question missing:\n%s", got)
	}
}

func TestParseQuickAction(t *testing.T) {
	tests := []struct {
		in      string
		want    QuickAction
		wantErr bool
	}{
		{in: "lodging", want: QuickLodging},
		{in: " Food ", want: QuickFood},
		{in: "transit", want: QuickTransit},
		{in: "alternative", want: QuickAlternative},
		{in: "weather", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseQuickAction(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseQuickAction(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseQuickAction(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, ok := QuickQuestion(QuickAlternative); ok {
		t.Error("alternative has no canned question")
	}
	if q, ok := QuickQuestion(QuickLodging); !ok || q == "" {
		t.Error("lodging must have a canned question")
	}
}
