package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
	"golang.org/x/text/unicode/norm"
)

// Age bounds accepted by the profile form.
const (
	MinAge       = 10
	MaxAge       = 80
	maxNotesRune = 1000
)

// Gender is the traveler's self-described gender.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Personality is an MBTI personality code. The empty value means unknown.
type Personality string

// PersonalityUnknown is what the form submits when the traveler skips the field.
const PersonalityUnknown Personality = "unknown"

// BudgetBand is the per-person budget range in KRW.
type BudgetBand string

const (
	BudgetUnder500K BudgetBand = "under_500k"
	Budget500KTo1M  BudgetBand = "500k_1m"
	Budget1MTo2M    BudgetBand = "1m_2m"
	Budget2MTo3M    BudgetBand = "2m_3m"
	BudgetOver3M    BudgetBand = "over_3m"
)

// TravelStyle is the preferred pace of the trip.
type TravelStyle string

const (
	StyleSightseeing TravelStyle = "sightseeing"
	StyleRelaxation  TravelStyle = "relaxation"
	StyleBalanced    TravelStyle = "balanced"
)

// Duration is the planned trip length.
type Duration string

const (
	Duration1To2Days  Duration = "1_2_days"
	Duration3To4Days  Duration = "3_4_days"
	Duration5To7Days  Duration = "5_7_days"
	Duration1To2Weeks Duration = "1_2_weeks"
	DurationOver2Week Duration = "over_2_weeks"
)

// Interest is one of the selectable travel interests.
type Interest string

const (
	InterestFood        Interest = "food"
	InterestHistory     Interest = "history_culture"
	InterestNature      Interest = "nature"
	InterestShopping    Interest = "shopping"
	InterestSports      Interest = "sports_activities"
	InterestArt         Interest = "art_museums"
	InterestNightlife   Interest = "nightlife"
	InterestPhotography Interest = "photography"
	InterestLocal       Interest = "local_experiences"
	InterestFestivals   Interest = "festivals"
)

// DestinationPreference restricts where recommendations may point.
type DestinationPreference string

const (
	DestinationDomestic      DestinationPreference = "domestic"
	DestinationInternational DestinationPreference = "international"
	DestinationAny           DestinationPreference = "any"
)

// Season is the intended travel period.
type Season string

const (
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonAutumn Season = "autumn"
	SeasonWinter Season = "winter"
	SeasonAny    Season = "any"
)

// Option is a selectable form value with its display label.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Option tables, in form display order.
var (
	GenderOptions = []Option{
		{string(GenderMale), "Male"},
		{string(GenderFemale), "Female"},
		{string(GenderOther), "Other"},
	}
	PersonalityOptions = []Option{
		{string(PersonalityUnknown), "Not sure"},
		{"INTJ", "INTJ"}, {"INTP", "INTP"}, {"ENTJ", "ENTJ"}, {"ENTP", "ENTP"},
		{"INFJ", "INFJ"}, {"INFP", "INFP"}, {"ENFJ", "ENFJ"}, {"ENFP", "ENFP"},
		{"ISTJ", "ISTJ"}, {"ISFJ", "ISFJ"}, {"ESTJ", "ESTJ"}, {"ESFJ", "ESFJ"},
		{"ISTP", "ISTP"}, {"ISFP", "ISFP"}, {"ESTP", "ESTP"}, {"ESFP", "ESFP"},
	}
	BudgetOptions = []Option{
		{string(BudgetUnder500K), "Under 500,000 KRW"},
		{string(Budget500KTo1M), "500,000 - 1,000,000 KRW"},
		{string(Budget1MTo2M), "1,000,000 - 2,000,000 KRW"},
		{string(Budget2MTo3M), "2,000,000 - 3,000,000 KRW"},
		{string(BudgetOver3M), "Over 3,000,000 KRW"},
	}
	StyleOptions = []Option{
		{string(StyleSightseeing), "Sightseeing focused"},
		{string(StyleRelaxation), "Relaxation focused"},
		{string(StyleBalanced), "Balanced"},
	}
	DurationOptions = []Option{
		{string(Duration1To2Days), "1-2 days"},
		{string(Duration3To4Days), "3-4 days"},
		{string(Duration5To7Days), "5-7 days"},
		{string(Duration1To2Weeks), "1-2 weeks"},
		{string(DurationOver2Week), "Over 2 weeks"},
	}
	InterestOptions = []Option{
		{string(InterestFood), "Food & dining"},
		{string(InterestHistory), "History & culture"},
		{string(InterestNature), "Nature & scenery"},
		{string(InterestShopping), "Shopping"},
		{string(InterestSports), "Sports & activities"},
		{string(InterestArt), "Art & museums"},
		{string(InterestNightlife), "Nightlife"},
		{string(InterestPhotography), "Photography"},
		{string(InterestLocal), "Local experiences"},
		{string(InterestFestivals), "Festivals & events"},
	}
	DestinationOptions = []Option{
		{string(DestinationDomestic), "Domestic"},
		{string(DestinationInternational), "International"},
		{string(DestinationAny), "No preference"},
	}
	SeasonOptions = []Option{
		{string(SeasonSpring), "Spring (Mar-May)"},
		{string(SeasonSummer), "Summer (Jun-Aug)"},
		{string(SeasonAutumn), "Autumn (Sep-Nov)"},
		{string(SeasonWinter), "Winter (Dec-Feb)"},
		{string(SeasonAny), "No preference"},
	}
)

// Label returns the display label for value in options, or value itself
// when it is not listed.
func Label(options []Option, value string) string {
	opt, ok := lo.Find(options, func(o Option) bool { return o.Value == value })
	if !ok {
		return value
	}
	return opt.Label
}

func known(options []Option, value string) bool {
	return lo.ContainsBy(options, func(o Option) bool { return o.Value == value })
}

// Profile is the traveler's preference form.
type Profile struct {
	Age         int                   `json:"age"`
	Gender      Gender                `json:"gender"`
	Personality Personality           `json:"personality,omitempty"`
	Budget      BudgetBand            `json:"budget"`
	Style       TravelStyle           `json:"style"`
	Duration    Duration              `json:"duration"`
	Interests   []Interest            `json:"interests"`
	Destination DestinationPreference `json:"destination"`
	Season      Season                `json:"season"`
	Notes       string                `json:"notes,omitempty"`
}

// DefaultProfile returns the values the form starts with.
func DefaultProfile() Profile {
	return Profile{
		Age:         30,
		Gender:      GenderMale,
		Budget:      Budget1MTo2M,
		Style:       StyleSightseeing,
		Duration:    Duration3To4Days,
		Interests:   []Interest{InterestFood, InterestNature},
		Destination: DestinationDomestic,
		Season:      SeasonSpring,
	}
}

// Normalize canonicalizes free text and removes duplicate interests.
func (p Profile) Normalize() Profile {
	p.Notes = strings.TrimSpace(norm.NFC.String(p.Notes))
	p.Personality = Personality(strings.ToUpper(strings.TrimSpace(string(p.Personality))))
	if p.Personality == "UNKNOWN" {
		p.Personality = ""
	}
	interests := lo.Map(p.Interests, func(i Interest, _ int) Interest {
		return Interest(strings.TrimSpace(string(i)))
	})
	p.Interests = lo.Uniq(lo.Compact(interests))
	return p
}

// HasPersonality reports whether a personality code was given.
func (p Profile) HasPersonality() bool {
	return p.Personality != ""
}

// InterestLabels returns the display labels of the selected interests.
func (p Profile) InterestLabels() []string {
	return lo.Map(p.Interests, func(i Interest, _ int) string {
		return Label(InterestOptions, string(i))
	})
}

// Validate checks the profile. Callers normalize first.
func (p Profile) Validate() error {
	verr := &ValidationError{}
	if len(p.Interests) == 0 {
		verr.add("interests", "select at least one interest")
	}
	for _, i := range p.Interests {
		if !known(InterestOptions, string(i)) {
			verr.add("interests", fmt.Sprintf("unknown interest %q", i))
		}
	}
	if p.Age < MinAge || p.Age > MaxAge {
		verr.add("age", fmt.Sprintf("age must be between %d and %d", MinAge, MaxAge))
	}
	if !known(GenderOptions, string(p.Gender)) {
		verr.add("gender", fmt.Sprintf("unknown gender %q", p.Gender))
	}
	if p.HasPersonality() && !known(PersonalityOptions, string(p.Personality)) {
		verr.add("personality", fmt.Sprintf("unknown personality type %q", p.Personality))
	}
	if !known(BudgetOptions, string(p.Budget)) {
		verr.add("budget", fmt.Sprintf("unknown budget band %q", p.Budget))
	}
	if !known(StyleOptions, string(p.Style)) {
		verr.add("style", fmt.Sprintf("unknown travel style %q", p.Style))
	}
	if !known(DurationOptions, string(p.Duration)) {
		verr.add("duration", fmt.Sprintf("unknown duration %q", p.Duration))
	}
	if !known(DestinationOptions, string(p.Destination)) {
		verr.add("destination", fmt.Sprintf("unknown destination preference %q", p.Destination))
	}
	if !known(SeasonOptions, string(p.Season)) {
		verr.add("season", fmt.Sprintf("unknown season %q", p.Season))
	}
	if utf8.RuneCountInString(p.Notes) > maxNotesRune {
		verr.add("notes", fmt.Sprintf("notes must be at most %d characters", maxNotesRune))
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// FieldError describes one invalid profile field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when a submitted profile is rejected.
// The session is left untouched.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) Error() string {
	msgs := lo.Map(e.Fields, func(f FieldError, _ int) string {
		return f.Field + ": " + f.Message
	})
	return "invalid profile: " + strings.Join(msgs, "; ")
}
