package domain

import "sort"

// Sample is a canned profile offered as a one-click shortcut.
type Sample struct {
	Name    string  `json:"name"`
	Title   string  `json:"title"`
	Profile Profile `json:"profile"`
}

var samples = map[string]Sample{
	"family": {
		Name:  "family",
		Title: "Family trip",
		Profile: Profile{
			Age:         40,
			Gender:      GenderMale,
			Personality: "ISFJ",
			Budget:      Budget2MTo3M,
			Style:       StyleBalanced,
			Duration:    Duration5To7Days,
			Interests:   []Interest{InterestFood, InterestNature, InterestLocal},
			Destination: DestinationInternational,
			Season:      SeasonSummer,
			Notes:       "Family trip with two elementary-school children",
		},
	},
	"couple": {
		Name:  "couple",
		Title: "Couple trip",
		Profile: Profile{
			Age:         28,
			Gender:      GenderFemale,
			Personality: "ENFP",
			Budget:      Budget1MTo2M,
			Style:       StyleRelaxation,
			Duration:    Duration3To4Days,
			Interests:   []Interest{InterestFood, InterestPhotography, InterestNightlife},
			Destination: DestinationInternational,
			Season:      SeasonAutumn,
			Notes:       "A romantic trip with my partner",
		},
	},
	"solo": {
		Name:  "solo",
		Title: "Solo trip",
		Profile: Profile{
			Age:         25,
			Gender:      GenderMale,
			Personality: "INTP",
			Budget:      Budget500KTo1M,
			Style:       StyleSightseeing,
			Duration:    Duration1To2Weeks,
			Interests:   []Interest{InterestHistory, InterestArt, InterestLocal},
			Destination: DestinationDomestic,
			Season:      SeasonSpring,
			Notes:       "Exploring slowly on my own",
		},
	},
}

// LookupSample returns the named sample with its own copy of the interests.
func LookupSample(name string) (Sample, bool) {
	s, ok := samples[name]
	if !ok {
		return Sample{}, false
	}
	s.Profile.Interests = append([]Interest(nil), s.Profile.Interests...)
	return s, true
}

// Samples returns every sample ordered by name.
func Samples() []Sample {
	out := make([]Sample, 0, len(samples))
	for name := range samples {
		s, _ := LookupSample(name)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
