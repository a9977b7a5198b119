package services

import (
	"math"
	"strings"

	"github.com/meetsmatch/roommates/internal/database"
)

// ScoreWeights are the shares of each factor in the composite score. They sum to 1.
type ScoreWeights struct {
	Budget      float64
	Location    float64
	Lifestyle   float64
	Preferences float64
	Schedule    float64
}

// DefaultScoreWeights is the production weighting.
var DefaultScoreWeights = ScoreWeights{
	Budget:      0.25,
	Location:    0.15,
	Lifestyle:   0.25,
	Preferences: 0.20,
	Schedule:    0.15,
}

// Lifestyle term budgets.
const (
	interestsPoints   = 40.0
	languagesPoints   = 30.0
	levelPoints       = 15.0
	levelPenaltyPoint = 3.0
)

// Preferences term points.
const (
	propertyTypePoints = 25.0
	bedroomPoints      = 20.0
	petPoints          = 20.0
	smokingPoints      = 15.0
	workFromHomePoints = 10.0
	guestPoints        = 10.0
)

// Schedule outcomes.
const (
	scheduleSame     = 100.0
	scheduleFlexible = 75.0
	scheduleDiffer   = 40.0
)

// Compatibility is the composite score of a profile pair and its factor breakdown.
type Compatibility struct {
	Score     int                `json:"score"`
	Breakdown database.Breakdown `json:"breakdown"`
}

// CompatibilityScorer computes pairwise compatibility. It holds no mutable
// state and is safe for concurrent use.
type CompatibilityScorer struct {
	weights ScoreWeights
}

func NewCompatibilityScorer() *CompatibilityScorer {
	return &CompatibilityScorer{weights: DefaultScoreWeights}
}

// Score rates profiles a and b. Missing optional fields are read as neutral
// values and every factor is symmetric in its arguments, so Score(a, b) equals
// Score(b, a).
func (s *CompatibilityScorer) Score(a, b database.Profile) Compatibility {
	a, b = a.Normalized(), b.Normalized()

	breakdown := database.Breakdown{
		Budget:      clampScore(budgetScore(a, b)),
		Location:    clampScore(locationScore(a.Location, b.Location)),
		Lifestyle:   clampScore(lifestyleScore(a, b)),
		Preferences: clampScore(preferencesScore(a.Preferences, b.Preferences)),
		Schedule:    clampScore(scheduleScore(a.Preferences.SleepSchedule, b.Preferences.SleepSchedule)),
	}

	total := s.weights.Budget*breakdown.Budget +
		s.weights.Location*breakdown.Location +
		s.weights.Lifestyle*breakdown.Lifestyle +
		s.weights.Preferences*breakdown.Preferences +
		s.weights.Schedule*breakdown.Schedule

	return Compatibility{
		Score:     int(clampScore(math.Round(total))),
		Breakdown: breakdown,
	}
}

func budgetScore(a, b database.Profile) float64 {
	overlap := math.Max(0, math.Min(a.BudgetMax, b.BudgetMax)-math.Max(a.BudgetMin, b.BudgetMin))
	avgRange := ((a.BudgetMax - a.BudgetMin) + (b.BudgetMax - b.BudgetMin)) / 2
	if avgRange == 0 {
		return 100
	}
	return 100 * overlap / avgRange
}

// locationScore compares comma separated location tokens position by position.
// Identical strings score 100, including two empty ones.
func locationScore(a, b string) float64 {
	if a == b {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}

	ta, tb := splitLocation(a), splitLocation(b)
	longest := len(ta)
	if len(tb) > longest {
		longest = len(tb)
	}

	matched := 0
	for i := 0; i < len(ta) && i < len(tb); i++ {
		if ta[i] != "" && ta[i] == tb[i] {
			matched++
		}
	}
	return 100 * float64(matched) / float64(longest)
}

func splitLocation(location string) []string {
	parts := strings.Split(location, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func lifestyleScore(a, b database.Profile) float64 {
	score := 0.0

	common := countCommon(a.Lifestyle.Interests, b.Lifestyle.Interests)
	if largest := maxInt(len(a.Lifestyle.Interests), len(b.Lifestyle.Interests)); largest > 0 {
		score += interestsPoints * float64(common) / float64(largest)
	}

	if countCommon(a.Lifestyle.Languages, b.Lifestyle.Languages) > 0 {
		score += languagesPoints
	}

	score += levelScore(a.Preferences.Cleanliness, b.Preferences.Cleanliness)
	score += levelScore(a.Preferences.SocialLevel, b.Preferences.SocialLevel)
	return score
}

// levelScore loses levelPenaltyPoint of its budget per unit of difference.
func levelScore(a, b int) float64 {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return math.Max(0, levelPoints-levelPenaltyPoint*float64(diff))
}

func preferencesScore(a, b database.Preferences) float64 {
	score := 0.0
	if countCommon(a.PropertyTypes, b.PropertyTypes) > 0 {
		score += propertyTypePoints
	}
	if intersectsInts(a.Bedrooms, b.Bedrooms) {
		score += bedroomPoints
	}
	if a.Pets == b.Pets {
		score += petPoints
	}
	if a.Smoking == b.Smoking {
		score += smokingPoints
	}
	if a.WorkFromHome == b.WorkFromHome {
		score += workFromHomePoints
	}
	if a.Guests == b.Guests {
		score += guestPoints
	}
	return score
}

// scheduleScore checks flexibility first, so two flexible sleepers score 75.
func scheduleScore(a, b string) float64 {
	switch {
	case a == database.SleepScheduleFlexible || b == database.SleepScheduleFlexible:
		return scheduleFlexible
	case a == b:
		return scheduleSame
	default:
		return scheduleDiffer
	}
}

// countCommon counts tags present in both lists. Inputs are already deduplicated.
func countCommon(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	n := 0
	for _, v := range b {
		if _, ok := set[v]; ok {
			n++
		}
	}
	return n
}

func intersectsInts(a, b []int) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func clampScore(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
