package services

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetsmatch/roommates/internal/database"
)

func TestBudgetScore(t *testing.T) {
	tests := []struct {
		name     string
		a, b     [2]float64
		expected float64
	}{
		{"Partial overlap", [2]float64{800, 1200}, [2]float64{1000, 1500}, 44.444},
		{"Identical ranges", [2]float64{800, 1200}, [2]float64{800, 1200}, 100},
		{"Disjoint ranges", [2]float64{500, 700}, [2]float64{900, 1200}, 0},
		{"Both single points", [2]float64{1000, 1000}, [2]float64{1000, 1000}, 100},
		{"Different single points", [2]float64{900, 900}, [2]float64{1000, 1000}, 100},
		{"Nested range", [2]float64{0, 2000}, [2]float64{900, 1000}, 100 * 100 / 1050.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := database.Profile{BudgetMin: tt.a[0], BudgetMax: tt.a[1]}
			b := database.Profile{BudgetMin: tt.b[0], BudgetMax: tt.b[1]}
			assert.InDelta(t, tt.expected, budgetScore(a, b), 0.01)
			assert.InDelta(t, budgetScore(a, b), budgetScore(b, a), 1e-9)
		})
	}
}

func TestLocationScore(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"Exact match", "berlin, mitte", "berlin, mitte", 100},
		{"Same city other district", "berlin, mitte", "berlin, kreuzberg", 50},
		{"Different token counts", "berlin, mitte, north", "berlin, mitte", 100 * 2 / 3.0},
		{"No common tokens", "paris", "berlin", 0},
		{"One side empty", "", "berlin", 0},
		{"Both empty", "", "", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, locationScore(tt.a, tt.b), 0.01)
			assert.InDelta(t, locationScore(tt.a, tt.b), locationScore(tt.b, tt.a), 1e-9)
		})
	}
}

func TestLifestyleScore_InterestsTerm(t *testing.T) {
	a := database.Profile{Lifestyle: database.Lifestyle{Interests: []string{"cooking", "gaming"}}}
	b := database.Profile{Lifestyle: database.Lifestyle{Interests: []string{"gaming", "reading"}}}
	a, b = a.Normalized(), b.Normalized()

	// Neutral levels give the full 15 + 15, no shared language gives 0.
	assert.InDelta(t, 20+30.0, lifestyleScore(a, b), 1e-9)
}

func TestLifestyleScore_Terms(t *testing.T) {
	a := newProfile("a").Normalized()
	b := newProfile("b").Normalized()
	assert.InDelta(t, 100, lifestyleScore(a, b), 1e-9)

	b.Lifestyle.Languages = []string{"german"}
	assert.InDelta(t, 70, lifestyleScore(a, b), 1e-9)

	b.Preferences.Cleanliness = 1
	assert.InDelta(t, 70-9, lifestyleScore(a, b), 1e-9)

	a.Lifestyle.Interests, b.Lifestyle.Interests = nil, nil
	assert.InDelta(t, 70-9-40, lifestyleScore(a, b), 1e-9)
}

func TestLevelScore(t *testing.T) {
	assert.Equal(t, 15.0, levelScore(3, 3))
	assert.Equal(t, 12.0, levelScore(2, 3))
	assert.Equal(t, 3.0, levelScore(1, 5))
	assert.Equal(t, levelScore(5, 1), levelScore(1, 5))
}

func TestPreferencesScore(t *testing.T) {
	a := newProfile("a").Preferences
	b := newProfile("b").Preferences
	assert.Equal(t, 100.0, preferencesScore(a, b))

	b.PropertyTypes = []string{"house"}
	assert.Equal(t, 75.0, preferencesScore(a, b))

	b.Bedrooms = []int{1, 3}
	assert.Equal(t, 55.0, preferencesScore(a, b))

	b.Pets = database.StanceNegotiable
	assert.Equal(t, 35.0, preferencesScore(a, b))

	b.Smoking = database.StanceYes
	assert.Equal(t, 20.0, preferencesScore(a, b))

	b.WorkFromHome = false
	b.Guests = "often"
	assert.Equal(t, 0.0, preferencesScore(a, b))
}

func TestScheduleScore(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"Both flexible", database.SleepScheduleFlexible, database.SleepScheduleFlexible, 75},
		{"One flexible", database.SleepScheduleFlexible, database.SleepScheduleNightOwl, 75},
		{"Identical", database.SleepScheduleNightOwl, database.SleepScheduleNightOwl, 100},
		{"Different", database.SleepScheduleEarlyBird, database.SleepScheduleNightOwl, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, scheduleScore(tt.a, tt.b))
		})
	}
}

func TestScore_MissingFieldsAreNeutral(t *testing.T) {
	scorer := NewCompatibilityScorer()

	var a, b database.Profile
	result := scorer.Score(a, b)

	// Budget 100 (both single points), location 100 (both empty), lifestyle 30
	// (levels only), preferences 55 (stances, wfh, guests), schedule 75 (flexible).
	assert.InDelta(t, 100, result.Breakdown.Budget, 1e-9)
	assert.InDelta(t, 100, result.Breakdown.Location, 1e-9)
	assert.InDelta(t, 30, result.Breakdown.Lifestyle, 1e-9)
	assert.InDelta(t, 55, result.Breakdown.Preferences, 1e-9)
	assert.InDelta(t, 75, result.Breakdown.Schedule, 1e-9)
	assert.Equal(t, 70, result.Score)
}

func TestScore_WeightedComposite(t *testing.T) {
	scorer := NewCompatibilityScorer()

	a := newProfile("a")
	b := newProfile("b")
	assert.Equal(t, 100, scorer.Score(a, b).Score)

	b.BudgetMin, b.BudgetMax = 1000, 1500
	b.Location = "Hamburg"
	b.Preferences.SleepSchedule = database.SleepScheduleNightOwl

	result := scorer.Score(a, b)
	expected := 0.25*44.444 + 0.15*0 + 0.25*100 + 0.20*100 + 0.15*40
	assert.InDelta(t, 44.444, result.Breakdown.Budget, 0.01)
	assert.Equal(t, 62, result.Score)
	assert.InDelta(t, expected, float64(result.Score), 0.5)
}

func TestScore_SymmetryAndRange(t *testing.T) {
	scorer := NewCompatibilityScorer()
	rng := rand.New(rand.NewSource(42))

	interests := []string{"cooking", "gaming", "reading", "hiking", "music"}
	languages := []string{"english", "german", "spanish"}
	schedules := []string{"", database.SleepScheduleFlexible, database.SleepScheduleEarlyBird, database.SleepScheduleNightOwl}
	stances := []database.Stance{"", database.StanceYes, database.StanceNo, database.StanceNegotiable}
	locations := []string{"", "berlin", "Berlin, Mitte", "berlin, kreuzberg", "hamburg, altona, west"}

	pick := func(tags []string) []string {
		var out []string
		for _, tag := range tags {
			if rng.Intn(2) == 0 {
				out = append(out, tag)
			}
		}
		return out
	}

	randomProfile := func(i int) database.Profile {
		lo := float64(rng.Intn(1500))
		return database.Profile{
			ID:        fmt.Sprintf("p%d", i),
			BudgetMin: lo,
			BudgetMax: lo + float64(rng.Intn(800)),
			Location:  locations[rng.Intn(len(locations))],
			Lifestyle: database.Lifestyle{Interests: pick(interests), Languages: pick(languages)},
			Preferences: database.Preferences{
				PropertyTypes: pick([]string{"apartment", "house", "studio"}),
				Bedrooms:      []int{rng.Intn(4)},
				Cleanliness:   rng.Intn(6),
				SocialLevel:   rng.Intn(6),
				Pets:          stances[rng.Intn(len(stances))],
				Smoking:       stances[rng.Intn(len(stances))],
				WorkFromHome:  rng.Intn(2) == 0,
				Guests:        []string{"", "never", "sometimes"}[rng.Intn(3)],
				SleepSchedule: schedules[rng.Intn(len(schedules))],
			},
			IsActive: true,
		}
	}

	for i := 0; i < 200; i++ {
		a, b := randomProfile(2*i), randomProfile(2*i+1)
		ab, ba := scorer.Score(a, b), scorer.Score(b, a)

		require.Equal(t, ab, ba, "score must be symmetric for %+v and %+v", a, b)
		assert.GreaterOrEqual(t, ab.Score, 0)
		assert.LessOrEqual(t, ab.Score, 100)
		for _, sub := range []float64{ab.Breakdown.Budget, ab.Breakdown.Location, ab.Breakdown.Lifestyle, ab.Breakdown.Preferences, ab.Breakdown.Schedule} {
			assert.GreaterOrEqual(t, sub, 0.0)
			assert.LessOrEqual(t, sub, 100.0)
		}
	}
}
