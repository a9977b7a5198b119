package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetsmatch/roommates/internal/database"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestGenerator() *MatchGenerator {
	n := 0
	return NewMatchGenerator(nil,
		WithClock(func() time.Time { return fixedNow }),
		WithIDFactory(func() string { n++; return fmt.Sprintf("m%d", n) }),
	)
}

// candidatePool returns candidates with descending compatibility against newProfile("s").
func candidatePool() []database.Profile {
	best := newProfile("best")

	good := newProfile("good")
	good.Preferences.SleepSchedule = database.SleepScheduleNightOwl

	fair := newProfile("fair")
	fair.BudgetMin, fair.BudgetMax = 1000, 1500
	fair.Location = "Hamburg"

	poor := newProfile("poor")
	poor.BudgetMin, poor.BudgetMax = 2000, 3000
	poor.Location = "Paris"
	poor.Lifestyle = database.Lifestyle{Interests: []string{"opera"}, Languages: []string{"french"}}
	poor.Preferences = database.Preferences{
		PropertyTypes: []string{"house"},
		Bedrooms:      []int{4},
		Cleanliness:   1,
		SocialLevel:   5,
		Pets:          database.StanceYes,
		Smoking:       database.StanceYes,
		Guests:        "often",
		SleepSchedule: database.SleepScheduleNightOwl,
	}

	return []database.Profile{poor, fair, good, best}
}

func TestGenerate_RanksAndFilters(t *testing.T) {
	g := newTestGenerator()
	seeker := newProfile("s")

	matches := g.Generate(seeker, candidatePool(), nil)
	require.Len(t, matches, 3)

	ids := []string{matches[0].CandidateProfileID, matches[1].CandidateProfileID, matches[2].CandidateProfileID}
	assert.Equal(t, []string{"best", "good", "fair"}, ids)

	for i, m := range matches {
		assert.Equal(t, "s", m.SeekerProfileID)
		assert.Equal(t, database.MatchStatusPending, m.Status)
		assert.GreaterOrEqual(t, m.Score, DefaultMinScore)
		assert.Equal(t, fixedNow, m.CreatedAt)
		assert.NotEmpty(t, m.ID)
		if i > 0 {
			assert.GreaterOrEqual(t, matches[i-1].Score, m.Score)
		}
	}
}

func TestGenerate_ExcludesSelfAndInactive(t *testing.T) {
	g := newTestGenerator()
	seeker := newProfile("s")

	inactive := newProfile("inactive")
	inactive.IsActive = false

	matches := g.Generate(seeker, []database.Profile{seeker, inactive, newProfile("ok")}, nil)
	require.Len(t, matches, 1)
	assert.Equal(t, "ok", matches[0].CandidateProfileID)
}

func TestGenerate_InactiveSeeker(t *testing.T) {
	g := newTestGenerator()
	seeker := newProfile("s")
	seeker.IsActive = false

	assert.Empty(t, g.Generate(seeker, candidatePool(), nil))
}

func TestGenerate_NoDuplicates(t *testing.T) {
	g := newTestGenerator()
	seeker := newProfile("s")
	pool := candidatePool()

	first := g.Generate(seeker, pool, nil)
	require.NotEmpty(t, first)

	second := g.Generate(seeker, pool, first)
	assert.Empty(t, second)

	// A pool that lists a candidate twice still yields one proposal.
	dup := g.Generate(seeker, []database.Profile{newProfile("x"), newProfile("x")}, nil)
	assert.Len(t, dup, 1)

	// Existing matches only exclude their candidate.
	existing := []database.Match{{SeekerProfileID: "s", CandidateProfileID: "best"}}
	for _, m := range g.Generate(seeker, pool, existing) {
		assert.NotEqual(t, "best", m.CandidateProfileID)
	}
}

func TestGenerate_IncomingRecordsDoNotBlockReverseProposal(t *testing.T) {
	g := newTestGenerator()
	seeker := newProfile("s")

	incoming := []database.Match{{SeekerProfileID: "best", CandidateProfileID: "s"}}
	matches := g.Generate(seeker, []database.Profile{newProfile("best")}, incoming)
	require.Len(t, matches, 1)
	assert.Equal(t, "best", matches[0].CandidateProfileID)
}

func TestGenerate_GenderPreferenceExcludesRegardlessOfScore(t *testing.T) {
	g := newTestGenerator()
	seeker := seekingGender(newProfile("s"), "female")
	candidate := withGender(newProfile("c"), "male")

	require.Equal(t, 100, NewCompatibilityScorer().Score(seeker, candidate).Score)
	assert.Empty(t, g.Generate(seeker, []database.Profile{candidate}, nil))
}

func TestGenerate_ReverseEligibility(t *testing.T) {
	g := newTestGenerator()
	seeker := withGender(newProfile("s"), "male")
	candidate := seekingGender(newProfile("c"), "female")

	assert.Empty(t, g.Generate(seeker, []database.Profile{candidate}, nil))
}

func TestGenerate_TiesKeepPoolOrder(t *testing.T) {
	g := newTestGenerator()
	seeker := newProfile("s")

	pool := []database.Profile{newProfile("c1"), newProfile("c2"), newProfile("c3")}
	matches := g.Generate(seeker, pool, nil)
	require.Len(t, matches, 3)
	assert.Equal(t, "c1", matches[0].CandidateProfileID)
	assert.Equal(t, "c2", matches[1].CandidateProfileID)
	assert.Equal(t, "c3", matches[2].CandidateProfileID)
}

func TestGenerate_MinScoreOption(t *testing.T) {
	g := NewMatchGenerator(nil, WithMinScore(101))
	assert.Empty(t, g.Generate(newProfile("s"), candidatePool(), nil))
}
