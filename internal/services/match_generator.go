package services

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/meetsmatch/roommates/internal/database"
)

// DefaultMinScore is the lowest composite score worth proposing.
const DefaultMinScore = 50

// MatchGenerator turns a candidate pool into ranked pending proposals for one
// seeker. It keeps no state between calls; persisting the output is up to the caller.
type MatchGenerator struct {
	scorer   *CompatibilityScorer
	minScore int
	now      func() time.Time
	newID    func() string
}

// GeneratorOption customizes a MatchGenerator.
type GeneratorOption func(*MatchGenerator)

func WithMinScore(score int) GeneratorOption {
	return func(g *MatchGenerator) { g.minScore = score }
}

func WithClock(now func() time.Time) GeneratorOption {
	return func(g *MatchGenerator) { g.now = now }
}

func WithIDFactory(newID func() string) GeneratorOption {
	return func(g *MatchGenerator) { g.newID = newID }
}

func NewMatchGenerator(scorer *CompatibilityScorer, opts ...GeneratorOption) *MatchGenerator {
	if scorer == nil {
		scorer = NewCompatibilityScorer()
	}
	g := &MatchGenerator{
		scorer:   scorer,
		minScore: DefaultMinScore,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate proposes new pending matches for seeker out of pool. Candidates
// already proposed in seeker's existing outgoing matches are skipped, so calling
// it again with the stored result never repeats a pair. An inactive seeker gets
// no proposals. The output is ordered by score, highest first, with ties in pool order.
func (g *MatchGenerator) Generate(seeker database.Profile, pool []database.Profile, existing []database.Match) []database.Match {
	if !seeker.IsActive {
		return nil
	}

	proposed := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		if m.SeekerProfileID == seeker.ID {
			proposed[m.CandidateProfileID] = struct{}{}
		}
	}

	now := g.now()
	var matches []database.Match
	for _, candidate := range pool {
		if candidate.ID == seeker.ID || !candidate.IsActive {
			continue
		}
		if _, ok := proposed[candidate.ID]; ok {
			continue
		}
		if !MutuallyEligible(seeker, candidate) {
			continue
		}

		result := g.scorer.Score(seeker, candidate)
		if result.Score < g.minScore {
			continue
		}

		// Guards against a pool listing the same candidate twice.
		proposed[candidate.ID] = struct{}{}
		matches = append(matches, database.Match{
			ID:                 g.newID(),
			SeekerProfileID:    seeker.ID,
			CandidateProfileID: candidate.ID,
			Score:              result.Score,
			Breakdown:          result.Breakdown,
			Status:             database.MatchStatusPending,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}
