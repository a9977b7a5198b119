package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/meetsmatch/roommates/internal/cache"
	"github.com/meetsmatch/roommates/internal/database"
	apperrors "github.com/meetsmatch/roommates/internal/errors"
	"github.com/meetsmatch/roommates/internal/interfaces"
	"github.com/meetsmatch/roommates/internal/monitoring"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

// MatchingConfig tunes the matching service.
type MatchingConfig struct {
	MinScore            int           `mapstructure:"min_score"`
	MaxPromotionRetries int           `mapstructure:"max_promotion_retries"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	NarrationTimeout    time.Duration `mapstructure:"narration_timeout"`
}

// DefaultMatchingConfig returns the production defaults.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		MinScore:            DefaultMinScore,
		MaxPromotionRetries: 3,
		RetryBackoff:        20 * time.Millisecond,
		NarrationTimeout:    DefaultNarrationTimeout,
	}
}

// MatchingDeps are the collaborators of the matching service. Narrator,
// Notifier, Cache and Metrics are optional.
type MatchingDeps struct {
	Profiles interfaces.ProfileSource
	Store    interfaces.MatchStore
	Issuer   interfaces.ConversationIssuer
	Narrator interfaces.Narrator
	Notifier interfaces.Notifier
	Cache    interfaces.Cache
	Metrics  *monitoring.MatchingInstrumentation
}

// MatchingService wires profile sources, stores and collaborators around the
// generator and lifecycle.
type MatchingService struct {
	profiles  interfaces.ProfileSource
	store     interfaces.MatchStore
	scorer    *CompatibilityScorer
	generator *MatchGenerator
	lifecycle *MatchLifecycle
	narration *NarrationService
	notifier  interfaces.Notifier
	cache     interfaces.Cache
	metrics   *monitoring.MatchingInstrumentation
	config    MatchingConfig
}

var _ interfaces.MatchingServiceInterface = (*MatchingService)(nil)

func NewMatchingService(deps MatchingDeps, config MatchingConfig, opts ...GeneratorOption) *MatchingService {
	if config.MinScore <= 0 {
		config.MinScore = DefaultMinScore
	}
	if config.MaxPromotionRetries < 0 {
		config.MaxPromotionRetries = 0
	}

	scorer := NewCompatibilityScorer()
	opts = append([]GeneratorOption{WithMinScore(config.MinScore)}, opts...)

	return &MatchingService{
		profiles:  deps.Profiles,
		store:     deps.Store,
		scorer:    scorer,
		generator: NewMatchGenerator(scorer, opts...),
		lifecycle: NewMatchLifecycle(deps.Store, deps.Issuer),
		narration: NewNarrationService(deps.Narrator, deps.Cache, deps.Metrics, config.NarrationTimeout),
		notifier:  deps.Notifier,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		config:    config,
	}
}

func (s *MatchingService) loadProfile(ctx context.Context, id string) (*database.Profile, error) {
	profile, err := s.profiles.GetProfile(ctx, id)
	if err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("profile").WithMetadata("profile_id", id)
		}
		return nil, apperrors.NewDatabaseError("get_profile", err)
	}
	return profile, nil
}

// GenerateMatches proposes and stores new matches for profileID. Pairs that
// already have a record in that direction are skipped, so repeated calls only
// add candidates that became eligible since the last run.
func (s *MatchingService) GenerateMatches(ctx context.Context, profileID string) (_ []database.Match, err error) {
	ctx, span := telemetry.StartSpan(ctx, "matching.generate", attribute.String("profile.id", profileID))
	defer func() { telemetry.EndSpan(span, err) }()

	start := time.Now()
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation":  "generate_matches",
		"profile_id": profileID,
	})

	seeker, err := s.loadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if !seeker.IsActive {
		logger.Info("Seeker is inactive, nothing to generate")
		return []database.Match{}, nil
	}

	var (
		pool     []database.Profile
		existing []database.Match
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pool, err = s.profiles.ListActiveProfiles(gctx)
		if err != nil {
			return fmt.Errorf("failed to list profiles: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		existing, err = s.store.ListMatchesBySeeker(gctx, profileID)
		if err != nil {
			return fmt.Errorf("failed to list existing matches: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Failed to load generation inputs")
		return nil, apperrors.NewDatabaseError("load_generation_inputs", err)
	}

	proposals := s.generator.Generate(*seeker, pool, existing)
	stored, err := s.store.InsertMatches(ctx, proposals)
	if err != nil {
		logger.WithError(err).Error("Failed to store generated matches")
		return nil, apperrors.NewDatabaseError("insert_matches", err)
	}
	if stored == nil {
		stored = []database.Match{}
	}

	s.invalidate(ctx, profileID)
	s.metrics.RecordGeneration(ctx, len(stored), time.Since(start))

	logger.WithFields(map[string]interface{}{
		"pool_size": len(pool),
		"existing":  len(existing),
		"proposed":  len(proposals),
		"stored":    len(stored),
	}).Info("Generated matches")
	return stored, nil
}

// ListMatches returns the profile's outgoing matches, best first, optionally
// narrowed to one status.
func (s *MatchingService) ListMatches(ctx context.Context, profileID string, status database.MatchStatus) ([]database.Match, error) {
	if status != "" && !status.Valid() {
		return nil, apperrors.NewValidationError("status", fmt.Sprintf("unknown match status %q", status))
	}

	matches, err := s.seekerMatches(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return matches, nil
	}

	filtered := make([]database.Match, 0, len(matches))
	for _, m := range matches {
		if m.Status == status {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

// ListMutualMatches returns matches that reached mutual, with or without a conversation.
func (s *MatchingService) ListMutualMatches(ctx context.Context, profileID string) ([]database.Match, error) {
	matches, err := s.seekerMatches(ctx, profileID)
	if err != nil {
		return nil, err
	}

	mutual := make([]database.Match, 0)
	for _, m := range matches {
		if m.Status == database.MatchStatusMutual || m.Status == database.MatchStatusChatting {
			mutual = append(mutual, m)
		}
	}
	return mutual, nil
}

// MatchStats counts the profile's outgoing matches by status.
func (s *MatchingService) MatchStats(ctx context.Context, profileID string) (*database.MatchStats, error) {
	matches, err := s.seekerMatches(ctx, profileID)
	if err != nil {
		return nil, err
	}

	stats := &database.MatchStats{}
	for _, m := range matches {
		stats.Add(m.Status)
	}
	return stats, nil
}

func (s *MatchingService) seekerMatches(ctx context.Context, profileID string) ([]database.Match, error) {
	key := cache.MatchListKey(profileID)
	if s.cache != nil {
		var cached []database.Match
		if err := s.cache.GetCache(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	matches, err := s.store.ListMatchesBySeeker(ctx, profileID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_matches", err)
	}
	if matches == nil {
		matches = []database.Match{}
	}

	if s.cache != nil {
		if err := s.cache.SetCache(ctx, key, matches, cache.MatchCacheTTL); err != nil {
			telemetry.GetContextualLogger(ctx).WithField("profile_id", profileID).WithError(err).Debug("Failed to cache match list")
		}
	}
	return matches, nil
}

func (s *MatchingService) invalidate(ctx context.Context, profileIDs ...string) {
	if s.cache == nil {
		return
	}
	for _, id := range profileIDs {
		if err := s.cache.DeleteCache(ctx, cache.MatchListKey(id)); err != nil {
			telemetry.GetContextualLogger(ctx).WithField("profile_id", id).WithError(err).Warn("Failed to invalidate match cache")
		}
	}
}

// Like applies the lifecycle like, retrying retryable pair conflicts.
func (s *MatchingService) Like(ctx context.Context, actorProfileID, matchID string) (*interfaces.TransitionResult, error) {
	result, err := s.withRetry(ctx, "like", func() (*interfaces.TransitionResult, error) {
		return s.lifecycle.Like(ctx, actorProfileID, matchID)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, result.Match.SeekerProfileID, result.Match.CandidateProfileID)
	if result.Promoted {
		s.metrics.RecordPromotion(ctx, result.ConversationPending)
		if !result.ConversationPending {
			s.notifyMutual(ctx, &result.Match)
		}
	}
	return result, nil
}

// Decline applies the lifecycle decline, retrying retryable pair conflicts.
func (s *MatchingService) Decline(ctx context.Context, actorProfileID, matchID string) (*interfaces.TransitionResult, error) {
	result, err := s.withRetry(ctx, "decline", func() (*interfaces.TransitionResult, error) {
		return s.lifecycle.Decline(ctx, actorProfileID, matchID)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, result.Match.SeekerProfileID)
	return result, nil
}

// RetryConversation attaches a conversation to a mutual pair left without one.
func (s *MatchingService) RetryConversation(ctx context.Context, matchID string) (*interfaces.TransitionResult, error) {
	result, err := s.withRetry(ctx, "attach_conversation", func() (*interfaces.TransitionResult, error) {
		return s.lifecycle.AttachConversation(ctx, matchID)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, result.Match.SeekerProfileID, result.Match.CandidateProfileID)
	if !result.ConversationPending {
		s.notifyMutual(ctx, &result.Match)
	}
	return result, nil
}

func (s *MatchingService) withRetry(ctx context.Context, operation string, fn func() (*interfaces.TransitionResult, error)) (*interfaces.TransitionResult, error) {
	logger := telemetry.GetContextualLogger(ctx).WithField("operation", operation)

	var err error
	for attempt := 0; attempt <= s.config.MaxPromotionRetries; attempt++ {
		var result *interfaces.TransitionResult
		result, err = fn()
		if err == nil {
			s.metrics.RecordTransition(ctx, operation, "ok")
			return result, nil
		}
		if !apperrors.IsRetryable(err) {
			break
		}

		s.metrics.RecordConflict(ctx, operation)
		logger.WithField("attempt", attempt+1).WithError(err).Warn("Pair conflict, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.config.RetryBackoff * time.Duration(attempt+1)):
		}
	}

	outcome := "error"
	if errType, ok := apperrors.GetErrorType(err); ok {
		outcome = string(errType)
	}
	s.metrics.RecordTransition(ctx, operation, outcome)
	return nil, err
}

// notifyMutual tells both sides about a new conversation. Failures are logged only.
func (s *MatchingService) notifyMutual(ctx context.Context, match *database.Match) {
	if s.notifier == nil || match.ConversationID == nil {
		return
	}
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "notify_mutual",
		"pair_key":  match.PairKey(),
	})

	a, err := s.loadProfile(ctx, match.SeekerProfileID)
	if err != nil {
		logger.WithError(err).Warn("Skipping mutual notification")
		return
	}
	b, err := s.loadProfile(ctx, match.CandidateProfileID)
	if err != nil {
		logger.WithError(err).Warn("Skipping mutual notification")
		return
	}

	if err := s.notifier.NotifyMutual(ctx, a, b, *match.ConversationID); err != nil {
		logger.WithError(err).Warn("Mutual notification failed")
	}
}

// GetMatch returns a stored match to either side of it.
func (s *MatchingService) GetMatch(ctx context.Context, actorProfileID, matchID string) (*database.Match, error) {
	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("match").WithMetadata("match_id", matchID)
		}
		return nil, apperrors.NewDatabaseError("get_match", err)
	}
	if _, ok := match.Counterpart(actorProfileID); !ok {
		return nil, apperrors.NewAuthorizationError("match does not involve this profile").
			WithMetadata("match_id", matchID)
	}
	return match, nil
}

// Explain narrates a stored match for either side of it.
func (s *MatchingService) Explain(ctx context.Context, actorProfileID, matchID string) (string, error) {
	match, err := s.GetMatch(ctx, actorProfileID, matchID)
	if err != nil {
		return "", err
	}

	a, err := s.loadProfile(ctx, match.SeekerProfileID)
	if err != nil {
		return "", err
	}
	b, err := s.loadProfile(ctx, match.CandidateProfileID)
	if err != nil {
		return "", err
	}
	return s.narration.Explain(ctx, a, b, match.Score), nil
}

// ScorePair scores two profiles on demand without storing anything. The
// returned match carries no id or status.
func (s *MatchingService) ScorePair(ctx context.Context, profileA, profileB string) (*database.Match, error) {
	if profileA == profileB {
		return nil, apperrors.NewValidationError("b", "profiles must differ")
	}
	a, err := s.loadProfile(ctx, profileA)
	if err != nil {
		return nil, err
	}
	b, err := s.loadProfile(ctx, profileB)
	if err != nil {
		return nil, err
	}

	result := s.scorer.Score(*a, *b)
	now := time.Now().UTC()
	return &database.Match{
		SeekerProfileID:    a.ID,
		CandidateProfileID: b.ID,
		Score:              result.Score,
		Breakdown:          result.Breakdown,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}
