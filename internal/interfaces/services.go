package interfaces

import (
	"context"
	"time"

	"github.com/meetsmatch/roommates/internal/database"
)

// ProfileSource supplies profile snapshots. It is read-only from the matching side.
type ProfileSource interface {
	GetProfile(ctx context.Context, id string) (*database.Profile, error)
	ListActiveProfiles(ctx context.Context) ([]database.Profile, error)
}

// PairTx is the view of a single unordered pair inside MatchStore.WithPair.
type PairTx = database.PairTx

// MatchStore persists match records.
type MatchStore interface {
	// InsertMatches stores new records and silently skips any whose
	// (seeker, candidate) direction already exists. It returns the stored ones.
	InsertMatches(ctx context.Context, matches []database.Match) ([]database.Match, error)
	GetMatch(ctx context.Context, id string) (*database.Match, error)
	ListMatchesBySeeker(ctx context.Context, seekerID string) ([]database.Match, error)
	// WithPair runs fn as one atomic read-modify-write over both directions of {a, b}.
	WithPair(ctx context.Context, a, b string, fn func(tx database.PairTx) error) error
}

// ConversationIssuer is the messaging collaborator. It must return the same id
// when asked twice for the same pair.
type ConversationIssuer interface {
	IssueConversation(ctx context.Context, pairKey, profileA, profileB string) (string, error)
}

// Narrator produces a short human readable explanation of a compatibility score.
type Narrator interface {
	Narrate(ctx context.Context, a, b *database.Profile, score int) (string, error)
}

// Notifier tells both sides of a mutual match about it.
type Notifier interface {
	NotifyMutual(ctx context.Context, a, b *database.Profile, conversationID string) error
}

// Cache is the subset of the Redis service the matching layer uses.
// GetCache returns an error on a miss.
type Cache interface {
	SetCache(ctx context.Context, key string, data interface{}, ttl time.Duration) error
	GetCache(ctx context.Context, key string, dest interface{}) error
	DeleteCache(ctx context.Context, key string) error
}

// MatchingServiceInterface defines the matching operations exposed to transports
type MatchingServiceInterface interface {
	GenerateMatches(ctx context.Context, profileID string) ([]database.Match, error)
	ListMatches(ctx context.Context, profileID string, status database.MatchStatus) ([]database.Match, error)
	ListMutualMatches(ctx context.Context, profileID string) ([]database.Match, error)
	MatchStats(ctx context.Context, profileID string) (*database.MatchStats, error)
	Like(ctx context.Context, actorProfileID, matchID string) (*TransitionResult, error)
	Decline(ctx context.Context, actorProfileID, matchID string) (*TransitionResult, error)
	RetryConversation(ctx context.Context, matchID string) (*TransitionResult, error)
	GetMatch(ctx context.Context, actorProfileID, matchID string) (*database.Match, error)
	Explain(ctx context.Context, actorProfileID, matchID string) (string, error)
	ScorePair(ctx context.Context, profileA, profileB string) (*database.Match, error)
}

// TransitionResult is what a lifecycle operation changed.
type TransitionResult struct {
	Match               database.Match  `json:"match"`
	Reciprocal          *database.Match `json:"reciprocal,omitempty"`
	Promoted            bool            `json:"promoted"`
	ConversationPending bool            `json:"conversation_pending"`
	At                  time.Time       `json:"at"`
}
