package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/meetsmatch/roommates/internal/database"
	apperrors "github.com/meetsmatch/roommates/internal/errors"
	"github.com/meetsmatch/roommates/internal/interfaces"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

// MatchLifecycle moves stored matches through pending, liked, declined,
// mutual and chatting. Every transition runs inside the store's pair section
// so the two directions of a pair are always read and written together.
type MatchLifecycle struct {
	store  interfaces.MatchStore
	issuer interfaces.ConversationIssuer
	now    func() time.Time
}

func NewMatchLifecycle(store interfaces.MatchStore, issuer interfaces.ConversationIssuer) *MatchLifecycle {
	return &MatchLifecycle{
		store:  store,
		issuer: issuer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Like marks the actor's match as liked. When the reciprocal record is liked
// too, both become mutual and receive one shared conversation id, which moves
// them to chatting. Liking a mutual or chatting match again changes nothing
// except attaching a conversation id that an earlier attempt failed to get.
func (l *MatchLifecycle) Like(ctx context.Context, actorProfileID, matchID string) (*interfaces.TransitionResult, error) {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "like_match",
		"match_id":  matchID,
		"actor_id":  actorProfileID,
	})

	match, err := l.ownedMatch(ctx, actorProfileID, matchID, "like")
	if err != nil {
		return nil, err
	}

	var result *interfaces.TransitionResult
	err = l.store.WithPair(ctx, match.SeekerProfileID, match.CandidateProfileID, func(tx database.PairTx) error {
		fwd, err := l.current(ctx, tx, match, "like")
		if err != nil {
			return err
		}
		rev, err := tx.Get(ctx, fwd.CandidateProfileID, fwd.SeekerProfileID)
		if err != nil {
			return err
		}

		result = &interfaces.TransitionResult{At: l.now()}
		switch fwd.Status {
		case database.MatchStatusDeclined:
			return apperrors.NewNotTransitionableError(fwd.ID, string(fwd.Status), "like")

		case database.MatchStatusChatting:

		case database.MatchStatusMutual:
			if err := l.openConversation(ctx, tx, fwd, rev, result); err != nil {
				return err
			}

		case database.MatchStatusPending, database.MatchStatusLiked:
			fwd.Status = database.MatchStatusLiked
			fwd.LikedBySeeker = true
			fwd.UpdatedAt = result.At

			if rev != nil && (rev.Status == database.MatchStatusLiked || rev.Status == database.MatchStatusMutual) {
				fwd.Status = database.MatchStatusMutual
				rev.Status = database.MatchStatusMutual
				rev.UpdatedAt = result.At
				result.Promoted = true
				if err := l.openConversation(ctx, tx, fwd, rev, result); err != nil {
					return err
				}
				break
			}
			if err := tx.Save(ctx, fwd); err != nil {
				return err
			}

		default:
			return apperrors.NewNotTransitionableError(fwd.ID, string(fwd.Status), "like")
		}

		result.Match = *fwd
		if rev != nil {
			reciprocal := *rev
			result.Reciprocal = &reciprocal
		}
		return nil
	})
	if err != nil {
		logger.WithError(err).Warn("Like transition failed")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"status":               result.Match.Status,
		"promoted":             result.Promoted,
		"conversation_pending": result.ConversationPending,
	}).Info("Match liked")
	return result, nil
}

// Decline moves a pending or liked match to declined. Mutual and chatting
// matches cannot be declined; undoing a mutual match is a separate unmatch flow.
func (l *MatchLifecycle) Decline(ctx context.Context, actorProfileID, matchID string) (*interfaces.TransitionResult, error) {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "decline_match",
		"match_id":  matchID,
		"actor_id":  actorProfileID,
	})

	match, err := l.ownedMatch(ctx, actorProfileID, matchID, "decline")
	if err != nil {
		return nil, err
	}

	var result *interfaces.TransitionResult
	err = l.store.WithPair(ctx, match.SeekerProfileID, match.CandidateProfileID, func(tx database.PairTx) error {
		fwd, err := l.current(ctx, tx, match, "decline")
		if err != nil {
			return err
		}

		switch fwd.Status {
		case database.MatchStatusPending, database.MatchStatusLiked:
		default:
			return apperrors.NewNotTransitionableError(fwd.ID, string(fwd.Status), "decline")
		}

		result = &interfaces.TransitionResult{At: l.now()}
		fwd.Status = database.MatchStatusDeclined
		fwd.UpdatedAt = result.At
		if err := tx.Save(ctx, fwd); err != nil {
			return err
		}
		result.Match = *fwd
		return nil
	})
	if err != nil {
		logger.WithError(err).Warn("Decline transition failed")
		return nil, err
	}

	logger.Info("Match declined")
	return result, nil
}

// AttachConversation gives a mutual pair its conversation id. It is the retry
// path for promotions whose conversation could not be opened at the time.
func (l *MatchLifecycle) AttachConversation(ctx context.Context, matchID string) (*interfaces.TransitionResult, error) {
	match, err := l.store.GetMatch(ctx, matchID)
	if err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return nil, apperrors.NewNotTransitionableError(matchID, "", "attach_conversation")
		}
		return nil, fmt.Errorf("failed to load match: %w", err)
	}

	var result *interfaces.TransitionResult
	err = l.store.WithPair(ctx, match.SeekerProfileID, match.CandidateProfileID, func(tx database.PairTx) error {
		fwd, err := l.current(ctx, tx, match, "attach_conversation")
		if err != nil {
			return err
		}
		if fwd.Status != database.MatchStatusMutual && fwd.Status != database.MatchStatusChatting {
			return apperrors.NewNotTransitionableError(fwd.ID, string(fwd.Status), "attach_conversation")
		}
		rev, err := tx.Get(ctx, fwd.CandidateProfileID, fwd.SeekerProfileID)
		if err != nil {
			return err
		}

		result = &interfaces.TransitionResult{At: l.now()}
		if fwd.Status == database.MatchStatusMutual {
			if err := l.openConversation(ctx, tx, fwd, rev, result); err != nil {
				return err
			}
		}
		result.Match = *fwd
		if rev != nil {
			reciprocal := *rev
			result.Reciprocal = &reciprocal
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ownedMatch loads matchID and checks it is the actor's own outgoing record.
func (l *MatchLifecycle) ownedMatch(ctx context.Context, actorProfileID, matchID, operation string) (*database.Match, error) {
	match, err := l.store.GetMatch(ctx, matchID)
	if err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return nil, apperrors.NewNotTransitionableError(matchID, "", operation)
		}
		return nil, fmt.Errorf("failed to load match: %w", err)
	}
	if match.SeekerProfileID != actorProfileID {
		return nil, apperrors.NewAuthorizationError("match does not belong to this profile").
			WithMetadata("match_id", matchID)
	}
	return match, nil
}

// current re-reads match inside the pair section.
func (l *MatchLifecycle) current(ctx context.Context, tx database.PairTx, match *database.Match, operation string) (*database.Match, error) {
	fwd, err := tx.Get(ctx, match.SeekerProfileID, match.CandidateProfileID)
	if err != nil {
		return nil, err
	}
	if fwd == nil || fwd.ID != match.ID {
		return nil, apperrors.NewNotTransitionableError(match.ID, "", operation)
	}
	return fwd, nil
}

// openConversation asks the messaging collaborator for the pair's conversation
// and saves both records. When the collaborator fails the records are still
// saved as mutual and the result reports the conversation as pending.
func (l *MatchLifecycle) openConversation(ctx context.Context, tx database.PairTx, fwd, rev *database.Match, result *interfaces.TransitionResult) error {
	if fwd.ConversationID == nil && rev != nil && rev.ConversationID != nil {
		fwd.ConversationID = rev.ConversationID
	}

	if fwd.ConversationID == nil && l.issuer != nil {
		conversationID, err := l.issuer.IssueConversation(ctx, fwd.PairKey(), fwd.SeekerProfileID, fwd.CandidateProfileID)
		if err != nil {
			telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
				"operation": "issue_conversation",
				"pair_key":  fwd.PairKey(),
			}).WithError(err).Warn("Conversation could not be opened, match stays mutual")
		} else {
			fwd.ConversationID = &conversationID
		}
	}

	records := []*database.Match{fwd}
	if rev != nil {
		records = append(records, rev)
	}
	for _, m := range records {
		if fwd.ConversationID != nil {
			id := *fwd.ConversationID
			m.ConversationID = &id
			m.Status = database.MatchStatusChatting
		} else {
			m.Status = database.MatchStatusMutual
		}
		m.UpdatedAt = result.At
		if err := tx.Save(ctx, m); err != nil {
			return err
		}
	}

	result.ConversationPending = fwd.ConversationID == nil
	return nil
}
