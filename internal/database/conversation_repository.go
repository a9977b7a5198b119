package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

// ConversationRepository opens one conversation per mutual pair.
type ConversationRepository struct {
	db *DB
}

func NewConversationRepository(db *DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// IssueConversation returns the conversation id for the pair, creating it on first use.
func (r *ConversationRepository) IssueConversation(ctx context.Context, pairKey, profileA, profileB string) (string, error) {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "issue_conversation",
		"pair_key":  pairKey,
	})

	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, pair_key, profile1_id, profile2_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pair_key) DO UPDATE SET pair_key = EXCLUDED.pair_key
		RETURNING id
	`, uuid.New().String(), pairKey, profileA, profileB, time.Now().UTC()).Scan(&id)
	if err != nil {
		logger.WithError(err).Error("Failed to issue conversation")
		return "", fmt.Errorf("failed to issue conversation: %w", err)
	}

	logger.WithField("conversation_id", id).Info("Conversation issued")
	return id, nil
}
