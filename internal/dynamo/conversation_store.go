package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/meetsmatch/roommates/internal/interfaces"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

const attrPairKey = "pair_key"

type conversationItem struct {
	PairKey    string    `dynamodbav:"pair_key"`
	ID         string    `dynamodbav:"id"`
	Profile1ID string    `dynamodbav:"profile1_id"`
	Profile2ID string    `dynamodbav:"profile2_id"`
	CreatedAt  time.Time `dynamodbav:"created_at"`
}

// ConversationStore issues one conversation id per pair from a table keyed by
// pair_key, so every process sharing the table agrees on the id.
type ConversationStore struct {
	client API
	table  string
}

var _ interfaces.ConversationIssuer = (*ConversationStore)(nil)

func NewConversationStore(client API, table string) (*ConversationStore, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("dynamodb conversations table name is required")
	}
	return &ConversationStore{client: client, table: table}, nil
}

// EnsureTable creates the conversations table. An existing table is left alone.
func (s *ConversationStore) EnsureTable(ctx context.Context) error {
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrPairKey), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrPairKey), KeyType: types.KeyTypeHash},
		},
	})

	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create table '%s': %w", s.table, err)
	}
	return nil
}

// IssueConversation returns the conversation id for the pair, creating it on
// first use. A losing concurrent writer reads back the winner's id.
func (s *ConversationStore) IssueConversation(ctx context.Context, pairKey, profileA, profileB string) (string, error) {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "issue_conversation",
		"pair_key":  pairKey,
	})

	conversation := conversationItem{
		PairKey:    pairKey,
		ID:         uuid.New().String(),
		Profile1ID: profileA,
		Profile2ID: profileB,
		CreatedAt:  time.Now().UTC(),
	}
	item, err := attributevalue.MarshalMap(conversation)
	if err != nil {
		return "", fmt.Errorf("failed to marshal conversation: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#pair)"),
		ExpressionAttributeNames: map[string]string{
			"#pair": attrPairKey,
		},
	})

	var conditionFailed *types.ConditionalCheckFailedException
	switch {
	case errors.As(err, &conditionFailed):
		return s.existing(ctx, pairKey)
	case err != nil:
		logger.WithError(err).Error("Failed to issue conversation")
		return "", fmt.Errorf("failed to put item in table '%s': %w", s.table, err)
	}

	logger.WithField("conversation_id", conversation.ID).Info("Conversation issued")
	return conversation.ID, nil
}

func (s *ConversationStore) existing(ctx context.Context, pairKey string) (string, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			attrPairKey: &types.AttributeValueMemberS{Value: pairKey},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get item from table '%s': %w", s.table, err)
	}
	if out.Item == nil {
		return "", fmt.Errorf("conversation for pair %s vanished after a conflicting write", pairKey)
	}

	var c conversationItem
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return "", fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return c.ID, nil
}
