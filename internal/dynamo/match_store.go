// Package dynamo stores match records in a DynamoDB table.
//
// The table is keyed by (seeker_profile_id, candidate_profile_id), so each
// direction of a pair has exactly one item. A global secondary index on id
// serves lookups by match id.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/meetsmatch/roommates/internal/database"
	apperrors "github.com/meetsmatch/roommates/internal/errors"
	"github.com/meetsmatch/roommates/internal/interfaces"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

const (
	attrSeeker    = "seeker_profile_id"
	attrCandidate = "candidate_profile_id"
	attrID        = "id"
	attrVersion   = "version"

	// IDIndex is the global secondary index on the match id.
	IDIndex = "id-index"
)

// Config configures the DynamoDB match and conversation stores.
type Config struct {
	Table              string `mapstructure:"table"`
	ConversationsTable string `mapstructure:"conversations_table"`
	Region             string `mapstructure:"region"`
	Endpoint           string `mapstructure:"endpoint"`
}

// API is the part of *dynamodb.Client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// MatchStore implements interfaces.MatchStore on DynamoDB.
type MatchStore struct {
	client API
	table  string
}

var _ interfaces.MatchStore = (*MatchStore)(nil)

// NewClient builds a DynamoDB client from the default AWS credential chain.
// A non-empty Endpoint points the client at DynamoDB Local or LocalStack.
func NewClient(ctx context.Context, config Config) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
	}), nil
}

// NewMatchStore creates a store over table.
func NewMatchStore(client API, table string) (*MatchStore, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("dynamodb table name is required")
	}
	return &MatchStore{client: client, table: table}, nil
}

// EnsureTable creates the matches table and its id index. An existing table is left alone.
func (s *MatchStore) EnsureTable(ctx context.Context) error {
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrSeeker), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrCandidate), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrID), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrSeeker), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrCandidate), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String(IDIndex),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String(attrID), KeyType: types.KeyTypeHash},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
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

func directionKey(seekerID, candidateID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrSeeker:    &types.AttributeValueMemberS{Value: seekerID},
		attrCandidate: &types.AttributeValueMemberS{Value: candidateID},
	}
}

// InsertMatches puts each record only if its direction has no item yet.
func (s *MatchStore) InsertMatches(ctx context.Context, matches []database.Match) ([]database.Match, error) {
	logger := telemetry.GetContextualLogger(ctx)

	stored := make([]database.Match, 0, len(matches))
	for _, m := range matches {
		item, err := attributevalue.MarshalMap(m)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal match: %w", err)
		}

		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(#candidate)"),
			ExpressionAttributeNames: map[string]string{
				"#candidate": attrCandidate,
			},
		})

		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			logger.WithFields(map[string]interface{}{
				"seeker_profile_id":    m.SeekerProfileID,
				"candidate_profile_id": m.CandidateProfileID,
			}).Debug("Match direction already stored, skipping")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to put item in table '%s': %w", s.table, err)
		}
		stored = append(stored, m)
	}
	return stored, nil
}

// GetMatch looks a record up through the id index.
func (s *MatchStore) GetMatch(ctx context.Context, id string) (*database.Match, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(IDIndex),
		KeyConditionExpression: aws.String("#id = :id"),
		ExpressionAttributeNames: map[string]string{
			"#id": attrID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: id},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query match by id: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, database.ErrNotFound
	}

	var m database.Match
	if err := attributevalue.UnmarshalMap(out.Items[0], &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match: %w", err)
	}
	return &m, nil
}

// ListMatchesBySeeker returns the seeker's records by descending score, then creation time.
func (s *MatchStore) ListMatchesBySeeker(ctx context.Context, seekerID string) ([]database.Match, error) {
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("#seeker = :seeker"),
		ExpressionAttributeNames: map[string]string{
			"#seeker": attrSeeker,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":seeker": &types.AttributeValueMemberS{Value: seekerID},
		},
		ConsistentRead: aws.Bool(true),
	})

	var matches []database.Match
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query matches for seeker: %w", err)
		}
		var batch []database.Match
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal matches: %w", err)
		}
		matches = append(matches, batch...)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return matches, nil
}

// WithPair reads both directions with consistent reads, lets fn stage its
// saves and commits them in one TransactWriteItems call. Every write is
// conditioned on the version fn read, and every direction fn read without
// saving is condition-checked as it was seen, so a concurrent writer on
// either side cancels the transaction and the caller gets a retryable
// conflict.
func (s *MatchStore) WithPair(ctx context.Context, a, b string, fn func(tx database.PairTx) error) error {
	tx := &pairTx{
		store:   s,
		pairKey: database.PairKey(a, b),
		staged:  make(map[string]database.Match),
		base:    make(map[string]int64),
		reads:   make(map[string]readState),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.order) == 0 {
		return nil
	}
	return s.commit(ctx, tx)
}

func (s *MatchStore) commit(ctx context.Context, tx *pairTx) error {
	items := make([]types.TransactWriteItem, 0, len(tx.order))
	for _, id := range tx.order {
		item, err := attributevalue.MarshalMap(tx.staged[id])
		if err != nil {
			return fmt.Errorf("failed to marshal match: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.table),
				Item:                item,
				ConditionExpression: aws.String("#version = :base"),
				ExpressionAttributeNames: map[string]string{
					"#version": attrVersion,
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":base": &types.AttributeValueMemberN{Value: strconv.FormatInt(tx.base[id], 10)},
				},
			},
		})
	}
	items = append(items, s.readChecks(tx)...)

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
			"pair_key": tx.pairKey,
		}).WithError(err).Warn("Pair transaction canceled")
		return apperrors.NewPromotionConflictError(tx.pairKey, err)
	}
	if err != nil {
		return fmt.Errorf("failed to commit pair transaction: %w", err)
	}
	return nil
}

// readChecks guards every direction that was read but not written, so a
// decision taken on a read cannot commit after that item changed. A
// transaction may touch an item only once, hence written directions are
// skipped; their Put already carries the version condition.
func (s *MatchStore) readChecks(tx *pairTx) []types.TransactWriteItem {
	written := make(map[string]bool, len(tx.staged))
	for _, m := range tx.staged {
		written[directionID(m.SeekerProfileID, m.CandidateProfileID)] = true
	}

	dirs := make([]string, 0, len(tx.reads))
	for dir := range tx.reads {
		if !written[dir] {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)

	checks := make([]types.TransactWriteItem, 0, len(dirs))
	for _, dir := range dirs {
		read := tx.reads[dir]
		check := &types.ConditionCheck{
			TableName: aws.String(s.table),
			Key:       directionKey(read.seeker, read.candidate),
		}
		if read.exists {
			check.ConditionExpression = aws.String("#version = :base")
			check.ExpressionAttributeNames = map[string]string{"#version": attrVersion}
			check.ExpressionAttributeValues = map[string]types.AttributeValue{
				":base": &types.AttributeValueMemberN{Value: strconv.FormatInt(read.version, 10)},
			}
		} else {
			check.ConditionExpression = aws.String("attribute_not_exists(#seeker)")
			check.ExpressionAttributeNames = map[string]string{"#seeker": attrSeeker}
		}
		checks = append(checks, types.TransactWriteItem{ConditionCheck: check})
	}
	return checks
}

func directionID(seekerID, candidateID string) string {
	return seekerID + "|" + candidateID
}

// readState is what a pair section first observed for one direction.
type readState struct {
	seeker    string
	candidate string
	exists    bool
	version   int64
}

type pairTx struct {
	store   *MatchStore
	pairKey string
	staged  map[string]database.Match
	base    map[string]int64
	order   []string
	reads   map[string]readState
}

func (t *pairTx) recordRead(seekerID, candidateID string, m *database.Match) {
	dir := directionID(seekerID, candidateID)
	if _, seen := t.reads[dir]; seen {
		return
	}
	read := readState{seeker: seekerID, candidate: candidateID}
	if m != nil {
		read.exists, read.version = true, m.Version
	}
	t.reads[dir] = read
}

func (t *pairTx) Get(ctx context.Context, seekerID, candidateID string) (*database.Match, error) {
	if database.PairKey(seekerID, candidateID) != t.pairKey {
		return nil, fmt.Errorf("direction %s->%s is outside pair %s", seekerID, candidateID, t.pairKey)
	}

	out, err := t.store.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.store.table),
		Key:            directionKey(seekerID, candidateID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from table '%s': %w", t.store.table, err)
	}
	if out.Item == nil {
		t.recordRead(seekerID, candidateID, nil)
		return nil, nil
	}

	var m database.Match
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match: %w", err)
	}
	t.recordRead(seekerID, candidateID, &m)
	if staged, ok := t.staged[m.ID]; ok {
		return &staged, nil
	}
	return &m, nil
}

func (t *pairTx) Save(_ context.Context, m *database.Match) error {
	if m.PairKey() != t.pairKey {
		return fmt.Errorf("match %s does not belong to pair %s", m.ID, t.pairKey)
	}
	if staged, ok := t.staged[m.ID]; ok && staged.Version != m.Version {
		return apperrors.NewPromotionConflictError(t.pairKey, fmt.Errorf("match %s saved from a stale copy", m.ID))
	}
	if _, ok := t.base[m.ID]; !ok {
		t.base[m.ID] = m.Version
		t.order = append(t.order, m.ID)
	}

	m.Version++
	t.staged[m.ID] = *m
	return nil
}
