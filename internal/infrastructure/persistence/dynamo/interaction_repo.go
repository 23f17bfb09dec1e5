// Package dynamo implements the interaction ledger on Amazon DynamoDB.
//
// Table layout:
//   - partition key: pair_key (S)
//   - GSI initiator_id-created_at-index, GSI responder_id-created_at-index
//
// Every decision is a conditional write on the item version, so concurrent
// writers on one pair never overwrite each other.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dentameet/matching-engine/internal/domain/interaction"
	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/retry"
)

const (
	interactionDomain = "interaction"

	// IndexByInitiator and IndexByResponder are the per-user GSIs.
	IndexByInitiator = "initiator_id-created_at-index"
	IndexByResponder = "responder_id-created_at-index"

	// maxDecisionAttempts bounds the compare-and-swap loop in ApplyDecision.
	maxDecisionAttempts = 5
)

// errVersionConflict means another writer changed the item between read and write.
var errVersionConflict = shared.NewDomainError(interactionDomain, "ApplyDecision",
	shared.ErrConcurrentModification, "record changed concurrently")

// API is the subset of the DynamoDB client used by the repository.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Config holds DynamoDB settings.
type Config struct {
	Region string
	Table  string

	// Endpoint overrides the service endpoint (DynamoDB Local, LocalStack).
	Endpoint string
}

// NewClient loads the default AWS credential chain and builds a client.
func NewClient(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ITEM MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// item is the stored form of a record. Timestamps are Unix milliseconds so
// that the GSI sort keys order chronologically.
type item struct {
	PairKey        string `dynamodbav:"pair_key"`
	ID             string `dynamodbav:"id"`
	InitiatorID    string `dynamodbav:"initiator_id"`
	ResponderID    string `dynamodbav:"responder_id"`
	InitiatorLiked bool   `dynamodbav:"initiator_liked"`
	ResponderLiked bool   `dynamodbav:"responder_liked"`
	ResponderActed bool   `dynamodbav:"responder_acted"`
	IsMutual       bool   `dynamodbav:"is_mutual"`
	CreatedAt      int64  `dynamodbav:"created_at"`
	UpdatedAt      int64  `dynamodbav:"updated_at"`
	Version        int64  `dynamodbav:"version"`
}

func toItem(rec *interaction.Record, version int64) item {
	return item{
		PairKey:        string(rec.PairKey),
		ID:             rec.ID,
		InitiatorID:    string(rec.InitiatorID),
		ResponderID:    string(rec.ResponderID),
		InitiatorLiked: rec.InitiatorLiked,
		ResponderLiked: rec.ResponderLiked,
		ResponderActed: rec.ResponderActed,
		IsMutual:       rec.InitiatorLiked && rec.ResponderLiked,
		CreatedAt:      rec.CreatedAt.UnixMilli(),
		UpdatedAt:      rec.UpdatedAt.UnixMilli(),
		Version:        version,
	}
}

func (it item) record() *interaction.Record {
	return &interaction.Record{
		ID:             it.ID,
		PairKey:        interaction.PairKey(it.PairKey),
		InitiatorID:    shared.UserID(it.InitiatorID),
		ResponderID:    shared.UserID(it.ResponderID),
		InitiatorLiked: it.InitiatorLiked,
		ResponderLiked: it.ResponderLiked,
		ResponderActed: it.ResponderActed,
		IsMutual:       it.InitiatorLiked && it.ResponderLiked,
		CreatedAt:      time.UnixMilli(it.CreatedAt).UTC(),
		UpdatedAt:      time.UnixMilli(it.UpdatedAt).UTC(),
	}
}

func pairKeyAttr(key interaction.PairKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pair_key": &types.AttributeValueMemberS{Value: string(key)},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// InteractionRepository implements interaction.Repository for DynamoDB.
type InteractionRepository struct {
	api   API
	table string
}

// NewInteractionRepository creates a repository over the given table.
func NewInteractionRepository(api API, table string) *InteractionRepository {
	return &InteractionRepository{api: api, table: table}
}

// EnsureTable creates the table and its indexes if they do not exist.
func (r *InteractionRepository) EnsureTable(ctx context.Context) error {
	gsi := func(name, hash string) types.GlobalSecondaryIndex {
		return types.GlobalSecondaryIndex{
			IndexName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("created_at"), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}
	}

	_, err := r.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(r.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pair_key"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("initiator_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("responder_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("created_at"), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pair_key"), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			gsi(IndexByInitiator, "initiator_id"),
			gsi(IndexByResponder, "responder_id"),
		},
	})

	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return shared.StoreError(interactionDomain, "EnsureTable", err)
	}
	return nil
}

// Insert stores the first record of a pair.
func (r *InteractionRepository) Insert(ctx context.Context, rec *interaction.Record) error {
	av, err := attributevalue.MarshalMap(toItem(rec, 1))
	if err != nil {
		return shared.StoreError(interactionDomain, "Insert", err)
	}

	_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(pair_key)"),
	})
	if isConditionFailed(err) {
		return shared.ErrPairExists
	}
	return shared.StoreError(interactionDomain, "Insert", err)
}

// ApplyDecision reads the item, applies the decision and writes it back
// conditioned on the version it read. Lost races are retried.
func (r *InteractionRepository) ApplyDecision(
	ctx context.Context,
	key interaction.PairKey,
	actor shared.UserID,
	action interaction.Action,
	at time.Time,
) (*interaction.Record, bool, error) {
	var (
		rec       *interaction.Record
		wasMutual bool
	)

	isConflict := func(err error) bool { return errors.Is(err, errVersionConflict) }

	err := retry.ConflictRetrier(maxDecisionAttempts, isConflict).Do(ctx, func(ctx context.Context) error {
		current, version, err := r.get(ctx, key, "ApplyDecision")
		if err != nil {
			return err
		}

		wasMutual = current.IsMutual
		if _, err := current.Apply(actor, action, at); err != nil {
			return err
		}

		av, err := attributevalue.MarshalMap(toItem(current, version+1))
		if err != nil {
			return shared.StoreError(interactionDomain, "ApplyDecision", err)
		}

		_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(r.table),
			Item:                av,
			ConditionExpression: aws.String("version = :expected"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
			},
		})
		if isConditionFailed(err) {
			return errVersionConflict
		}
		if err != nil {
			return shared.StoreError(interactionDomain, "ApplyDecision", err)
		}

		rec = current
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rec, wasMutual, nil
}

// GetByPairKey returns the pair record.
func (r *InteractionRepository) GetByPairKey(ctx context.Context, key interaction.PairKey) (*interaction.Record, error) {
	rec, _, err := r.get(ctx, key, "GetByPairKey")
	return rec, err
}

func (r *InteractionRepository) get(ctx context.Context, key interaction.PairKey, op string) (*interaction.Record, int64, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            pairKeyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, shared.StoreError(interactionDomain, op, err)
	}
	if len(out.Item) == 0 {
		return nil, 0, shared.ErrPairNotFound
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, 0, shared.StoreError(interactionDomain, op, err)
	}
	return it.record(), it.Version, nil
}

// Delete removes the pair record.
func (r *InteractionRepository) Delete(ctx context.Context, key interaction.PairKey) error {
	_, err := r.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.table),
		Key:                 pairKeyAttr(key),
		ConditionExpression: aws.String("attribute_exists(pair_key)"),
	})
	if isConditionFailed(err) {
		return shared.ErrPairNotFound
	}
	return shared.StoreError(interactionDomain, "Delete", err)
}

// ListByUser returns the user's records, newest first.
func (r *InteractionRepository) ListByUser(ctx context.Context, user shared.UserID, opts interaction.ListOptions) ([]*interaction.Record, error) {
	items, err := r.queryUser(ctx, user, "ListByUser")
	if err != nil {
		return nil, err
	}

	records := make([]*interaction.Record, 0, len(items))
	for _, it := range items {
		if opts.OnlyMutual && !it.IsMutual {
			continue
		}
		records = append(records, it.record())
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].PairKey < records[j].PairKey
	})

	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	return records, nil
}

// LinkedUserIDs returns everyone the user has a record with.
func (r *InteractionRepository) LinkedUserIDs(ctx context.Context, user shared.UserID) ([]shared.UserID, error) {
	items, err := r.queryUser(ctx, user, "LinkedUserIDs")
	if err != nil {
		return nil, err
	}

	ids := make([]shared.UserID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.record().Other(user))
	}
	return ids, nil
}

// queryUser reads both GSIs. A self-pair cannot exist, so the two result
// sets are disjoint.
func (r *InteractionRepository) queryUser(ctx context.Context, user shared.UserID, op string) ([]item, error) {
	var all []item
	for _, idx := range []struct{ name, attr string }{
		{IndexByInitiator, "initiator_id"},
		{IndexByResponder, "responder_id"},
	} {
		items, err := r.queryIndex(ctx, idx.name, idx.attr, string(user))
		if err != nil {
			return nil, shared.StoreError(interactionDomain, op, err)
		}
		all = append(all, items...)
	}
	return all, nil
}

func (r *InteractionRepository) queryIndex(ctx context.Context, index, attr, value string) ([]item, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String("#u = :u"),
		ExpressionAttributeNames: map[string]string{
			"#u": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: value},
		},
	}

	var items []item
	for {
		out, err := r.api.Query(ctx, input)
		if err != nil {
			return nil, err
		}

		var page []item
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		items = append(items, page...)

		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
