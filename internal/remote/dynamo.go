package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pable/racquet-metrics/internal/model"
)

const (
	// UpdatedIndex is the GSI keyed on (user_id, updated_at).
	UpdatedIndex = "user_id-updated_at-index"

	// sortableTime is fixed width so string order matches time order.
	sortableTime = "2006-01-02T15:04:05.000000000Z"

	batchWriteMax  = 25
	batchAttempts  = 5
	batchRetryBase = 100 * time.Millisecond
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// matchItem is one row of the matches table. The record itself is kept as JSON so the
// table schema does not track model changes.
type matchItem struct {
	UserID    string `dynamodbav:"user_id"`
	MatchID   string `dynamodbav:"match_id"`
	UpdatedAt string `dynamodbav:"updated_at"`
	StartedAt string `dynamodbav:"started_at"`
	Sport     string `dynamodbav:"sport"`
	Record    string `dynamodbav:"record"`
}

// DynamoStore keeps one user's matches in a DynamoDB table with partition key user_id and
// sort key match_id.
type DynamoStore struct {
	client DynamoAPI
	table  string
	userID string
}

// NewDynamoStore wraps an existing client.
func NewDynamoStore(client DynamoAPI, table, userID string) *DynamoStore {
	return &DynamoStore{client: client, table: table, userID: userID}
}

// NewDynamoStoreFromEnv loads the default AWS configuration for region and builds a store.
func NewDynamoStoreFromEnv(ctx context.Context, region, table, userID string) (*DynamoStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewDynamoStore(dynamodb.NewFromConfig(cfg), table, userID), nil
}

func formatTime(t time.Time) string { return t.UTC().Format(sortableTime) }

// FetchSince queries the updated_at index for records after cursor, oldest first.
func (s *DynamoStore) FetchSince(ctx context.Context, cursor time.Time, limit int) ([]model.MatchRecord, error) {
	var out []model.MatchRecord
	var startKey map[string]types.AttributeValue
	for len(out) < limit {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(UpdatedIndex),
			KeyConditionExpression: aws.String("user_id = :u AND updated_at > :c"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":u": &types.AttributeValueMemberS{Value: s.userID},
				":c": &types.AttributeValueMemberS{Value: formatTime(cursor)},
			},
			ScanIndexForward:  aws.Bool(true),
			Limit:             aws.Int32(int32(limit - len(out))),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query table %q: %w", s.table, err)
		}
		var items []matchItem
		if err := attributevalue.UnmarshalListOfMaps(resp.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
		for _, it := range items {
			var m model.MatchRecord
			if err := json.Unmarshal([]byte(it.Record), &m); err != nil {
				return nil, fmt.Errorf("decode match %s: %w", it.MatchID, err)
			}
			out = append(out, m)
		}
		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		startKey = resp.LastEvaluatedKey
	}
	return out, nil
}

// Persist writes one match, replacing any previous copy.
func (s *DynamoStore) Persist(ctx context.Context, m model.MatchRecord) error {
	rec, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode match %s: %w", m.ID, err)
	}
	item, err := attributevalue.MarshalMap(matchItem{
		UserID:    s.userID,
		MatchID:   m.ID,
		UpdatedAt: formatTime(m.UpdatedAt),
		StartedAt: formatTime(m.StartedAt),
		Sport:     string(m.Sport),
		Record:    string(rec),
	})
	if err != nil {
		return fmt.Errorf("marshal match %s: %w", m.ID, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put match %s: %w", m.ID, err)
	}
	return nil
}

// Delete removes matches in batches of 25, resubmitting unprocessed keys with backoff.
func (s *DynamoStore) Delete(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += batchWriteMax {
		end := min(start+batchWriteMax, len(ids))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, id := range ids[start:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
				Key: map[string]types.AttributeValue{
					"user_id":  &types.AttributeValueMemberS{Value: s.userID},
					"match_id": &types.AttributeValueMemberS{Value: id},
				},
			}})
		}
		if err := s.batchWrite(ctx, reqs); err != nil {
			return err
		}
	}
	return nil
}

func (s *DynamoStore) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	wait := batchRetryBase
	for attempt := 0; attempt < batchAttempts; attempt++ {
		resp, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.table: reqs},
		})
		if err != nil {
			return fmt.Errorf("batch delete from %q: %w", s.table, err)
		}
		reqs = resp.UnprocessedItems[s.table]
		if len(reqs) == 0 {
			return nil
		}
		select {
		case <-time.After(wait):
			wait *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("batch delete from %q: %d items unprocessed", s.table, len(reqs))
}
