package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"omni-library/internal/domain"
)

const (
	skPrefixBlob = "BLOB#"
	skLease      = "LEASE"
	ttlDuration  = 30 * 24 * time.Hour

	// DynamoDB caps an item at 400 KB and a transaction at 4 MB. Chunks stay
	// well under the first; the chunk count keeps a save under the second.
	transcriptChunkBytes = 350_000
	maxTranscriptChunks  = 10

	defaultLeaseDuration = 2 * time.Minute
)

// dynamodbAPI is the subset of *dynamodb.Client used by DynamoStore.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps sessions in a single-table DynamoDB layout:
//
//	PK=SESSION#<id>, SK=BLOB#state               last update, plus the chunk count
//	PK=SESSION#<id>, SK=BLOB#transcript#<nnnn>   transcript JSON, split in order
//	PK=SESSION#<id>, SK=LEASE                    turn lease
//
// It also serves as the cross-instance turn lease.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	leaseFor  time.Duration
	now       func() time.Time
}

func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, leaseFor: defaultLeaseDuration, now: time.Now}, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

func blobSK(name string) string {
	return skPrefixBlob + name
}

func chunkSK(i int) string {
	return fmt.Sprintf("%s%s#%04d", skPrefixBlob, blobTranscript, i)
}

func sessionKey(sessionID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// queryBlobs returns every BLOB# item of a session, following pagination.
// With keysOnly set only PK and SK are projected.
func (s *DynamoStore) queryBlobs(ctx context.Context, sessionID string, keysOnly bool) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixBlob},
		},
		ConsistentRead: aws.Bool(true),
	}
	if keysOnly {
		in.ProjectionExpression = aws.String("PK, SK")
	}

	var items []map[string]types.AttributeValue
	pages := dynamodb.NewQueryPaginator(s.api, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// Load reads the session with strongly consistent queries and reassembles the
// transcript. A missing chunk makes the session incomplete.
func (s *DynamoStore) Load(ctx context.Context, sessionID string) (*domain.GameSession, error) {
	items, err := s.queryBlobs(ctx, sessionID, false)
	if err != nil {
		return nil, fmt.Errorf("repository: Load query: %w", err)
	}

	bySK := make(map[string]map[string]types.AttributeValue, len(items))
	for _, item := range items {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return nil, fmt.Errorf("repository: Load: %w", err)
		}
		bySK[sk] = item
	}

	stateItem, ok := bySK[blobSK(blobState)]
	if !ok {
		return nil, nil
	}
	state, err := strAttr(stateItem, "blob")
	if err != nil {
		return nil, fmt.Errorf("repository: Load: %w", err)
	}
	chunks, err := numAttr(stateItem, "chunks")
	if err != nil {
		return nil, fmt.Errorf("repository: Load: %w", err)
	}

	var transcript strings.Builder
	for i := range int(chunks) {
		item, ok := bySK[chunkSK(i)]
		if !ok {
			return nil, nil
		}
		part, err := strAttr(item, "blob")
		if err != nil {
			return nil, fmt.Errorf("repository: Load: %w", err)
		}
		transcript.WriteString(part)
	}

	session, err := decodeSession(map[string]string{blobTranscript: transcript.String(), blobState: state})
	if err != nil {
		return nil, fmt.Errorf("repository: Load: %w", err)
	}
	return session, nil
}

// Save overwrites the whole session in one transaction. Chunks left over from
// a longer earlier transcript are deleted in the same transaction.
func (s *DynamoStore) Save(ctx context.Context, sessionID string, session domain.GameSession) error {
	blobs, err := encodeSession(session)
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	parts := splitUTF8(blobs[blobTranscript], transcriptChunkBytes)
	if len(parts) > maxTranscriptChunks {
		return fmt.Errorf("repository: Save: transcript of %d bytes exceeds %d chunks", len(blobs[blobTranscript]), maxTranscriptChunks)
	}

	existing, err := s.queryBlobs(ctx, sessionID, true)
	if err != nil {
		return fmt.Errorf("repository: Save query: %w", err)
	}

	now := s.now().UTC()
	items := make([]types.TransactWriteItem, 0, len(parts)+1+len(existing))
	written := make(map[string]bool, len(parts)+1)
	for i, part := range parts {
		sk := chunkSK(i)
		written[sk] = true
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(s.tableName), Item: blobItem(sessionID, sk, part, now)},
		})
	}
	stateItem := blobItem(sessionID, blobSK(blobState), blobs[blobState], now)
	stateItem["chunks"] = &types.AttributeValueMemberN{Value: strconv.Itoa(len(parts))}
	written[blobSK(blobState)] = true
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{TableName: aws.String(s.tableName), Item: stateItem},
	})

	for _, item := range existing {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return fmt.Errorf("repository: Save: %w", err)
		}
		if written[sk] {
			continue
		}
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{TableName: aws.String(s.tableName), Key: sessionKey(sessionID, sk)},
		})
	}

	if _, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

// Clear deletes every blob of the session in one transaction. Clearing a
// missing session is not an error.
func (s *DynamoStore) Clear(ctx context.Context, sessionID string) error {
	existing, err := s.queryBlobs(ctx, sessionID, true)
	if err != nil {
		return fmt.Errorf("repository: Clear query: %w", err)
	}
	if len(existing) == 0 {
		return nil
	}

	items := make([]types.TransactWriteItem, 0, len(existing))
	for _, item := range existing {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return fmt.Errorf("repository: Clear: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{TableName: aws.String(s.tableName), Key: sessionKey(sessionID, sk)},
		})
	}

	if _, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: Clear: %w", err)
	}
	return nil
}

// Acquire takes the session's turn lease when nobody holds it or the holder's
// lease has run out. ok is false while another lease is live.
func (s *DynamoStore) Acquire(ctx context.Context, sessionID string) (string, bool, error) {
	now := s.now().UTC()
	token := uuid.NewString()
	until := now.Add(s.leaseFor)

	item := sessionKey(sessionID, skLease)
	item["owner"] = &types.AttributeValueMemberS{Value: token}
	item["leaseUntil"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(until.UnixMilli(), 10)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(until.Add(time.Hour).Unix(), 10)}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR leaseUntil < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err != nil {
		var held *types.ConditionalCheckFailedException
		if errors.As(err, &held) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("repository: Acquire: %w", err)
	}
	return token, true, nil
}

// Release drops the lease if token still owns it. A lease that already
// expired and was taken over is left alone.
func (s *DynamoStore) Release(ctx context.Context, sessionID, token string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      sessionKey(sessionID, skLease),
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		var lost *types.ConditionalCheckFailedException
		if errors.As(err, &lost) {
			return nil
		}
		return fmt.Errorf("repository: Release: %w", err)
	}
	return nil
}

// splitUTF8 cuts s into pieces of at most n bytes without splitting a rune.
// An empty s yields one empty piece.
func splitUTF8(s string, n int) []string {
	if len(s) <= n {
		return []string{s}
	}
	var parts []string
	for len(s) > n {
		cut := n
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

func blobItem(sessionID, sk, blob string, now time.Time) map[string]types.AttributeValue {
	item := sessionKey(sessionID, sk)
	item["sessionId"] = &types.AttributeValueMemberS{Value: sessionID}
	item["blob"] = &types.AttributeValueMemberS{Value: blob}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttlDuration).Unix(), 10)}
	return item
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func numAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	i, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("repository: attribute %q is not a count: %q", key, n.Value)
	}
	return i, nil
}
