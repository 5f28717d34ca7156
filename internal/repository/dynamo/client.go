// Package dynamo persists user fitness data in a single DynamoDB table.
// Every item is partitioned by the owning user, so a caller can only ever
// touch rows under its own partition key.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"fitness-agent/internal/domain"
	"fitness-agent/internal/repository"
)

const (
	skPrefixLog  = "LOG#"
	skPlanLatest = "PLAN#LATEST"
	skPrefixConv = "CONV#"
	skSuffixMeta = "#META"
	skInfixMsg   = "#MSG#"

	chatTTL = 30 * 24 * time.Hour // chat history expires; logs and plans do not
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table for per-user fitness state.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new store Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// userPK returns the partition key scoping all of a user's rows.
func userPK(userID string) string {
	return "USER#" + userID
}

func logSK(ts time.Time, id string) string {
	return skPrefixLog + ts.UTC().Format(time.RFC3339Nano) + "#" + id
}

func convMsgSK(conversationID string, ts time.Time) string {
	return skPrefixConv + conversationID + skInfixMsg + ts.UTC().Format(time.RFC3339Nano)
}

func convMetaSK(conversationID string) string {
	return skPrefixConv + conversationID + skSuffixMeta
}

func chatTTLValue() int64 {
	return time.Now().Add(chatTTL).Unix()
}

// AddWorkout appends one workout log entry under the user's partition.
func (c *Client) AddWorkout(ctx context.Context, userID string, entry domain.WorkoutEntry) error {
	if userID == "" {
		return errors.New("dynamo: AddWorkout: user id is required")
	}
	if entry.ID == "" {
		return errors.New("dynamo: AddWorkout: entry id is required")
	}

	item := map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK":          &types.AttributeValueMemberS{Value: logSK(entry.PerformedAt, entry.ID)},
		"id":          &types.AttributeValueMemberS{Value: entry.ID},
		"activity":    &types.AttributeValueMemberS{Value: entry.Activity},
		"durationMin": &types.AttributeValueMemberN{Value: strconv.Itoa(entry.DurationMin)},
		"calories":    &types.AttributeValueMemberN{Value: strconv.Itoa(entry.Calories)},
		"notes":       &types.AttributeValueMemberS{Value: entry.Notes},
		"performedAt": &types.AttributeValueMemberS{Value: entry.PerformedAt.UTC().Format(time.RFC3339Nano)},
	}
	if entry.WeightKg != nil {
		item["weightKg"] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(*entry.WeightKg, 'f', -1, 64)}
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("dynamo: AddWorkout: %w", err)
	}
	return nil
}

// ListWorkouts returns the user's workout entries, newest first.
func (c *Client) ListWorkouts(ctx context.Context, userID string, limit int) ([]domain.WorkoutEntry, error) {
	if userID == "" {
		return nil, errors.New("dynamo: ListWorkouts: user id is required")
	}

	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixLog},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: ListWorkouts query: %w", err)
	}

	entries := make([]domain.WorkoutEntry, 0, len(out.Items))
	for _, item := range out.Items {
		entry, err := itemToWorkout(item)
		if err != nil {
			return nil, fmt.Errorf("dynamo: ListWorkouts unmarshal: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SavePlan overwrites the user's latest plan.
func (c *Client) SavePlan(ctx context.Context, userID string, plan domain.Plan) error {
	if userID == "" {
		return errors.New("dynamo: SavePlan: user id is required")
	}

	blob, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("dynamo: SavePlan marshal: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK":        &types.AttributeValueMemberS{Value: skPlanLatest},
			"plan":      &types.AttributeValueMemberS{Value: string(blob)},
			"createdAt": &types.AttributeValueMemberS{Value: plan.CreatedAt.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamo: SavePlan: %w", err)
	}
	return nil
}

// LatestPlan returns the user's most recently saved plan.
func (c *Client) LatestPlan(ctx context.Context, userID string) (domain.Plan, error) {
	if userID == "" {
		return domain.Plan{}, errors.New("dynamo: LatestPlan: user id is required")
	}

	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skPlanLatest},
		},
	})
	if err != nil {
		return domain.Plan{}, fmt.Errorf("dynamo: LatestPlan get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Plan{}, repository.ErrNotFound
	}

	blob, err := strAttr(out.Item, "plan")
	if err != nil {
		return domain.Plan{}, fmt.Errorf("dynamo: LatestPlan: %w", err)
	}
	var plan domain.Plan
	if err := json.Unmarshal([]byte(blob), &plan); err != nil {
		return domain.Plan{}, fmt.Errorf("dynamo: LatestPlan unmarshal: %w", err)
	}
	return plan, nil
}

// GetTurnCount returns the persisted successful turn count for a conversation.
func (c *Client) GetTurnCount(ctx context.Context, userID, conversationID string) (int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: convMetaSK(conversationID)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("dynamo: GetTurnCount get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}

	turns, err := intAttr(out.Item, "turns")
	if err != nil {
		return 0, fmt.Errorf("dynamo: GetTurnCount decode turns: %w", err)
	}
	return turns, nil
}

// GetHistory returns completed turns for a conversation in chronological order.
func (c *Client) GetHistory(ctx context.Context, userID, conversationID string, limit int) ([]domain.Turn, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixConv + conversationID + skInfixMsg},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: GetHistory query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("dynamo: GetHistory unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SaveCompletedTurn persists the completed exchange and the updated
// conversation metadata in one transaction.
func (c *Client) SaveCompletedTurn(ctx context.Context, userID, conversationID, question, answer string, turns int) error {
	if userID == "" || conversationID == "" {
		return errors.New("dynamo: SaveCompletedTurn: user and conversation ids are required")
	}

	now := time.Now().UTC()
	ttl := chatTTLValue()

	msgItem := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK":             &types.AttributeValueMemberS{Value: convMsgSK(conversationID, now)},
		"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		"question":       &types.AttributeValueMemberS{Value: question},
		"answer":         &types.AttributeValueMemberS{Value: answer},
		"status":         &types.AttributeValueMemberS{Value: domain.TurnStatusComplete},
		"createdAt":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
	metaItem := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK":             &types.AttributeValueMemberS{Value: convMetaSK(conversationID)},
		"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		"turns":          &types.AttributeValueMemberN{Value: strconv.Itoa(turns)},
		"lastActivity":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                msgItem,
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      metaItem,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamo: SaveCompletedTurn: %w", err)
	}
	return nil
}

func itemToWorkout(item map[string]types.AttributeValue) (domain.WorkoutEntry, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.WorkoutEntry{}, err
	}
	activity, err := strAttr(item, "activity")
	if err != nil {
		return domain.WorkoutEntry{}, err
	}
	duration, err := intAttr(item, "durationMin")
	if err != nil {
		return domain.WorkoutEntry{}, err
	}
	calories, err := intAttr(item, "calories")
	if err != nil {
		return domain.WorkoutEntry{}, err
	}
	performedRaw, err := strAttr(item, "performedAt")
	if err != nil {
		return domain.WorkoutEntry{}, err
	}
	performedAt, err := time.Parse(time.RFC3339Nano, performedRaw)
	if err != nil {
		return domain.WorkoutEntry{}, fmt.Errorf("dynamo: parse performedAt: %w", err)
	}
	notes, _ := strAttr(item, "notes") // allow empty

	entry := domain.WorkoutEntry{
		ID:          id,
		Activity:    activity,
		DurationMin: duration,
		Calories:    calories,
		Notes:       notes,
		PerformedAt: performedAt,
	}
	if w, ok := item["weightKg"].(*types.AttributeValueMemberN); ok {
		weight, err := strconv.ParseFloat(w.Value, 64)
		if err != nil {
			return domain.WorkoutEntry{}, fmt.Errorf("dynamo: parse weightKg: %w", err)
		}
		entry.WeightKg = &weight
	}
	return entry, nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	conversationID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Turn{}, err
	}
	question, err := strAttr(item, "question")
	if err != nil {
		return domain.Turn{}, err
	}
	answer, _ := strAttr(item, "answer") // allow empty
	status, _ := strAttr(item, "status") // allow empty

	turn := domain.Turn{
		ConversationID: conversationID,
		Question:       question,
		Answer:         answer,
		Status:         status,
	}
	if raw, err := strAttr(item, "createdAt"); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			turn.CreatedAt = ts
		}
	}
	return turn, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("dynamo: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamo: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("dynamo: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamo: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("dynamo: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
