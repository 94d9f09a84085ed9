package dynamodb

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/flexprice/creditsync/internal/config"
	"github.com/flexprice/creditsync/internal/domain/processedevent"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/samber/lo"
)

// ledgerItem is the stored form of a ledger entry. Times are epoch numbers so
// condition expressions can compare them; expires_at is the table's TTL
// attribute in seconds.
type ledgerItem struct {
	EventID     string   `dynamodbav:"event_id"`
	EventType   string   `dynamodbav:"event_type"`
	Outcome     string   `dynamodbav:"outcome"`
	Warnings    []string `dynamodbav:"warnings"`
	ClaimedAt   int64    `dynamodbav:"claimed_at_ms"`
	ProcessedAt int64    `dynamodbav:"processed_at_ms,omitempty"`
	ExpiresAt   int64    `dynamodbav:"expires_at"`
}

func (i *ledgerItem) toDomain() *processedevent.ProcessedEvent {
	e := &processedevent.ProcessedEvent{
		EventID:   i.EventID,
		EventType: i.EventType,
		Outcome:   types.ProcessingOutcome(i.Outcome),
		Warnings:  types.StringList(i.Warnings),
		ClaimedAt: time.UnixMilli(i.ClaimedAt).UTC(),
		ExpiresAt: time.Unix(i.ExpiresAt, 0).UTC(),
	}
	if i.ProcessedAt > 0 {
		e.ProcessedAt = lo.ToPtr(time.UnixMilli(i.ProcessedAt).UTC())
	}
	return e
}

// ProcessedEventRepository is an idempotency ledger on a DynamoDB table keyed
// by event_id. Claims are conditional puts, so concurrent deliveries across
// instances race on the table rather than on a process-local lock.
type ProcessedEventRepository struct {
	client    *Client
	tableName string
	logger    *logger.Logger
}

var _ processedevent.Repository = (*ProcessedEventRepository)(nil)

func NewProcessedEventRepository(client *Client, cfg *config.Configuration, logger *logger.Logger) *ProcessedEventRepository {
	return &ProcessedEventRepository{
		client:    client,
		tableName: cfg.DynamoDB.LedgerTableName,
		logger:    logger,
	}
}

func (r *ProcessedEventRepository) Claim(ctx context.Context, req *processedevent.ClaimRequest) (bool, *processedevent.ProcessedEvent, error) {
	item, err := attributevalue.MarshalMap(&ledgerItem{
		EventID:   req.EventID,
		EventType: req.EventType,
		Outcome:   string(types.ProcessingOutcomeProcessing),
		Warnings:  []string{},
		ClaimedAt: req.Now.UnixMilli(),
		ExpiresAt: req.ExpiresAt.Unix(),
	})
	if err != nil {
		return false, nil, ierr.WithError(err).
			WithHint("Failed to marshal ledger entry").
			Mark(ierr.ErrSystem)
	}

	_, err = r.client.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(event_id) OR outcome = :failed OR (outcome = :processing AND claimed_at_ms <= :stale)"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":failed":     &dbtypes.AttributeValueMemberS{Value: string(types.ProcessingOutcomeFailed)},
			":processing": &dbtypes.AttributeValueMemberS{Value: string(types.ProcessingOutcomeProcessing)},
			":stale":      &dbtypes.AttributeValueMemberN{Value: formatInt(req.Now.Add(-req.Lease).UnixMilli())},
		},
	})
	if err == nil {
		r.logger.Debugw("claimed event in dynamodb ledger", "event_id", req.EventID)
		return true, nil, nil
	}

	var conditionFailed *dbtypes.ConditionalCheckFailedException
	if !errors.As(err, &conditionFailed) {
		return false, nil, wrapError(err, "claim")
	}

	existing, err := r.Get(ctx, req.EventID)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *ProcessedEventRepository) Finish(ctx context.Context, eventID string, outcome types.ProcessingOutcome, warnings []string, at time.Time) error {
	warningsAV, err := attributevalue.Marshal(lo.Ternary(warnings == nil, []string{}, warnings))
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to marshal ledger warnings").
			Mark(ierr.ErrSystem)
	}

	_, err = r.client.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 r.key(eventID),
		UpdateExpression:    aws.String("SET outcome = :outcome, warnings = :warnings, processed_at_ms = :at"),
		ConditionExpression: aws.String("attribute_exists(event_id)"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":outcome":  &dbtypes.AttributeValueMemberS{Value: string(outcome)},
			":warnings": warningsAV,
			":at":       &dbtypes.AttributeValueMemberN{Value: formatInt(at.UnixMilli())},
		},
	})
	if err != nil {
		var conditionFailed *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ierr.NewError("processed event not found").
				WithHintf("Ledger entry %s is missing", eventID).
				Mark(ierr.ErrNotFound)
		}
		return wrapError(err, "finish")
	}
	return nil
}

func (r *ProcessedEventRepository) Get(ctx context.Context, eventID string) (*processedevent.ProcessedEvent, error) {
	out, err := r.client.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            r.key(eventID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, wrapError(err, "get")
	}
	if len(out.Item) == 0 {
		return nil, ierr.NewError("processed event not found").
			WithHintf("No ledger entry for %s", eventID).
			Mark(ierr.ErrNotFound)
	}

	var item ledgerItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to unmarshal ledger entry").
			Mark(ierr.ErrSystem)
	}
	return item.toDomain(), nil
}

// DeleteExpired is a no-op: the table's TTL on expires_at removes entries
func (r *ProcessedEventRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (r *ProcessedEventRepository) key(eventID string) map[string]dbtypes.AttributeValue {
	return map[string]dbtypes.AttributeValue{
		"event_id": &dbtypes.AttributeValueMemberS{Value: eventID},
	}
}

func wrapError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ierr.WithError(err).
			WithHintf("DynamoDB %s timed out", op).
			Mark(ierr.ErrTransient)
	}
	var throttled *dbtypes.ProvisionedThroughputExceededException
	if errors.As(err, &throttled) {
		return ierr.WithError(err).
			WithHintf("DynamoDB %s was throttled", op).
			Mark(ierr.ErrTransient)
	}
	return ierr.WithError(err).
		WithHintf("DynamoDB %s failed", op).
		Mark(ierr.ErrDatabase)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
