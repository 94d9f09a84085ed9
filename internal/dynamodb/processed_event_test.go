package dynamodb

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/flexprice/creditsync/internal/config"
	"github.com/flexprice/creditsync/internal/domain/processedevent"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	claimCondition  = "attribute_not_exists(event_id) OR outcome = :failed OR (outcome = :processing AND claimed_at_ms <= :stale)"
	finishCondition = "attribute_exists(event_id)"
)

// fakeTable is a single-key table that evaluates the two condition
// expressions the ledger sends
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[string]dbtypes.AttributeValue
	err   error
	puts  []*dynamodb.PutItemInput
	gets  []*dynamodb.GetItemInput
}

var _ API = (*fakeTable)(nil)

func newFakeTable() *fakeTable {
	return &fakeTable{items: make(map[string]map[string]dbtypes.AttributeValue)}
}

func (f *fakeTable) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, in)
	if f.err != nil {
		return nil, f.err
	}
	if aws.ToString(in.ConditionExpression) != claimCondition {
		return nil, &dbtypes.ConditionalCheckFailedException{Message: aws.String("unexpected condition")}
	}

	id := stringAttr(in.Item, "event_id")
	if current, ok := f.items[id]; ok {
		values := in.ExpressionAttributeValues
		outcome := stringAttr(current, "outcome")
		failed := outcome == stringAttr(values, ":failed")
		stale := outcome == stringAttr(values, ":processing") &&
			numberAttr(current, "claimed_at_ms") <= numberAttr(values, ":stale")
		if !failed && !stale {
			return nil, &dbtypes.ConditionalCheckFailedException{Message: aws.String("conditional request failed")}
		}
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, in)
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[stringAttr(in.Key, "event_id")]}, nil
}

func (f *fakeTable) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if aws.ToString(in.ConditionExpression) != finishCondition {
		return nil, &dbtypes.ConditionalCheckFailedException{Message: aws.String("unexpected condition")}
	}

	id := stringAttr(in.Key, "event_id")
	current, ok := f.items[id]
	if !ok {
		return nil, &dbtypes.ConditionalCheckFailedException{Message: aws.String("conditional request failed")}
	}
	next := make(map[string]dbtypes.AttributeValue, len(current))
	for k, v := range current {
		next[k] = v
	}
	next["outcome"] = in.ExpressionAttributeValues[":outcome"]
	next["warnings"] = in.ExpressionAttributeValues[":warnings"]
	next["processed_at_ms"] = in.ExpressionAttributeValues[":at"]
	f.items[id] = next
	return &dynamodb.UpdateItemOutput{}, nil
}

func stringAttr(item map[string]dbtypes.AttributeValue, name string) string {
	if v, ok := item[name].(*dbtypes.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numberAttr(item map[string]dbtypes.AttributeValue, name string) int64 {
	if v, ok := item[name].(*dbtypes.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

type ledgerFixture struct {
	table *fakeTable
	repo  *ProcessedEventRepository
	now   time.Time
	lease time.Duration
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.DynamoDB.LedgerTableName = "processed_events_test"
	table := newFakeTable()
	return &ledgerFixture{
		table: table,
		repo:  NewProcessedEventRepository(&Client{db: table}, cfg, logger.NewNoopLogger()),
		now:   time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC),
		lease: 2 * time.Minute,
	}
}

func (f *ledgerFixture) claim(eventID string, at time.Time) (bool, *processedevent.ProcessedEvent, error) {
	return f.repo.Claim(context.Background(), &processedevent.ClaimRequest{
		EventID:   eventID,
		EventType: "invoice.paid",
		Now:       at,
		Lease:     f.lease,
		ExpiresAt: at.Add(30 * 24 * time.Hour),
	})
}

func TestProcessedEventRepository_ClaimWon(t *testing.T) {
	f := newLedgerFixture(t)

	claimed, existing, err := f.claim("evt_1", f.now)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Nil(t, existing)

	require.Len(t, f.table.puts, 1)
	assert.Equal(t, "processed_events_test", aws.ToString(f.table.puts[0].TableName))

	entry, err := f.repo.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, types.ProcessingOutcomeProcessing, entry.Outcome)
	assert.Equal(t, "invoice.paid", entry.EventType)
	assert.Equal(t, f.now, entry.ClaimedAt)
	assert.Equal(t, f.now.Add(30*24*time.Hour), entry.ExpiresAt)
	assert.Nil(t, entry.ProcessedAt)
}

func TestProcessedEventRepository_ClaimLostOnFinishedEntry(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, _, err := f.claim("evt_1", f.now)
	require.NoError(t, err)
	require.NoError(t, f.repo.Finish(ctx, "evt_1", types.ProcessingOutcomeAppliedWithWarnings, []string{"credit_balance"}, f.now.Add(time.Second)))

	claimed, existing, err := f.claim("evt_1", f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, claimed)
	require.NotNil(t, existing)
	assert.Equal(t, types.ProcessingOutcomeAppliedWithWarnings, existing.Outcome)
	assert.Equal(t, []string{"credit_balance"}, []string(existing.Warnings))
	require.NotNil(t, existing.ProcessedAt)
	assert.Equal(t, f.now.Add(time.Second), *existing.ProcessedAt)

	// the lost claim re-reads the entry consistently
	lastGet := f.table.gets[len(f.table.gets)-1]
	assert.True(t, aws.ToBool(lastGet.ConsistentRead))
}

func TestProcessedEventRepository_ClaimLostWhileInFlight(t *testing.T) {
	f := newLedgerFixture(t)

	_, _, err := f.claim("evt_1", f.now)
	require.NoError(t, err)

	claimed, existing, err := f.claim("evt_1", f.now.Add(f.lease-time.Second))
	require.NoError(t, err)
	assert.False(t, claimed)
	require.NotNil(t, existing)
	assert.Equal(t, types.ProcessingOutcomeProcessing, existing.Outcome)
}

func TestProcessedEventRepository_TakesOverFailedEntry(t *testing.T) {
	f := newLedgerFixture(t)

	_, _, err := f.claim("evt_1", f.now)
	require.NoError(t, err)
	require.NoError(t, f.repo.Finish(context.Background(), "evt_1", types.ProcessingOutcomeFailed, nil, f.now))

	retryAt := f.now.Add(time.Second)
	claimed, _, err := f.claim("evt_1", retryAt)
	require.NoError(t, err)
	assert.True(t, claimed)

	entry, err := f.repo.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, types.ProcessingOutcomeProcessing, entry.Outcome)
	assert.Equal(t, retryAt, entry.ClaimedAt)
}

func TestProcessedEventRepository_TakesOverExpiredLease(t *testing.T) {
	f := newLedgerFixture(t)

	_, _, err := f.claim("evt_1", f.now)
	require.NoError(t, err)

	claimed, _, err := f.claim("evt_1", f.now.Add(f.lease))
	require.NoError(t, err)
	assert.True(t, claimed)

	stale := f.table.puts[len(f.table.puts)-1].ExpressionAttributeValues[":stale"]
	assert.Equal(t, strconv.FormatInt(f.now.UnixMilli(), 10), stale.(*dbtypes.AttributeValueMemberN).Value)
}

func TestProcessedEventRepository_ThrottlingIsTransient(t *testing.T) {
	f := newLedgerFixture(t)
	f.table.err = &dbtypes.ProvisionedThroughputExceededException{Message: aws.String("slow down")}

	_, _, err := f.claim("evt_1", f.now)
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.ErrTransient))

	err = f.repo.Finish(context.Background(), "evt_1", types.ProcessingOutcomeApplied, nil, f.now)
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.ErrTransient))
}

func TestProcessedEventRepository_OtherErrorsAreDatabaseErrors(t *testing.T) {
	f := newLedgerFixture(t)
	f.table.err = &dbtypes.ResourceNotFoundException{Message: aws.String("no such table")}

	_, _, err := f.claim("evt_1", f.now)
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.ErrDatabase))
	assert.False(t, ierr.Is(err, ierr.ErrTransient))
}

func TestProcessedEventRepository_MissingEntries(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.repo.Get(ctx, "evt_missing")
	assert.True(t, ierr.IsNotFound(err))

	err = f.repo.Finish(ctx, "evt_missing", types.ProcessingOutcomeApplied, nil, f.now)
	assert.True(t, ierr.IsNotFound(err))
}
