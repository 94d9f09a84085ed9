package processedevent

import (
	"context"
	"time"

	"github.com/flexprice/creditsync/internal/types"
)

// ProcessedEvent is one row of the idempotency ledger
type ProcessedEvent struct {
	EventID     string                  `db:"event_id" json:"event_id" dynamodbav:"event_id"`
	EventType   string                  `db:"event_type" json:"event_type" dynamodbav:"event_type"`
	Outcome     types.ProcessingOutcome `db:"outcome" json:"outcome" dynamodbav:"outcome"`
	Warnings    types.StringList        `db:"warnings" json:"warnings" dynamodbav:"warnings"`
	ClaimedAt   time.Time               `db:"claimed_at" json:"claimed_at" dynamodbav:"claimed_at"`
	ProcessedAt *time.Time              `db:"processed_at" json:"processed_at,omitempty" dynamodbav:"processed_at,omitempty"`
	ExpiresAt   time.Time               `db:"expires_at" json:"expires_at" dynamodbav:"-"`
}

// IsReclaimable reports whether a new delivery may take over this entry:
// failed attempts are retried and stale processing claims are abandoned.
func (e *ProcessedEvent) IsReclaimable(now time.Time, lease time.Duration) bool {
	if e.Outcome.IsFinal() {
		return false
	}
	if e.Outcome == types.ProcessingOutcomeProcessing {
		return !e.ClaimedAt.Add(lease).After(now)
	}
	return true
}

// ClaimRequest describes one attempt to take ownership of an event id
type ClaimRequest struct {
	EventID   string
	EventType string
	Now       time.Time
	Lease     time.Duration
	ExpiresAt time.Time
}

// Repository is the idempotency ledger.
//
// Claim must be a single atomic conditional write: it inserts a processing
// entry, or takes over an entry that IsReclaimable. It returns claimed=false
// together with the current entry when another delivery owns the id.
type Repository interface {
	Claim(ctx context.Context, req *ClaimRequest) (claimed bool, existing *ProcessedEvent, err error)
	Finish(ctx context.Context, eventID string, outcome types.ProcessingOutcome, warnings []string, at time.Time) error
	Get(ctx context.Context, eventID string) (*ProcessedEvent, error)
	// DeleteExpired removes entries whose retention elapsed and returns how many
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
