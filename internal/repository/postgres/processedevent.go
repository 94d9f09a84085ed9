package postgres

import (
	"context"
	"time"

	"github.com/flexprice/creditsync/internal/domain/processedevent"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/postgres"
	"github.com/flexprice/creditsync/internal/types"
)

type processedEventRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewProcessedEventRepository(db *postgres.DB, logger *logger.Logger) processedevent.Repository {
	return &processedEventRepository{db: db, logger: logger}
}

// Claim inserts a processing row, or takes over a failed row or a processing
// row whose lease ran out, in one statement. RETURNING yields nothing when
// the conflict branch's WHERE rejects the update.
func (r *processedEventRepository) Claim(ctx context.Context, req *processedevent.ClaimRequest) (bool, *processedevent.ProcessedEvent, error) {
	query := `
		INSERT INTO processed_events (event_id, event_type, outcome, warnings, claimed_at, processed_at, expires_at)
		VALUES ($1, $2, $3, '[]'::jsonb, $4, NULL, $5)
		ON CONFLICT (event_id) DO UPDATE SET
			event_type = EXCLUDED.event_type,
			outcome = EXCLUDED.outcome,
			warnings = EXCLUDED.warnings,
			claimed_at = EXCLUDED.claimed_at,
			processed_at = NULL,
			expires_at = EXCLUDED.expires_at
		WHERE processed_events.outcome = $6
			OR (processed_events.outcome = $3 AND processed_events.claimed_at <= $7)
		RETURNING event_id`

	var eventID string
	err := r.db.GetQuerier(ctx).GetContext(ctx, &eventID, query,
		req.EventID,
		req.EventType,
		types.ProcessingOutcomeProcessing,
		req.Now,
		req.ExpiresAt,
		types.ProcessingOutcomeFailed,
		req.Now.Add(-req.Lease),
	)
	if err == nil {
		return true, nil, nil
	}

	wrapped := postgres.WrapError(err, "processed event")
	if !ierr.IsNotFound(wrapped) {
		return false, nil, wrapped
	}

	existing, err := r.Get(ctx, req.EventID)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *processedEventRepository) Finish(ctx context.Context, eventID string, outcome types.ProcessingOutcome, warnings []string, at time.Time) error {
	result, err := r.db.GetQuerier(ctx).ExecContext(ctx, `
		UPDATE processed_events SET outcome = $2, warnings = $3, processed_at = $4
		WHERE event_id = $1`,
		eventID, outcome, types.StringList(warnings), at,
	)
	if err != nil {
		return postgres.WrapError(err, "processed event")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return postgres.WrapError(err, "processed event")
	}
	if rows == 0 {
		return ierr.NewError("processed event not found").
			WithHintf("Ledger entry %s is missing", eventID).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *processedEventRepository) Get(ctx context.Context, eventID string) (*processedevent.ProcessedEvent, error) {
	var e processedevent.ProcessedEvent
	err := r.db.GetQuerier(ctx).GetContext(ctx, &e, `
		SELECT event_id, event_type, outcome, warnings, claimed_at, processed_at, expires_at
		FROM processed_events WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, postgres.WrapError(err, "processed event")
	}
	return &e, nil
}

func (r *processedEventRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.GetQuerier(ctx).ExecContext(ctx,
		`DELETE FROM processed_events WHERE expires_at < $1`, before)
	if err != nil {
		return 0, postgres.WrapError(err, "processed event")
	}
	return result.RowsAffected()
}
