package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/flexprice/creditsync/internal/config"
	"github.com/flexprice/creditsync/internal/domain/processedevent"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/types"
)

// finishTimeout bounds the ledger write made after a handler returns. It runs
// on a context detached from the request so a client disconnect cannot leave
// the entry stuck in processing.
const finishTimeout = 5 * time.Second

// Completion is what a guarded handler reports back for the ledger
type Completion struct {
	Outcome  types.ProcessingOutcome
	Warnings []string
}

// Guard makes event handling idempotent under at-least-once delivery
type Guard struct {
	repo   processedevent.Repository
	cfg    config.IdempotencyConfig
	logger *logger.Logger
	now    func() time.Time
	// claimTimeout bounds the claim round trip like any other store call
	claimTimeout time.Duration
}

func NewGuard(repo processedevent.Repository, cfg *config.Configuration, logger *logger.Logger) *Guard {
	return &Guard{
		repo:         repo,
		cfg:          cfg.Idempotency,
		logger:       logger,
		now:          time.Now,
		claimTimeout: cfg.Reconciler.StoreTimeout,
	}
}

// WithClock replaces the guard's time source
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Run claims eventID in the ledger and calls fn only if the claim was won.
//
// A finished entry makes Run report duplicate=true without calling fn. An
// entry still being processed by another delivery yields ErrEventInFlight so
// the sender retries later. When fn fails the entry is recorded as failed and
// stays claimable by the next delivery.
func (g *Guard) Run(
	ctx context.Context,
	eventID string,
	eventType string,
	fn func(ctx context.Context) (*Completion, error),
) (duplicate bool, err error) {
	if eventID == "" {
		return false, ierr.NewError("event id is required").
			WithHint("Events without an id cannot be deduplicated").
			Mark(ierr.ErrValidation)
	}

	now := g.now().UTC()
	claimed, existing, err := g.claim(ctx, &processedevent.ClaimRequest{
		EventID:   eventID,
		EventType: eventType,
		Now:       now,
		Lease:     g.cfg.Lease,
		ExpiresAt: now.Add(g.cfg.Retention),
	})
	if err != nil {
		g.logger.Errorw("failed to claim event in ledger",
			"error", err,
			"event_id", eventID,
			"event_type", eventType,
		)
		return false, err
	}

	if !claimed {
		if existing != nil && existing.Outcome == types.ProcessingOutcomeProcessing {
			g.logger.Warnw("event is already being processed, asking sender to retry",
				"event_id", eventID,
				"event_type", eventType,
				"claimed_at", existing.ClaimedAt,
			)
			return false, ierr.NewError("event is being processed by another delivery").
				WithHint("Event is in flight, retry later").
				WithReportableDetails(map[string]any{"event_id": eventID}).
				Mark(ierr.ErrEventInFlight)
		}

		g.logger.Infow("duplicate event suppressed",
			"event_id", eventID,
			"event_type", eventType,
		)
		return true, nil
	}

	completion, fnErr := fn(ctx)

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if fnErr != nil {
		if err := g.repo.Finish(finishCtx, eventID, types.ProcessingOutcomeFailed, nil, g.now().UTC()); err != nil {
			g.logger.Errorw("failed to record failed outcome in ledger",
				"error", err,
				"event_id", eventID,
			)
		}
		return false, fnErr
	}

	outcome := types.ProcessingOutcomeApplied
	var warnings []string
	if completion != nil {
		if completion.Outcome != "" {
			outcome = completion.Outcome
		}
		warnings = completion.Warnings
	}

	if err := g.repo.Finish(finishCtx, eventID, outcome, warnings, g.now().UTC()); err != nil {
		// The effects are applied; the entry becomes reclaimable once the lease
		// runs out and a redelivery re-applies the same replace-style writes.
		g.logger.Errorw("failed to record outcome in ledger",
			"error", err,
			"event_id", eventID,
			"outcome", outcome,
		)
	}
	return false, nil
}

func (g *Guard) claim(ctx context.Context, req *processedevent.ClaimRequest) (bool, *processedevent.ProcessedEvent, error) {
	if g.claimTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.claimTimeout)
		defer cancel()
	}

	claimed, existing, err := g.repo.Claim(ctx, req)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return false, nil, ierr.WithError(err).
			WithHint("Timed out claiming the event, retry later").
			WithReportableDetails(map[string]any{"event_id": req.EventID}).
			Mark(ierr.ErrTransient)
	}
	return claimed, existing, err
}

// Prune deletes ledger entries past their retention
func (g *Guard) Prune(ctx context.Context) (int64, error) {
	deleted, err := g.repo.DeleteExpired(ctx, g.now().UTC())
	if err != nil {
		g.logger.Errorw("failed to prune processed events", "error", err)
		return 0, err
	}
	if deleted > 0 {
		g.logger.Infow("pruned processed events", "deleted", deleted)
	}
	return deleted, nil
}

// StartPruner runs Prune every interval until ctx is done
func (g *Guard) StartPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = g.Prune(ctx)
			}
		}
	}()
}
