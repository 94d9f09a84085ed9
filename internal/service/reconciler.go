package service

import (
	"context"
	"errors"
	"time"

	"github.com/flexprice/creditsync/internal/domain/account"
	"github.com/flexprice/creditsync/internal/domain/processor"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/keylock"
	"github.com/flexprice/creditsync/internal/types"
)

// ReconcilerService applies verified billing events to account state.
//
// Every handler returns an Outcome. A non-nil error always comes with an
// OutcomeFailed outcome and means the primary write did not land.
type ReconcilerService interface {
	CompleteCheckout(ctx context.Context, evt *processor.Event, session *processor.CheckoutSession) (*Outcome, error)
	CreateSubscription(ctx context.Context, evt *processor.Event, sub *processor.Subscription) (*Outcome, error)
	UpdateSubscription(ctx context.Context, evt *processor.Event, sub *processor.Subscription) (*Outcome, error)
	CancelSubscription(ctx context.Context, evt *processor.Event, sub *processor.Subscription) (*Outcome, error)
	RecordPaymentSucceeded(ctx context.Context, evt *processor.Event, inv *processor.Invoice) (*Outcome, error)
	RecordPaymentFailed(ctx context.Context, evt *processor.Event, inv *processor.Invoice) (*Outcome, error)
}

type reconcilerService struct {
	ServiceParams
}

func NewReconcilerService(params ServiceParams) ReconcilerService {
	if params.Now == nil {
		params.Now = time.Now
	}
	return &reconcilerService{
		ServiceParams: params,
	}
}

func (s *reconcilerService) now() time.Time {
	return s.Now().UTC()
}

// storeContext bounds a single storage round trip
func (s *reconcilerService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.Config.Reconciler.StoreTimeout)
}

// storeErr classifies a storage error. Timeouts and write conflicts are
// transient so the sender redelivers the event.
func storeErr(err error, entity string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ierr.WithError(err).
			WithHintf("Timed out writing %s", entity).
			Mark(ierr.ErrTransient)
	case ierr.IsVersionConflict(err), ierr.IsAlreadyExists(err):
		return ierr.WithError(err).
			WithHintf("Concurrent write to %s, retry later", entity).
			Mark(ierr.ErrTransient)
	}
	return err
}

// lock acquires the per-key locks for the handler, waiting at most the
// configured lock timeout.
func (s *reconcilerService) lock(ctx context.Context, keys ...string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.Config.Reconciler.LockTimeout)
	defer cancel()

	unlock, err := s.Locker.Lock(ctx, keys...)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Timed out waiting for a concurrent event on the same account").
			WithReportableDetails(map[string]any{"keys": keys}).
			Mark(ierr.ErrTransient)
	}
	return unlock, nil
}

// lockAccount locks keys, resolves the account through lookup and then locks
// the account id as well, so handlers that reach one account through
// different subscriptions still run one at a time. The account is read again
// under the account lock because the previous holder may have changed it.
//
// A nil account comes back with a valid unlock func when lookup finds
// nothing.
func (s *reconcilerService) lockAccount(
	ctx context.Context,
	lookup func(ctx context.Context) (*account.Account, error),
	keys ...string,
) (*account.Account, func(), error) {
	unlockKeys, err := s.lock(ctx, keys...)
	if err != nil {
		return nil, nil, err
	}

	current, err := s.findAccount(ctx, lookup)
	if err != nil {
		unlockKeys()
		return nil, nil, err
	}
	if current == nil {
		return nil, unlockKeys, nil
	}

	unlockAccount, err := s.lock(ctx, keylock.AccountKey(current.ID))
	if err != nil {
		unlockKeys()
		return nil, nil, err
	}
	unlock := func() {
		unlockAccount()
		unlockKeys()
	}

	latest, err := s.findAccount(ctx, lookup)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	if latest != nil && latest.ID != current.ID {
		unlock()
		return nil, nil, ierr.NewError("account changed while waiting for its lock").
			WithHint("The account was relinked by a concurrent event, retry later").
			WithReportableDetails(map[string]any{"account_id": current.ID}).
			Mark(ierr.ErrTransient)
	}
	return latest, unlock, nil
}

// findAccount runs lookup under the store timeout and maps not found to nil
func (s *reconcilerService) findAccount(
	ctx context.Context,
	lookup func(ctx context.Context) (*account.Account, error),
) (*account.Account, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	acct, err := lookup(ctx)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, nil
		}
		return nil, storeErr(err, "account")
	}
	return acct, nil
}

// saveAccount creates next when current is nil and otherwise replaces
// current with next through a version-guarded update.
func (s *reconcilerService) saveAccount(ctx context.Context, current, next *account.Account) error {
	if err := next.Validate(); err != nil {
		return err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	var err error
	if current == nil {
		err = s.AccountRepo.Create(ctx, next)
	} else {
		err = s.AccountRepo.Update(ctx, next)
	}
	return storeErr(err, "account")
}

// applyPeriod copies the billing period onto acct. A missing start defaults to
// now and a missing end to now plus the configured default period, whatever
// the start was.
func (s *reconcilerService) applyPeriod(acct *account.Account, start, end *time.Time, now time.Time) {
	periodStart := now
	if start != nil {
		periodStart = start.UTC()
	}
	periodEnd := now.Add(s.Config.Reconciler.DefaultPeriod)
	if end != nil {
		periodEnd = end.UTC()
	}
	acct.CurrentPeriodStart = &periodStart
	acct.CurrentPeriodEnd = &periodEnd
}

// resolveStatus keeps the current status when the processor reports one we
// do not track.
func resolveStatus(current, incoming types.SubscriptionStatus) types.SubscriptionStatus {
	if incoming != types.SubscriptionStatusUnset {
		return incoming
	}
	if current != types.SubscriptionStatusUnset {
		return current
	}
	return types.SubscriptionStatusActive
}

// eventTime returns when the processor created the event, or now for events
// that carry no timestamp.
func (s *reconcilerService) eventTime(evt *processor.Event) time.Time {
	if evt == nil || evt.Created.IsZero() {
		return s.now()
	}
	return evt.Created.UTC()
}

// reportWriteFailure logs and captures a secondary write failure. These never
// trigger a redelivery, so they have to be visible out of band.
func (s *reconcilerService) reportWriteFailure(ctx context.Context, evt *processor.Event, failure WriteFailure) {
	s.Logger.Errorw("secondary write failed",
		"error", failure.Err,
		"entity", failure.Entity,
		"entity_id", failure.EntityID,
		"event_id", evt.ID,
		"event_type", evt.Type,
	)
	if s.SentryService != nil {
		s.SentryService.CaptureWithTags(ctx, failure.Err, map[string]string{
			"event_id":   evt.ID,
			"event_type": string(evt.Type),
			"entity":     failure.Entity,
		})
	}
}
