package service

import (
	"context"

	"github.com/flexprice/creditsync/internal/domain/account"
	"github.com/flexprice/creditsync/internal/domain/plan"
	"github.com/flexprice/creditsync/internal/domain/processor"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/keylock"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/samber/lo"
)

// CreateSubscription links a new subscription to the account of its customer.
// The account must already exist; when the checkout has not been reconciled
// yet the event fails and is redelivered later.
func (s *reconcilerService) CreateSubscription(
	ctx context.Context,
	evt *processor.Event,
	sub *processor.Subscription,
) (*Outcome, error) {
	if err := validateSubscription(sub); err != nil {
		return Failed(""), err
	}
	if sub.CustomerID == "" {
		return Failed(""), ierr.NewError("subscription has no customer").
			WithHintf("Subscription %s carries no customer id", sub.ID).
			Mark(ierr.ErrValidation)
	}

	current, unlock, err := s.lockAccount(ctx, func(ctx context.Context) (*account.Account, error) {
		return s.AccountRepo.GetByCustomerID(ctx, sub.CustomerID)
	}, keylock.CustomerKey(sub.CustomerID), keylock.SubscriptionKey(sub.ID))
	if err != nil {
		return Failed(""), err
	}
	defer unlock()
	if current == nil {
		s.Logger.Warnw("no account for subscription customer yet",
			"customer_id", sub.CustomerID,
			"subscription_id", sub.ID,
			"event_id", evt.ID,
		)
		return Failed(""), ierr.NewError("account not found for customer").
			WithHintf("No account is linked to customer %s yet", sub.CustomerID).
			WithReportableDetails(map[string]any{"customer_id": sub.CustomerID}).
			Mark(ierr.ErrNotFound)
	}

	if current.GetSubscriptionID() == sub.ID && current.SubscriptionStatus.IsTerminal() {
		return Ignored("subscription already canceled"), nil
	}

	now := s.now()
	next := current.Clone()
	next.SubscriptionID = lo.ToPtr(sub.ID)
	next.SubscriptionStatus = resolveStatus(current.SubscriptionStatus, sub.Status)
	next.CanceledAt = nil
	if next.SubscriptionStatus == types.SubscriptionStatusCanceled {
		next.CanceledAt = lo.CoalesceOrEmpty(sub.CanceledAt, lo.ToPtr(now))
	}
	if from := statusOf(current, sub.ID); !from.CanTransitionTo(next.SubscriptionStatus) {
		return s.rejectTransition(evt, current, from, next.SubscriptionStatus), nil
	}
	s.applyPeriod(next, sub.PeriodStart, sub.PeriodEnd, now)
	if planID := sub.Metadata[MetadataKeyPlan]; planID != "" {
		next.PlanID = plan.Normalize(planID)
	}
	if billing := sub.Metadata[MetadataKeyBilling]; billing != "" {
		next.BillingCycle = types.ParseBillingCycle(billing)
	}
	next.UpdatedAt = now

	if err := s.saveAccount(ctx, current, next); err != nil {
		s.Logger.Errorw("failed to link subscription to account",
			"error", err,
			"account_id", current.ID,
			"subscription_id", sub.ID,
			"event_id", evt.ID,
		)
		return Failed(current.ID), err
	}

	s.Logger.Infow("subscription linked",
		"account_id", next.ID,
		"subscription_id", sub.ID,
		"status", next.SubscriptionStatus,
		"event_id", evt.ID,
	)
	return Applied(next.ID, 1, nil), nil
}

// UpdateSubscription overwrites status and period bounds. Events are applied
// in delivery order: a stale update delivered last wins.
func (s *reconcilerService) UpdateSubscription(
	ctx context.Context,
	evt *processor.Event,
	sub *processor.Subscription,
) (*Outcome, error) {
	return s.mutateSubscription(ctx, evt, sub, "subscription updated", func(next *account.Account) {
		next.SubscriptionStatus = resolveStatus(next.SubscriptionStatus, sub.Status)
		if sub.PeriodStart != nil || sub.PeriodEnd != nil {
			s.applyPeriod(next, sub.PeriodStart, sub.PeriodEnd, next.UpdatedAt)
		}
		if next.SubscriptionStatus == types.SubscriptionStatusCanceled {
			next.CanceledAt = lo.CoalesceOrEmpty(sub.CanceledAt, lo.ToPtr(s.eventTime(evt)))
		}
	})
}

// CancelSubscription moves the account to the terminal canceled state
func (s *reconcilerService) CancelSubscription(
	ctx context.Context,
	evt *processor.Event,
	sub *processor.Subscription,
) (*Outcome, error) {
	return s.mutateSubscription(ctx, evt, sub, "subscription canceled", func(next *account.Account) {
		next.SubscriptionStatus = types.SubscriptionStatusCanceled
		next.CanceledAt = lo.CoalesceOrEmpty(sub.CanceledAt, lo.ToPtr(s.eventTime(evt)))
	})
}

// mutateSubscription loads the account owning sub, applies mutate to a copy
// and writes it back. A missing account fails the event; a canceled one
// acknowledges it without writing.
func (s *reconcilerService) mutateSubscription(
	ctx context.Context,
	evt *processor.Event,
	sub *processor.Subscription,
	action string,
	mutate func(next *account.Account),
) (*Outcome, error) {
	if err := validateSubscription(sub); err != nil {
		return Failed(""), err
	}

	current, unlock, err := s.lockAccount(ctx, func(ctx context.Context) (*account.Account, error) {
		return s.AccountRepo.GetBySubscriptionID(ctx, sub.ID)
	}, keylock.SubscriptionKey(sub.ID))
	if err != nil {
		return Failed(""), err
	}
	defer unlock()
	if current == nil {
		return Failed(""), ierr.NewError("account not found for subscription").
			WithHintf("No account is linked to subscription %s", sub.ID).
			WithReportableDetails(map[string]any{"subscription_id": sub.ID}).
			Mark(ierr.ErrNotFound)
	}

	if current.SubscriptionStatus.IsTerminal() {
		s.Logger.Infow("event for canceled subscription ignored",
			"account_id", current.ID,
			"subscription_id", sub.ID,
			"event_id", evt.ID,
			"event_type", evt.Type,
		)
		return Ignored("subscription already canceled"), nil
	}

	next := current.Clone()
	next.UpdatedAt = s.now()
	mutate(next)

	if !current.SubscriptionStatus.CanTransitionTo(next.SubscriptionStatus) {
		return s.rejectTransition(evt, current, current.SubscriptionStatus, next.SubscriptionStatus), nil
	}

	if err := s.saveAccount(ctx, current, next); err != nil {
		s.Logger.Errorw("failed to write account",
			"error", err,
			"action", action,
			"account_id", current.ID,
			"subscription_id", sub.ID,
			"event_id", evt.ID,
		)
		return Failed(current.ID), err
	}

	s.Logger.Infow(action,
		"account_id", next.ID,
		"subscription_id", sub.ID,
		"from", current.SubscriptionStatus,
		"to", next.SubscriptionStatus,
		"event_id", evt.ID,
	)
	return Applied(next.ID, 1, nil), nil
}

func validateSubscription(sub *processor.Subscription) error {
	if sub == nil || sub.ID == "" {
		return ierr.NewError("subscription id is missing").
			WithHint("Subscription event payload has no subscription id").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// statusOf returns the status acct holds for subscriptionID. A subscription
// the account is not linked to yet starts from unset.
func statusOf(acct *account.Account, subscriptionID string) types.SubscriptionStatus {
	if acct == nil || acct.GetSubscriptionID() != subscriptionID {
		return types.SubscriptionStatusUnset
	}
	return acct.SubscriptionStatus
}

// rejectTransition acknowledges an event whose status change the subscription
// state machine does not accept.
func (s *reconcilerService) rejectTransition(
	evt *processor.Event,
	acct *account.Account,
	from, to types.SubscriptionStatus,
) *Outcome {
	s.Logger.Infow("subscription status transition rejected",
		"account_id", acct.ID,
		"subscription_id", acct.GetSubscriptionID(),
		"from", from,
		"to", to,
		"event_id", evt.ID,
		"event_type", evt.Type,
	)
	return Ignored("status transition not allowed")
}
