package service

import (
	"context"

	"github.com/flexprice/creditsync/internal/domain/account"
	"github.com/flexprice/creditsync/internal/domain/creditbalance"
	"github.com/flexprice/creditsync/internal/domain/plan"
	"github.com/flexprice/creditsync/internal/domain/processor"
	"github.com/flexprice/creditsync/internal/keylock"
	"github.com/flexprice/creditsync/internal/types"
)

// RecordPaymentSucceeded resets the credit balance of the paying account to
// its plan allocation. The balance is replaced, never added to.
//
// The reset is anchored on the event timestamp, not on the account's period
// end, so next_reset_at can drift from the billing boundary over many cycles.
func (s *reconcilerService) RecordPaymentSucceeded(
	ctx context.Context,
	evt *processor.Event,
	inv *processor.Invoice,
) (*Outcome, error) {
	current, unlock, outcome, err := s.accountForInvoice(ctx, evt, inv)
	if current == nil {
		return outcome, err
	}
	defer unlock()

	credits := plan.Credits(current.PlanID)
	if credits == 0 {
		s.Logger.Debugw("payment for plan without credits",
			"account_id", current.ID,
			"plan_id", current.PlanID,
			"event_id", evt.ID,
		)
		return Ignored("plan has no credits"), nil
	}

	resetAt := s.eventTime(evt)
	balance := &creditbalance.CreditBalance{
		AccountID:    current.ID,
		Credits:      credits,
		PlanID:       current.PlanID,
		BillingCycle: current.BillingCycle,
		LastResetAt:  resetAt,
		NextResetAt:  plan.NextReset(resetAt, current.BillingCycle),
		UpdatedAt:    s.now(),
	}

	if err := s.replaceBalance(ctx, balance); err != nil {
		s.Logger.Errorw("failed to reset credit balance",
			"error", err,
			"account_id", current.ID,
			"event_id", evt.ID,
		)
		return Failed(current.ID), err
	}

	s.Logger.Infow("credit balance reset",
		"account_id", current.ID,
		"plan_id", current.PlanID,
		"credits", credits,
		"next_reset_at", balance.NextResetAt,
		"event_id", evt.ID,
	)
	return Applied(current.ID, 1, nil), nil
}

// RecordPaymentFailed moves the paying account to past_due
func (s *reconcilerService) RecordPaymentFailed(
	ctx context.Context,
	evt *processor.Event,
	inv *processor.Invoice,
) (*Outcome, error) {
	current, unlock, outcome, err := s.accountForInvoice(ctx, evt, inv)
	if current == nil {
		return outcome, err
	}
	defer unlock()

	if current.SubscriptionStatus == types.SubscriptionStatusPastDue {
		return Applied(current.ID, 0, nil), nil
	}
	if !current.SubscriptionStatus.CanTransitionTo(types.SubscriptionStatusPastDue) {
		return s.rejectTransition(evt, current, current.SubscriptionStatus, types.SubscriptionStatusPastDue), nil
	}

	next := current.Clone()
	next.SubscriptionStatus = types.SubscriptionStatusPastDue
	next.UpdatedAt = s.now()

	if err := s.saveAccount(ctx, current, next); err != nil {
		s.Logger.Errorw("failed to mark account past due",
			"error", err,
			"account_id", current.ID,
			"event_id", evt.ID,
		)
		return Failed(current.ID), err
	}

	s.Logger.Infow("account past due",
		"account_id", next.ID,
		"subscription_id", next.GetSubscriptionID(),
		"from", current.SubscriptionStatus,
		"event_id", evt.ID,
	)
	return Applied(next.ID, 1, nil), nil
}

// accountForInvoice locks the invoice's subscription and loads its account.
// When there is nothing to apply it returns a nil account together with the
// outcome to report; payment events routinely arrive for subscriptions this
// service has never seen.
func (s *reconcilerService) accountForInvoice(
	ctx context.Context,
	evt *processor.Event,
	inv *processor.Invoice,
) (*account.Account, func(), *Outcome, error) {
	if inv == nil || inv.SubscriptionID == "" {
		s.Logger.Debugw("invoice is not tied to a subscription", "event_id", evt.ID)
		return nil, nil, Ignored("invoice has no subscription"), nil
	}

	current, unlock, err := s.lockAccount(ctx, func(ctx context.Context) (*account.Account, error) {
		return s.AccountRepo.GetBySubscriptionID(ctx, inv.SubscriptionID)
	}, keylock.SubscriptionKey(inv.SubscriptionID))
	if err != nil {
		return nil, nil, Failed(""), err
	}
	if current == nil {
		unlock()
		s.Logger.Debugw("no account for invoice subscription",
			"subscription_id", inv.SubscriptionID,
			"invoice_id", inv.ID,
			"event_id", evt.ID,
		)
		return nil, nil, Ignored("no account for subscription"), nil
	}

	if current.SubscriptionStatus.IsTerminal() {
		unlock()
		s.Logger.Infow("payment event for canceled subscription ignored",
			"account_id", current.ID,
			"subscription_id", inv.SubscriptionID,
			"event_id", evt.ID,
		)
		return nil, nil, Ignored("subscription already canceled"), nil
	}

	return current, unlock, nil, nil
}
