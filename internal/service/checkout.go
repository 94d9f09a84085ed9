package service

import (
	"context"
	"strings"
	"time"

	"github.com/flexprice/creditsync/internal/domain/account"
	"github.com/flexprice/creditsync/internal/domain/checkoutsession"
	"github.com/flexprice/creditsync/internal/domain/creditbalance"
	"github.com/flexprice/creditsync/internal/domain/plan"
	"github.com/flexprice/creditsync/internal/domain/processor"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/keylock"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Checkout session metadata keys written by the checkout initiation flow
const (
	MetadataKeyPlan     = "plan"
	MetadataKeyBilling  = "billing"
	MetadataKeyCurrency = "currency"
	MetadataKeyPrice    = "price"
)

// checkoutTerms is what a checkout purchased. Missing metadata falls back to
// defaults and never aborts processing.
type checkoutTerms struct {
	PlanID       string
	BillingCycle types.BillingCycle
	Currency     string
	Price        decimal.Decimal
}

func (s *reconcilerService) resolveCheckoutTerms(session *processor.CheckoutSession) checkoutTerms {
	md := session.Metadata
	terms := checkoutTerms{
		PlanID:       plan.Normalize(md[MetadataKeyPlan]),
		BillingCycle: types.ParseBillingCycle(md[MetadataKeyBilling]),
		Currency:     strings.ToLower(lo.CoalesceOrEmpty(md[MetadataKeyCurrency], session.Currency, s.Config.Reconciler.DefaultCurrency)),
		Price:        decimal.Zero,
	}

	if raw := strings.TrimSpace(md[MetadataKeyPrice]); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil || price.IsNegative() {
			s.Logger.Warnw("ignoring invalid price in checkout metadata",
				"session_id", session.ID,
				"price", raw,
			)
		} else {
			terms.Price = price
		}
	}
	return terms
}

// CompleteCheckout upserts the account keyed by contact email, then completes
// the checkout session and allocates the initial credit balance. Only the
// account write decides failure; the other two are reported as warnings.
func (s *reconcilerService) CompleteCheckout(
	ctx context.Context,
	evt *processor.Event,
	session *processor.CheckoutSession,
) (*Outcome, error) {
	if session == nil || session.ID == "" {
		return Failed(""), ierr.NewError("checkout session id is missing").
			WithHint("Checkout event payload has no session id").
			Mark(ierr.ErrValidation)
	}

	terms := s.resolveCheckoutTerms(session)

	email, err := s.resolveCheckoutEmail(ctx, session)
	if err != nil {
		return Failed(""), err
	}

	// The linked subscription is fetched in full; the event only carries its id
	var sub *processor.Subscription
	if session.SubscriptionID != "" {
		sub, err = s.Processor.GetSubscription(ctx, session.SubscriptionID)
		if err != nil {
			s.Logger.Errorw("failed to retrieve subscription for checkout",
				"error", err,
				"session_id", session.ID,
				"subscription_id", session.SubscriptionID,
			)
			return Failed(""), err
		}
	}

	// A checkout without a subscription is still a paid plan; the session id
	// stands in as the subscription reference.
	subscriptionID := lo.Ternary(sub != nil, session.SubscriptionID, session.ID)
	customerID := lo.CoalesceOrEmpty(session.CustomerID, lo.FromPtr(sub).CustomerID)

	current, unlock, err := s.lockAccount(ctx, func(ctx context.Context) (*account.Account, error) {
		return s.AccountRepo.GetByEmail(ctx, email)
	},
		keylock.EmailKey(email),
		keylock.CustomerKey(customerID),
		keylock.SubscriptionKey(subscriptionID),
	)
	if err != nil {
		return Failed(""), err
	}
	defer unlock()

	now := s.now()

	if current != nil && current.GetSubscriptionID() == subscriptionID && current.SubscriptionStatus.IsTerminal() {
		s.Logger.Infow("checkout for a canceled subscription ignored",
			"account_id", current.ID,
			"subscription_id", subscriptionID,
			"event_id", evt.ID,
		)
		return Ignored("subscription already canceled"), nil
	}

	next := account.New(email, now)
	if current != nil {
		next = current.Clone()
	}
	if next.CustomerID == "" {
		next.CustomerID = customerID
	}
	next.SubscriptionID = lo.ToPtr(subscriptionID)
	next.PlanID = terms.PlanID
	next.BillingCycle = terms.BillingCycle
	next.Currency = terms.Currency
	next.Price = terms.Price
	next.CanceledAt = nil
	next.UpdatedAt = now

	if sub != nil {
		next.SubscriptionStatus = resolveStatus(types.SubscriptionStatusUnset, sub.Status)
		s.applyPeriod(next, sub.PeriodStart, sub.PeriodEnd, now)
		if next.SubscriptionStatus == types.SubscriptionStatusCanceled {
			next.CanceledAt = lo.CoalesceOrEmpty(sub.CanceledAt, lo.ToPtr(now))
		}
	} else {
		next.SubscriptionStatus = types.SubscriptionStatusActive
		s.applyPeriod(next, nil, nil, now)
	}

	if from := statusOf(current, subscriptionID); current != nil && !from.CanTransitionTo(next.SubscriptionStatus) {
		return s.rejectTransition(evt, current, from, next.SubscriptionStatus), nil
	}

	if err := s.saveAccount(ctx, current, next); err != nil {
		s.Logger.Errorw("failed to upsert account for checkout",
			"error", err,
			"email", email,
			"session_id", session.ID,
			"event_id", evt.ID,
		)
		return Failed(next.ID), err
	}

	rows := 1
	var warnings []WriteFailure

	written, err := s.completeCheckoutSession(ctx, session, next, sub != nil, now)
	if err != nil {
		warnings = append(warnings, WriteFailure{Entity: "checkout_session", EntityID: session.ID, Err: err})
	} else if written {
		rows++
	}

	if credits := plan.Credits(terms.PlanID); credits > 0 {
		balance := &creditbalance.CreditBalance{
			AccountID:    next.ID,
			Credits:      credits,
			PlanID:       terms.PlanID,
			BillingCycle: terms.BillingCycle,
			LastResetAt:  now,
			NextResetAt:  plan.NextReset(now, terms.BillingCycle),
			UpdatedAt:    now,
		}
		if err := s.replaceBalance(ctx, balance); err != nil {
			warnings = append(warnings, WriteFailure{Entity: "credit_balance", EntityID: next.ID, Err: err})
		} else {
			rows++
		}
	} else {
		s.Logger.Debugw("plan has no credits, skipping balance allocation",
			"account_id", next.ID,
			"plan_id", terms.PlanID,
		)
	}

	for _, w := range warnings {
		s.reportWriteFailure(ctx, evt, w)
	}

	s.Logger.Infow("checkout reconciled",
		"account_id", next.ID,
		"session_id", session.ID,
		"subscription_id", subscriptionID,
		"plan_id", terms.PlanID,
		"billing_cycle", terms.BillingCycle,
		"created", current == nil,
		"warnings", len(warnings),
		"event_id", evt.ID,
	)

	return Applied(next.ID, rows, warnings), nil
}

// resolveCheckoutEmail prefers the email captured on the session and falls
// back to the processor customer.
func (s *reconcilerService) resolveCheckoutEmail(ctx context.Context, session *processor.CheckoutSession) (string, error) {
	if email := normalizeEmail(session.Email); email != "" {
		return email, nil
	}

	if session.CustomerID != "" {
		customer, err := s.Processor.GetCustomer(ctx, session.CustomerID)
		if err != nil {
			s.Logger.Errorw("failed to retrieve customer for checkout",
				"error", err,
				"session_id", session.ID,
				"customer_id", session.CustomerID,
			)
			return "", err
		}
		if email := normalizeEmail(customer.Email); email != "" {
			return email, nil
		}
	}

	return "", ierr.NewError("checkout has no contact email").
		WithHintf("Checkout session %s has no email and its customer has none either", session.ID).
		Mark(ierr.ErrValidation)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// completeCheckoutSession moves the session row to completed, creating it
// when the initiation flow never stored one. written is false when the row
// was already completed by an earlier delivery.
func (s *reconcilerService) completeCheckoutSession(
	ctx context.Context,
	session *processor.CheckoutSession,
	acct *account.Account,
	hasSubscription bool,
	now time.Time,
) (written bool, err error) {
	cs := &checkoutsession.CheckoutSession{
		ID:          session.ID,
		Status:      types.CheckoutSessionStatusCompleted,
		CustomerID:  lo.EmptyableToPtr(acct.CustomerID),
		AccountID:   lo.ToPtr(acct.ID),
		CompletedAt: lo.ToPtr(now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if hasSubscription {
		cs.SubscriptionID = lo.ToPtr(session.SubscriptionID)
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	err = s.CheckoutSessionRepo.Complete(storeCtx, cs)
	if err == nil {
		return true, nil
	}
	if !ierr.IsNotFound(err) {
		return false, storeErr(err, "checkout session")
	}

	// No pending row: either it was completed already or it never existed
	existing, err := s.CheckoutSessionRepo.Get(storeCtx, session.ID)
	if err == nil && existing.IsCompleted() {
		return false, nil
	}
	if err != nil && !ierr.IsNotFound(err) {
		return false, storeErr(err, "checkout session")
	}

	if err := s.CheckoutSessionRepo.Create(storeCtx, cs); err != nil {
		return false, storeErr(err, "checkout session")
	}
	return true, nil
}

func (s *reconcilerService) replaceBalance(ctx context.Context, balance *creditbalance.CreditBalance) error {
	if err := balance.Validate(); err != nil {
		return err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	return storeErr(s.CreditBalanceRepo.Replace(ctx, balance), "credit balance")
}
