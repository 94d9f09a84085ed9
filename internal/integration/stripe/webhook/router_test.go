package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/flexprice/creditsync/internal/domain/processedevent"
	"github.com/flexprice/creditsync/internal/domain/processor"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/integration/stripe"
	"github.com/flexprice/creditsync/internal/service"
	"github.com/flexprice/creditsync/internal/testutil"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/suite"
	stripeapi "github.com/stripe/stripe-go/v82"
)

type RouterSuite struct {
	testutil.BaseServiceTestSuite
	router   *Router
	verifier *stripe.Verifier
}

func TestRouter(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	stores := s.GetStores()
	reconciler := service.NewReconcilerService(service.ServiceParams{
		Logger:              s.GetLogger(),
		Config:              s.GetConfig(),
		AccountRepo:         stores.AccountRepo,
		CheckoutSessionRepo: stores.CheckoutSessionRepo,
		CreditBalanceRepo:   stores.CreditBalanceRepo,
		Processor:           s.GetProcessor(),
		Locker:              s.GetLocker(),
		SentryService:       s.GetSentry(),
		Now:                 s.Now,
	})
	s.router = NewRouter(s.GetGuard(), reconciler, s.GetPublisher(), s.GetSentry(), s.GetLogger())

	var err error
	s.verifier, err = stripe.NewVerifier(testutil.TestWebhookSecret, s.GetLogger())
	s.Require().NoError(err)
}

func (s *RouterSuite) stripeEvent(id, eventType string, object map[string]any) *stripeapi.Event {
	payload := testutil.NewStripeEventPayload(id, eventType, s.Now(), object)
	event, err := s.verifier.Verify(payload, testutil.SignStripePayload(payload, testutil.TestWebhookSecret))
	s.Require().NoError(err)
	return event
}

func (s *RouterSuite) checkoutEvent(id string) *stripeapi.Event {
	return s.stripeEvent(id, "checkout.session.completed", map[string]any{
		"id":           "cs_1",
		"object":       "checkout.session",
		"customer":     "cus_1",
		"subscription": "sub_1",
		"currency":     "usd",
		"customer_details": map[string]any{
			"email": "ada@example.com",
		},
		"metadata": map[string]any{
			"plan":    "creator",
			"billing": "yearly",
		},
	})
}

func (s *RouterSuite) seedSubscription() {
	start := s.Now()
	end := s.Now().AddDate(1, 0, 0)
	s.GetProcessor().AddSubscription(&processor.Subscription{
		ID:          "sub_1",
		CustomerID:  "cus_1",
		Status:      types.SubscriptionStatusActive,
		PeriodStart: &start,
		PeriodEnd:   &end,
	})
}

func (s *RouterSuite) TestRoute_CheckoutEndToEnd() {
	s.seedSubscription()

	outcome, err := s.router.Route(s.GetContext(), s.checkoutEvent("evt_1"))
	s.Require().NoError(err)
	s.Equal(service.OutcomeApplied, outcome.Status)

	accounts := s.GetStores().AccountRepo.All()
	s.Require().Len(accounts, 1)
	acct := accounts[0]
	s.Equal("creator", acct.PlanID)
	s.Equal(types.BillingCycleYearly, acct.BillingCycle)
	s.Equal(types.SubscriptionStatusActive, acct.SubscriptionStatus)

	balance, err := s.GetStores().CreditBalanceRepo.Get(s.GetContext(), acct.ID)
	s.Require().NoError(err)
	s.Equal(int64(500), balance.Credits)
	s.Equal(s.Now().AddDate(1, 0, 0), balance.NextResetAt)

	entry, err := s.GetStores().ProcessedEventRepo.Get(s.GetContext(), "evt_1")
	s.Require().NoError(err)
	s.Equal(types.ProcessingOutcomeApplied, entry.Outcome)

	published := s.GetPublisher().Events()
	s.Require().Len(published, 1)
	s.Equal("evt_1", published[0].EventID)
	s.Equal(string(service.OutcomeApplied), published[0].Status)
}

func (s *RouterSuite) TestRoute_DuplicateDeliveryIsSuppressed() {
	s.seedSubscription()
	event := s.checkoutEvent("evt_1")

	_, err := s.router.Route(s.GetContext(), event)
	s.Require().NoError(err)
	before := s.GetStores().AccountRepo.All()

	outcome, err := s.router.Route(s.GetContext(), event)
	s.Require().NoError(err)
	s.Equal(service.OutcomeDuplicate, outcome.Status)

	after := s.GetStores().AccountRepo.All()
	s.Equal(before, after)
	s.Equal(1, s.GetProcessor().Calls("GetSubscription"))
	s.Len(s.GetPublisher().Events(), 1)
}

func (s *RouterSuite) TestRoute_ConcurrentDuplicatesApplyOnce() {
	s.seedSubscription()
	event := s.checkoutEvent("evt_1")

	const n = 10
	outcomes := make([]*service.Outcome, n)
	errs := make([]error, n)
	var wg conc.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Go(func() {
			outcomes[i], errs[i] = s.router.Route(s.GetContext(), event)
		})
	}
	wg.Wait()

	applied := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			// lost the claim while the winner was still running
			s.True(ierr.IsEventInFlight(errs[i]))
			continue
		}
		if outcomes[i].Status == service.OutcomeApplied {
			applied++
		} else {
			s.Equal(service.OutcomeDuplicate, outcomes[i].Status)
		}
	}
	s.Equal(1, applied)
	s.Len(s.GetStores().AccountRepo.All(), 1)
	s.Equal(1, s.GetProcessor().Calls("GetSubscription"))
}

func (s *RouterSuite) TestRoute_UnknownTypeIsNotHandled() {
	event := s.stripeEvent("evt_price", "price.updated", map[string]any{"id": "price_1", "object": "price"})

	outcome, err := s.router.Route(s.GetContext(), event)
	s.Require().NoError(err)
	s.Equal(service.OutcomeNotHandled, outcome.Status)
	s.False(s.router.Handles("price.updated"))

	_, err = s.GetStores().ProcessedEventRepo.Get(s.GetContext(), "evt_price")
	s.True(ierr.IsNotFound(err), "unknown events do not consume ledger entries")
	s.Empty(s.GetStores().AccountRepo.All())
	s.Empty(s.GetPublisher().Events())
}

func (s *RouterSuite) TestRoute_MalformedObjectIsRejected() {
	event := s.stripeEvent("evt_bad", "customer.subscription.updated", map[string]any{
		"id":     "sub_1",
		"status": map[string]any{"nested": true},
	})

	_, err := s.router.Route(s.GetContext(), event)
	s.Error(err)
	s.True(ierr.IsVerification(err))
	s.Equal(0, s.GetStores().ProcessedEventRepo.Count())
}

func (s *RouterSuite) TestRoute_ObjectWithoutIDIsRejected() {
	event := s.stripeEvent("evt_noid", "invoice.paid", map[string]any{
		"object":   "invoice",
		"customer": "cus_1",
	})

	_, err := s.router.Route(s.GetContext(), event)
	s.Error(err)
	s.True(ierr.IsVerification(err))
	s.Equal(0, s.GetStores().ProcessedEventRepo.Count())
}

func (s *RouterSuite) TestRoute_FailedEventIsRetriedOnRedelivery() {
	event := s.stripeEvent("evt_sub", "customer.subscription.created", map[string]any{
		"id":       "sub_1",
		"object":   "subscription",
		"customer": "cus_1",
		"status":   "active",
	})

	// the checkout that creates the account has not arrived yet
	outcome, err := s.router.Route(s.GetContext(), event)
	s.Error(err)
	s.Equal(service.OutcomeFailed, outcome.Status)

	entry, err := s.GetStores().ProcessedEventRepo.Get(s.GetContext(), "evt_sub")
	s.Require().NoError(err)
	s.Equal(types.ProcessingOutcomeFailed, entry.Outcome)

	s.seedSubscription()
	_, err = s.router.Route(s.GetContext(), s.checkoutEvent("evt_checkout"))
	s.Require().NoError(err)

	outcome, err = s.router.Route(s.GetContext(), event)
	s.Require().NoError(err)
	s.Equal(service.OutcomeApplied, outcome.Status)
}

func (s *RouterSuite) TestRoute_InFlightDeliveryAsksForRetry() {
	claimed, _, err := s.GetStores().ProcessedEventRepo.Claim(s.GetContext(), &processedevent.ClaimRequest{
		EventID:   "evt_1",
		EventType: "checkout.session.completed",
		Now:       s.Now(),
		Lease:     time.Minute,
		ExpiresAt: s.Now().Add(time.Hour),
	})
	s.Require().NoError(err)
	s.Require().True(claimed)

	_, err = s.router.Route(s.GetContext(), s.checkoutEvent("evt_1"))
	s.Error(err)
	s.True(ierr.IsEventInFlight(err))
	s.True(ierr.IsTransient(err))
	s.Empty(s.GetStores().AccountRepo.All())
}

func (s *RouterSuite) TestRoute_InvoiceParentSubscription() {
	s.seedSubscription()
	_, err := s.router.Route(s.GetContext(), s.checkoutEvent("evt_checkout"))
	s.Require().NoError(err)

	event := s.stripeEvent("evt_failed", "invoice.payment_failed", map[string]any{
		"id":       "in_1",
		"object":   "invoice",
		"customer": "cus_1",
		"parent": map[string]any{
			"type": "subscription_details",
			"subscription_details": map[string]any{
				"subscription": "sub_1",
			},
		},
	})

	outcome, err := s.router.Route(s.GetContext(), event)
	s.Require().NoError(err)
	s.Equal(service.OutcomeApplied, outcome.Status)
	s.Equal(types.SubscriptionStatusPastDue, s.GetStores().AccountRepo.All()[0].SubscriptionStatus)
}

func (s *RouterSuite) TestRoute_PaymentFailedWithoutAccount() {
	event := s.stripeEvent("evt_failed", "invoice.payment_failed", map[string]any{
		"id":     "in_1",
		"object": "invoice",
		"parent": map[string]any{
			"type":                 "subscription_details",
			"subscription_details": map[string]any{"subscription": "sub_nobody"},
		},
	})

	outcome, err := s.router.Route(s.GetContext(), event)
	s.Require().NoError(err)
	s.Equal(service.OutcomeIgnored, outcome.Status)
	s.Equal(0, outcome.Rows)
	s.Empty(s.GetStores().AccountRepo.All())
}

func (s *RouterSuite) TestRoute_PublishFailureDoesNotFailEvent() {
	s.GetPublisher().FailOn("Publish", ierr.NewError("broker down").Mark(ierr.ErrSystem))
	s.seedSubscription()

	outcome, err := s.router.Route(context.WithoutCancel(s.GetContext()), s.checkoutEvent("evt_1"))
	s.Require().NoError(err)
	s.Equal(service.OutcomeApplied, outcome.Status)
}
