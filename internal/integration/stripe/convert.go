package stripe

import (
	"time"

	"github.com/flexprice/creditsync/internal/domain/processor"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v82"
)

// CheckoutSessionFromAPI maps a Stripe checkout session. The email collected
// at checkout wins over the one the session was created with.
func CheckoutSessionFromAPI(cs *stripe.CheckoutSession) *processor.CheckoutSession {
	session := &processor.CheckoutSession{
		ID:       cs.ID,
		Email:    cs.CustomerEmail,
		Currency: string(cs.Currency),
		Metadata: cs.Metadata,
	}
	if cs.Customer != nil {
		session.CustomerID = cs.Customer.ID
	}
	if cs.Subscription != nil {
		session.SubscriptionID = cs.Subscription.ID
	}
	if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
		session.Email = cs.CustomerDetails.Email
	}
	return session
}

// SubscriptionFromAPI maps a Stripe subscription. The billing period lives on
// the first item and a subscription that ended without canceled_at reports
// ended_at instead.
func SubscriptionFromAPI(ss *stripe.Subscription) *processor.Subscription {
	sub := &processor.Subscription{
		ID:         ss.ID,
		Status:     types.SubscriptionStatusFromProcessor(string(ss.Status)),
		CanceledAt: unixTime(lo.CoalesceOrEmpty(ss.CanceledAt, ss.EndedAt)),
		Metadata:   ss.Metadata,
	}
	if ss.Customer != nil {
		sub.CustomerID = ss.Customer.ID
	}
	if ss.Items != nil && len(ss.Items.Data) > 0 {
		item := ss.Items.Data[0]
		sub.PeriodStart = unixTime(item.CurrentPeriodStart)
		sub.PeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	return sub
}

// InvoiceFromAPI maps a Stripe invoice. Its subscription is only known through
// parent.subscription_details.
func InvoiceFromAPI(in *stripe.Invoice) *processor.Invoice {
	inv := &processor.Invoice{ID: in.ID}
	if in.Customer != nil {
		inv.CustomerID = in.Customer.ID
	}
	if in.Parent != nil && in.Parent.SubscriptionDetails != nil && in.Parent.SubscriptionDetails.Subscription != nil {
		inv.SubscriptionID = in.Parent.SubscriptionDetails.Subscription.ID
	}
	return inv
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
