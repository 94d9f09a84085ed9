// Package processor holds the processor-agnostic view of billing objects that
// the reconciler consumes. The stripe integration converts into these types.
package processor

import (
	"context"
	"time"

	"github.com/flexprice/creditsync/internal/types"
)

// Event is the envelope of a verified inbound event
type Event struct {
	ID      string
	Type    types.WebhookEventType
	Created time.Time
}

// Customer is the subset of a processor customer the reconciler needs
type Customer struct {
	ID    string
	Email string
}

// Subscription is the subset of a processor subscription the reconciler writes
type Subscription struct {
	ID          string
	CustomerID  string
	Status      types.SubscriptionStatus
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	CanceledAt  *time.Time
	Metadata    map[string]string
}

// CheckoutSession is a completed checkout as delivered in the event payload
type CheckoutSession struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	Email          string
	Currency       string
	Metadata       map[string]string
}

// Invoice is the subset of an invoice needed to locate the account
type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
}

// Client retrieves full processor objects when the event only carries ids
type Client interface {
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}
