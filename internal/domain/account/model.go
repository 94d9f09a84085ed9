package account

import (
	"context"
	"time"

	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Account is the reconciled billing state of one customer
type Account struct {
	// ID is the internal identifier for the account
	ID string `db:"id" json:"id"`

	// CustomerID is the processor customer id, assigned once
	CustomerID string `db:"customer_id" json:"customer_id"`

	// Email is the contact email, unique across accounts
	Email string `db:"email" json:"email"`

	// SubscriptionID is the processor subscription id. For a checkout that
	// created no subscription it holds the checkout session id.
	SubscriptionID *string `db:"subscription_id" json:"subscription_id,omitempty"`

	SubscriptionStatus types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`

	PlanID       string             `db:"plan_id" json:"plan_id"`
	BillingCycle types.BillingCycle `db:"billing_cycle" json:"billing_cycle"`
	Currency     string             `db:"currency" json:"currency"`
	Price        decimal.Decimal    `db:"price" json:"price"`

	CurrentPeriodStart *time.Time `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	CanceledAt         *time.Time `db:"canceled_at" json:"canceled_at,omitempty"`

	// Version is incremented by every successful write and guards conditional updates
	Version int64 `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// New returns an empty account for the given email
func New(email string, now time.Time) *Account {
	return &Account{
		ID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ACCOUNT),
		Email:        email,
		BillingCycle: types.BillingCycleMonthly,
		Price:        decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// GetSubscriptionID returns the subscription id or an empty string
func (a *Account) GetSubscriptionID() string {
	return lo.FromPtr(a.SubscriptionID)
}

// Validate checks the account invariants before it is written
func (a *Account) Validate() error {
	if a.ID == "" {
		return ierr.NewError("account id is required").
			WithHint("Account must have an id").
			Mark(ierr.ErrValidation)
	}
	if a.Email == "" {
		return ierr.NewError("account email is required").
			WithHint("Account must have a contact email").
			Mark(ierr.ErrValidation)
	}
	if err := a.SubscriptionStatus.Validate(); err != nil {
		return err
	}
	if a.SubscriptionStatus != types.SubscriptionStatusUnset && a.GetSubscriptionID() == "" {
		return ierr.NewError("subscription id is required once a status is set").
			WithHintf("Account %s has status %s but no subscription id", a.ID, a.SubscriptionStatus).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without touching stored state
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.SubscriptionID = clonePtr(a.SubscriptionID)
	c.CurrentPeriodStart = clonePtr(a.CurrentPeriodStart)
	c.CurrentPeriodEnd = clonePtr(a.CurrentPeriodEnd)
	c.CanceledAt = clonePtr(a.CanceledAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Repository defines the interface for account data access.
// Update is a conditional write: it succeeds only when the stored version
// equals account.Version and bumps the version on success.
type Repository interface {
	Create(ctx context.Context, account *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByCustomerID(ctx context.Context, customerID string) (*Account, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*Account, error)
	Update(ctx context.Context, account *Account) error
}
