package creditbalance

import (
	"context"
	"time"

	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/types"
)

// CreditBalance is the consumable credit allowance of an account for the
// current billing period. It is overwritten on every reset, never incremented.
type CreditBalance struct {
	AccountID    string             `db:"account_id" json:"account_id"`
	Credits      int64              `db:"credits" json:"credits"`
	PlanID       string             `db:"plan_id" json:"plan_id"`
	BillingCycle types.BillingCycle `db:"billing_cycle" json:"billing_cycle"`
	LastResetAt  time.Time          `db:"last_reset_at" json:"last_reset_at"`
	NextResetAt  time.Time          `db:"next_reset_at" json:"next_reset_at"`
	UpdatedAt    time.Time          `db:"updated_at" json:"updated_at"`
}

func (b *CreditBalance) Validate() error {
	if b.AccountID == "" {
		return ierr.NewError("account id is required").
			WithHint("Credit balance must belong to an account").
			Mark(ierr.ErrValidation)
	}
	if b.Credits < 0 {
		return ierr.NewError("credits must not be negative").
			WithHintf("Credit balance for %s would be %d", b.AccountID, b.Credits).
			Mark(ierr.ErrValidation)
	}
	if !b.NextResetAt.After(b.LastResetAt) {
		return ierr.NewError("next reset must be after last reset").
			WithHint("Invalid credit reset window").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Repository defines the interface for credit balance data access
type Repository interface {
	Get(ctx context.Context, accountID string) (*CreditBalance, error)
	// Replace writes the full balance, creating the row when it does not exist
	Replace(ctx context.Context, balance *CreditBalance) error
}
