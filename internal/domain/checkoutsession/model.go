package checkoutsession

import (
	"context"
	"time"

	"github.com/flexprice/creditsync/internal/types"
)

// CheckoutSession mirrors a processor checkout session. Rows are created by the
// checkout initiation flow and completed by the reconciler.
type CheckoutSession struct {
	ID             string                      `db:"id" json:"id"`
	Status         types.CheckoutSessionStatus `db:"status" json:"status"`
	CustomerID     *string                     `db:"customer_id" json:"customer_id,omitempty"`
	SubscriptionID *string                     `db:"subscription_id" json:"subscription_id,omitempty"`
	AccountID      *string                     `db:"account_id" json:"account_id,omitempty"`
	CompletedAt    *time.Time                  `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time                   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time                   `db:"updated_at" json:"updated_at"`
}

// IsCompleted reports whether the session already moved to completed
func (s *CheckoutSession) IsCompleted() bool {
	return s.Status == types.CheckoutSessionStatusCompleted
}

// Repository defines the interface for checkout session data access
type Repository interface {
	Create(ctx context.Context, session *CheckoutSession) error
	Get(ctx context.Context, id string) (*CheckoutSession, error)
	// Complete marks a pending session completed. It returns ErrNotFound when
	// no pending row with that id exists.
	Complete(ctx context.Context, session *CheckoutSession) error
}
