package postgres

import (
	"context"

	"github.com/flexprice/creditsync/internal/domain/checkoutsession"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/postgres"
	"github.com/flexprice/creditsync/internal/types"
)

type checkoutSessionRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewCheckoutSessionRepository(db *postgres.DB, logger *logger.Logger) checkoutsession.Repository {
	return &checkoutSessionRepository{db: db, logger: logger}
}

func (r *checkoutSessionRepository) Create(ctx context.Context, cs *checkoutsession.CheckoutSession) error {
	query := `
		INSERT INTO checkout_sessions (
			id, status, customer_id, subscription_id, account_id, completed_at, created_at, updated_at
		) VALUES (
			:id, :status, :customer_id, :subscription_id, :account_id, :completed_at, :created_at, :updated_at
		)`

	_, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, cs)
	return postgres.WrapError(err, "checkout session")
}

func (r *checkoutSessionRepository) Get(ctx context.Context, id string) (*checkoutsession.CheckoutSession, error) {
	var cs checkoutsession.CheckoutSession
	err := r.db.GetQuerier(ctx).GetContext(ctx, &cs, `
		SELECT id, status, customer_id, subscription_id, account_id, completed_at, created_at, updated_at
		FROM checkout_sessions WHERE id = $1`, id)
	if err != nil {
		return nil, postgres.WrapError(err, "checkout session")
	}
	return &cs, nil
}

// Complete only moves rows that are still pending
func (r *checkoutSessionRepository) Complete(ctx context.Context, cs *checkoutsession.CheckoutSession) error {
	query := `
		UPDATE checkout_sessions SET
			status = :completed,
			customer_id = :customer_id,
			subscription_id = :subscription_id,
			account_id = :account_id,
			completed_at = :completed_at,
			updated_at = :updated_at
		WHERE id = :id AND status = :pending`

	result, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, map[string]interface{}{
		"id":              cs.ID,
		"customer_id":     cs.CustomerID,
		"subscription_id": cs.SubscriptionID,
		"account_id":      cs.AccountID,
		"completed_at":    cs.CompletedAt,
		"updated_at":      cs.UpdatedAt,
		"completed":       types.CheckoutSessionStatusCompleted,
		"pending":         types.CheckoutSessionStatusPending,
	})
	if err != nil {
		return postgres.WrapError(err, "checkout session")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return postgres.WrapError(err, "checkout session")
	}
	if rows == 0 {
		return ierr.NewError("pending checkout session not found").
			WithHintf("No pending checkout session %s", cs.ID).
			Mark(ierr.ErrNotFound)
	}

	r.logger.Debugw("checkout session completed", "session_id", cs.ID)
	return nil
}
