package postgres

import (
	"context"

	"github.com/flexprice/creditsync/internal/domain/creditbalance"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/postgres"
)

type creditBalanceRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewCreditBalanceRepository(db *postgres.DB, logger *logger.Logger) creditbalance.Repository {
	return &creditBalanceRepository{db: db, logger: logger}
}

func (r *creditBalanceRepository) Get(ctx context.Context, accountID string) (*creditbalance.CreditBalance, error) {
	var b creditbalance.CreditBalance
	err := r.db.GetQuerier(ctx).GetContext(ctx, &b, `
		SELECT account_id, credits, plan_id, billing_cycle, last_reset_at, next_reset_at, updated_at
		FROM credit_balances WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, postgres.WrapError(err, "credit balance")
	}
	return &b, nil
}

// Replace overwrites every column; balances are never incremented in place
func (r *creditBalanceRepository) Replace(ctx context.Context, b *creditbalance.CreditBalance) error {
	query := `
		INSERT INTO credit_balances (
			account_id, credits, plan_id, billing_cycle, last_reset_at, next_reset_at, updated_at
		) VALUES (
			:account_id, :credits, :plan_id, :billing_cycle, :last_reset_at, :next_reset_at, :updated_at
		)
		ON CONFLICT (account_id) DO UPDATE SET
			credits = EXCLUDED.credits,
			plan_id = EXCLUDED.plan_id,
			billing_cycle = EXCLUDED.billing_cycle,
			last_reset_at = EXCLUDED.last_reset_at,
			next_reset_at = EXCLUDED.next_reset_at,
			updated_at = EXCLUDED.updated_at`

	r.logger.Debugw("replacing credit balance",
		"account_id", b.AccountID,
		"credits", b.Credits,
	)

	_, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, b)
	return postgres.WrapError(err, "credit balance")
}
