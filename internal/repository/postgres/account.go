package postgres

import (
	"context"

	"github.com/flexprice/creditsync/internal/domain/account"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/postgres"
)

const accountColumns = `id, customer_id, email, subscription_id, subscription_status, plan_id,
	billing_cycle, currency, price, current_period_start, current_period_end, canceled_at,
	version, created_at, updated_at`

type accountRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewAccountRepository(db *postgres.DB, logger *logger.Logger) account.Repository {
	return &accountRepository{db: db, logger: logger}
}

func (r *accountRepository) Create(ctx context.Context, a *account.Account) error {
	query := `
		INSERT INTO accounts (
			id, customer_id, email, subscription_id, subscription_status, plan_id,
			billing_cycle, currency, price, current_period_start, current_period_end, canceled_at,
			version, created_at, updated_at
		) VALUES (
			:id, :customer_id, :email, :subscription_id, :subscription_status, :plan_id,
			:billing_cycle, :currency, :price, :current_period_start, :current_period_end, :canceled_at,
			1, :created_at, :updated_at
		)`

	r.logger.Debugw("creating account", "account_id", a.ID)

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, a); err != nil {
		return postgres.WrapError(err, "account")
	}
	a.Version = 1
	return nil
}

func (r *accountRepository) Get(ctx context.Context, id string) (*account.Account, error) {
	return r.getOne(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id)
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	return r.getOne(ctx, "SELECT "+accountColumns+" FROM accounts WHERE LOWER(email) = LOWER($1)", email)
}

func (r *accountRepository) GetByCustomerID(ctx context.Context, customerID string) (*account.Account, error) {
	if customerID == "" {
		return nil, ierr.NewError("account not found").
			WithHint("Customer id is empty").
			Mark(ierr.ErrNotFound)
	}
	return r.getOne(ctx, "SELECT "+accountColumns+" FROM accounts WHERE customer_id = $1 ORDER BY created_at LIMIT 1", customerID)
}

func (r *accountRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*account.Account, error) {
	return r.getOne(ctx, "SELECT "+accountColumns+" FROM accounts WHERE subscription_id = $1", subscriptionID)
}

// Update writes the account only if nobody else wrote it since it was read
func (r *accountRepository) Update(ctx context.Context, a *account.Account) error {
	query := `
		UPDATE accounts SET
			customer_id = :customer_id,
			email = :email,
			subscription_id = :subscription_id,
			subscription_status = :subscription_status,
			plan_id = :plan_id,
			billing_cycle = :billing_cycle,
			currency = :currency,
			price = :price,
			current_period_start = :current_period_start,
			current_period_end = :current_period_end,
			canceled_at = :canceled_at,
			updated_at = :updated_at,
			version = version + 1
		WHERE id = :id AND version = :version`

	r.logger.Debugw("updating account",
		"account_id", a.ID,
		"version", a.Version,
	)

	result, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, a)
	if err != nil {
		return postgres.WrapError(err, "account")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return postgres.WrapError(err, "account")
	}
	if rows == 0 {
		if _, err := r.Get(ctx, a.ID); err != nil {
			return err
		}
		return ierr.NewError("account was modified concurrently").
			WithHintf("Account %s changed since version %d", a.ID, a.Version).
			Mark(ierr.ErrVersionConflict)
	}

	a.Version++
	return nil
}

func (r *accountRepository) getOne(ctx context.Context, query string, arg string) (*account.Account, error) {
	var a account.Account
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &a, query, arg); err != nil {
		return nil, postgres.WrapError(err, "account")
	}
	return &a, nil
}
