package repository

import (
	"github.com/flexprice/creditsync/internal/config"
	"github.com/flexprice/creditsync/internal/domain/account"
	"github.com/flexprice/creditsync/internal/domain/checkoutsession"
	"github.com/flexprice/creditsync/internal/domain/creditbalance"
	"github.com/flexprice/creditsync/internal/domain/processedevent"
	"github.com/flexprice/creditsync/internal/dynamodb"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/postgres"
	postgresRepo "github.com/flexprice/creditsync/internal/repository/postgres"
	"github.com/flexprice/creditsync/internal/types"
)

func NewAccountRepository(db *postgres.DB, logger *logger.Logger) account.Repository {
	return postgresRepo.NewAccountRepository(db, logger)
}

func NewCheckoutSessionRepository(db *postgres.DB, logger *logger.Logger) checkoutsession.Repository {
	return postgresRepo.NewCheckoutSessionRepository(db, logger)
}

func NewCreditBalanceRepository(db *postgres.DB, logger *logger.Logger) creditbalance.Repository {
	return postgresRepo.NewCreditBalanceRepository(db, logger)
}

// NewProcessedEventRepository picks the idempotency ledger backend
func NewProcessedEventRepository(
	cfg *config.Configuration,
	db *postgres.DB,
	dynamoClient *dynamodb.Client,
	logger *logger.Logger,
) (processedevent.Repository, error) {
	switch cfg.Idempotency.Backend {
	case types.LedgerBackendDynamoDB:
		if dynamoClient == nil {
			return nil, ierr.NewError("dynamodb client is not configured").
				WithHint("Set dynamodb.in_use=true to use the dynamodb ledger").
				Mark(ierr.ErrConfiguration)
		}
		logger.Infow("using dynamodb idempotency ledger", "table", cfg.DynamoDB.LedgerTableName)
		return dynamodb.NewProcessedEventRepository(dynamoClient, cfg, logger), nil
	default:
		return postgresRepo.NewProcessedEventRepository(db, logger), nil
	}
}
