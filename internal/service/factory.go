package service

import (
	"time"

	"github.com/flexprice/creditsync/internal/config"
	"github.com/flexprice/creditsync/internal/domain/account"
	"github.com/flexprice/creditsync/internal/domain/checkoutsession"
	"github.com/flexprice/creditsync/internal/domain/creditbalance"
	"github.com/flexprice/creditsync/internal/domain/processor"
	"github.com/flexprice/creditsync/internal/keylock"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/sentry"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration

	// Repositories
	AccountRepo         account.Repository
	CheckoutSessionRepo checkoutsession.Repository
	CreditBalanceRepo   creditbalance.Repository

	Processor     processor.Client
	Locker        keylock.Locker
	SentryService *sentry.Service

	// Now is the clock used for every timestamp a handler writes
	Now func() time.Time
}

// Common service params
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	accountRepo account.Repository,
	checkoutSessionRepo checkoutsession.Repository,
	creditBalanceRepo creditbalance.Repository,
	processorClient processor.Client,
	locker keylock.Locker,
	sentryService *sentry.Service,
) ServiceParams {
	return ServiceParams{
		Logger:              logger,
		Config:              config,
		AccountRepo:         accountRepo,
		CheckoutSessionRepo: checkoutSessionRepo,
		CreditBalanceRepo:   creditBalanceRepo,
		Processor:           processorClient,
		Locker:              locker,
		SentryService:       sentryService,
		Now:                 time.Now,
	}
}
