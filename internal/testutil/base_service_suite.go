package testutil

import (
	"context"
	"time"

	"github.com/flexprice/creditsync/internal/config"
	"github.com/flexprice/creditsync/internal/idempotency"
	"github.com/flexprice/creditsync/internal/keylock"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/sentry"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/stretchr/testify/suite"
)

// Stores holds the in-memory repositories used by tests
type Stores struct {
	AccountRepo         *InMemoryAccountStore
	CheckoutSessionRepo *InMemoryCheckoutSessionStore
	CreditBalanceRepo   *InMemoryCreditBalanceStore
	ProcessedEventRepo  *InMemoryProcessedEventStore
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx       context.Context
	stores    Stores
	processor *FakeProcessor
	publisher *InMemoryOutcomePublisher
	locker    *keylock.KeyedMutex
	guard     *idempotency.Guard
	sentry    *sentry.Service
	logger    *logger.Logger
	config    *config.Configuration
	now       time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = types.LogLevelError
	cfg.Stripe.WebhookSecret = TestWebhookSecret
	cfg.Reconciler.StoreTimeout = 2 * time.Second
	cfg.Reconciler.LockTimeout = time.Second

	var err error
	s.config = cfg
	s.logger, err = logger.NewLogger(cfg)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
	s.sentry = sentry.NewSentryService(cfg, s.logger)
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext()
	s.now = time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)
	s.stores = Stores{
		AccountRepo:         NewInMemoryAccountStore(),
		CheckoutSessionRepo: NewInMemoryCheckoutSessionStore(),
		CreditBalanceRepo:   NewInMemoryCreditBalanceStore(),
		ProcessedEventRepo:  NewInMemoryProcessedEventStore(),
	}
	s.processor = NewFakeProcessor()
	s.publisher = NewInMemoryOutcomePublisher()
	s.locker = keylock.New()
	s.guard = idempotency.NewGuard(s.stores.ProcessedEventRepo, s.config, s.logger).
		WithClock(s.Now)
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.stores.AccountRepo.Clear()
	s.stores.CheckoutSessionRepo.Clear()
	s.stores.CreditBalanceRepo.Clear()
	s.stores.ProcessedEventRepo.Clear()
	s.processor.Clear()
	s.publisher.Clear()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetStores returns the in-memory repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetProcessor returns the fake billing processor
func (s *BaseServiceTestSuite) GetProcessor() *FakeProcessor {
	return s.processor
}

// GetPublisher returns the recording outcome publisher
func (s *BaseServiceTestSuite) GetPublisher() *InMemoryOutcomePublisher {
	return s.publisher
}

// GetLocker returns the keyed mutex shared by the suite
func (s *BaseServiceTestSuite) GetLocker() *keylock.KeyedMutex {
	return s.locker
}

// GetGuard returns the idempotency guard backed by the in-memory ledger
func (s *BaseServiceTestSuite) GetGuard() *idempotency.Guard {
	return s.guard
}

// GetSentry returns a disabled sentry service
func (s *BaseServiceTestSuite) GetSentry() *sentry.Service {
	return s.sentry
}

// Now returns the frozen test clock
func (s *BaseServiceTestSuite) Now() time.Time {
	return s.now
}

// SetNow moves the frozen test clock
func (s *BaseServiceTestSuite) SetNow(t time.Time) {
	s.now = t
}
