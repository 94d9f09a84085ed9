package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/flexprice/creditsync/internal/api"
	v1 "github.com/flexprice/creditsync/internal/api/v1"
	"github.com/flexprice/creditsync/internal/cache"
	"github.com/flexprice/creditsync/internal/config"
	"github.com/flexprice/creditsync/internal/domain/processor"
	"github.com/flexprice/creditsync/internal/dynamodb"
	"github.com/flexprice/creditsync/internal/idempotency"
	"github.com/flexprice/creditsync/internal/integration/stripe"
	"github.com/flexprice/creditsync/internal/integration/stripe/webhook"
	"github.com/flexprice/creditsync/internal/keylock"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/postgres"
	"github.com/flexprice/creditsync/internal/publisher"
	"github.com/flexprice/creditsync/internal/pubsub"
	"github.com/flexprice/creditsync/internal/pubsub/kafka"
	"github.com/flexprice/creditsync/internal/pubsub/memory"
	"github.com/flexprice/creditsync/internal/repository"
	"github.com/flexprice/creditsync/internal/sentry"
	"github.com/flexprice/creditsync/internal/service"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	var opts []fx.Option

	// Core dependencies
	opts = append(opts,
		fx.Provide(
			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Monitoring
			sentry.NewSentryService,

			// Cache
			cache.NewInMemoryCache,

			// Postgres
			postgres.NewDB,

			// Optional DBs
			dynamodb.NewClient,

			// Repositories
			repository.NewAccountRepository,
			repository.NewCheckoutSessionRepository,
			repository.NewCreditBalanceRepository,
			repository.NewProcessedEventRepository,

			// PubSub
			providePubSub,
			providePublisher,
			provideSubscriber,
			publisher.NewOutcomePublisher,
			publisher.NewOutcomeMonitor,

			// Processor
			provideProcessorClient,
			provideVerifier,

			// Concurrency and idempotency
			provideLocker,
			idempotency.NewGuard,
		),
	)

	// Service layer
	opts = append(opts,
		fx.Provide(
			service.NewServiceParams,
			service.NewReconcilerService,
			webhook.NewRouter,
		),
	)

	// API
	opts = append(opts,
		fx.Provide(
			provideHandlers,
			provideRouter,
		),
		fx.Invoke(
			sentry.RegisterHooks,
			startServer,
		),
	)

	app := fx.New(opts...)
	app.Run()
}

func providePubSub(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	var (
		ps  pubsub.PubSub
		err error
	)
	switch cfg.Outcomes.PubSub {
	case types.KafkaPubSub:
		ps, err = kafka.NewPubSub(cfg, log)
		if err != nil {
			return nil, err
		}
	default:
		ps = memory.NewPubSub(log)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return ps.Close()
		},
	})
	return ps, nil
}

func providePublisher(ps pubsub.PubSub) pubsub.Publisher {
	return ps
}

func provideSubscriber(ps pubsub.PubSub) pubsub.Subscriber {
	return ps
}

func provideProcessorClient(cfg *config.Configuration, c cache.Cache, log *logger.Logger) processor.Client {
	return stripe.NewClient(cfg, c, log)
}

// provideVerifier never fails startup: without a signing secret the webhook
// endpoint answers every delivery with a 500 and alerts.
func provideVerifier(cfg *config.Configuration, log *logger.Logger) v1.EventVerifier {
	verifier, err := stripe.NewVerifier(cfg.Stripe.WebhookSecret, log)
	if err != nil {
		log.Errorw("webhook verification is not configured", "error", err)
		return nil
	}
	return verifier
}

func provideLocker() keylock.Locker {
	return keylock.New()
}

func provideHandlers(
	cfg *config.Configuration,
	log *logger.Logger,
	db *postgres.DB,
	verifier v1.EventVerifier,
	router *webhook.Router,
	sentryService *sentry.Service,
) api.Handlers {
	return api.Handlers{
		Health:  v1.NewHealthHandler(log, v1.HealthCheck{Name: "postgres", Check: db.PingContext}),
		Webhook: v1.NewWebhookHandler(cfg, verifier, router, sentryService, log),
	}
}

func provideRouter(handlers api.Handlers, cfg *config.Configuration, log *logger.Logger) *gin.Engine {
	if cfg.Logging.Level != types.LogLevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	return api.NewRouter(handlers, cfg, log)
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	r *gin.Engine,
	guard *idempotency.Guard,
	monitor *publisher.OutcomeMonitor,
	log *logger.Logger,
) {
	mode := cfg.Deployment.Mode
	if mode == "" {
		mode = types.ModeLocal
	}

	switch mode {
	case types.ModeLocal:
		startAPIServer(lc, r, cfg, log)
		startBackground(lc, cfg, guard, monitor, log)
	case types.ModeAPI:
		startAPIServer(lc, r, cfg, log)
		startBackground(lc, cfg, guard, nil, log)
	case types.ModeAWSLambdaAPI:
		startAWSLambdaAPI(r)
	default:
		log.Fatalf("Unknown deployment mode: %s", mode)
	}
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	srv := newHTTPServer(cfg, r)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server, draining in-flight deliveries")
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// newHTTPServer bounds every phase of a request so a stalled connection
// cannot pin a handler.
func newHTTPServer(cfg *config.Configuration, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
}

// startBackground runs the ledger pruner and, when given, the outcome monitor
func startBackground(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	guard *idempotency.Guard,
	monitor *publisher.OutcomeMonitor,
	log *logger.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			guard.StartPruner(ctx, cfg.Idempotency.PruneInterval)
			if monitor != nil {
				return monitor.Start(ctx)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			log.Info("stopping background workers")
			cancel()
			return nil
		},
	})
}

func startAWSLambdaAPI(r *gin.Engine) {
	ginLambda := ginadapter.New(r)
	lambda.Start(ginLambda.ProxyWithContext)
}
