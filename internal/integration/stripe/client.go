package stripe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/creditsync/internal/cache"
	"github.com/flexprice/creditsync/internal/config"
	"github.com/flexprice/creditsync/internal/domain/processor"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/stripe/stripe-go/v82"
	"golang.org/x/time/rate"
)

// Client retrieves customers and subscriptions from the Stripe API
type Client struct {
	api        *stripe.Client
	cache      cache.Cache
	cacheTTL   time.Duration
	maxRetries uint64
	limiter    *rate.Limiter
	logger     *logger.Logger
}

var _ processor.Client = (*Client)(nil)

// NewClient creates a new Stripe client. Without a secret key every lookup
// fails with ErrConfiguration.
func NewClient(cfg *config.Configuration, cache cache.Cache, logger *logger.Logger) *Client {
	var api *stripe.Client
	if cfg.Stripe.SecretKey != "" {
		api = stripe.NewClient(cfg.Stripe.SecretKey)
	}
	limit := rate.Inf
	if cfg.Stripe.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.Stripe.RequestsPerSecond)
	}
	return &Client{
		api:        api,
		cache:      cache,
		cacheTTL:   cfg.Stripe.CustomerCacheTTL,
		maxRetries: cfg.Stripe.MaxRetries,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

// GetCustomer returns the customer, serving repeated lookups from the cache
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*processor.Customer, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	key := cache.GenerateKey(cache.PrefixProcessorCustomer, customerID)
	if cached, ok := c.cache.Get(ctx, key); ok {
		if customer, ok := cached.(*processor.Customer); ok {
			return customer, nil
		}
	}

	var sc *stripe.Customer
	err := c.retry(ctx, "retrieve_customer", func() error {
		var err error
		sc, err = c.api.V1Customers.Retrieve(ctx, customerID, nil)
		return err
	})
	if err != nil {
		return nil, c.wrap(err, "customer", customerID)
	}

	customer := &processor.Customer{ID: sc.ID, Email: sc.Email}
	if c.cacheTTL > 0 {
		c.cache.Set(ctx, key, customer, c.cacheTTL)
	}
	return customer, nil
}

// GetSubscription returns the current state of a subscription
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*processor.Subscription, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var ss *stripe.Subscription
	err := c.retry(ctx, "retrieve_subscription", func() error {
		var err error
		ss, err = c.api.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
		return err
	})
	if err != nil {
		return nil, c.wrap(err, "subscription", subscriptionID)
	}

	return SubscriptionFromAPI(ss), nil
}

func (c *Client) ready() error {
	if c.api == nil {
		return ierr.NewError("stripe secret key is not configured").
			WithHint("Set stripe.secret_key to enable processor lookups").
			Mark(ierr.ErrConfiguration)
	}
	return nil
}

// retry runs op with exponential backoff under the client-side rate limit.
// Client errors other than rate limiting are not retried.
func (c *Client) retry(ctx context.Context, operation string, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.RetryNotify(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := op()
		if err == nil {
			return nil
		}
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) &&
			stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 &&
			stripeErr.HTTPStatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		c.logger.Warnw("stripe request failed, retrying",
			"operation", operation,
			"error", err,
			"wait", wait,
		)
	})
}

func (c *Client) wrap(err error, object, id string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
		return ierr.WithError(err).
			WithHintf("Stripe %s %s not found", object, id).
			Mark(ierr.ErrNotFound)
	}
	c.logger.Errorw("stripe request failed",
		"error", err,
		"object", object,
		"id", id,
	)
	return ierr.WithError(err).
		WithHintf("Failed to retrieve %s from Stripe", object).
		Mark(ierr.ErrHTTPClient)
}
