package stripe

import (
	"context"
	"testing"
	"time"

	"github.com/flexprice/creditsync/internal/cache"
	"github.com/flexprice/creditsync/internal/config"
	"github.com/flexprice/creditsync/internal/domain/processor"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_WithoutSecretKey(t *testing.T) {
	cfg := config.GetDefaultConfig()
	c := NewClient(cfg, cache.NewInMemoryCache(cfg), logger.NewNoopLogger())

	_, err := c.GetCustomer(context.Background(), "cus_1")
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.ErrConfiguration))

	_, err = c.GetSubscription(context.Background(), "sub_1")
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.ErrConfiguration))
}

func TestClient_ServesCustomerFromCache(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Stripe.SecretKey = "sk_test_cached"
	customers := cache.NewInMemoryCache(cfg)
	c := NewClient(cfg, customers, logger.NewNoopLogger())

	ctx := context.Background()
	want := &processor.Customer{ID: "cus_1", Email: "cached@example.com"}
	customers.Set(ctx, cache.GenerateKey(cache.PrefixProcessorCustomer, "cus_1"), want, time.Minute)

	got, err := c.GetCustomer(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClient_CanceledContextStopsBeforeRequest(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Stripe.SecretKey = "sk_test_canceled"
	c := NewClient(cfg, cache.NewInMemoryCache(cfg), logger.NewNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetSubscription(ctx, "sub_1")
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.ErrHTTPClient))
}
