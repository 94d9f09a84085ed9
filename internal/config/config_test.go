package config

import (
	"testing"
	"time"

	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, GetDefaultConfig().Validate())
}

func TestValidate_MissingWebhookSecretIsAllowed(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Stripe.WebhookSecret = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"unknown ledger backend", func(c *Configuration) { c.Idempotency.Backend = "redis" }},
		{"unknown pubsub", func(c *Configuration) { c.Outcomes.PubSub = "nats" }},
		{"missing lease", func(c *Configuration) { c.Idempotency.Lease = 0 }},
		{"missing server address", func(c *Configuration) { c.Server.Address = "" }},
		{"missing write timeout", func(c *Configuration) { c.Server.WriteTimeout = 0 }},
		{"missing lock timeout", func(c *Configuration) { c.Reconciler.LockTimeout = 0 }},
		{"dynamodb ledger without dynamodb", func(c *Configuration) {
			c.Idempotency.Backend = types.LedgerBackendDynamoDB
			c.DynamoDB.InUse = false
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, ierr.Is(err, ierr.ErrConfiguration))
		})
	}
}

func TestValidate_DynamoDBLedger(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Idempotency.Backend = types.LedgerBackendDynamoDB
	cfg.DynamoDB.InUse = true
	assert.NoError(t, cfg.Validate())
}

func TestNewConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CREDITSYNC_STRIPE_WEBHOOK_SECRET", "whsec_from_env")
	t.Setenv("CREDITSYNC_IDEMPOTENCY_LEASE", "45s")
	t.Setenv("CREDITSYNC_OUTCOMES_TOPIC", "billing.outcomes.test")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "whsec_from_env", cfg.Stripe.WebhookSecret)
	assert.Equal(t, "45s", cfg.Idempotency.Lease.String())
	assert.Equal(t, "billing.outcomes.test", cfg.Outcomes.Topic)
	assert.Equal(t, types.ModeLocal, cfg.Deployment.Mode)
}

func TestNewConfig_RequestAndLockTimeouts(t *testing.T) {
	t.Setenv("CREDITSYNC_RECONCILER_LOCK_TIMEOUT", "3s")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 3*time.Second, cfg.Reconciler.LockTimeout)
}

func TestPostgresDSN(t *testing.T) {
	c := PostgresConfig{
		Host:     "db",
		Port:     5433,
		User:     "svc",
		Password: "pw",
		DBName:   "credits",
		SSLMode:  "require",
	}
	assert.Equal(t, "user=svc password=pw dbname=credits host=db port=5433 sslmode=require", c.GetDSN())
}
