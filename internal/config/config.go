package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/flexprice/creditsync/internal/validator"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment  DeploymentConfig  `validate:"required"`
	Server      ServerConfig      `validate:"required"`
	Logging     LoggingConfig     `validate:"required"`
	Postgres    PostgresConfig    `validate:"required"`
	Stripe      StripeConfig      `validate:"required"`
	Reconciler  ReconcilerConfig  `validate:"required"`
	Idempotency IdempotencyConfig `validate:"required"`
	DynamoDB    DynamoDBConfig
	Kafka       KafkaConfig
	Outcomes    OutcomesConfig `validate:"required"`
	Sentry      SentryConfig
	Cache       CacheConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `mapstructure:"mode" validate:"required"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// ReadTimeout and WriteTimeout bound a whole request, so a stalled client
	// cannot keep a handler and its key locks busy.
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"required"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"required"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type LoggingConfig struct {
	Level types.LogLevel `mapstructure:"level" validate:"required"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	DBName                 string `mapstructure:"dbname"`
	SSLMode                string `mapstructure:"sslmode"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
}

// StripeConfig holds the processor credentials. Without a webhook secret the
// service still starts but rejects every delivery with a 500.
type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	// CustomerCacheTTL controls how long retrieved customer objects are reused
	CustomerCacheTTL time.Duration `mapstructure:"customer_cache_ttl"`
	MaxRetries       uint64        `mapstructure:"max_retries"`
	// RequestsPerSecond caps outbound API calls; 0 disables the limit
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type ReconcilerConfig struct {
	// StoreTimeout bounds every storage round trip made by a handler
	StoreTimeout time.Duration `mapstructure:"store_timeout" validate:"required"`
	// LockTimeout bounds the wait for a concurrent handler on the same keys
	LockTimeout time.Duration `mapstructure:"lock_timeout" validate:"required"`
	// DefaultPeriod is used when a checkout has no linked subscription
	DefaultPeriod   time.Duration `mapstructure:"default_period" validate:"required"`
	DefaultCurrency string        `mapstructure:"default_currency" validate:"required"`
}

type IdempotencyConfig struct {
	Backend types.LedgerBackend `mapstructure:"backend" validate:"required,oneof=postgres dynamodb"`
	// Lease is how long a processing claim blocks concurrent deliveries
	Lease time.Duration `mapstructure:"lease" validate:"required"`
	// Retention is how long processed event ids are kept
	Retention     time.Duration `mapstructure:"retention" validate:"required"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// DynamoDBConfig holds configuration for DynamoDB
type DynamoDBConfig struct {
	InUse           bool   `mapstructure:"in_use"`
	Region          string `mapstructure:"region"`
	LedgerTableName string `mapstructure:"ledger_table_name"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	ClientID      string   `mapstructure:"client_id"`
	UseSASL       bool     `mapstructure:"use_sasl"`
	SASLMechanism string   `mapstructure:"sasl_mechanism"`
	SASLUser      string   `mapstructure:"sasl_user"`
	SASLPassword  string   `mapstructure:"sasl_password"`
}

// OutcomesConfig controls where reconciliation outcomes are published
type OutcomesConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Topic   string           `mapstructure:"topic" validate:"required"`
	PubSub  types.PubSubType `mapstructure:"pubsub" validate:"required,oneof=memory kafka"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func NewConfig() (*Configuration, error) {
	// .env is optional and only used for local development
	_ = godotenv.Load()

	v := viper.New()

	// Modify config paths to ensure config.yaml is found
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/creditsync")

	// Set up environment variables support
	v.SetEnvPrefix("CREDITSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()
	setDefaults(v)

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults registers every key so AutomaticEnv can override it even when
// the yaml file does not mention it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", types.ModeLocal)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("logging.level", types.LogLevelInfo)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "creditsync")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "creditsync")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime_minutes", 30)
	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.customer_cache_ttl", 10*time.Minute)
	v.SetDefault("stripe.max_retries", 3)
	v.SetDefault("stripe.requests_per_second", 20)
	v.SetDefault("reconciler.store_timeout", 5*time.Second)
	v.SetDefault("reconciler.lock_timeout", 10*time.Second)
	v.SetDefault("reconciler.default_period", 30*24*time.Hour)
	v.SetDefault("reconciler.default_currency", "usd")
	v.SetDefault("idempotency.backend", types.LedgerBackendPostgres)
	v.SetDefault("idempotency.lease", 2*time.Minute)
	v.SetDefault("idempotency.retention", 30*24*time.Hour)
	v.SetDefault("idempotency.prune_interval", time.Hour)
	v.SetDefault("dynamodb.in_use", false)
	v.SetDefault("dynamodb.region", "us-east-1")
	v.SetDefault("dynamodb.ledger_table_name", "processed_events")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "creditsync")
	v.SetDefault("kafka.client_id", "creditsync")
	v.SetDefault("outcomes.enabled", true)
	v.SetDefault("outcomes.topic", "billing.reconciliation_outcomes")
	v.SetDefault("outcomes.pubsub", types.MemoryPubSub)
	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.sample_rate", 1.0)
	v.SetDefault("cache.enabled", true)
}

// Validate checks the struct tags and then the cross-field rules
func (c Configuration) Validate() error {
	if err := validator.ValidateStruct(c); err != nil {
		return ierr.WithError(err).
			WithHint("Invalid configuration").
			Mark(ierr.ErrConfiguration)
	}

	if c.Idempotency.Backend == types.LedgerBackendDynamoDB && !c.DynamoDB.InUse {
		return ierr.NewError("dynamodb ledger backend selected but dynamodb is disabled").
			WithHint("Set dynamodb.in_use=true or use the postgres ledger backend").
			Mark(ierr.ErrConfiguration)
	}
	return nil
}

// GetDefaultConfig returns a default configuration for local development
// and tests. It is not validated.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server: ServerConfig{
			Address:         ":8080",
			ShutdownTimeout: 10 * time.Second,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Logging: LoggingConfig{Level: types.LogLevelDebug},
		Stripe: StripeConfig{
			CustomerCacheTTL:  10 * time.Minute,
			MaxRetries:        3,
			RequestsPerSecond: 20,
		},
		Reconciler: ReconcilerConfig{
			StoreTimeout:    5 * time.Second,
			LockTimeout:     10 * time.Second,
			DefaultPeriod:   30 * 24 * time.Hour,
			DefaultCurrency: "usd",
		},
		Idempotency: IdempotencyConfig{
			Backend:       types.LedgerBackendPostgres,
			Lease:         2 * time.Minute,
			Retention:     30 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		Outcomes: OutcomesConfig{
			Enabled: true,
			Topic:   "billing.reconciliation_outcomes",
			PubSub:  types.MemoryPubSub,
		},
		Cache: CacheConfig{Enabled: true},
	}
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
