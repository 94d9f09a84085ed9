package types

type RunMode string

const (
	// ModeLocal is the mode for running the API server with in-process pubsub
	ModeLocal RunMode = "local"
	// ModeAPI is the mode for running just the API server
	ModeAPI RunMode = "api"
	// ModeAWSLambdaAPI is the mode for running the API server in AWS Lambda
	ModeAWSLambdaAPI RunMode = "aws_lambda_api"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LedgerBackend selects where processed event ids are recorded
type LedgerBackend string

const (
	LedgerBackendPostgres LedgerBackend = "postgres"
	LedgerBackendDynamoDB LedgerBackend = "dynamodb"
)
