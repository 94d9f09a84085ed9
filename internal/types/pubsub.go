package types

// PubSubType selects the broker that carries reconciliation outcomes
type PubSubType string

const (
	// MemoryPubSub keeps outcomes inside the process
	MemoryPubSub PubSubType = "memory"
	// KafkaPubSub publishes outcomes to the configured kafka brokers
	KafkaPubSub PubSubType = "kafka"
)
