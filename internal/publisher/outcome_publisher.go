package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/creditsync/internal/config"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/idempotency"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/pubsub"
	"github.com/flexprice/creditsync/internal/types"
)

// WriteFailureEvent describes one secondary write that did not land
type WriteFailureEvent struct {
	Entity   string `json:"entity"`
	EntityID string `json:"entity_id,omitempty"`
	Error    string `json:"error"`
}

// OutcomeEvent is published for every reconciled event so secondary write
// failures can be monitored and repaired out of band.
type OutcomeEvent struct {
	ID         string              `json:"id"`
	EventID    string              `json:"event_id"`
	EventType  string              `json:"event_type"`
	Status     string              `json:"status"`
	AccountID  string              `json:"account_id,omitempty"`
	Rows       int                 `json:"rows"`
	Failures   []WriteFailureEvent `json:"failures,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// OutcomePublisher publishes reconciliation outcomes
type OutcomePublisher interface {
	Publish(ctx context.Context, event *OutcomeEvent) error
}

type outcomePublisher struct {
	pubsub    pubsub.Publisher
	config    *config.OutcomesConfig
	logger    *logger.Logger
	generator *idempotency.Generator
}

// NewOutcomePublisher returns a publisher that drops everything when outcome
// publishing is disabled.
func NewOutcomePublisher(cfg *config.Configuration, ps pubsub.Publisher, logger *logger.Logger) OutcomePublisher {
	if !cfg.Outcomes.Enabled || ps == nil {
		return &noopPublisher{}
	}
	return &outcomePublisher{
		pubsub:    ps,
		config:    &cfg.Outcomes,
		logger:    logger,
		generator: idempotency.NewGenerator(),
	}
}

func (p *outcomePublisher) Publish(ctx context.Context, event *OutcomeEvent) error {
	if event.ID == "" {
		event.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_OUTCOME)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to marshal outcome").
			Mark(ierr.ErrValidation)
	}

	// Redeliveries of the same event with the same result share a message id
	// so downstream consumers can drop them.
	messageID := p.generator.GenerateKey(idempotency.ScopeOutcome, map[string]interface{}{
		"event_id": event.EventID,
		"status":   event.Status,
	})

	msg := message.NewMessage(messageID, payload)
	msg.Metadata.Set("event_id", event.EventID)
	msg.Metadata.Set("event_type", event.EventType)
	msg.Metadata.Set("status", event.Status)

	p.logger.Debugw("publishing outcome",
		"event_id", event.EventID,
		"status", event.Status,
		"topic", p.config.Topic,
	)

	if err := p.pubsub.Publish(ctx, p.config.Topic, msg); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to publish outcome").
			Mark(ierr.ErrSystem)
	}
	return nil
}

type noopPublisher struct{}

func (n *noopPublisher) Publish(context.Context, *OutcomeEvent) error {
	return nil
}
