package publisher

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/creditsync/internal/config"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/pubsub"
	"github.com/flexprice/creditsync/internal/sentry"
)

const (
	statusAppliedWithWarnings = "applied_with_warnings"
	statusFailed              = "failed"
)

// OutcomeMonitor consumes the outcomes topic and raises an alert for every
// secondary write failure. Redeliveries of an applied event are deduplicated
// upstream, so this is the only place those failures surface.
type OutcomeMonitor struct {
	subscriber pubsub.Subscriber
	topic      string
	sentry     *sentry.Service
	logger     *logger.Logger

	mu     sync.Mutex
	counts map[string]int
}

func NewOutcomeMonitor(cfg *config.Configuration, subscriber pubsub.Subscriber, sentryService *sentry.Service, logger *logger.Logger) *OutcomeMonitor {
	return &OutcomeMonitor{
		subscriber: subscriber,
		topic:      cfg.Outcomes.Topic,
		sentry:     sentryService,
		logger:     logger,
		counts:     make(map[string]int),
	}
}

// Start consumes in the background until ctx is done
func (m *OutcomeMonitor) Start(ctx context.Context) error {
	messages, err := m.subscriber.Subscribe(ctx, m.topic)
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to subscribe to %s", m.topic).
			Mark(ierr.ErrSystem)
	}

	m.logger.Infow("outcome monitor started", "topic", m.topic)
	go func() {
		for msg := range messages {
			if err := m.handle(msg); err != nil {
				m.logger.Errorw("dropping malformed outcome message",
					"error", err,
					"message_id", msg.UUID,
				)
			}
			// the outcome is informational, a bad message is never retried
			msg.Ack()
		}
		m.logger.Infow("outcome monitor stopped", "topic", m.topic)
	}()
	return nil
}

func (m *OutcomeMonitor) handle(msg *message.Message) error {
	var event OutcomeEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return ierr.WithError(err).
			WithHint("Outcome payload is not valid JSON").
			Mark(ierr.ErrValidation)
	}

	m.mu.Lock()
	m.counts[event.Status]++
	m.mu.Unlock()

	switch event.Status {
	case statusAppliedWithWarnings:
		for _, f := range event.Failures {
			m.logger.Warnw("secondary write failed and will not be retried",
				"event_id", event.EventID,
				"event_type", event.EventType,
				"account_id", event.AccountID,
				"entity", f.Entity,
				"entity_id", f.EntityID,
				"error", f.Error,
			)
			m.sentry.CaptureWithTags(context.Background(),
				ierr.NewErrorf("secondary write to %s failed: %s", f.Entity, f.Error).
					Mark(ierr.ErrDatabase),
				map[string]string{
					"event_id":   event.EventID,
					"event_type": event.EventType,
					"entity":     f.Entity,
				})
		}
	case statusFailed:
		m.logger.Warnw("event failed and awaits redelivery",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"account_id", event.AccountID,
		)
	default:
		m.logger.Debugw("outcome observed",
			"event_id", event.EventID,
			"status", event.Status,
		)
	}
	return nil
}

// Count returns how many outcomes with status were observed
func (m *OutcomeMonitor) Count(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[status]
}
