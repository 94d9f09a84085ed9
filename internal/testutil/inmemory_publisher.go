package testutil

import (
	"context"
	"sync"

	"github.com/flexprice/creditsync/internal/publisher"
)

// InMemoryOutcomePublisher records published outcomes
type InMemoryOutcomePublisher struct {
	mu     sync.Mutex
	events []*publisher.OutcomeEvent
	faults
}

var _ publisher.OutcomePublisher = (*InMemoryOutcomePublisher)(nil)

func NewInMemoryOutcomePublisher() *InMemoryOutcomePublisher {
	return &InMemoryOutcomePublisher{}
}

func (p *InMemoryOutcomePublisher) Publish(ctx context.Context, event *publisher.OutcomeEvent) error {
	if err := p.fault("Publish"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns the outcomes published so far
func (p *InMemoryOutcomePublisher) Events() []*publisher.OutcomeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*publisher.OutcomeEvent(nil), p.events...)
}

func (p *InMemoryOutcomePublisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
	p.faults.reset()
}
