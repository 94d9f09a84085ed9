package testutil

import (
	"context"
	"sync"

	"github.com/flexprice/creditsync/internal/domain/processor"
	ierr "github.com/flexprice/creditsync/internal/errors"
)

// FakeProcessor implements processor.Client from seeded objects
type FakeProcessor struct {
	mu            sync.RWMutex
	customers     map[string]*processor.Customer
	subscriptions map[string]*processor.Subscription
	calls         map[string]int
	faults
}

var _ processor.Client = (*FakeProcessor)(nil)

func NewFakeProcessor() *FakeProcessor {
	return &FakeProcessor{
		customers:     make(map[string]*processor.Customer),
		subscriptions: make(map[string]*processor.Subscription),
		calls:         make(map[string]int),
	}
}

func (p *FakeProcessor) AddCustomer(c *processor.Customer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customers[c.ID] = c
}

func (p *FakeProcessor) AddSubscription(s *processor.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[s.ID] = s
}

func (p *FakeProcessor) GetCustomer(ctx context.Context, customerID string) (*processor.Customer, error) {
	p.record("GetCustomer")
	if err := p.fault("GetCustomer"); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.customers[customerID]
	if !ok {
		return nil, ierr.NewError("customer not found").
			WithHintf("Customer %s not found", customerID).
			Mark(ierr.ErrNotFound)
	}
	out := *c
	return &out, nil
}

func (p *FakeProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*processor.Subscription, error) {
	p.record("GetSubscription")
	if err := p.fault("GetSubscription"); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.subscriptions[subscriptionID]
	if !ok {
		return nil, ierr.NewError("subscription not found").
			WithHintf("Subscription %s not found", subscriptionID).
			Mark(ierr.ErrNotFound)
	}
	out := *s
	return &out, nil
}

// Calls returns how many times method was invoked
func (p *FakeProcessor) Calls(method string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls[method]
}

func (p *FakeProcessor) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customers = make(map[string]*processor.Customer)
	p.subscriptions = make(map[string]*processor.Subscription)
	p.calls = make(map[string]int)
	p.faults.reset()
}

func (p *FakeProcessor) record(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[method]++
}
