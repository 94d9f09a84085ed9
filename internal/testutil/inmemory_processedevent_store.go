package testutil

import (
	"context"
	"time"

	"github.com/flexprice/creditsync/internal/domain/processedevent"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/types"
)

// InMemoryProcessedEventStore implements processedevent.Repository. Claims are
// atomic under the store lock.
type InMemoryProcessedEventStore struct {
	*InMemoryStore[*processedevent.ProcessedEvent]
	faults
}

var _ processedevent.Repository = (*InMemoryProcessedEventStore)(nil)

func NewInMemoryProcessedEventStore() *InMemoryProcessedEventStore {
	return &InMemoryProcessedEventStore{
		InMemoryStore: NewInMemoryStore[*processedevent.ProcessedEvent](),
	}
}

func copyProcessedEvent(e *processedevent.ProcessedEvent) *processedevent.ProcessedEvent {
	if e == nil {
		return nil
	}
	c := *e
	c.Warnings = append(types.StringList(nil), e.Warnings...)
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

func (s *InMemoryProcessedEventStore) Claim(ctx context.Context, req *processedevent.ClaimRequest) (bool, *processedevent.ProcessedEvent, error) {
	if err := s.fault("Claim"); err != nil {
		return false, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.items[req.EventID]
	if exists && !existing.IsReclaimable(req.Now, req.Lease) {
		return false, copyProcessedEvent(existing), nil
	}

	s.items[req.EventID] = &processedevent.ProcessedEvent{
		EventID:   req.EventID,
		EventType: req.EventType,
		Outcome:   types.ProcessingOutcomeProcessing,
		ClaimedAt: req.Now,
		ExpiresAt: req.ExpiresAt,
	}
	return true, nil, nil
}

func (s *InMemoryProcessedEventStore) Finish(ctx context.Context, eventID string, outcome types.ProcessingOutcome, warnings []string, at time.Time) error {
	if err := s.fault("Finish"); err != nil {
		return err
	}
	return s.Mutate(ctx, eventID, func(current *processedevent.ProcessedEvent, exists bool) (*processedevent.ProcessedEvent, error) {
		if !exists {
			return nil, ierr.NewError("processed event not found").
				Mark(ierr.ErrNotFound)
		}
		next := copyProcessedEvent(current)
		next.Outcome = outcome
		next.Warnings = warnings
		next.ProcessedAt = &at
		return next, nil
	})
}

func (s *InMemoryProcessedEventStore) Get(ctx context.Context, eventID string) (*processedevent.ProcessedEvent, error) {
	e, err := s.InMemoryStore.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return copyProcessedEvent(e), nil
}

func (s *InMemoryProcessedEventStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, e := range s.items {
		if e.ExpiresAt.Before(before) {
			delete(s.items, id)
			deleted++
		}
	}
	return deleted, nil
}

// Clear removes all entries and injected faults
func (s *InMemoryProcessedEventStore) Clear() {
	s.InMemoryStore.Clear()
	s.faults.reset()
}
