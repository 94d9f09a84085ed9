package testutil

import (
	"context"

	"github.com/flexprice/creditsync/internal/domain/checkoutsession"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/types"
)

// InMemoryCheckoutSessionStore implements checkoutsession.Repository
type InMemoryCheckoutSessionStore struct {
	*InMemoryStore[*checkoutsession.CheckoutSession]
	faults
}

var _ checkoutsession.Repository = (*InMemoryCheckoutSessionStore)(nil)

func NewInMemoryCheckoutSessionStore() *InMemoryCheckoutSessionStore {
	return &InMemoryCheckoutSessionStore{
		InMemoryStore: NewInMemoryStore[*checkoutsession.CheckoutSession](),
	}
}

func copyCheckoutSession(cs *checkoutsession.CheckoutSession) *checkoutsession.CheckoutSession {
	if cs == nil {
		return nil
	}
	c := *cs
	return &c
}

func (s *InMemoryCheckoutSessionStore) Create(ctx context.Context, cs *checkoutsession.CheckoutSession) error {
	if err := s.fault("Create"); err != nil {
		return err
	}
	return s.InMemoryStore.Create(ctx, cs.ID, copyCheckoutSession(cs))
}

func (s *InMemoryCheckoutSessionStore) Get(ctx context.Context, id string) (*checkoutsession.CheckoutSession, error) {
	if err := s.fault("Get"); err != nil {
		return nil, err
	}
	cs, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return copyCheckoutSession(cs), nil
}

func (s *InMemoryCheckoutSessionStore) Complete(ctx context.Context, cs *checkoutsession.CheckoutSession) error {
	if err := s.fault("Complete"); err != nil {
		return err
	}
	return s.Mutate(ctx, cs.ID, func(current *checkoutsession.CheckoutSession, exists bool) (*checkoutsession.CheckoutSession, error) {
		if !exists || current.Status != types.CheckoutSessionStatusPending {
			return nil, ierr.NewError("pending checkout session not found").
				Mark(ierr.ErrNotFound)
		}
		next := copyCheckoutSession(current)
		next.Status = types.CheckoutSessionStatusCompleted
		next.CustomerID = cs.CustomerID
		next.SubscriptionID = cs.SubscriptionID
		next.AccountID = cs.AccountID
		next.CompletedAt = cs.CompletedAt
		next.UpdatedAt = cs.UpdatedAt
		return next, nil
	})
}

// Clear removes all sessions and injected faults
func (s *InMemoryCheckoutSessionStore) Clear() {
	s.InMemoryStore.Clear()
	s.faults.reset()
}
