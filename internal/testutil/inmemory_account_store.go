package testutil

import (
	"context"
	"strings"

	"github.com/flexprice/creditsync/internal/domain/account"
	ierr "github.com/flexprice/creditsync/internal/errors"
)

// InMemoryAccountStore implements account.Repository
type InMemoryAccountStore struct {
	*InMemoryStore[*account.Account]
	faults
}

var _ account.Repository = (*InMemoryAccountStore)(nil)

// NewInMemoryAccountStore creates a new in-memory account store
func NewInMemoryAccountStore() *InMemoryAccountStore {
	return &InMemoryAccountStore{
		InMemoryStore: NewInMemoryStore[*account.Account](),
	}
}

func (s *InMemoryAccountStore) Create(ctx context.Context, a *account.Account) error {
	if err := s.fault("Create"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[a.ID]; exists {
		return ierr.NewError("account already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	if err := s.checkUnique(a); err != nil {
		return err
	}

	stored := a.Clone()
	stored.Version = 1
	s.items[a.ID] = stored
	a.Version = 1
	return nil
}

func (s *InMemoryAccountStore) Get(ctx context.Context, id string) (*account.Account, error) {
	a, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

func (s *InMemoryAccountStore) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	return s.findOne(ctx, "email", func(a *account.Account) bool {
		return strings.EqualFold(a.Email, email)
	})
}

func (s *InMemoryAccountStore) GetByCustomerID(ctx context.Context, customerID string) (*account.Account, error) {
	return s.findOne(ctx, "customer_id", func(a *account.Account) bool {
		return customerID != "" && a.CustomerID == customerID
	})
}

func (s *InMemoryAccountStore) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*account.Account, error) {
	return s.findOne(ctx, "subscription_id", func(a *account.Account) bool {
		return subscriptionID != "" && a.GetSubscriptionID() == subscriptionID
	})
}

// Update replaces the account when the stored version matches
func (s *InMemoryAccountStore) Update(ctx context.Context, a *account.Account) error {
	if err := s.fault("Update"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.items[a.ID]
	if !exists {
		return ierr.NewError("account not found").
			Mark(ierr.ErrNotFound)
	}
	if current.Version != a.Version {
		return ierr.NewError("account was modified concurrently").
			WithHintf("Expected version %d, found %d", a.Version, current.Version).
			Mark(ierr.ErrVersionConflict)
	}
	if err := s.checkUnique(a); err != nil {
		return err
	}

	stored := a.Clone()
	stored.Version = current.Version + 1
	s.items[a.ID] = stored
	a.Version = stored.Version
	return nil
}

// All returns a copy of every stored account
func (s *InMemoryAccountStore) All() []*account.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*account.Account, 0, len(s.items))
	for _, a := range s.items {
		out = append(out, a.Clone())
	}
	return out
}

// Clear removes all accounts and injected faults
func (s *InMemoryAccountStore) Clear() {
	s.InMemoryStore.Clear()
	s.faults.reset()
}

func (s *InMemoryAccountStore) findOne(ctx context.Context, field string, match func(*account.Account) bool) (*account.Account, error) {
	if err := s.fault("Get"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.items {
		if match(a) {
			return a.Clone(), nil
		}
	}
	return nil, ierr.NewError("account not found").
		WithHintf("No account matches %s", field).
		Mark(ierr.ErrNotFound)
}

// checkUnique enforces the unique email and subscription id columns. Caller
// holds the write lock.
func (s *InMemoryAccountStore) checkUnique(a *account.Account) error {
	for id, other := range s.items {
		if id == a.ID {
			continue
		}
		if strings.EqualFold(other.Email, a.Email) {
			return ierr.NewError("email already in use").
				Mark(ierr.ErrAlreadyExists)
		}
		if a.GetSubscriptionID() != "" && other.GetSubscriptionID() == a.GetSubscriptionID() {
			return ierr.NewError("subscription already linked to another account").
				Mark(ierr.ErrAlreadyExists)
		}
	}
	return nil
}
