package testutil

import (
	"context"

	"github.com/flexprice/creditsync/internal/domain/creditbalance"
)

// InMemoryCreditBalanceStore implements creditbalance.Repository
type InMemoryCreditBalanceStore struct {
	*InMemoryStore[*creditbalance.CreditBalance]
	faults
}

var _ creditbalance.Repository = (*InMemoryCreditBalanceStore)(nil)

func NewInMemoryCreditBalanceStore() *InMemoryCreditBalanceStore {
	return &InMemoryCreditBalanceStore{
		InMemoryStore: NewInMemoryStore[*creditbalance.CreditBalance](),
	}
}

func (s *InMemoryCreditBalanceStore) Get(ctx context.Context, accountID string) (*creditbalance.CreditBalance, error) {
	b, err := s.InMemoryStore.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	c := *b
	return &c, nil
}

func (s *InMemoryCreditBalanceStore) Replace(ctx context.Context, b *creditbalance.CreditBalance) error {
	if err := s.fault("Replace"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c := *b
	s.Upsert(ctx, b.AccountID, &c)
	return nil
}

// Clear removes all balances and injected faults
func (s *InMemoryCreditBalanceStore) Clear() {
	s.InMemoryStore.Clear()
	s.faults.reset()
}
