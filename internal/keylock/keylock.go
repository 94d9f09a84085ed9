// Package keylock serialises work per key inside one process.
package keylock

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Locker hands out exclusive locks on arbitrary string keys
type Locker interface {
	// Lock blocks until every key is held or ctx is done. The returned func
	// releases all of them.
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

type entry struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex is an in-memory Locker. Entries are reference counted and
// dropped when nobody holds or waits on them, so the map stays bounded by the
// number of keys in flight.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// Lock acquires keys in sorted order so two callers locking overlapping sets
// cannot deadlock.
func (m *KeyedMutex) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = lo.Uniq(lo.Compact(keys))
	sort.Strings(keys)

	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.unlock(held[i])
		}
	}

	for _, key := range keys {
		if err := m.lock(ctx, key); err != nil {
			release()
			return nil, err
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (m *KeyedMutex) lock(ctx context.Context, key string) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		m.deref(key, e)
		m.mu.Unlock()
		return ctx.Err()
	}
}

func (m *KeyedMutex) unlock(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return
	}
	<-e.ch
	m.deref(key, e)
}

func (m *KeyedMutex) deref(key string, e *entry) {
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Len returns the number of keys currently held or waited on
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Key helpers keep the lock namespaces of the different identifiers apart.

func EmailKey(email string) string {
	if email == "" {
		return ""
	}
	return "email:" + email
}

func CustomerKey(customerID string) string {
	if customerID == "" {
		return ""
	}
	return "customer:" + customerID
}

func SubscriptionKey(subscriptionID string) string {
	if subscriptionID == "" {
		return ""
	}
	return "subscription:" + subscriptionID
}

// AccountKey is taken after the account has been resolved through one of the
// keys above. Handlers lock it last and on its own, so it never takes part in
// an ordering cycle.
func AccountKey(accountID string) string {
	if accountID == "" {
		return ""
	}
	return "account:" + accountID
}
