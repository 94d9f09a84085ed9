package keylock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerialisesSameKey(t *testing.T) {
	m := New()
	ctx := context.Background()

	var inFlight, maxInFlight int32
	var wg conc.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Go(func() {
			unlock, err := m.Lock(ctx, SubscriptionKey("sub_1"))
			require.NoError(t, err)
			defer unlock()

			n := atomic.AddInt32(&inFlight, 1)
			for {
				cur := atomic.LoadInt32(&maxInFlight)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight)
	assert.Equal(t, 0, m.Len())
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	m := New()
	ctx := context.Background()

	unlockA, err := m.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := m.Lock(ctx, "b")
		require.NoError(t, err)
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestKeyedMutex_OverlappingSetsDoNotDeadlock(t *testing.T) {
	m := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg conc.WaitGroup
	for i := 0; i < 50; i++ {
		keys := []string{"x", "y", "z"}
		if i%2 == 0 {
			keys = []string{"z", "y", "x"}
		}
		wg.Go(func() {
			unlock, err := m.Lock(ctx, keys...)
			require.NoError(t, err)
			unlock()
		})
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := New()
	unlock, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Equal(t, 0, m.Len())
}

func TestKeyedMutex_EmptyAndDuplicateKeys(t *testing.T) {
	m := New()
	unlock, err := m.Lock(context.Background(), "", EmailKey(""), "a", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
	unlock()
	unlock()
	assert.Equal(t, 0, m.Len())
}

func TestKeyHelpers_SeparateNamespaces(t *testing.T) {
	assert.Equal(t, "account:acct_1", AccountKey("acct_1"))
	assert.Empty(t, AccountKey(""))
	assert.NotEqual(t, AccountKey("x"), SubscriptionKey("x"))
	assert.NotEqual(t, CustomerKey("x"), EmailKey("x"))
}
