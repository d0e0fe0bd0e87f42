package usage_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/usage"
	"golang.org/x/sync/errgroup"
)

var march = access.Period{
	Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
}

var april = access.Period{
	Start: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
}

// testStoreContract runs the behaviour every Store must share.
func testStoreContract(t *testing.T, store usage.Store, subscriptionID string) {
	ctx := context.Background()
	key := usage.CounterKey{SubscriptionID: subscriptionID, FeatureCode: "leads", Period: march}

	t.Run("missing counter reads zero", func(t *testing.T) {
		n, err := store.Current(ctx, usage.CounterKey{SubscriptionID: subscriptionID, FeatureCode: "none", Period: march})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("increment creates then adds", func(t *testing.T) {
		n, err := store.Increment(ctx, key, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = store.Increment(ctx, key, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = store.Current(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("periods are independent", func(t *testing.T) {
		next := key
		next.Period = april
		n, err := store.Current(ctx, next)
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = store.Increment(ctx, next, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = store.Current(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("try increment respects limit", func(t *testing.T) {
		k := usage.CounterKey{SubscriptionID: subscriptionID, FeatureCode: "campaigns", Period: march}

		n, ok, err := store.TryIncrement(ctx, k, 1, 2)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(1), n)

		n, ok, err = store.TryIncrement(ctx, k, 1, 2)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(2), n)

		n, ok, err = store.TryIncrement(ctx, k, 1, 2)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, int64(2), n)
	})

	t.Run("try increment on a fresh counter over limit", func(t *testing.T) {
		k := usage.CounterKey{SubscriptionID: subscriptionID, FeatureCode: "exports", Period: march}
		n, ok, err := store.TryIncrement(ctx, k, 5, 2)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, n)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		k := usage.CounterKey{SubscriptionID: subscriptionID, FeatureCode: "reports", Period: march}
		const workers = 50

		var g errgroup.Group
		for range workers {
			g.Go(func() error {
				_, err := store.Increment(ctx, k, 1)
				return err
			})
		}
		require.NoError(t, g.Wait())

		n, err := store.Current(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(workers), n)
	})

	t.Run("concurrent reservations never exceed limit", func(t *testing.T) {
		k := usage.CounterKey{SubscriptionID: subscriptionID, FeatureCode: "seats", Period: march}
		const workers, limit = 40, 10

		var granted atomic.Int64
		var g errgroup.Group
		for range workers {
			g.Go(func() error {
				_, ok, err := store.TryIncrement(ctx, k, 1, limit)
				if ok {
					granted.Add(1)
				}
				return err
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int64(limit), granted.Load())
		n, err := store.Current(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(limit), n)
	})
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, usage.NewMemoryStore(), "sub-1")
}
