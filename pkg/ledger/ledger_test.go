package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/resource"
)

func TestAddCluster(t *testing.T) {
	l := New()

	require.NoError(t, l.AddCluster("c1", resource.Resources{RAM: 64, CPU: 16, GPU: 4}))

	snap, err := l.GetSnapshot("c1")
	require.NoError(t, err)
	assert.Equal(t, resource.Resources{RAM: 64, CPU: 16, GPU: 4}, snap.Total)
	assert.Equal(t, snap.Total, snap.Available, "new cluster starts fully available")

	t.Run("re-add is a no-op", func(t *testing.T) {
		ok, err := l.TryReserve("c1", resource.Resources{RAM: 10, CPU: 2, GPU: 1})
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, l.AddCluster("c1", resource.Resources{RAM: 999, CPU: 999, GPU: 999}))

		snap, err := l.GetSnapshot("c1")
		require.NoError(t, err)
		assert.Equal(t, resource.Resources{RAM: 64, CPU: 16, GPU: 4}, snap.Total,
			"existing entry must be preserved")
		assert.Equal(t, resource.Resources{RAM: 54, CPU: 14, GPU: 3}, snap.Available)
	})

	t.Run("invalid registrations rejected", func(t *testing.T) {
		assert.Error(t, l.AddCluster("", resource.Resources{RAM: 1}))
		assert.Error(t, l.AddCluster("c2", resource.Resources{RAM: -1}))
	})
}

func TestTryReserve(t *testing.T) {
	l := New()
	require.NoError(t, l.AddCluster("c1", resource.Resources{RAM: 10, CPU: 4, GPU: 2}))

	t.Run("succeeds when everything fits", func(t *testing.T) {
		ok, err := l.TryReserve("c1", resource.Resources{RAM: 6, CPU: 2, GPU: 1})
		require.NoError(t, err)
		assert.True(t, ok)

		snap, _ := l.GetSnapshot("c1")
		assert.Equal(t, resource.Resources{RAM: 4, CPU: 2, GPU: 1}, snap.Available)
	})

	t.Run("refused without partial decrement", func(t *testing.T) {
		// RAM and CPU fit, GPU does not: nothing may change.
		before, _ := l.GetSnapshot("c1")
		ok, err := l.TryReserve("c1", resource.Resources{RAM: 1, CPU: 1, GPU: 2})
		require.NoError(t, err)
		assert.False(t, ok)

		after, _ := l.GetSnapshot("c1")
		assert.Equal(t, before.Available, after.Available, "refused reservation must not touch counters")
	})

	t.Run("exact fit drains to zero", func(t *testing.T) {
		ok, err := l.TryReserve("c1", resource.Resources{RAM: 4, CPU: 2, GPU: 1})
		require.NoError(t, err)
		assert.True(t, ok)

		snap, _ := l.GetSnapshot("c1")
		assert.Equal(t, resource.Resources{}, snap.Available)
	})

	t.Run("zero request always succeeds", func(t *testing.T) {
		ok, err := l.TryReserve("c1", resource.Resources{})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unknown cluster", func(t *testing.T) {
		_, err := l.TryReserve("nope", resource.Resources{RAM: 1})
		assert.ErrorIs(t, err, ErrUnknownCluster)
	})

	t.Run("negative request", func(t *testing.T) {
		_, err := l.TryReserve("c1", resource.Resources{RAM: -1})
		assert.Error(t, err)
	})
}

func TestRelease(t *testing.T) {
	l := New()
	require.NoError(t, l.AddCluster("c1", resource.Resources{RAM: 10, CPU: 4, GPU: 2}))

	ok, err := l.TryReserve("c1", resource.Resources{RAM: 8, CPU: 3, GPU: 2})
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("restores availability", func(t *testing.T) {
		require.NoError(t, l.Release("c1", resource.Resources{RAM: 8, CPU: 3, GPU: 2}))

		snap, _ := l.GetSnapshot("c1")
		assert.Equal(t, snap.Total, snap.Available)
	})

	t.Run("over-release clamps to total", func(t *testing.T) {
		// Everything is already free; a stray second release must not push
		// availability past the cluster's totals.
		require.NoError(t, l.Release("c1", resource.Resources{RAM: 8, CPU: 3, GPU: 2}))

		snap, _ := l.GetSnapshot("c1")
		assert.Equal(t, snap.Total, snap.Available, "available must never exceed total")
	})

	t.Run("unknown cluster", func(t *testing.T) {
		assert.ErrorIs(t, l.Release("nope", resource.Resources{RAM: 1}), ErrUnknownCluster)
	})
}

// Two goroutines hammering TryReserve on a cluster with room for exactly N
// reservations must admit exactly N between them.
func TestConcurrentReserveNoOvercommit(t *testing.T) {
	l := New()
	require.NoError(t, l.AddCluster("c1", resource.Resources{RAM: 100, CPU: 100, GPU: 100}))

	const workers = 8
	const attemptsPerWorker = 100
	req := resource.Resources{RAM: 1, CPU: 1, GPU: 1} // room for exactly 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < attemptsPerWorker; i++ {
				ok, err := l.TryReserve("c1", req)
				if err != nil {
					t.Error(err)
					return
				}
				if ok {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, granted, "exactly the cluster's capacity may be granted")

	snap, _ := l.GetSnapshot("c1")
	assert.Equal(t, resource.Resources{}, snap.Available)
}

func TestClusters(t *testing.T) {
	l := New()
	assert.Empty(t, l.Clusters())

	require.NoError(t, l.AddCluster("a", resource.Resources{RAM: 1}))
	require.NoError(t, l.AddCluster("b", resource.Resources{RAM: 1}))

	assert.ElementsMatch(t, []string{"a", "b"}, l.Clusters())
}
