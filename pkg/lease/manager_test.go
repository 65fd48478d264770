package lease

// NOTE: These tests require etcd running locally and skip otherwise.

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	etcdstore "github.com/nimbusgrid/nimbus-scheduler/pkg/storage/etcd"
)

func newTestEtcd(t *testing.T) *etcdstore.Client {
	t.Helper()

	client, err := etcdstore.NewClient([]string{"localhost:2379"}, 2*time.Second)
	if err != nil {
		t.Skipf("etcd not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestAcquireAndRelease(t *testing.T) {
	client := newTestEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := NewManager(client, "instance-a", 5*time.Second)
	require.NoError(t, m.Acquire(ctx))

	holder, err := client.Get(ctx, leaderKey)
	require.NoError(t, err)
	assert.Equal(t, "instance-a", holder)

	require.NoError(t, m.Release(ctx))

	holder, err = client.Get(ctx, leaderKey)
	require.NoError(t, err)
	assert.Equal(t, "", holder, "released lease removes the leader key")
}

func TestStandbyBlocksUntilLeaderReleases(t *testing.T) {
	client := newTestEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	leader := NewManager(client, "leader", 5*time.Second)
	require.NoError(t, leader.Acquire(ctx))

	standby := NewManager(client, "standby", 5*time.Second)

	// While the leader holds the key the standby must not get through.
	shortCtx, shortCancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer shortCancel()
	assert.Error(t, standby.Acquire(shortCtx), "standby times out while the leader holds the lease")

	require.NoError(t, leader.Release(ctx))
	require.NoError(t, standby.Acquire(ctx), "standby takes over after release")

	holder, err := client.Get(ctx, leaderKey)
	require.NoError(t, err)
	assert.Equal(t, "standby", holder)

	require.NoError(t, standby.Release(ctx))
}

func TestKeepAliveStopsOnCancel(t *testing.T) {
	client := newTestEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := NewManager(client, "instance-a", 5*time.Second)
	require.NoError(t, m.Acquire(ctx))
	defer m.Release(context.Background())

	kaCtx, kaCancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- m.KeepAlive(kaCtx) }()

	kaCancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("KeepAlive did not return after cancellation")
	}
}
