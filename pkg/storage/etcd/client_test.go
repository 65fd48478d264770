package etcd

// NOTE: These tests require etcd running locally.
// Start with: docker-compose up etcd
// They skip automatically when etcd is unavailable.

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient([]string{"localhost:2379"}, 2*time.Second)
	if err != nil {
		t.Skipf("etcd not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPutGetDelete(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := "nimbus-test:kv:roundtrip"
	require.NoError(t, client.Put(ctx, key, "value-1"))

	got, err := client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "value-1", got)

	require.NoError(t, client.Delete(ctx, key))

	got, err = client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "", got, "deleted key reads as empty")
}

func TestGetPrefix(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	prefix := "nimbus-test:prefix:"
	require.NoError(t, client.Put(ctx, prefix+"a", "1"))
	require.NoError(t, client.Put(ctx, prefix+"b", "2"))
	defer client.Delete(ctx, prefix+"a")
	defer client.Delete(ctx, prefix+"b")

	kvs, err := client.GetPrefix(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{prefix + "a": "1", prefix + "b": "2"}, kvs)
}

func TestLeaseLifecycle(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	leaseID, err := client.GrantLease(ctx, 5)
	require.NoError(t, err)
	require.NotZero(t, leaseID)

	key := "nimbus-test:lease:holder"
	defer client.Delete(ctx, key)

	ok, err := client.PutIfAbsent(ctx, key, "instance-a", leaseID)
	require.NoError(t, err)
	assert.True(t, ok, "first writer acquires the key")

	leaseID2, err := client.GrantLease(ctx, 5)
	require.NoError(t, err)
	ok, err = client.PutIfAbsent(ctx, key, "instance-b", leaseID2)
	require.NoError(t, err)
	assert.False(t, ok, "second writer must lose while the key exists")
	client.RevokeLease(ctx, leaseID2)

	require.NoError(t, client.KeepAliveOnce(ctx, leaseID))

	// Revoking the lease removes the bound key.
	require.NoError(t, client.RevokeLease(ctx, leaseID))
	got, err := client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "", got, "key disappears with its lease")
}
