package redis

// NOTE: These tests require Redis running locally.
// Start with: docker-compose up redis
// They skip automatically when Redis is unavailable.

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient("localhost:6379", "", 0)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSetGetDel(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := "nimbus-test:kv"
	require.NoError(t, client.Set(ctx, key, "hello", time.Minute))

	got, err := client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	require.NoError(t, client.Del(ctx, key))

	got, err = client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "", got, "missing key reads as empty, not an error")
}

func TestSetNX(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := "nimbus-test:setnx"
	client.Del(ctx, key)
	defer client.Del(ctx, key)

	ok, err := client.SetNX(ctx, key, "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, key, "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second writer loses")

	got, _ := client.Get(ctx, key)
	assert.Equal(t, "first", got, "first write survives")
}

func TestHashOperations(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := "nimbus-test:hash"
	defer client.Del(ctx, key)

	require.NoError(t, client.HSet(ctx, key, map[string]interface{}{
		"available_ram": 24.5,
		"available_gpu": 2,
	}))

	fields, err := client.HGetAll(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "24.5", fields["available_ram"])
	assert.Equal(t, "2", fields["available_gpu"])
}
