// Redis client wrapper. Serves request deduplication, lifecycle event
// publication and the cluster resource mirror.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/logger"
)

// Client: Wrapper around the go-redis client
type Client struct {
	cli *redis.Client
	log *logger.Logger
}

// NewClient: Connect to Redis and verify the connection
func NewClient(addr, password string, db int) (*Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log := logger.Get()
	if err := cli.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis at %s: %v", addr, err)
		return nil, err
	}

	log.Info("Connected to Redis at %s", addr)
	return &Client{cli: cli, log: log}, nil
}

// Close: Close the Redis connection
func (c *Client) Close() error {
	return c.cli.Close()
}

// Set: Store a string value with TTL (0 = no expiry)
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.cli.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Error("Failed to set key %s: %v", key, err)
		return err
	}
	c.log.Debug("Set key: %s (TTL: %v)", key, ttl)
	return nil
}

// Get: Retrieve a string value; missing keys return ""
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.cli.Get(ctx, key).Result()
	if err == redis.Nil {
		c.log.Debug("Key not found: %s", key)
		return "", nil
	}
	if err != nil {
		c.log.Error("Failed to get key %s: %v", key, err)
		return "", err
	}
	return val, nil
}

// Del: Delete one or more keys
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if err := c.cli.Del(ctx, keys...).Err(); err != nil {
		c.log.Error("Failed to delete keys: %v", err)
		return err
	}
	c.log.Debug("Deleted %d keys", len(keys))
	return nil
}

// SetNX: Set if not exists (atomic)
// Used for request ID deduplication. Returns true if set, false if the key
// already existed.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	ok, err := c.cli.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		c.log.Error("Failed to setnx %s: %v", key, err)
		return false, err
	}
	c.log.Debug("SetNX on key %s: success=%v", key, ok)
	return ok, nil
}

// HSet: Set multiple hash fields at once
// Used for the per-cluster resource mirror.
func (c *Client) HSet(ctx context.Context, key string, fields map[string]interface{}) error {
	if err := c.cli.HSet(ctx, key, fields).Err(); err != nil {
		c.log.Error("Failed to hset %s: %v", key, err)
		return err
	}
	c.log.Debug("Set %d hash fields on %s", len(fields), key)
	return nil
}

// HGetAll: Get all fields and values from a hash
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	vals, err := c.cli.HGetAll(ctx, key).Result()
	if err != nil {
		c.log.Error("Failed to hgetall %s: %v", key, err)
		return nil, err
	}
	return vals, nil
}

// Publish: Publish a message on a channel
// Used for lifecycle event fan-out to external consumers.
func (c *Client) Publish(ctx context.Context, channel string, payload interface{}) error {
	if err := c.cli.Publish(ctx, channel, payload).Err(); err != nil {
		c.log.Error("Failed to publish on %s: %v", channel, err)
		return err
	}
	c.log.Debug("Published message on channel %s", channel)
	return nil
}
