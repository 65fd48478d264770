// etcd client wrapper. Serves the deployment/cluster store and the
// scheduler leader lease.
package etcd

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/logger"
)

// Client: Wrapper around the etcd v3 client
type Client struct {
	cli *clientv3.Client
	log *logger.Logger
}

// NewClient: Connect to etcd
func NewClient(endpoints []string, dialTimeout time.Duration) (*Client, error) {
	log := logger.Get()

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		log.Error("Failed to connect to etcd: %v", err)
		return nil, err
	}

	log.Info("Connected to etcd at %v", endpoints)
	return &Client{cli: cli, log: log}, nil
}

// Close: Close the etcd connection
func (c *Client) Close() error {
	return c.cli.Close()
}

// Put: Store a key-value pair
func (c *Client) Put(ctx context.Context, key, value string) error {
	if _, err := c.cli.Put(ctx, key, value); err != nil {
		c.log.Error("Failed to put key %s: %v", key, err)
		return err
	}
	c.log.Debug("Put key: %s", key)
	return nil
}

// Get: Retrieve a value by key; missing keys return ""
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	resp, err := c.cli.Get(ctx, key)
	if err != nil {
		c.log.Error("Failed to get key %s: %v", key, err)
		return "", err
	}
	if len(resp.Kvs) == 0 {
		c.log.Debug("Key not found: %s", key)
		return "", nil
	}
	return string(resp.Kvs[0].Value), nil
}

// GetPrefix: Get all key-value pairs under a prefix
func (c *Client) GetPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	resp, err := c.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	result := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		result[string(kv.Key)] = string(kv.Value)
	}

	c.log.Debug("Got %d keys with prefix: %s", len(result), prefix)
	return result, nil
}

// Delete: Delete a key
func (c *Client) Delete(ctx context.Context, key string) error {
	if _, err := c.cli.Delete(ctx, key); err != nil {
		c.log.Error("Failed to delete key %s: %v", key, err)
		return err
	}
	c.log.Debug("Deleted key: %s", key)
	return nil
}

// ============================================================================
// LEASE OPERATIONS (scheduler leadership)
// ============================================================================

// GrantLease: Create a lease with the given TTL
func (c *Client) GrantLease(ctx context.Context, ttlSeconds int64) (int64, error) {
	grant, err := c.cli.Grant(ctx, ttlSeconds)
	if err != nil {
		c.log.Error("Failed to grant lease: %v", err)
		return 0, err
	}
	c.log.Debug("Granted lease %d (TTL: %ds)", grant.ID, ttlSeconds)
	return int64(grant.ID), nil
}

// RevokeLease: Cancel a lease, releasing any keys bound to it
func (c *Client) RevokeLease(ctx context.Context, leaseID int64) error {
	if _, err := c.cli.Revoke(ctx, clientv3.LeaseID(leaseID)); err != nil {
		c.log.Error("Failed to revoke lease %d: %v", leaseID, err)
		return err
	}
	c.log.Debug("Revoked lease %d", leaseID)
	return nil
}

// KeepAliveOnce: Renew a lease for another TTL period
func (c *Client) KeepAliveOnce(ctx context.Context, leaseID int64) error {
	if _, err := c.cli.KeepAliveOnce(ctx, clientv3.LeaseID(leaseID)); err != nil {
		c.log.Error("Failed to renew lease %d: %v", leaseID, err)
		return err
	}
	return nil
}

// PutIfAbsent: Atomically put a key bound to a lease iff the key does not
// exist yet. Returns true on acquisition.
func (c *Client) PutIfAbsent(ctx context.Context, key, value string, leaseID int64) (bool, error) {
	resp, err := c.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(key), "=", 0)).
		Then(clientv3.OpPut(key, value, clientv3.WithLease(clientv3.LeaseID(leaseID)))).
		Commit()
	if err != nil {
		c.log.Error("PutIfAbsent failed on key %s: %v", key, err)
		return false, err
	}
	c.log.Debug("PutIfAbsent on key %s: succeeded=%v", key, resp.Succeeded)
	return resp.Succeeded, nil
}
