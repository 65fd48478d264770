// Scheduler leadership via an etcd lease.
//
// Only the instance holding the lease runs admission; a standby that fails
// to acquire it keeps retrying and takes over when the leader's lease
// expires. The lease key is bound to an etcd lease and disappears with it,
// so a crashed leader frees the slot within one TTL.

package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/logger"
	etcdstore "github.com/nimbusgrid/nimbus-scheduler/pkg/storage/etcd"
)

const leaderKey = "/nimbus/scheduler/leader"

// Manager: Acquires and renews the scheduler leader lease
type Manager struct {
	log        *logger.Logger
	etcd       *etcdstore.Client
	instanceID string
	ttl        time.Duration

	leaseID int64
}

// NewManager: Create a lease manager for this scheduler instance
func NewManager(etcdClient *etcdstore.Client, instanceID string, ttl time.Duration) *Manager {
	return &Manager{
		log:        logger.Get(),
		etcd:       etcdClient,
		instanceID: instanceID,
		ttl:        ttl,
	}
}

// Acquire: Block until leadership is obtained or ctx is cancelled
// Retries at half the TTL so a standby notices an expired leader quickly.
func (m *Manager) Acquire(ctx context.Context) error {
	retry := m.ttl / 2
	if retry < time.Second {
		retry = time.Second
	}

	for {
		ok, err := m.tryAcquire(ctx)
		if err != nil {
			m.log.Warn("Leader lease acquisition attempt failed: %v", err)
		}
		if ok {
			m.log.Info("Acquired scheduler leader lease (instance=%s, ttl=%v)", m.instanceID, m.ttl)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

// tryAcquire: One acquisition attempt
func (m *Manager) tryAcquire(ctx context.Context) (bool, error) {
	leaseID, err := m.etcd.GrantLease(ctx, int64(m.ttl.Seconds()))
	if err != nil {
		return false, fmt.Errorf("grant lease: %w", err)
	}

	ok, err := m.etcd.PutIfAbsent(ctx, leaderKey, m.instanceID, leaseID)
	if err != nil || !ok {
		// Someone else holds the key; drop our unused lease.
		m.etcd.RevokeLease(ctx, leaseID)
		return false, err
	}

	m.leaseID = leaseID
	return true, nil
}

// KeepAlive: Renew the lease periodically until ctx is cancelled
// Run as a goroutine after Acquire. Returns when renewal fails
// permanently, which means leadership is lost.
func (m *Manager) KeepAlive(ctx context.Context) error {
	interval := m.ttl / 3
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.etcd.KeepAliveOnce(ctx, m.leaseID); err != nil {
				m.log.Error("Leader lease renewal failed, leadership lost: %v", err)
				return err
			}
		}
	}
}

// Release: Give up leadership explicitly during graceful shutdown
func (m *Manager) Release(ctx context.Context) error {
	if m.leaseID == 0 {
		return nil
	}
	if err := m.etcd.RevokeLease(ctx, m.leaseID); err != nil {
		return err
	}
	m.leaseID = 0
	m.log.Info("Released scheduler leader lease (instance=%s)", m.instanceID)
	return nil
}
