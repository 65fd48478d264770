// Persistence for clusters and deployments.
//
// etcd is the source of truth for persisted records; the in-memory
// ledger/queue state is reconstructed from it at startup. Redis carries a
// best-effort mirror of per-cluster resource counters for dashboards, it is
// never read back by the scheduler.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/cluster"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/deployment"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/ledger"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/lifecycle"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/logger"
	etcdstore "github.com/nimbusgrid/nimbus-scheduler/pkg/storage/etcd"
	redisstore "github.com/nimbusgrid/nimbus-scheduler/pkg/storage/redis"
)

const (
	deploymentPrefix = "/nimbus/deployments/"
	clusterPrefix    = "/nimbus/clusters/"

	// Redis hash with the latest total/available counters per cluster
	resourceMirrorKey = "nimbus:cluster:resources:%s"
)

// Store: etcd-backed persistence plus the redis resource mirror
type Store struct {
	log    *logger.Logger
	etcd   *etcdstore.Client
	redis  *redisstore.Client // may be nil, mirror is optional
	ledger *ledger.Ledger
}

// New: Create a store over the given clients
func New(etcdClient *etcdstore.Client, redisClient *redisstore.Client, led *ledger.Ledger) *Store {
	return &Store{
		log:    logger.Get(),
		etcd:   etcdClient,
		redis:  redisClient,
		ledger: led,
	}
}

// ============================================================================
// WRITES
// ============================================================================

// SaveCluster: Persist a cluster record
func (s *Store) SaveCluster(ctx context.Context, c *cluster.Cluster) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cluster %s: %w", c.ID, err)
	}
	if err := s.etcd.Put(ctx, clusterPrefix+c.ID, string(data)); err != nil {
		return fmt.Errorf("persist cluster %s: %w", c.ID, err)
	}
	return nil
}

// SaveDeployment: Persist a deployment record
func (s *Store) SaveDeployment(ctx context.Context, d *deployment.Deployment) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal deployment %s: %w", d.ID, err)
	}
	if err := s.etcd.Put(ctx, deploymentPrefix+d.ID, string(data)); err != nil {
		return fmt.Errorf("persist deployment %s: %w", d.ID, err)
	}
	return nil
}

// Notify implements lifecycle.Notifier: every transition is written through
// to etcd, and the affected cluster's resource counters are mirrored to
// Redis. Both writes happen outside the cluster lock.
func (s *Store) Notify(ctx context.Context, ev lifecycle.Event) {
	if err := s.SaveDeployment(ctx, ev.Deployment); err != nil {
		s.log.Error("Failed to persist %s event for deployment %s: %v",
			ev.Type, ev.Deployment.ID, err)
	}
	s.mirrorResources(ctx, ev.Deployment.ClusterID)
}

// mirrorResources: Best-effort copy of the ledger snapshot into a Redis hash
func (s *Store) mirrorResources(ctx context.Context, clusterID string) {
	if s.redis == nil {
		return
	}

	snap, err := s.ledger.GetSnapshot(clusterID)
	if err != nil {
		s.log.Warn("Resource mirror skipped for cluster %s: %v", clusterID, err)
		return
	}

	key := fmt.Sprintf(resourceMirrorKey, clusterID)
	fields := map[string]interface{}{
		"total_ram":     snap.Total.RAM,
		"total_cpu":     snap.Total.CPU,
		"total_gpu":     snap.Total.GPU,
		"available_ram": snap.Available.RAM,
		"available_cpu": snap.Available.CPU,
		"available_gpu": snap.Available.GPU,
		"updated_at":    time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.redis.HSet(ctx, key, fields); err != nil {
		s.log.Warn("Failed to mirror resources for cluster %s (non-fatal): %v", clusterID, err)
	}
}

// ============================================================================
// STARTUP RECONSTRUCTION
// ============================================================================

// LoadClusters: Read all persisted cluster records
func (s *Store) LoadClusters(ctx context.Context) ([]*cluster.Cluster, error) {
	kvs, err := s.etcd.GetPrefix(ctx, clusterPrefix)
	if err != nil {
		return nil, fmt.Errorf("load clusters: %w", err)
	}

	clusters := make([]*cluster.Cluster, 0, len(kvs))
	for key, value := range kvs {
		var c cluster.Cluster
		if err := json.Unmarshal([]byte(value), &c); err != nil {
			s.log.Error("Skipping corrupt cluster record %s: %v", key, err)
			continue
		}
		clusters = append(clusters, &c)
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })
	return clusters, nil
}

// LoadDeployments: Read all persisted deployment records in creation order
func (s *Store) LoadDeployments(ctx context.Context) ([]*deployment.Deployment, error) {
	kvs, err := s.etcd.GetPrefix(ctx, deploymentPrefix)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	deployments := make([]*deployment.Deployment, 0, len(kvs))
	for key, value := range kvs {
		var d deployment.Deployment
		if err := json.Unmarshal([]byte(value), &d); err != nil {
			s.log.Error("Skipping corrupt deployment record %s: %v", key, err)
			continue
		}
		deployments = append(deployments, &d)
	}

	sort.Slice(deployments, func(i, j int) bool {
		if !deployments[i].CreatedAt.Equal(deployments[j].CreatedAt) {
			return deployments[i].CreatedAt.Before(deployments[j].CreatedAt)
		}
		return deployments[i].ID < deployments[j].ID
	})
	return deployments, nil
}

// Restore: Rebuild in-memory state from persisted records
// Registers clusters first so ledger entries exist, then replays
// deployments into the lifecycle manager.
func (s *Store) Restore(ctx context.Context, manager *lifecycle.Manager) error {
	clusters, err := s.LoadClusters(ctx)
	if err != nil {
		return err
	}
	for _, c := range clusters {
		if err := manager.RegisterCluster(c); err != nil {
			return fmt.Errorf("restore cluster %s: %w", c.ID, err)
		}
	}

	deployments, err := s.LoadDeployments(ctx)
	if err != nil {
		return err
	}
	restored := 0
	for _, d := range deployments {
		if err := manager.Restore(d); err != nil {
			s.log.Error("Failed to restore deployment %s: %v", d.ID, err)
			continue
		}
		restored++
	}

	s.log.Info("Restored %d clusters, %d deployments from etcd", len(clusters), restored)
	return nil
}
