// In-memory registry of known clusters. Reconstructed from the etcd store
// at startup; the registry itself holds no availability state.

package cluster

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/logger"
)

// ErrNotFound: Returned when a cluster ID is not registered
var ErrNotFound = fmt.Errorf("cluster not found")

// Registry: Central registry of clusters known to the scheduler
type Registry struct {
	log *logger.Logger
	mu  sync.RWMutex

	clusters map[string]*Cluster
}

// NewRegistry: Create an empty cluster registry
func NewRegistry() *Registry {
	return &Registry{
		log:      logger.Get(),
		clusters: make(map[string]*Cluster),
	}
}

// Register: Add a cluster to the registry
// No-op if a cluster with the same ID is already registered.
func (r *Registry) Register(c *Cluster) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("invalid cluster: nil or empty ID")
	}
	if c.Total.IsNegative() {
		return fmt.Errorf("invalid cluster %s: negative capacity", c.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clusters[c.ID]; exists {
		r.log.Debug("Cluster %s already registered", c.ID)
		return nil
	}

	r.clusters[c.ID] = c
	r.log.Info("Registered cluster %s (%s, %s)", c.ID, c.Name, c.Total)
	return nil
}

// Get: Look up a cluster by ID
func (r *Registry) Get(clusterID string) (*Cluster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.clusters[clusterID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, clusterID)
	}
	return c, nil
}

// List: All registered clusters, ordered by ID for deterministic iteration
func (r *Registry) List() []*Cluster {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Cluster, 0, len(r.clusters))
	for _, c := range r.clusters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count: Number of registered clusters
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clusters)
}
