// Per-cluster resource bookkeeping.
//
// Each cluster gets one ledger entry holding total and available RAM/CPU/GPU
// in scaled integer units. Reservation is a single atomic check-and-decrement
// under the entry lock: either all three resources are committed or none,
// so two racing callers can never both pass the check for resources that
// together exceed availability.

package ledger

import (
	"fmt"
	"sync"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/logger"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/resource"
)

// ErrUnknownCluster: Cluster has no ledger entry
var ErrUnknownCluster = fmt.Errorf("ledger: unknown cluster")

// Snapshot: Point-in-time view of a cluster's resources
// Not part of the reservation protocol; may be stale by the time the
// caller acts on it.
type Snapshot struct {
	Total     resource.Resources `json:"total"`
	Available resource.Resources `json:"available"`
}

// entry: Ledger state for one cluster
// The entry mutex is the serialization point for that cluster's counters.
type entry struct {
	mu        sync.Mutex
	total     resource.Millis
	available resource.Millis
}

// Ledger: Authoritative per-cluster resource accounting
type Ledger struct {
	log *logger.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// New: Create an empty ledger
func New() *Ledger {
	return &Ledger{
		log:     logger.Get(),
		entries: make(map[string]*entry),
	}
}

// AddCluster: Create the ledger entry for a cluster with full availability
// No-op if the cluster already has an entry.
func (l *Ledger) AddCluster(clusterID string, total resource.Resources) error {
	if clusterID == "" {
		return fmt.Errorf("ledger: empty cluster ID")
	}
	if total.IsNegative() {
		return fmt.Errorf("ledger: negative capacity for cluster %s", clusterID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[clusterID]; exists {
		return nil
	}

	scaled := total.Scaled()
	l.entries[clusterID] = &entry{total: scaled, available: scaled}
	l.log.Info("Ledger entry created for cluster %s (%s)", clusterID, total)
	return nil
}

// lookup: Find the entry for a cluster
func (l *Ledger) lookup(clusterID string) (*entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, exists := l.entries[clusterID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCluster, clusterID)
	}
	return e, nil
}

// TryReserve: Atomically reserve resources on a cluster
// Returns true and decrements all three counters iff every requested
// amount is available. Partial reservation is never observable.
func (l *Ledger) TryReserve(clusterID string, req resource.Resources) (bool, error) {
	if req.IsNegative() {
		return false, fmt.Errorf("ledger: negative reservation for cluster %s", clusterID)
	}

	e, err := l.lookup(clusterID)
	if err != nil {
		return false, err
	}

	want := req.Scaled()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !want.FitsWithin(e.available) {
		l.log.Debug("Reservation refused on cluster %s: want %s, available %s",
			clusterID, req, e.available.Unscaled())
		return false, nil
	}

	e.available = e.available.Sub(want)
	l.log.Debug("Reserved %s on cluster %s (available now %s)",
		req, clusterID, e.available.Unscaled())
	return true, nil
}

// Release: Return resources to a cluster
// Clamped so available never exceeds total; a clamp means the caller
// released something it did not hold, which is logged and otherwise
// ignored. The ledger does not deduplicate releases.
func (l *Ledger) Release(clusterID string, req resource.Resources) error {
	if req.IsNegative() {
		return fmt.Errorf("ledger: negative release for cluster %s", clusterID)
	}

	e, err := l.lookup(clusterID)
	if err != nil {
		return err
	}

	give := req.Scaled()

	e.mu.Lock()
	defer e.mu.Unlock()

	raised := e.available.Add(give)
	clamped := raised.ClampTo(e.total)
	if clamped != raised {
		l.log.Warn("Release on cluster %s clamped: releasing %s would exceed totals (double release?)",
			clusterID, req)
	}
	e.available = clamped

	l.log.Debug("Released %s on cluster %s (available now %s)",
		req, clusterID, e.available.Unscaled())
	return nil
}

// GetSnapshot: Point-in-time totals and availability for a cluster
func (l *Ledger) GetSnapshot(clusterID string) (Snapshot, error) {
	e, err := l.lookup(clusterID)
	if err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{
		Total:     e.total.Unscaled(),
		Available: e.available.Unscaled(),
	}, nil
}

// Clusters: IDs of all clusters with a ledger entry
func (l *Ledger) Clusters() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	return ids
}
