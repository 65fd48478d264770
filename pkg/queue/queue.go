// Per-cluster priority queue of QUEUED deployment IDs.
//
// Ordering key is (priority desc, created_at asc, id asc). The trailing ID
// tie-break gives a total order, so scheduling is deterministic even when
// two deployments share priority and timestamp. The queue holds identifiers
// plus the ordering key only, never deployment state; the lifecycle manager
// stays the single source of truth for status.

package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/logger"
)

// Item: Queue entry for one deployment
type Item struct {
	ID        string
	Priority  int
	CreatedAt time.Time
}

// before: Scheduling order between two items
func (i Item) before(other Item) bool {
	if i.Priority != other.Priority {
		return i.Priority > other.Priority
	}
	if !i.CreatedAt.Equal(other.CreatedAt) {
		return i.CreatedAt.Before(other.CreatedAt)
	}
	return i.ID < other.ID
}

// Metrics: Aggregate queue state for one cluster
// Computed on demand from the live queue, never cached, so it cannot drift.
type Metrics struct {
	Length           int            `json:"length"`
	OldestWait       time.Duration  `json:"oldest_wait"`
	CountsByPriority map[int]int    `json:"counts_by_priority"`
	Bands            PriorityBands  `json:"priority_distribution"`
}

// PriorityBands: Counts grouped into the coarse priority bands used by
// the dashboards (critical >= 9, high >= 7, medium >= 4, low below)
type PriorityBands struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Queue: Ordered per-cluster index of queued deployments
type Queue struct {
	log *logger.Logger

	mu         sync.RWMutex
	perCluster map[string][]Item // maintained in scheduling order
	clusterOf  map[string]string // deployment ID -> cluster ID
}

// New: Create an empty queue
func New() *Queue {
	return &Queue{
		log:        logger.Get(),
		perCluster: make(map[string][]Item),
		clusterOf:  make(map[string]string),
	}
}

// Enqueue: Insert an item into its cluster's queue respecting order
// No-op if the deployment is already queued.
func (q *Queue) Enqueue(clusterID string, item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, present := q.clusterOf[item.ID]; present {
		q.log.Debug("Deployment %s already queued", item.ID)
		return
	}

	items := q.perCluster[clusterID]
	pos := sort.Search(len(items), func(i int) bool {
		return item.before(items[i])
	})

	items = append(items, Item{})
	copy(items[pos+1:], items[pos:])
	items[pos] = item

	q.perCluster[clusterID] = items
	q.clusterOf[item.ID] = clusterID

	q.log.Debug("Enqueued deployment %s on cluster %s (priority=%d, position=%d)",
		item.ID, clusterID, item.Priority, pos)
}

// Ordered: Snapshot of a cluster's queue in scheduling order
// The scheduler iterates this to try admission candidates without removing
// them until one is actually admitted.
func (q *Queue) Ordered(clusterID string) []Item {
	q.mu.RLock()
	defer q.mu.RUnlock()

	items := q.perCluster[clusterID]
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// Remove: Drop a deployment from its queue (admission or cancellation)
// Returns false if the deployment was not queued.
func (q *Queue) Remove(deploymentID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	clusterID, present := q.clusterOf[deploymentID]
	if !present {
		return false
	}

	items := q.perCluster[clusterID]
	for i, item := range items {
		if item.ID == deploymentID {
			q.perCluster[clusterID] = append(items[:i], items[i+1:]...)
			break
		}
	}
	delete(q.clusterOf, deploymentID)

	q.log.Debug("Removed deployment %s from cluster %s queue", deploymentID, clusterID)
	return true
}

// Contains: True if the deployment is currently queued
func (q *Queue) Contains(deploymentID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, present := q.clusterOf[deploymentID]
	return present
}

// Len: Number of queued deployments for a cluster
func (q *Queue) Len(clusterID string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.perCluster[clusterID])
}

// GetMetrics: Aggregate snapshot for one cluster's queue
func (q *Queue) GetMetrics(clusterID string) Metrics {
	q.mu.RLock()
	defer q.mu.RUnlock()

	items := q.perCluster[clusterID]
	m := Metrics{
		Length:           len(items),
		CountsByPriority: make(map[int]int),
	}

	now := time.Now()
	for _, item := range items {
		m.CountsByPriority[item.Priority]++

		wait := now.Sub(item.CreatedAt)
		if wait > m.OldestWait {
			m.OldestWait = wait
		}

		switch {
		case item.Priority >= 9:
			m.Bands.Critical++
		case item.Priority >= 7:
			m.Bands.High++
		case item.Priority >= 4:
			m.Bands.Medium++
		default:
			m.Bands.Low++
		}
	}

	return m
}
