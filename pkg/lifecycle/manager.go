// Deployment lifecycle management.
//
// The manager is the sole writer of deployment status. Ledger and queue
// mutations happen only as side effects of a validated transition, under a
// per-cluster lock, so queue membership and reserved resources can never
// drift from recorded status. Operations on different clusters run fully
// in parallel.

package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/cluster"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/deployment"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/ledger"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/logger"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/queue"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/resource"
)

// ReasonCapacityExceeded: Failure reason recorded when a queued deployment
// could never fit its cluster's total capacity
const ReasonCapacityExceeded = "required resources exceed cluster capacity"

// validTransitions: The complete state machine. Anything not listed here
// fails with deployment.ErrInvalidTransition and mutates nothing.
var validTransitions = map[deployment.Status][]deployment.Status{
	deployment.StatusPending: {deployment.StatusQueued, deployment.StatusCancelled},
	deployment.StatusQueued:  {deployment.StatusRunning, deployment.StatusFailed, deployment.StatusCancelled},
	deployment.StatusRunning: {deployment.StatusCompleted, deployment.StatusFailed, deployment.StatusCancelled},
}

// canTransition: Check the transition table
func canTransition(from, to deployment.Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Manager: Owns deployment records and drives every status transition
type Manager struct {
	log      *logger.Logger
	clusters *cluster.Registry
	ledger   *ledger.Ledger
	queue    *queue.Queue

	notifier Notifier
	trigger  func(clusterID string) // scheduler kick, wired at startup

	mu           sync.RWMutex
	deployments  map[string]*deployment.Deployment
	clusterLocks map[string]*sync.Mutex
}

// NewManager: Create a lifecycle manager over the given collaborators
func NewManager(clusters *cluster.Registry, led *ledger.Ledger, q *queue.Queue) *Manager {
	return &Manager{
		log:          logger.Get(),
		clusters:     clusters,
		ledger:       led,
		queue:        q,
		deployments:  make(map[string]*deployment.Deployment),
		clusterLocks: make(map[string]*sync.Mutex),
	}
}

// SetNotifier: Install the lifecycle event consumer
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// SetTrigger: Install the scheduler kick invoked after enqueue and after
// any transition that frees capacity or unblocks the queue head
func (m *Manager) SetTrigger(trigger func(clusterID string)) {
	m.trigger = trigger
}

// clusterLock: Per-cluster mutual-exclusion domain for ledger+queue+status
func (m *Manager) clusterLock(clusterID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, exists := m.clusterLocks[clusterID]
	if !exists {
		lock = &sync.Mutex{}
		m.clusterLocks[clusterID] = lock
	}
	return lock
}

func (m *Manager) notify(ctx context.Context, evType EventType, d *deployment.Deployment) {
	if m.notifier != nil {
		m.notifier.Notify(ctx, Event{Type: evType, Deployment: d})
	}
}

func (m *Manager) kick(clusterID string) {
	if m.trigger != nil {
		m.trigger(clusterID)
	}
}

// ============================================================================
// CLUSTER REGISTRATION
// ============================================================================

// RegisterCluster: Make a cluster schedulable (registry entry + ledger entry)
func (m *Manager) RegisterCluster(c *cluster.Cluster) error {
	if err := m.clusters.Register(c); err != nil {
		return err
	}
	return m.ledger.AddCluster(c.ID, c.Total)
}

// ============================================================================
// DEPLOYMENT CREATION
// ============================================================================

// Create: Validate and record a new deployment in PENDING
// A request whose resource needs exceed the cluster's totals can never run
// and is rejected here with ErrCapacityExceeded instead of queueing forever.
func (m *Manager) Create(ctx context.Context, name, dockerImage, userID, clusterID string,
	priority int, required resource.Resources) (*deployment.Deployment, error) {

	if name == "" {
		return nil, fmt.Errorf("deployment name cannot be empty")
	}
	if required.IsNegative() {
		return nil, fmt.Errorf("required resources cannot be negative")
	}

	c, err := m.clusters.Get(clusterID)
	if err != nil {
		return nil, err
	}

	if !c.Fits(required) {
		m.log.Warn("Rejected deployment %q on cluster %s: %s exceeds totals %s",
			name, clusterID, required, c.Total)
		return nil, fmt.Errorf("%w: need %s, cluster total %s",
			deployment.ErrCapacityExceeded, required, c.Total)
	}

	d := deployment.New(name, dockerImage, userID, clusterID, priority, required)

	m.mu.Lock()
	m.deployments[d.ID] = d
	m.mu.Unlock()

	m.log.Info("Created deployment %s (%q, cluster=%s, priority=%d, %s)",
		d.ID, d.Name, clusterID, priority, required)

	m.notify(ctx, EventCreated, d.Clone())
	return d.Clone(), nil
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// Enqueue: PENDING -> QUEUED, placing the deployment into its cluster's
// queue and kicking the scheduler for that cluster
func (m *Manager) Enqueue(ctx context.Context, deploymentID string) error {
	d, err := m.get(deploymentID)
	if err != nil {
		return err
	}

	lock := m.clusterLock(d.ClusterID)
	lock.Lock()

	if err := m.setStatus(d, deployment.StatusQueued); err != nil {
		lock.Unlock()
		return err
	}
	m.queue.Enqueue(d.ClusterID, queue.Item{ID: d.ID, Priority: d.Priority, CreatedAt: d.CreatedAt})
	snapshot := d.Clone()

	lock.Unlock()

	m.log.Info("Enqueued deployment %s on cluster %s (priority=%d)", d.ID, d.ClusterID, d.Priority)
	m.notify(ctx, EventQueued, snapshot)
	m.kick(d.ClusterID)
	return nil
}

// TryAdmit: QUEUED -> RUNNING iff the ledger reservation succeeds
// Called by the scheduler loop for one candidate at a time. Returns false
// with nil error when resources are insufficient; the deployment stays
// QUEUED and the next release will retry it.
func (m *Manager) TryAdmit(ctx context.Context, deploymentID string) (bool, error) {
	d, err := m.get(deploymentID)
	if err != nil {
		return false, err
	}

	lock := m.clusterLock(d.ClusterID)
	lock.Lock()

	if d.Status != deployment.StatusQueued {
		// Raced with a cancel between the queue snapshot and this call.
		lock.Unlock()
		return false, fmt.Errorf("%w: admit from %s", deployment.ErrInvalidTransition, d.Status)
	}

	ok, err := m.ledger.TryReserve(d.ClusterID, d.Required)
	if err != nil {
		lock.Unlock()
		return false, err
	}
	if !ok {
		lock.Unlock()
		return false, nil
	}

	if err := m.setStatus(d, deployment.StatusRunning); err != nil {
		// Unreachable given the QUEUED check above; undo the reservation
		// rather than leak it.
		m.ledger.Release(d.ClusterID, d.Required)
		lock.Unlock()
		return false, err
	}
	m.queue.Remove(d.ID)
	m.setStarted(d)
	snapshot := d.Clone()

	lock.Unlock()

	m.log.Info("Admitted deployment %s on cluster %s (started_at=%s)",
		d.ID, d.ClusterID, snapshot.StartedAt.Format(time.RFC3339))
	m.notify(ctx, EventStarted, snapshot)
	return true, nil
}

// FailQueued: QUEUED -> FAILED for a deployment that can never be admitted
// Used by the scheduler when the queue head exceeds cluster totals, which
// indicates creation-time validation was bypassed.
func (m *Manager) FailQueued(ctx context.Context, deploymentID, reason string) error {
	d, err := m.get(deploymentID)
	if err != nil {
		return err
	}

	lock := m.clusterLock(d.ClusterID)
	lock.Lock()

	if err := m.setStatus(d, deployment.StatusFailed); err != nil {
		lock.Unlock()
		return err
	}
	m.queue.Remove(d.ID)
	m.setCompleted(d, reason)
	snapshot := d.Clone()

	lock.Unlock()

	m.log.Error("Failed queued deployment %s: %s", d.ID, reason)
	m.notify(ctx, EventFailed, snapshot)
	m.kick(d.ClusterID)
	return nil
}

// Complete: RUNNING -> COMPLETED, releasing the reservation and kicking
// the scheduler so freed capacity is offered to the queue
func (m *Manager) Complete(ctx context.Context, deploymentID string) error {
	return m.finishRunning(ctx, deploymentID, deployment.StatusCompleted, EventCompleted, "")
}

// Fail: RUNNING -> FAILED with a reason, releasing the reservation
func (m *Manager) Fail(ctx context.Context, deploymentID, reason string) error {
	return m.finishRunning(ctx, deploymentID, deployment.StatusFailed, EventFailed, reason)
}

// finishRunning: Shared RUNNING -> terminal path for complete and fail
func (m *Manager) finishRunning(ctx context.Context, deploymentID string,
	to deployment.Status, evType EventType, reason string) error {

	d, err := m.get(deploymentID)
	if err != nil {
		return err
	}

	lock := m.clusterLock(d.ClusterID)
	lock.Lock()

	if d.Status != deployment.StatusRunning {
		lock.Unlock()
		return fmt.Errorf("%w: %s -> %s", deployment.ErrInvalidTransition, d.Status, to)
	}
	if err := m.setStatus(d, to); err != nil {
		lock.Unlock()
		return err
	}
	if err := m.ledger.Release(d.ClusterID, d.Required); err != nil {
		m.log.Error("Release after %s of deployment %s failed: %v", to, d.ID, err)
	}
	m.setCompleted(d, reason)
	snapshot := d.Clone()

	lock.Unlock()

	m.log.Info("Deployment %s on cluster %s -> %s", d.ID, d.ClusterID, to)
	m.notify(ctx, evType, snapshot)
	m.kick(d.ClusterID)
	return nil
}

// Cancel: Cancel a deployment from any non-terminal state
// A RUNNING cancel releases its reservation before this returns, so freed
// resources are visible to the next admission attempt before the caller is
// acknowledged.
func (m *Manager) Cancel(ctx context.Context, deploymentID string) error {
	d, err := m.get(deploymentID)
	if err != nil {
		return err
	}

	lock := m.clusterLock(d.ClusterID)
	lock.Lock()

	from := d.Status
	if err := m.setStatus(d, deployment.StatusCancelled); err != nil {
		lock.Unlock()
		return err
	}

	switch from {
	case deployment.StatusQueued:
		m.queue.Remove(d.ID)
	case deployment.StatusRunning:
		if err := m.ledger.Release(d.ClusterID, d.Required); err != nil {
			m.log.Error("Release after cancel of deployment %s failed: %v", d.ID, err)
		}
	}
	m.setCompleted(d, "")
	snapshot := d.Clone()

	lock.Unlock()

	m.log.Info("Cancelled deployment %s (was %s)", d.ID, from)
	m.notify(ctx, EventCancelled, snapshot)

	// Cancelling a queued head can unblock lower-priority candidates just
	// like a release does.
	if from == deployment.StatusQueued || from == deployment.StatusRunning {
		m.kick(d.ClusterID)
	}
	return nil
}

// ============================================================================
// QUERIES
// ============================================================================

// Get: Snapshot of a deployment record
func (m *Manager) Get(deploymentID string) (*deployment.Deployment, error) {
	d, err := m.get(deploymentID)
	if err != nil {
		return nil, err
	}

	lock := m.clusterLock(d.ClusterID)
	lock.Lock()
	defer lock.Unlock()
	return d.Clone(), nil
}

// QueueMetrics: Aggregate queue snapshot for a cluster
func (m *Manager) QueueMetrics(clusterID string) (queue.Metrics, error) {
	if _, err := m.clusters.Get(clusterID); err != nil {
		return queue.Metrics{}, err
	}
	return m.queue.GetMetrics(clusterID), nil
}

// ResourceSnapshot: Point-in-time ledger view for a cluster
func (m *Manager) ResourceSnapshot(clusterID string) (ledger.Snapshot, error) {
	return m.ledger.GetSnapshot(clusterID)
}

// get: Internal lookup without cloning
func (m *Manager) get(deploymentID string) (*deployment.Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, exists := m.deployments[deploymentID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", deployment.ErrNotFound, deploymentID)
	}
	return d, nil
}

// ============================================================================
// STARTUP RECONSTRUCTION
// ============================================================================

// Restore: Re-insert a persisted deployment during startup
// QUEUED deployments rejoin the queue; RUNNING deployments re-reserve their
// resources. A RUNNING record that no longer fits means the persisted state
// is inconsistent and the deployment is marked FAILED defensively.
func (m *Manager) Restore(d *deployment.Deployment) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("invalid deployment record")
	}
	if !d.Status.Valid() {
		return fmt.Errorf("deployment %s has unknown status %q", d.ID, d.Status)
	}

	m.mu.Lock()
	if _, exists := m.deployments[d.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("deployment %s already restored", d.ID)
	}
	m.deployments[d.ID] = d
	m.mu.Unlock()

	lock := m.clusterLock(d.ClusterID)
	lock.Lock()
	defer lock.Unlock()

	switch d.Status {
	case deployment.StatusQueued:
		m.queue.Enqueue(d.ClusterID, queue.Item{ID: d.ID, Priority: d.Priority, CreatedAt: d.CreatedAt})
	case deployment.StatusRunning:
		ok, err := m.ledger.TryReserve(d.ClusterID, d.Required)
		if err != nil {
			return err
		}
		if !ok {
			m.log.Error("Restore: running deployment %s does not fit cluster %s, marking failed",
				d.ID, d.ClusterID)
			d.Status = deployment.StatusFailed
			d.CompletedAt = time.Now().UTC()
			d.FailureReason = "restore: reservation no longer fits cluster"
		}
	}

	m.log.Debug("Restored deployment %s (status=%s)", d.ID, d.Status)
	return nil
}

// ============================================================================
// INTERNAL MUTATORS (caller holds the cluster lock)
// ============================================================================

// setStatus: Validate against the transition table and write the new status
func (m *Manager) setStatus(d *deployment.Deployment, to deployment.Status) error {
	if !canTransition(d.Status, to) {
		return fmt.Errorf("%w: %s -> %s", deployment.ErrInvalidTransition, d.Status, to)
	}

	m.mu.Lock()
	d.Status = to
	m.mu.Unlock()
	return nil
}

func (m *Manager) setStarted(d *deployment.Deployment) {
	m.mu.Lock()
	d.StartedAt = time.Now().UTC()
	m.mu.Unlock()
}

func (m *Manager) setCompleted(d *deployment.Deployment, reason string) {
	m.mu.Lock()
	d.CompletedAt = time.Now().UTC()
	if reason != "" {
		d.FailureReason = reason
	}
	m.mu.Unlock()
}
