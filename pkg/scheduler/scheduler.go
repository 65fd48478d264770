// Admission scheduler.
//
// One worker goroutine per cluster drains a coalescing kick channel and runs
// admission passes, so admission decisions for a single cluster are totally
// ordered while clusters proceed in parallel. Kicks arrive after every
// enqueue and after every transition that frees capacity; a periodic sweep
// catches missed wake-ups.
//
// A pass walks the queue's ordered view and admits at most one deployment.
// Strict priority order is preserved over utilization greed: the pass stops
// at the first candidate that does not fit, so a perpetually-fitting
// low-priority deployment can never leapfrog a blocked high-priority one.

package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/deployment"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/ledger"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/lifecycle"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/logger"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/queue"
)

// Metrics: Counters describing scheduler activity
type Metrics struct {
	PassesRun          int64
	Admissions         int64
	InfeasibleFailures int64
	LastPassAt         time.Time
}

// Scheduler: Drives admission for all clusters
type Scheduler struct {
	log     *logger.Logger
	manager *lifecycle.Manager
	ledger  *ledger.Ledger
	queue   *queue.Queue

	sweepInterval time.Duration // 0 disables the periodic sweep

	mu      sync.Mutex
	kicks   map[string]chan struct{}
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	metricsMu sync.RWMutex
	metrics   Metrics
}

// New: Create a scheduler over the lifecycle manager and its ledger/queue
func New(manager *lifecycle.Manager, led *ledger.Ledger, q *queue.Queue, sweepInterval time.Duration) *Scheduler {
	return &Scheduler{
		log:           logger.Get(),
		manager:       manager,
		ledger:        led,
		queue:         q,
		sweepInterval: sweepInterval,
		kicks:         make(map[string]chan struct{}),
	}
}

// Start: Launch the sweep loop; cluster workers start lazily on first kick
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.sweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop()
	}

	s.log.Info("Scheduler started (sweep=%v)", s.sweepInterval)
}

// Stop: Cancel all workers and wait for them to drain
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.started = false
	s.kicks = make(map[string]chan struct{})
	s.mu.Unlock()

	s.log.Info("Scheduler stopped")
}

// Kick: Wake the admission worker for a cluster
// Non-blocking: a kick while one is already pending coalesces with it. The
// lifecycle manager installs this as its transition trigger.
func (s *Scheduler) Kick(clusterID string) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}

	ch, exists := s.kicks[clusterID]
	if !exists {
		ch = make(chan struct{}, 1)
		s.kicks[clusterID] = ch
		s.wg.Add(1)
		go s.clusterWorker(clusterID, ch)
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
}

// clusterWorker: Serialized admission loop for one cluster
func (s *Scheduler) clusterWorker(clusterID string, ch chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ch:
			s.Pass(s.ctx, clusterID)
		}
	}
}

// sweepLoop: Periodic safety net re-running a pass on every known cluster
// Hardening against missed wake-ups, not a correctness requirement.
func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, clusterID := range s.ledger.Clusters() {
				s.Kick(clusterID)
			}
		}
	}
}

// Pass: Run one admission pass for a cluster
// Walks the queue in scheduling order and admits at most one deployment;
// the next trigger (typically the next release) attempts further
// admissions, keeping each critical section short. Returns true if a
// deployment was admitted.
func (s *Scheduler) Pass(ctx context.Context, clusterID string) bool {
	s.recordPass()

	for _, candidate := range s.queue.Ordered(clusterID) {
		d, err := s.manager.Get(candidate.ID)
		if err != nil {
			// Unknown ID in the queue snapshot; skip and keep order.
			s.log.Warn("Queue references unknown deployment %s on cluster %s: %v",
				candidate.ID, clusterID, err)
			continue
		}
		if d.Status != deployment.StatusQueued {
			continue
		}

		// A candidate exceeding cluster totals should have been rejected at
		// creation. Reaching here means state is inconsistent: fail it
		// defensively instead of leaving it queued forever.
		snap, err := s.ledger.GetSnapshot(clusterID)
		if err != nil {
			s.log.Error("Admission pass on cluster %s aborted: %v", clusterID, err)
			return false
		}
		if !d.Required.Scaled().FitsWithin(snap.Total.Scaled()) {
			s.log.Error("Deployment %s on cluster %s can never fit (%s > totals %s), failing it",
				d.ID, clusterID, d.Required, snap.Total)
			if err := s.manager.FailQueued(ctx, d.ID, lifecycle.ReasonCapacityExceeded); err != nil {
				s.log.Error("Failed to mark deployment %s infeasible: %v", d.ID, err)
			}
			s.recordInfeasible()
			continue
		}

		admitted, err := s.manager.TryAdmit(ctx, d.ID)
		if err != nil {
			if errors.Is(err, deployment.ErrInvalidTransition) {
				// Candidate was cancelled between snapshot and admit.
				continue
			}
			s.log.Error("Admission of deployment %s failed: %v", d.ID, err)
			return false
		}
		if admitted {
			s.recordAdmission()
			return true
		}

		// Insufficient resources for the highest-priority candidate: stop
		// here rather than admit a better-fitting lower-priority one.
		s.log.Debug("Cluster %s blocked on deployment %s (priority=%d), %d behind it",
			clusterID, d.ID, d.Priority, s.queue.Len(clusterID)-1)
		return false
	}

	return false
}

// Drain: Repeat passes on a cluster until nothing more can be admitted
// Used after startup reconstruction to re-fill freed capacity.
func (s *Scheduler) Drain(ctx context.Context, clusterID string) int {
	admitted := 0
	for s.Pass(ctx, clusterID) {
		admitted++
	}
	return admitted
}

// GetMetrics: Snapshot of scheduler counters
func (s *Scheduler) GetMetrics() Metrics {
	s.metricsMu.RLock()
	defer s.metricsMu.RUnlock()
	return s.metrics
}

func (s *Scheduler) recordPass() {
	s.metricsMu.Lock()
	s.metrics.PassesRun++
	s.metrics.LastPassAt = time.Now()
	s.metricsMu.Unlock()
}

func (s *Scheduler) recordAdmission() {
	s.metricsMu.Lock()
	s.metrics.Admissions++
	s.metricsMu.Unlock()
}

func (s *Scheduler) recordInfeasible() {
	s.metricsMu.Lock()
	s.metrics.InfeasibleFailures++
	s.metricsMu.Unlock()
}
