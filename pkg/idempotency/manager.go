// Request deduplication for deployment creation.
//
// Clients may retry a create request after a network failure; the request ID
// they attach lets us hand back the deployment created the first time
// instead of queueing a duplicate.

package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/logger"
	redisstore "github.com/nimbusgrid/nimbus-scheduler/pkg/storage/redis"
)

const keyFormat = "nimbus:idempotency:%s"

// Result: Outcome of a previously processed create request
type Result struct {
	DeploymentID string    `json:"deployment_id"`
	ClusterID    string    `json:"cluster_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Manager: Redis-backed create-request deduplication
type Manager struct {
	log   *logger.Logger
	redis *redisstore.Client
	ttl   time.Duration
}

// NewManager: Create a dedup manager with a 24h retention window
func NewManager(redisClient *redisstore.Client) *Manager {
	return &Manager{
		log:   logger.Get(),
		redis: redisClient,
		ttl:   24 * time.Hour,
	}
}

// Check: Look up a previous result for this request ID
// Returns (result, true) on a dedup hit. Redis errors degrade to a miss so
// an unavailable cache never blocks request processing.
func (m *Manager) Check(ctx context.Context, requestID string) (*Result, bool) {
	if requestID == "" {
		return nil, false
	}

	cached, err := m.redis.Get(ctx, fmt.Sprintf(keyFormat, requestID))
	if err != nil {
		m.log.Warn("Dedup check failed for request %s (treating as miss): %v", requestID, err)
		return nil, false
	}
	if cached == "" {
		return nil, false
	}

	var result Result
	if err := json.Unmarshal([]byte(cached), &result); err != nil {
		m.log.Warn("Corrupt dedup entry for request %s: %v", requestID, err)
		return nil, false
	}

	m.log.Info("Duplicate create request %s -> deployment %s", requestID, result.DeploymentID)
	return &result, true
}

// Record: Remember the outcome of a create request
// First writer wins: a concurrent retry that lost the race keeps the
// original result.
func (m *Manager) Record(ctx context.Context, requestID string, result Result) {
	if requestID == "" {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		m.log.Error("Failed to marshal dedup entry for request %s: %v", requestID, err)
		return
	}

	ok, err := m.redis.SetNX(ctx, fmt.Sprintf(keyFormat, requestID), string(data), m.ttl)
	if err != nil {
		m.log.Warn("Failed to record dedup entry for request %s (non-fatal): %v", requestID, err)
		return
	}
	if !ok {
		m.log.Debug("Dedup entry for request %s already present", requestID)
	}
}
