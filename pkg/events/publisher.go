// Lifecycle event publication over Redis pub/sub.
//
// External layers (the persistence API, dashboards) subscribe to the
// channel to observe start notifications and terminal transitions without
// polling the store.

package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/lifecycle"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/logger"
	redisstore "github.com/nimbusgrid/nimbus-scheduler/pkg/storage/redis"
)

// Channel: Redis pub/sub channel carrying deployment lifecycle events
const Channel = "nimbus:events:deployments"

// Message: Wire format of a published lifecycle event
type Message struct {
	Type         lifecycle.EventType `json:"type"`
	DeploymentID string              `json:"deployment_id"`
	ClusterID    string              `json:"cluster_id"`
	Status       string              `json:"status"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	PublishedAt  time.Time           `json:"published_at"`
}

// Publisher: Publishes lifecycle events; implements lifecycle.Notifier
type Publisher struct {
	log   *logger.Logger
	redis *redisstore.Client
}

// NewPublisher: Create a publisher over the given Redis client
func NewPublisher(redisClient *redisstore.Client) *Publisher {
	return &Publisher{
		log:   logger.Get(),
		redis: redisClient,
	}
}

// Notify implements lifecycle.Notifier
// Publication is best effort: a failed publish is logged, never propagated,
// so event fan-out cannot break a lifecycle transition.
func (p *Publisher) Notify(ctx context.Context, ev lifecycle.Event) {
	d := ev.Deployment

	msg := Message{
		Type:         ev.Type,
		DeploymentID: d.ID,
		ClusterID:    d.ClusterID,
		Status:       string(d.Status),
		Reason:       d.FailureReason,
		PublishedAt:  time.Now().UTC(),
	}
	if !d.StartedAt.IsZero() {
		msg.StartedAt = &d.StartedAt
	}
	if !d.CompletedAt.IsZero() {
		msg.CompletedAt = &d.CompletedAt
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("Failed to marshal %s event for deployment %s: %v", ev.Type, d.ID, err)
		return
	}

	if err := p.redis.Publish(ctx, Channel, payload); err != nil {
		p.log.Warn("Failed to publish %s event for deployment %s (non-fatal): %v",
			ev.Type, d.ID, err)
	}
}
