// Deployment model and status set.
//
// Status is a closed enumeration; the lifecycle manager is the only writer
// and rejects any move outside its transition table.

package deployment

import (
	"time"

	"github.com/google/uuid"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/resource"
)

// Status: Deployment lifecycle status
type Status string

const (
	StatusPending   Status = "PENDING"   // created, not yet queued
	StatusQueued    Status = "QUEUED"    // waiting for cluster capacity
	StatusRunning   Status = "RUNNING"   // admitted, resources reserved
	StatusCompleted Status = "COMPLETED" // finished successfully
	StatusFailed    Status = "FAILED"    // finished with error
	StatusCancelled Status = "CANCELLED" // cancelled by user
)

// IsTerminal: True for statuses that can never change again
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid: True if s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Deployment: A request to run a workload on a cluster
type Deployment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DockerImage string `json:"docker_image"`

	UserID    string `json:"user_id"` // opaque reference, auth lives elsewhere
	ClusterID string `json:"cluster_id"`

	Status   Status `json:"status"`
	Priority int    `json:"priority"` // higher = more urgent

	Required resource.Resources `json:"required"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`   // set on transition to RUNNING
	CompletedAt time.Time `json:"completed_at,omitempty"` // set on terminal transition

	FailureReason string `json:"failure_reason,omitempty"`
}

// New: Build a PENDING deployment with a fresh ID
func New(name, dockerImage, userID, clusterID string, priority int, required resource.Resources) *Deployment {
	return &Deployment{
		ID:          uuid.NewString(),
		Name:        name,
		DockerImage: dockerImage,
		UserID:      userID,
		ClusterID:   clusterID,
		Status:      StatusPending,
		Priority:    priority,
		Required:    required,
		CreatedAt:   time.Now().UTC(),
	}
}

// Clone: Shallow copy, used when handing records to callers so they can
// never mutate manager-owned state.
func (d *Deployment) Clone() *Deployment {
	out := *d
	return &out
}
