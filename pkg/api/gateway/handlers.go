// HTTP handlers mapping the REST surface onto lifecycle manager calls.

package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/cluster"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/deployment"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/idempotency"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/resource"
)

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// CreateDeploymentRequest: Body of POST /deployments
type CreateDeploymentRequest struct {
	RequestID   string  `json:"request_id,omitempty"` // optional, enables retry dedup
	Name        string  `json:"name"`
	DockerImage string  `json:"docker_image"`
	UserID      string  `json:"user_id"`
	ClusterID   string  `json:"cluster_id"`
	Priority    int     `json:"priority"`
	RequiredRAM float64 `json:"required_ram"`
	RequiredCPU float64 `json:"required_cpu"`
	RequiredGPU float64 `json:"required_gpu"`
}

// Validate: Reject malformed create requests before touching the core
func (req *CreateDeploymentRequest) Validate() error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.DockerImage == "" {
		return fmt.Errorf("docker_image is required")
	}
	if req.ClusterID == "" {
		return fmt.Errorf("cluster_id is required")
	}
	if req.RequiredRAM < 0 || req.RequiredCPU < 0 || req.RequiredGPU < 0 {
		return fmt.Errorf("required resources cannot be negative")
	}
	return nil
}

// RegisterClusterRequest: Body of POST /clusters
type RegisterClusterRequest struct {
	ID             string  `json:"id,omitempty"` // generated when empty
	Name           string  `json:"name"`
	OrganizationID string  `json:"organization_id"`
	TotalRAM       float64 `json:"total_ram"`
	TotalCPU       float64 `json:"total_cpu"`
	TotalGPU       float64 `json:"total_gpu"`
}

// ============================================================================
// DEPLOYMENT HANDLERS
// ============================================================================

// handleCreateDeployment: POST /deployments
// Creates the deployment and immediately enqueues it, which triggers an
// admission pass for its cluster.
func (g *Gateway) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("expected POST, got %s", r.Method))
		return
	}

	var req CreateDeploymentRequest
	if err := g.decodeBody(w, r, &req); err != nil {
		g.respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		g.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	ctx := r.Context()

	// Retried create with a known request ID returns the original result.
	if g.dedup != nil && req.RequestID != "" {
		if prev, hit := g.dedup.Check(ctx, req.RequestID); hit {
			if d, err := g.manager.Get(prev.DeploymentID); err == nil {
				g.respondJSON(w, http.StatusOK, d)
				return
			}
		}
	}

	required := resource.Resources{RAM: req.RequiredRAM, CPU: req.RequiredCPU, GPU: req.RequiredGPU}

	d, err := g.manager.Create(ctx, req.Name, req.DockerImage, req.UserID, req.ClusterID,
		req.Priority, required)
	if err != nil {
		switch {
		case errors.Is(err, deployment.ErrCapacityExceeded):
			g.respondError(w, http.StatusUnprocessableEntity, "CAPACITY_EXCEEDED", err.Error())
		case errors.Is(err, cluster.ErrNotFound):
			g.respondError(w, http.StatusNotFound, "CLUSTER_NOT_FOUND", err.Error())
		default:
			g.respondError(w, http.StatusBadRequest, "CREATE_FAILED", err.Error())
		}
		return
	}

	if err := g.manager.Enqueue(ctx, d.ID); err != nil {
		g.respondError(w, http.StatusInternalServerError, "ENQUEUE_FAILED", err.Error())
		return
	}

	if g.dedup != nil && req.RequestID != "" {
		g.dedup.Record(ctx, req.RequestID, idempotency.Result{
			DeploymentID: d.ID,
			ClusterID:    d.ClusterID,
			CreatedAt:    d.CreatedAt,
		})
	}

	// Return the post-enqueue record so the caller sees QUEUED (or RUNNING
	// if admission already happened).
	current, err := g.manager.Get(d.ID)
	if err != nil {
		current = d
	}
	g.respondJSON(w, http.StatusCreated, current)
}

// handleDeploymentStatus: GET /deployments/status?deployment_id=...
func (g *Gateway) handleDeploymentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("expected GET, got %s", r.Method))
		return
	}

	deploymentID := r.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		g.respondError(w, http.StatusBadRequest, "MISSING_PARAM", "deployment_id query parameter required")
		return
	}

	d, err := g.manager.Get(deploymentID)
	if err != nil {
		g.respondError(w, http.StatusNotFound, "DEPLOYMENT_NOT_FOUND", err.Error())
		return
	}
	g.respondJSON(w, http.StatusOK, d)
}

// handleCompleteDeployment: POST /deployments/complete?deployment_id=...
func (g *Gateway) handleCompleteDeployment(w http.ResponseWriter, r *http.Request) {
	g.handleTransition(w, r, func(id string) error {
		return g.manager.Complete(r.Context(), id)
	})
}

// handleFailDeployment: POST /deployments/fail?deployment_id=...
func (g *Gateway) handleFailDeployment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if err := g.decodeBody(w, r, &body); err != nil {
			g.respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
			return
		}
	}
	if body.Reason == "" {
		body.Reason = "reported failed by caller"
	}

	g.handleTransition(w, r, func(id string) error {
		return g.manager.Fail(r.Context(), id, body.Reason)
	})
}

// handleCancelDeployment: POST /deployments/cancel?deployment_id=...
func (g *Gateway) handleCancelDeployment(w http.ResponseWriter, r *http.Request) {
	g.handleTransition(w, r, func(id string) error {
		return g.manager.Cancel(r.Context(), id)
	})
}

// handleTransition: Shared plumbing for the external lifecycle signals
func (g *Gateway) handleTransition(w http.ResponseWriter, r *http.Request, op func(id string) error) {
	if r.Method != http.MethodPost {
		g.respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("expected POST, got %s", r.Method))
		return
	}

	deploymentID := r.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		g.respondError(w, http.StatusBadRequest, "MISSING_PARAM", "deployment_id query parameter required")
		return
	}

	if err := op(deploymentID); err != nil {
		switch {
		case errors.Is(err, deployment.ErrNotFound):
			g.respondError(w, http.StatusNotFound, "DEPLOYMENT_NOT_FOUND", err.Error())
		case errors.Is(err, deployment.ErrInvalidTransition):
			g.respondError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
		default:
			g.respondError(w, http.StatusInternalServerError, "TRANSITION_FAILED", err.Error())
		}
		return
	}

	d, err := g.manager.Get(deploymentID)
	if err != nil {
		g.respondError(w, http.StatusInternalServerError, "LOOKUP_FAILED", err.Error())
		return
	}
	g.respondJSON(w, http.StatusOK, d)
}

// ============================================================================
// CLUSTER HANDLERS
// ============================================================================

// handleRegisterCluster: POST /clusters
func (g *Gateway) handleRegisterCluster(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("expected POST, got %s", r.Method))
		return
	}

	var req RegisterClusterRequest
	if err := g.decodeBody(w, r, &req); err != nil {
		g.respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if req.Name == "" {
		g.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
		return
	}
	if req.TotalRAM < 0 || req.TotalCPU < 0 || req.TotalGPU < 0 {
		g.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "capacity cannot be negative")
		return
	}

	c := &cluster.Cluster{
		ID:             req.ID,
		Name:           req.Name,
		OrganizationID: req.OrganizationID,
		Total:          resource.Resources{RAM: req.TotalRAM, CPU: req.TotalCPU, GPU: req.TotalGPU},
		CreatedAt:      time.Now().UTC(),
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	if err := g.manager.RegisterCluster(c); err != nil {
		g.respondError(w, http.StatusBadRequest, "REGISTER_FAILED", err.Error())
		return
	}

	if g.store != nil {
		if err := g.store.SaveCluster(r.Context(), c); err != nil {
			g.log.Error("Failed to persist cluster %s: %v", c.ID, err)
		}
	}

	g.respondJSON(w, http.StatusCreated, c)
}

// handleResourceSnapshot: GET /clusters/resources?cluster_id=...
func (g *Gateway) handleResourceSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("expected GET, got %s", r.Method))
		return
	}

	clusterID := r.URL.Query().Get("cluster_id")
	if clusterID == "" {
		g.respondError(w, http.StatusBadRequest, "MISSING_PARAM", "cluster_id query parameter required")
		return
	}

	snap, err := g.manager.ResourceSnapshot(clusterID)
	if err != nil {
		g.respondError(w, http.StatusNotFound, "CLUSTER_NOT_FOUND", err.Error())
		return
	}
	g.respondJSON(w, http.StatusOK, snap)
}

// handleQueueMetrics: GET /queue/metrics?cluster_id=...
func (g *Gateway) handleQueueMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("expected GET, got %s", r.Method))
		return
	}

	clusterID := r.URL.Query().Get("cluster_id")
	if clusterID == "" {
		g.respondError(w, http.StatusBadRequest, "MISSING_PARAM", "cluster_id query parameter required")
		return
	}

	metrics, err := g.manager.QueueMetrics(clusterID)
	if err != nil {
		g.respondError(w, http.StatusNotFound, "CLUSTER_NOT_FOUND", err.Error())
		return
	}
	g.respondJSON(w, http.StatusOK, metrics)
}

// ============================================================================
// OBSERVABILITY HANDLERS
// ============================================================================

// handleHealth: GET /health
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMetrics: GET /metrics
func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if g.sched == nil {
		g.respondError(w, http.StatusServiceUnavailable, "NO_SCHEDULER", "scheduler not initialized")
		return
	}
	g.respondJSON(w, http.StatusOK, g.sched.GetMetrics())
}
