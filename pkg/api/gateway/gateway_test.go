package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/cluster"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/deployment"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/ledger"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/lifecycle"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/queue"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/resource"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/scheduler"
)

// ============================================================================
// TEST FIXTURES
// ============================================================================

// newTestGateway wires a gateway over an in-memory core, no etcd/Redis.
func newTestGateway(t *testing.T) (*Gateway, *lifecycle.Manager, *http.ServeMux) {
	t.Helper()

	led := ledger.New()
	q := queue.New()
	manager := lifecycle.NewManager(cluster.NewRegistry(), led, q)
	sched := scheduler.New(manager, led, q, 0)

	require.NoError(t, manager.RegisterCluster(&cluster.Cluster{
		ID:    "c1",
		Name:  "test-cluster",
		Total: resource.Resources{RAM: 32, CPU: 8, GPU: 2},
	}))

	gw, err := New(DefaultConfig, manager, sched, nil, nil)
	require.NoError(t, err)
	return gw, manager, gw.RegisterRoutes()
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeDeployment(t *testing.T, w *httptest.ResponseRecorder) deployment.Deployment {
	t.Helper()
	var d deployment.Deployment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	return d
}

// ============================================================================
// DEPLOYMENT ENDPOINTS
// ============================================================================

func TestCreateDeploymentEndpoint(t *testing.T) {
	_, _, mux := newTestGateway(t)

	t.Run("valid request is created and queued", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodPost, "/deployments", &CreateDeploymentRequest{
			Name:        "web-api",
			DockerImage: "nginx:1.27",
			UserID:      "user-1",
			ClusterID:   "c1",
			Priority:    5,
			RequiredRAM: 4,
			RequiredCPU: 1,
		})

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		d := decodeDeployment(t, w)
		assert.NotEmpty(t, d.ID)
		assert.Equal(t, deployment.StatusQueued, d.Status, "create enqueues immediately")
	})

	t.Run("missing name fails validation", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodPost, "/deployments", &CreateDeploymentRequest{
			DockerImage: "nginx:1.27",
			ClusterID:   "c1",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var errResp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
		assert.Contains(t, errResp.Message, "name")
	})

	t.Run("missing docker_image fails validation", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodPost, "/deployments", &CreateDeploymentRequest{
			Name:      "web-api",
			ClusterID: "c1",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("negative resources fail validation", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodPost, "/deployments", &CreateDeploymentRequest{
			Name:        "web-api",
			DockerImage: "nginx:1.27",
			ClusterID:   "c1",
			RequiredRAM: -1,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown cluster returns 404", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodPost, "/deployments", &CreateDeploymentRequest{
			Name:        "web-api",
			DockerImage: "nginx:1.27",
			ClusterID:   "nope",
			RequiredRAM: 1,
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("request exceeding cluster totals returns 422", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodPost, "/deployments", &CreateDeploymentRequest{
			Name:        "monster",
			DockerImage: "img",
			ClusterID:   "c1",
			RequiredRAM: 64,
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var errResp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
		assert.Equal(t, "CAPACITY_EXCEEDED", errResp.ErrorCode)
	})

	t.Run("wrong method rejected", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodGet, "/deployments", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestDeploymentStatusEndpoint(t *testing.T) {
	_, _, mux := newTestGateway(t)

	w := doJSON(t, mux, http.MethodPost, "/deployments", &CreateDeploymentRequest{
		Name:        "web-api",
		DockerImage: "nginx:1.27",
		ClusterID:   "c1",
		RequiredRAM: 4,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeDeployment(t, w)

	t.Run("found", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodGet, "/deployments/status?deployment_id="+created.ID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, created.ID, decodeDeployment(t, w).ID)
	})

	t.Run("missing parameter", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodGet, "/deployments/status", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown ID", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodGet, "/deployments/status?deployment_id=missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestLifecycleEndpoints(t *testing.T) {
	_, manager, mux := newTestGateway(t)
	ctx := context.Background()

	create := func(t *testing.T) string {
		w := doJSON(t, mux, http.MethodPost, "/deployments", &CreateDeploymentRequest{
			Name:        "job",
			DockerImage: "img",
			ClusterID:   "c1",
			RequiredRAM: 4,
		})
		require.Equal(t, http.StatusCreated, w.Code)
		return decodeDeployment(t, w).ID
	}

	admit := func(t *testing.T, id string) {
		admitted, err := manager.TryAdmit(ctx, id)
		require.NoError(t, err)
		require.True(t, admitted)
	}

	t.Run("complete", func(t *testing.T) {
		id := create(t)
		admit(t, id)

		w := doJSON(t, mux, http.MethodPost, "/deployments/complete?deployment_id="+id, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, deployment.StatusCompleted, decodeDeployment(t, w).Status)
	})

	t.Run("fail with reason", func(t *testing.T) {
		id := create(t)
		admit(t, id)

		w := doJSON(t, mux, http.MethodPost, "/deployments/fail?deployment_id="+id,
			map[string]string{"reason": "oom killed"})
		require.Equal(t, http.StatusOK, w.Code)
		d := decodeDeployment(t, w)
		assert.Equal(t, deployment.StatusFailed, d.Status)
		assert.Equal(t, "oom killed", d.FailureReason)
	})

	t.Run("cancel queued", func(t *testing.T) {
		id := create(t)

		w := doJSON(t, mux, http.MethodPost, "/deployments/cancel?deployment_id="+id, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, deployment.StatusCancelled, decodeDeployment(t, w).Status)
	})

	t.Run("invalid transition returns 409", func(t *testing.T) {
		id := create(t)

		// Completing a queued deployment is not a legal move.
		w := doJSON(t, mux, http.MethodPost, "/deployments/complete?deployment_id="+id, nil)
		assert.Equal(t, http.StatusConflict, w.Code)

		var errResp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
		assert.Equal(t, "INVALID_TRANSITION", errResp.ErrorCode)
	})

	t.Run("unknown deployment returns 404", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodPost, "/deployments/cancel?deployment_id=missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// ============================================================================
// CLUSTER AND METRICS ENDPOINTS
// ============================================================================

func TestRegisterClusterEndpoint(t *testing.T) {
	_, _, mux := newTestGateway(t)

	t.Run("valid cluster", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodPost, "/clusters", &RegisterClusterRequest{
			Name:           "eu-west",
			OrganizationID: "org-1",
			TotalRAM:       128,
			TotalCPU:       32,
			TotalGPU:       8,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var c cluster.Cluster
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
		assert.NotEmpty(t, c.ID, "ID generated when omitted")

		// The new cluster is immediately schedulable.
		w = doJSON(t, mux, http.MethodGet, "/clusters/resources?cluster_id="+c.ID, nil)
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing name", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodPost, "/clusters", &RegisterClusterRequest{TotalRAM: 1})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("negative capacity", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodPost, "/clusters", &RegisterClusterRequest{
			Name: "bad", TotalCPU: -1,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestResourceSnapshotEndpoint(t *testing.T) {
	_, _, mux := newTestGateway(t)

	w := doJSON(t, mux, http.MethodGet, "/clusters/resources?cluster_id=c1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap ledger.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, resource.Resources{RAM: 32, CPU: 8, GPU: 2}, snap.Total)
	assert.Equal(t, snap.Total, snap.Available)

	t.Run("unknown cluster", func(t *testing.T) {
		w := doJSON(t, mux, http.MethodGet, "/clusters/resources?cluster_id=nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestQueueMetricsEndpoint(t *testing.T) {
	_, _, mux := newTestGateway(t)

	for i := 0; i < 3; i++ {
		w := doJSON(t, mux, http.MethodPost, "/deployments", &CreateDeploymentRequest{
			Name:        fmt.Sprintf("job-%d", i),
			DockerImage: "img",
			ClusterID:   "c1",
			Priority:    9,
			RequiredRAM: 1,
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(t, mux, http.MethodGet, "/queue/metrics?cluster_id=c1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var m queue.Metrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, 3, m.Length)
	assert.Equal(t, 3, m.Bands.Critical)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	_, _, mux := newTestGateway(t)

	w := doJSON(t, mux, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, mux, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var m scheduler.Metrics
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
}

func TestNewValidation(t *testing.T) {
	_, err := New(DefaultConfig, nil, nil, nil, nil)
	assert.Error(t, err, "nil manager rejected")
}
