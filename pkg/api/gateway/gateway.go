// HTTP REST gateway for the deployment scheduler.
//
// Thin layer over the lifecycle manager: request validation and JSON
// plumbing only, no scheduling logic. Authentication and organization
// membership checks live in the surrounding platform; user and org IDs
// pass through as opaque references.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/idempotency"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/lifecycle"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/logger"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/scheduler"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/store"
)

// Config: Gateway settings
type Config struct {
	Port           int
	RequestTimeout time.Duration
	MaxRequestSize int64
}

// DefaultConfig: Sensible defaults for local runs
var DefaultConfig = &Config{
	Port:           8080,
	RequestTimeout: 30 * time.Second,
	MaxRequestSize: 1 << 20, // 1MB
}

// Gateway: HTTP front end over the scheduler core
type Gateway struct {
	log     *logger.Logger
	config  *Config
	manager *lifecycle.Manager
	sched   *scheduler.Scheduler
	store   *store.Store
	dedup   *idempotency.Manager // may be nil, dedup is optional

	server *http.Server
}

// New: Create a gateway
func New(config *Config, manager *lifecycle.Manager, sched *scheduler.Scheduler,
	st *store.Store, dedup *idempotency.Manager) (*Gateway, error) {

	if manager == nil {
		return nil, fmt.Errorf("lifecycle manager cannot be nil")
	}
	if config == nil {
		config = DefaultConfig
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", config.Port)
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = 1 << 20
	}

	return &Gateway{
		log:     logger.Get(),
		config:  config,
		manager: manager,
		sched:   sched,
		store:   st,
		dedup:   dedup,
	}, nil
}

// RegisterRoutes: Build the HTTP mux
func (g *Gateway) RegisterRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/deployments", g.handleCreateDeployment)
	mux.HandleFunc("/deployments/status", g.handleDeploymentStatus)
	mux.HandleFunc("/deployments/complete", g.handleCompleteDeployment)
	mux.HandleFunc("/deployments/fail", g.handleFailDeployment)
	mux.HandleFunc("/deployments/cancel", g.handleCancelDeployment)

	mux.HandleFunc("/clusters", g.handleRegisterCluster)
	mux.HandleFunc("/clusters/resources", g.handleResourceSnapshot)
	mux.HandleFunc("/queue/metrics", g.handleQueueMetrics)

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/metrics", g.handleMetrics)

	return mux
}

// Start: Start the HTTP server in the background
func (g *Gateway) Start() error {
	addr := fmt.Sprintf(":%d", g.config.Port)
	g.server = &http.Server{
		Addr:         addr,
		Handler:      g.RegisterRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.log.Info("Gateway starting on %s", addr)

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.log.Error("Gateway server error: %v", err)
		}
	}()

	return nil
}

// Stop: Shut the HTTP server down gracefully
func (g *Gateway) Stop(timeout time.Duration) error {
	if g.server == nil {
		return fmt.Errorf("server not running")
	}

	g.log.Info("Shutting down gateway...")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return g.server.Shutdown(ctx)
}

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

// ErrorResponse: JSON error body
type ErrorResponse struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// respondJSON: Send a JSON response
func (g *Gateway) respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.log.Error("Failed to encode response: %v", err)
	}
}

// respondError: Send an error response
func (g *Gateway) respondError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	g.respondJSON(w, statusCode, &ErrorResponse{
		Success:   false,
		ErrorCode: errorCode,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	g.log.Warn("API error: %s - %s (status=%d)", errorCode, message, statusCode)
}

// decodeBody: Decode a JSON request body with a size cap
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, g.config.MaxRequestSize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
