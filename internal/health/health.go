// Package health serves run health over both HTTP and gRPC, grounded
// on hdrp/cmd/server/main.go's handleHealth JSON endpoint, with a gRPC
// health.v1 service added so the orchestrator can sit behind
// infrastructure that only speaks the standard gRPC health-checking
// protocol (no custom proto needed: grpc_health_v1 is precompiled).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"google.golang.org/grpc/health/grpc_health_v1"
)

// Status is the orchestrator's coarse health state.
type Status string

const (
	StatusServing    Status = "SERVING"
	StatusNotServing Status = "NOT_SERVING"
)

// Tracker holds the current status and serves both the HTTP handler
// and the gRPC health.v1.Health service from the same source of truth.
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

// NewTracker creates a tracker starting SERVING.
func NewTracker() *Tracker {
	return &Tracker{status: StatusServing}
}

// Set updates the tracked status.
func (t *Tracker) Set(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = s
}

// Get returns the tracked status.
func (t *Tracker) Get() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// HTTPHandler serves {"status": "SERVING"|"NOT_SERVING"} on GET.
func (t *Tracker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if t.Get() != StatusServing {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": string(t.Get())})
	}
}

// Check implements grpc_health_v1.HealthServer.
func (t *Tracker) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	resp := &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}
	if t.Get() != StatusServing {
		resp.Status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return resp, nil
}

// Watch implements grpc_health_v1.HealthServer with a single send —
// the orchestrator's health does not change fast enough to warrant a
// streaming poll loop, so this satisfies the interface without
// pretending to support live status push.
func (t *Tracker) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	resp, _ := t.Check(stream.Context(), req)
	return stream.Send(resp)
}

var _ grpc_health_v1.HealthServer = (*Tracker)(nil)
