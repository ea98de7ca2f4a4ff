package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Pinger is satisfied by kv.Store backends that can verify reachability
// (in particular kv.Redis; kv.Memory's Ping is a trivial always-healthy
// check since there's no network dependency to fail).
type Pinger interface {
	Ping(ctx context.Context) error
}

// BackendHealth reports the load balancer's current view for the
// readiness probe, without this package importing internal/lb directly
// (admin/health stays a thin HTTP-facing layer).
type BackendHealth struct {
	Total   int
	Healthy int
}

// HealthHandler serves liveness/readiness probes. Readiness additionally
// checks KV store reachability and, in standalone mode, that at least
// one backend is healthy — replacing the teacher's original gRPC
// ClientConn.GetState() check, which has no analog once the
// orchestrator dependency is dropped (see DESIGN.md).
type HealthHandler struct {
	store       Pinger
	backendFunc func() BackendHealth
	unavailable atomic.Bool
}

// NewHealthHandler builds a handler. backendFunc may be nil in plugin
// mode, where there is no backend pool to report on.
func NewHealthHandler(store Pinger, backendFunc func() BackendHealth) *HealthHandler {
	return &HealthHandler{store: store, backendFunc: backendFunc}
}

// SetUnavailable marks the service as shutting down; Readiness then
// fails even though Liveness still succeeds, letting a load balancer
// drain in-flight connections before the process exits.
func (h *HealthHandler) SetUnavailable() {
	h.unavailable.Store(true)
}

// Liveness always succeeds once the process is running — it answers
// "is this process alive", not "is it ready for traffic".
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, http.StatusOK, map[string]any{"status": "alive"})
}

// Readiness checks KV store reachability and backend health.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.unavailable.Load() {
		writeHealthJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "shutting_down"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			writeHealthJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "kv_store_unreachable",
				"error":  err.Error(),
			})
			return
		}
	}

	body := map[string]any{"status": "ready"}
	if h.backendFunc != nil {
		bh := h.backendFunc()
		body["backends_total"] = bh.Total
		body["backends_healthy"] = bh.Healthy
		if bh.Total > 0 && bh.Healthy == 0 {
			writeHealthJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":         "no_healthy_backend",
				"backends_total": bh.Total,
			})
			return
		}
	}

	writeHealthJSON(w, http.StatusOK, body)
}

func writeHealthJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
