// Package http is a read-only introspection surface over the agent runtime
// registry and resilience registries: GET /runtimes/{id}, GET
// /breakers/{name}, GET /metrics/{op}. It is a demonstration host for the
// core library, not a feature of agentruntime/resilience themselves — both
// packages stay transport-agnostic.
package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowmesh/agentruntime/internal/agentruntime"
	"github.com/flowmesh/agentruntime/internal/resilience"
)

// RuntimeSnapshotView is the JSON shape returned by GET /runtimes/{id}: a
// transport-safe projection of AgentRuntimeState, since the generic state
// type S cannot cross an HTTP boundary without the caller naming it.
type RuntimeSnapshotView struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	LastUpdated string `json:"last_updated"`
	Processed   int64  `json:"processed"`
	Failures    int64  `json:"failures"`
	LastError   string `json:"last_error,omitempty"`
}

// RuntimeRegistry is the subset of *agentruntime.Registry this handler
// needs: listing and counting ids. Snapshots come from SnapshotLookup. The
// generic Registry API (GetState[S]) cannot be called without knowing S,
// so the handler depends on this narrow interface instead and the binary's
// wiring supplies a closure per registered state type (see module.go).
type RuntimeRegistry interface {
	IDs() []agentruntime.AgentRuntimeId
	Len() int
}

// SnapshotLookup resolves one runtime id to its transport-safe view. The
// binary registers one per concrete state type it creates runtimes for.
type SnapshotLookup func(id agentruntime.AgentRuntimeId) (RuntimeSnapshotView, bool)

// Handler serves the introspection endpoints.
type Handler struct {
	registry RuntimeRegistry
	snapshot SnapshotLookup
	breakers *resilience.BreakerRegistry
	metrics  *resilience.MetricsRegistry
}

// NewHandler builds a Handler. snapshot may be nil, in which case
// GET /runtimes/{id} reports 501 Not Implemented rather than panicking —
// a binary that never registers a lookup still gets a running server.
func NewHandler(registry RuntimeRegistry, snapshot SnapshotLookup, breakers *resilience.BreakerRegistry, metrics *resilience.MetricsRegistry) *Handler {
	return &Handler{registry: registry, snapshot: snapshot, breakers: breakers, metrics: metrics}
}

// Routes mounts the introspection endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/runtimes", h.listRuntimes)
	r.Get("/runtimes/{id}", h.getRuntime)
	r.Get("/breakers", h.listBreakers)
	r.Get("/breakers/{name}", h.getBreaker)
	r.Get("/metrics/{op}", h.getMetrics)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) listRuntimes(w http.ResponseWriter, r *http.Request) {
	ids := h.registry.IDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getRuntime(w http.ResponseWriter, r *http.Request) {
	if h.snapshot == nil {
		http.Error(w, "no snapshot lookup registered", http.StatusNotImplemented)
		return
	}
	id := agentruntime.AgentRuntimeId(chi.URLParam(r, "id"))
	view, ok := h.snapshot(id)
	if !ok {
		http.Error(w, "runtime not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) listBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.breakers.Names())
}

func (h *Handler) getBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	b, err := h.breakers.Get(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	m := b.Metrics()
	writeJSON(w, http.StatusOK, struct {
		Name          string    `json:"name"`
		State         string    `json:"state"`
		FailureCount  int64     `json:"failure_count"`
		SuccessCount  int64     `json:"success_count"`
		TotalRequests int64     `json:"total_requests"`
		TotalFailures int64     `json:"total_failures"`
		RejectedCount int64     `json:"rejected_count"`
		OpenedAt      time.Time `json:"opened_at,omitempty"`
	}{
		Name:          b.Name(),
		State:         m.State.String(),
		FailureCount:  m.FailureCount,
		SuccessCount:  m.SuccessCount,
		TotalRequests: m.TotalRequests,
		TotalFailures: m.TotalFailures,
		RejectedCount: m.RejectedCount,
		OpenedAt:      m.OpenedAt,
	})
}

func (h *Handler) getMetrics(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "op")
	m, err := h.metrics.Get(op)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
