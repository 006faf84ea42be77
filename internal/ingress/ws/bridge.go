// Package ws bridges a registered agent runtime's Subscribe stream to a
// websocket client, adapted from the teacher's handler/ws/delivery.go
// (upgrade, subscribe, pump loop) with the per-user Deliverer replaced by
// Registry.Subscribe's generic activity stream.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/flowmesh/agentruntime/internal/agentruntime"
)

// Subscriber is the subset of the generic Registry API this handler needs,
// type-erased to a concrete AgentRuntimeId -> channel lookup because a
// websocket request has no way to name a Go type parameter. A binary
// supplies a closure over the concrete state type it registers runtimes
// under; module.go takes it as an optional dependency, the same pattern
// ingress/http uses for SnapshotLookup.
type Subscriber func(id agentruntime.AgentRuntimeId) (<-chan *agentruntime.Activity, error)

// activityWireView is the JSON projection of an Activity sent to clients.
// Payload is re-marshalled as-is; the core's "payload is opaque" stance
// means this handler never type-asserts it.
type activityWireView struct {
	ID             string `json:"id"`
	AgentRuntimeID string `json:"agent_runtime_id"`
	Type           string `json:"type"`
	Sequence       int64  `json:"sequence"`
	CorrelationID  string `json:"correlation_id,omitempty"`
	Payload        any    `json:"payload"`
}

func toWireView(a *agentruntime.Activity) activityWireView {
	return activityWireView{
		ID:             a.ID,
		AgentRuntimeID: string(a.AgentRuntimeID),
		Type:           a.Type.String(),
		Sequence:       a.Sequence,
		CorrelationID:  a.Metadata.CorrelationID,
		Payload:        a.Payload,
	}
}

// Handler upgrades a connection and streams one runtime's activities to it.
type Handler struct {
	logger    *slog.Logger
	subscribe Subscriber
	upgrader  websocket.Upgrader
}

// NewHandler builds a Handler. CheckOrigin always allows, matching the
// teacher's delivery.go — left as a TODO for a binary that needs to
// restrict origins in its own deployment.
func NewHandler(logger *slog.Logger, subscribe Subscriber) *Handler {
	return &Handler{
		logger:    logger,
		subscribe: subscribe,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes mounts the bridge under /runtimes/{id}/stream.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/runtimes/{id}/stream", h.ServeHTTP)
}

// ServeHTTP upgrades the request, subscribes to id's activity stream, and
// pumps every activity to the client as JSON text frames until either side
// closes the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := agentruntime.AgentRuntimeId(chi.URLParam(r, "id"))

	stream, err := h.subscribe(id)
	if err != nil {
		http.Error(w, "unknown runtime", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "err", err, "agent_runtime_id", id)
		return
	}
	defer conn.Close()

	h.logger.Info("ws stream opened", "agent_runtime_id", id)

	for {
		select {
		case <-r.Context().Done():
			return
		case activity, ok := <-stream:
			if !ok {
				return
			}

			data, err := json.Marshal(toWireView(activity))
			if err != nil {
				h.logger.Error("ws marshal failed", "err", err, "agent_runtime_id", id)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("ws send failed", "err", err, "agent_runtime_id", id)
				return
			}
		}
	}
}
