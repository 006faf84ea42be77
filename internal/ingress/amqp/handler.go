package amqp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flowmesh/agentruntime/internal/agentruntime"
)

// dedupeCacheSize bounds the dedupe LRU. Sized generously rather than tuned:
// a redelivered activity only needs to collide with one still-warm entry.
const dedupeCacheSize = 10000

// Handler bridges an AMQP subscription to the agent runtime registry: it
// decodes ActivityMessageV1 envelopes and dispatches them through sink,
// generalized from the teacher's MessageHandler/Bind[T] (which routed to a
// per-user Hub) to route to a named agent runtime instead.
type Handler struct {
	sink   agentruntime.EffectSink
	logger *slog.Logger
	dedupe *lru.Cache[string, struct{}]
	prefix string // routing key prefix, e.g. "agentruntime"
}

// NewHandler builds a Handler. routingKeyPrefix is the first routing-key
// segment this service's activities are published under (see
// config.AMQPConfig.RoutingKeyPrefix); it is only used to locate the
// AgentRuntimeId segment within the routing key, not for filtering.
func NewHandler(sink agentruntime.EffectSink, logger *slog.Logger, routingKeyPrefix string) *Handler {
	cache, _ := lru.New[string, struct{}](dedupeCacheSize)
	return &Handler{sink: sink, logger: logger, dedupe: cache, prefix: routingKeyPrefix}
}

// HandleActivityV1 is the watermill consumer entrypoint: panic recovery,
// redelivery dedup, decode, and dispatch into the registry. Mirrors the
// shape of the teacher's Bind[T] (panic guard, routing-key based
// identification, decode, dispatch) with the locality filter dropped — this
// core has no notion of "connected to this node", every node routes the
// same way.
func (h *Handler) HandleActivityV1(msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("amqp ingress panic recovered",
				"err", r,
				"stack", string(debug.Stack()),
				"msg_id", msg.UUID,
			)
			err = nil // ACK: a poison message must not wedge the consumer.
		}
	}()

	if _, seen := h.dedupe.Get(msg.UUID); seen {
		return nil // ACK: already applied, AMQP redelivered it.
	}

	var env ActivityMessageV1
	if decodeErr := json.Unmarshal(msg.Payload, &env); decodeErr != nil {
		h.logger.Error("amqp ingress decode failed", "err", decodeErr, "msg_id", msg.UUID)
		return nil // ACK: poison pill protection, matching bind.go's DECODE_FAILED handling.
	}
	if env.AgentRuntimeID == "" {
		if id, ok := h.resolveAgentRuntimeID(msg); ok {
			env.AgentRuntimeID = id
		}
	}

	activity, convErr := env.toActivity()
	if convErr != nil {
		h.logger.Error("amqp ingress activity conversion failed", "err", convErr, "msg_id", msg.UUID)
		return nil // ACK: malformed envelope, never retryable.
	}

	dispatchErr := h.sink.Dispatch(msg.Context(), agentruntime.Effect{
		TargetAgentRuntimeID: activity.AgentRuntimeID,
		Activity:             activity,
	})
	if dispatchErr != nil {
		if errors.Is(dispatchErr, agentruntime.ErrAgentRuntimeNotFound) {
			h.logger.Warn("amqp ingress: unknown runtime", "agent_runtime_id", activity.AgentRuntimeID, "msg_id", msg.UUID)
			return nil // ACK: no runtime will ever claim this id retroactively.
		}
		return dispatchErr // NACK: mailbox backpressure/shutdown, retry via watermill.
	}

	h.dedupe.Add(msg.UUID, struct{}{})
	return nil
}

// resolveAgentRuntimeID extracts the runtime id from a routing key shaped
// "<prefix>.<agentRuntimeID>.<activityType>.v1", the same convention the
// teacher's resolveUserID used for "im_message.{user_id}.message.created.v1".
func (h *Handler) resolveAgentRuntimeID(msg *message.Message) (string, bool) {
	rk := msg.Metadata.Get("x-routing-key")
	if rk == "" {
		rk = msg.Metadata.Get("routing_key")
	}
	if rk == "" {
		return "", false
	}
	parts := strings.Split(rk, ".")
	for i, p := range parts {
		if p == h.prefix && i+1 < len(parts) {
			return parts[i+1], true
		}
	}
	if len(parts) > 1 {
		return parts[1], true
	}
	return "", false
}
