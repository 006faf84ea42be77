package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/flowmesh/agentruntime/internal/agentruntime"
)

type fakeSink struct {
	dispatched []agentruntime.Effect
	err        error
}

func (f *fakeSink) Dispatch(_ context.Context, eff agentruntime.Effect) error {
	if f.err != nil {
		return f.err
	}
	f.dispatched = append(f.dispatched, eff)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newActivityMessage(t *testing.T, env ActivityMessageV1, routingKey string) *message.Message {
	t.Helper()
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if routingKey != "" {
		msg.Metadata.Set("x-routing-key", routingKey)
	}
	return msg
}

func TestHandlerDispatchesDecodedActivity(t *testing.T) {
	sink := &fakeSink{}
	h := NewHandler(sink, testLogger(), "agentruntime")

	env := ActivityMessageV1{
		AgentRuntimeID: "agent-1",
		ActivityType:   "COMMAND",
		Priority:       "HIGH",
		CorrelationID:  "corr-1",
		Payload:        json.RawMessage(`{"k":"v"}`),
	}
	msg := newActivityMessage(t, env, "")

	if err := h.HandleActivityV1(msg); err != nil {
		t.Fatalf("HandleActivityV1: %v", err)
	}
	if len(sink.dispatched) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(sink.dispatched))
	}
	eff := sink.dispatched[0]
	if eff.TargetAgentRuntimeID != "agent-1" {
		t.Fatalf("TargetAgentRuntimeID = %q, want agent-1", eff.TargetAgentRuntimeID)
	}
	if eff.Activity.Type != agentruntime.ActivityCommand {
		t.Fatalf("Type = %v, want COMMAND", eff.Activity.Type)
	}
	if eff.Activity.Metadata.Priority != agentruntime.PriorityHigh {
		t.Fatalf("Priority = %v, want HIGH", eff.Activity.Metadata.Priority)
	}
	if eff.Activity.Metadata.CorrelationID != "corr-1" {
		t.Fatalf("CorrelationID = %q, want corr-1", eff.Activity.Metadata.CorrelationID)
	}
}

func TestHandlerResolvesAgentRuntimeIDFromRoutingKey(t *testing.T) {
	sink := &fakeSink{}
	h := NewHandler(sink, testLogger(), "agentruntime")

	env := ActivityMessageV1{ActivityType: "EVENT", Payload: json.RawMessage(`{}`)}
	msg := newActivityMessage(t, env, "agentruntime.agent-42.event.v1")

	if err := h.HandleActivityV1(msg); err != nil {
		t.Fatalf("HandleActivityV1: %v", err)
	}
	if len(sink.dispatched) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(sink.dispatched))
	}
	if sink.dispatched[0].TargetAgentRuntimeID != "agent-42" {
		t.Fatalf("TargetAgentRuntimeID = %q, want agent-42", sink.dispatched[0].TargetAgentRuntimeID)
	}
}

func TestHandlerDedupesRedeliveredMessage(t *testing.T) {
	sink := &fakeSink{}
	h := NewHandler(sink, testLogger(), "agentruntime")

	env := ActivityMessageV1{AgentRuntimeID: "agent-1", ActivityType: "COMMAND", Payload: json.RawMessage(`{}`)}
	msg := newActivityMessage(t, env, "")

	if err := h.HandleActivityV1(msg); err != nil {
		t.Fatalf("first HandleActivityV1: %v", err)
	}
	if err := h.HandleActivityV1(msg); err != nil {
		t.Fatalf("redelivered HandleActivityV1: %v", err)
	}
	if len(sink.dispatched) != 1 {
		t.Fatalf("dispatched = %d, want 1 (redelivery must not re-dispatch)", len(sink.dispatched))
	}
}

func TestHandlerAcksMalformedPayload(t *testing.T) {
	sink := &fakeSink{}
	h := NewHandler(sink, testLogger(), "agentruntime")

	msg := message.NewMessage(watermill.NewUUID(), []byte("not json"))
	if err := h.HandleActivityV1(msg); err != nil {
		t.Fatalf("want nil (ack) for malformed payload, got %v", err)
	}
	if len(sink.dispatched) != 0 {
		t.Fatal("malformed payload must not dispatch")
	}
}

func TestHandlerAcksUnknownRuntime(t *testing.T) {
	sink := &fakeSink{err: agentruntime.ErrAgentRuntimeNotFound}
	h := NewHandler(sink, testLogger(), "agentruntime")

	env := ActivityMessageV1{AgentRuntimeID: "ghost", ActivityType: "COMMAND", Payload: json.RawMessage(`{}`)}
	msg := newActivityMessage(t, env, "")

	if err := h.HandleActivityV1(msg); err != nil {
		t.Fatalf("want nil (ack) for unknown runtime, got %v", err)
	}
}

func TestHandlerNacksOnDispatchFailure(t *testing.T) {
	boom := errors.New("mailbox full")
	sink := &fakeSink{err: boom}
	h := NewHandler(sink, testLogger(), "agentruntime")

	env := ActivityMessageV1{AgentRuntimeID: "agent-1", ActivityType: "COMMAND", Payload: json.RawMessage(`{}`)}
	msg := newActivityMessage(t, env, "")

	if err := h.HandleActivityV1(msg); !errors.Is(err, boom) {
		t.Fatalf("want wrapped boom (nack/retry), got %v", err)
	}
}
