package agentruntime

import (
	"context"
	"errors"
	"testing"
	"time"
)

type counterState struct {
	Count int
}

func counterWorkflow(ctx context.Context, activity *Activity, state counterState) (counterState, error) {
	switch activity.Type {
	case ActivityCommand:
		delta, _ := activity.Payload.(int)
		return counterState{Count: state.Count + delta}, nil
	default:
		return state, newErr("test", "counterWorkflow", activity.Type.String(), ErrUnknownActivityType)
	}
}

func TestRegistryCreateSendGetState(t *testing.T) {
	r := NewRegistry(nil)
	h, err := Create[counterState](r, "a1", counterState{}, counterWorkflow, MailboxConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if h.ID() != "a1" {
		t.Fatalf("ID() = %q, want a1", h.ID())
	}

	if err := h.Send(context.Background(), NewActivity("a1", ActivityCommand, 5)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := Send[counterState](r, "a1", NewActivity("a1", ActivityCommand, 3)); err != nil {
		t.Fatalf("Send (package fn): %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		st := h.GetState()
		if st.State.Count == 8 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never converged to 8, got %d", h.GetState().State.Count)
}

func TestRegistryCreateDuplicateFails(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := Create[counterState](r, "dup", counterState{}, counterWorkflow, MailboxConfig{}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, err := Create[counterState](r, "dup", counterState{}, counterWorkflow, MailboxConfig{})
	if !errors.Is(err, ErrAgentRuntimeAlreadyExists) {
		t.Fatalf("want ErrAgentRuntimeAlreadyExists, got %v", err)
	}
}

func TestRegistryLookupUnknown(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := GetState[counterState](r, "ghost"); !errors.Is(err, ErrAgentRuntimeNotFound) {
		t.Fatalf("want ErrAgentRuntimeNotFound, got %v", err)
	}
	if err := Send[counterState](r, "ghost", NewActivity("ghost", ActivityCommand, 1)); !errors.Is(err, ErrAgentRuntimeNotFound) {
		t.Fatalf("want ErrAgentRuntimeNotFound, got %v", err)
	}
	if _, err := Subscribe[counterState](r, "ghost"); !errors.Is(err, ErrAgentRuntimeNotFound) {
		t.Fatalf("want ErrAgentRuntimeNotFound, got %v", err)
	}
}

func TestRegistryLookupTypeMismatch(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := Create[counterState](r, "typed", counterState{}, counterWorkflow, MailboxConfig{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	type otherState struct{ X string }
	workflow := func(ctx context.Context, a *Activity, s otherState) (otherState, error) { return s, nil }
	if _, err := GetState[otherState](r, "typed"); !errors.Is(err, ErrAgentRuntimeNotFound) {
		t.Fatalf("want ErrAgentRuntimeNotFound on type mismatch, got %v", err)
	}
	_ = workflow
}

func TestRegistryTerminateIsIdempotentInEffect(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := Create[counterState](r, "t1", counterState{}, counterWorkflow, MailboxConfig{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Terminate("t1"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if err := r.Terminate("t1"); !errors.Is(err, ErrAgentRuntimeNotFound) {
		t.Fatalf("second Terminate: want ErrAgentRuntimeNotFound, got %v", err)
	}
	if _, err := GetState[counterState](r, "t1"); !errors.Is(err, ErrAgentRuntimeNotFound) {
		t.Fatalf("GetState after Terminate: want ErrAgentRuntimeNotFound, got %v", err)
	}
}

func TestRegistryShutdownDrainsAll(t *testing.T) {
	r := NewRegistry(nil)
	for _, id := range []AgentRuntimeId{"s1", "s2", "s3"} {
		if _, err := Create[counterState](r, id, counterState{}, counterWorkflow, MailboxConfig{}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() after Shutdown = %d, want 0", r.Len())
	}
}

func TestRegistryEffectSinkDispatch(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := Create[counterState](r, "target", counterState{}, counterWorkflow, MailboxConfig{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	sink := RegistryEffectSink{Registry: r}
	err := sink.Dispatch(context.Background(), Effect{
		TargetAgentRuntimeID: "target",
		Activity:             NewActivity("target", ActivityCommand, 7),
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		st, _ := GetState[counterState](r, "target")
		if st.State.Count == 7 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("effect was never applied to target runtime")
}

func TestRegistryEffectSinkUnknownTarget(t *testing.T) {
	r := NewRegistry(nil)
	sink := RegistryEffectSink{Registry: r}
	err := sink.Dispatch(context.Background(), Effect{
		TargetAgentRuntimeID: "nope",
		Activity:             NewActivity("nope", ActivityCommand, 1),
	})
	if !errors.Is(err, ErrAgentRuntimeNotFound) {
		t.Fatalf("want ErrAgentRuntimeNotFound, got %v", err)
	}
}
