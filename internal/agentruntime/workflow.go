package agentruntime

import "context"

// Workflow advances a runtime's state in response to one activity. It must
// be deterministic with respect to (activity, state): all side effects
// (sending activities to other runtimes, calling external services) happen
// through the adapter the workflow is given, never by mutating state
// directly or reaching for globals.
type Workflow[S any] func(ctx context.Context, activity *Activity, state S) (S, error)

// MergePayload is the default function-shaped workflow described in
// spec.md §4.9: it merges a STATE_CHANGE activity's payload into state via
// merge, and rejects every other activity type with ErrUnknownActivityType.
// merge receives the current state and the payload and returns the next
// state; callers typically close over a type assertion from `any` to their
// concrete payload shape.
func MergePayload[S any](merge func(state S, payload any) S) Workflow[S] {
	return func(_ context.Context, activity *Activity, state S) (S, error) {
		if activity.Type != ActivityStateChange {
			return state, newErr("workflow", "MergePayload", activity.Type.String(), ErrUnknownActivityType)
		}
		return merge(state, activity.Payload), nil
	}
}

// Effect is a side-effect request emitted by a machine-shaped workflow,
// executed by the adapter through the registry rather than inline during a
// state update (spec.md §4.9: "side effects occur only through the
// adapter, never inside state updates").
type Effect struct {
	// TargetAgentRuntimeID is the recipient of Activity.
	TargetAgentRuntimeID AgentRuntimeId
	Activity             *Activity
}

// EffectSink executes Effects produced by a machine-shaped workflow.
// RegistryEffectSink implements it by enqueueing onto the target runtime's
// mailbox.
type EffectSink interface {
	Dispatch(ctx context.Context, eff Effect) error
}

// Transition describes one edge of a MachineWorkflow: given an incoming
// activity mapped to event E while in configuration C, it produces the
// next configuration and any effects to run through the EffectSink.
type Transition[C any, E comparable] struct {
	From    C
	Event   E
	Advance func(state C, activity *Activity) (C, []Effect, error)
}

// MachineWorkflow is the state-machine-shaped variant of C9: a small
// transition table rather than a single opaque function. No finite-state-
// machine library appears anywhere in the retrieved reference pack (see
// DESIGN.md), so this is a hand-written adapter rather than a wrapped
// third-party FSM.
type MachineWorkflow[C comparable, E comparable] struct {
	classify func(*Activity) (E, bool)
	table    map[C]map[E]func(C, *Activity) (C, []Effect, error)
	sink     EffectSink
}

// NewMachineWorkflow builds a machine-shaped adapter. classify maps an
// incoming Activity to the event alphabet E; activities classify returns
// false for are rejected with ErrUnknownActivityType.
func NewMachineWorkflow[C comparable, E comparable](
	classify func(*Activity) (E, bool),
	sink EffectSink,
) *MachineWorkflow[C, E] {
	return &MachineWorkflow[C, E]{
		classify: classify,
		table:    make(map[C]map[E]func(C, *Activity) (C, []Effect, error)),
		sink:     sink,
	}
}

// On registers a transition: while in configuration from, event ev invokes
// advance to compute the next configuration and any effects.
func (m *MachineWorkflow[C, E]) On(from C, ev E, advance func(C, *Activity) (C, []Effect, error)) *MachineWorkflow[C, E] {
	edges, ok := m.table[from]
	if !ok {
		edges = make(map[E]func(C, *Activity) (C, []Effect, error))
		m.table[from] = edges
	}
	edges[ev] = advance
	return m
}

// AsWorkflow adapts the transition table into a Workflow[C] suitable for
// Registry.Create, dispatching any produced Effects through the sink after
// the configuration update — never before, and never as part of the state
// mutation itself.
func (m *MachineWorkflow[C, E]) AsWorkflow() Workflow[C] {
	return func(ctx context.Context, activity *Activity, state C) (C, error) {
		ev, ok := m.classify(activity)
		if !ok {
			return state, newErr("workflow", "MachineWorkflow", activity.Type.String(), ErrUnknownActivityType)
		}
		edges, ok := m.table[state]
		if !ok {
			return state, newErr("workflow", "MachineWorkflow", "no transitions from current configuration", ErrUnknownActivityType)
		}
		advance, ok := edges[ev]
		if !ok {
			return state, newErr("workflow", "MachineWorkflow", "no transition for event", ErrUnknownActivityType)
		}
		next, effects, err := advance(state, activity)
		if err != nil {
			return state, err
		}
		for _, eff := range effects {
			if err := m.sink.Dispatch(ctx, eff); err != nil {
				return next, err
			}
		}
		return next, nil
	}
}
