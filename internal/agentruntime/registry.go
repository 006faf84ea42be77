package agentruntime

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// entryHandle lets the registry store handles for different state types S
// in a single map while still exposing operations that do not depend on S:
// termination, and enqueueing an activity (needed by EffectSink, which
// routes to another runtime without ever needing to know its state type).
type entryHandle interface {
	terminateEntry()
	offer(ctx context.Context, activity *Activity) error
}

type typedEntry[S any] struct {
	entry *runtimeEntry[S]
}

func (t *typedEntry[S]) terminateEntry() { t.entry.terminate() }

func (t *typedEntry[S]) offer(ctx context.Context, activity *Activity) error {
	return t.entry.mailbox.Offer(ctx, activity)
}

// RegistryEffectSink adapts a Registry into the EffectSink a machine-shaped
// Workflow needs: dispatching an Effect means enqueueing its Activity onto
// the target runtime's mailbox, which requires no knowledge of that
// runtime's state type.
type RegistryEffectSink struct{ Registry *Registry }

func (s RegistryEffectSink) Dispatch(ctx context.Context, eff Effect) error {
	s.Registry.mu.RLock()
	raw, ok := s.Registry.entries[eff.TargetAgentRuntimeID]
	s.Registry.mu.RUnlock()
	if !ok {
		return newErr("registry", "Dispatch", string(eff.TargetAgentRuntimeID), ErrAgentRuntimeNotFound)
	}
	return raw.offer(ctx, eff.Activity)
}

// Registry is the Agent Runtime Registry (spec.md §4.4): a map of
// AgentRuntimeId to runtime entry, generalized from the teacher's
// registry.Hub (sync.Map of per-user Cells plus an idle-eviction janitor)
// to agent-id-keyed runtimes backed by user-supplied workflows instead of
// a fixed delivery fan-out.
//
// create/terminate are linearized against each other and against
// send/getState/subscribe by a single RWMutex: creates and terminates take
// the write lock, everything else takes the read lock. This is the
// "single-writer-at-a-time, many-reader" policy from spec.md §5.
type Registry struct {
	mu      sync.RWMutex
	entries map[AgentRuntimeId]entryHandle
	logger  *slog.Logger
}

// NewRegistry constructs an empty registry. logger is used for the
// per-runtime processing loop's error logging; pass slog.Default() if the
// caller has no preference.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[AgentRuntimeId]entryHandle),
		logger:  logger,
	}
}

// Create allocates a mailbox and state cell for id, forks its processing
// loop, and returns a Handle. Fails with ErrAgentRuntimeAlreadyExists if id
// is already registered.
func Create[S any](r *Registry, id AgentRuntimeId, initial S, workflow Workflow[S], mbCfg MailboxConfig) (*Handle[S], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return nil, newErr("registry", "Create", string(id), ErrAgentRuntimeAlreadyExists)
	}

	entry := newRuntimeEntry(id, initial, workflow, mbCfg, r.logger)
	r.entries[id] = &typedEntry[S]{entry: entry}

	return &Handle[S]{id: id, entry: entry, logger: r.logger}, nil
}

// lookup returns the typed entry for id, or ErrAgentRuntimeNotFound. It
// takes the read lock, so it is safe to call alongside other lookups and
// concurrently with in-flight Send/GetState/Subscribe calls, but never
// concurrently with Create/Terminate of the SAME id racing ahead of the
// write lock — the write lock in Create/Terminate already serializes that.
func lookup[S any](r *Registry, id AgentRuntimeId, method string) (*runtimeEntry[S], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	raw, ok := r.entries[id]
	if !ok {
		return nil, newErr("registry", method, string(id), ErrAgentRuntimeNotFound)
	}
	typed, ok := raw.(*typedEntry[S])
	if !ok {
		return nil, newErr("registry", method, "state type mismatch for "+string(id), ErrAgentRuntimeNotFound)
	}
	return typed.entry, nil
}

// Send enqueues activity for id. Returns ErrAgentRuntimeNotFound if id is
// unknown or has already been terminated.
func Send[S any](r *Registry, id AgentRuntimeId, activity *Activity) error {
	entry, err := lookup[S](r, id, "Send")
	if err != nil {
		return err
	}
	return entry.mailbox.Offer(context.Background(), activity)
}

// GetState returns a snapshot of id's current state.
func GetState[S any](r *Registry, id AgentRuntimeId) (AgentRuntimeState[S], error) {
	entry, err := lookup[S](r, id, "GetState")
	if err != nil {
		var zero AgentRuntimeState[S]
		return zero, err
	}
	return entry.cell.snapshot(), nil
}

// Subscribe returns id's STATE_CHANGE/activity stream.
func Subscribe[S any](r *Registry, id AgentRuntimeId) (<-chan *Activity, error) {
	entry, err := lookup[S](r, id, "Subscribe")
	if err != nil {
		return nil, err
	}
	return entry.mailbox.Subscribe(), nil
}

// Terminate interrupts id's loop, shuts down its mailbox, and removes it
// from the registry. Idempotent in observable effect: a second call
// returns ErrAgentRuntimeNotFound because the entry is already gone.
func (r *Registry) Terminate(id AgentRuntimeId) error {
	r.mu.Lock()
	raw, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return newErr("registry", "Terminate", string(id), ErrAgentRuntimeNotFound)
	}
	delete(r.entries, id)
	r.mu.Unlock()

	raw.terminateEntry()
	return nil
}

// Shutdown terminates every registered runtime concurrently, bounded by a
// goroutine per entry via errgroup — mirroring the concurrent fan-out
// pattern in the teacher's PeerEnricher.ResolvePeers (errgroup.WithContext)
// rather than tearing runtimes down one at a time.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]entryHandle, 0, len(r.entries))
	for id, e := range r.entries {
		entries = append(entries, e)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			e.terminateEntry()
			return nil
		})
	}
	return g.Wait()
}

// Len reports how many runtimes are currently registered. Primarily for
// introspection/dashboard use.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IDs returns a snapshot of currently registered runtime ids.
func (r *Registry) IDs() []AgentRuntimeId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]AgentRuntimeId, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
