package agentruntime

import (
	"context"
	"log/slog"
	"time"
)

// Handle is the caller-facing view of a single agent runtime returned by
// Registry.Create: an id plus the three operations a sender needs, without
// exposing the mailbox or state cell directly.
type Handle[S any] struct {
	id     AgentRuntimeId
	entry  *runtimeEntry[S]
	logger *slog.Logger
}

// ID returns the runtime's identifier.
func (h *Handle[S]) ID() AgentRuntimeId { return h.id }

// Send enqueues an activity for this runtime. See Mailbox.Offer for
// failure semantics.
func (h *Handle[S]) Send(ctx context.Context, activity *Activity) error {
	return h.entry.mailbox.Offer(ctx, activity)
}

// GetState returns a consistent snapshot of the runtime's current state.
func (h *Handle[S]) GetState() AgentRuntimeState[S] {
	return h.entry.cell.snapshot()
}

// Subscribe streams STATE_CHANGE activities (and every activity the loop
// dequeues) in processing order.
func (h *Handle[S]) Subscribe() <-chan *Activity {
	return h.entry.mailbox.Subscribe()
}

// runtimeEntry is the registry-owned bundle backing a Handle. Only the
// registry constructs and destroys these; a Handle never outlives its
// entry being removed from the registry (terminate drops the entry, and a
// Handle obtained before termination simply starts returning stale
// snapshots / failing sends as the mailbox shuts down).
type runtimeEntry[S any] struct {
	id       AgentRuntimeId
	mailbox  *Mailbox
	cell     *stateCell[S]
	workflow Workflow[S]
	cancel   context.CancelFunc
	done     chan struct{}
	logger   *slog.Logger
}

func newRuntimeEntry[S any](id AgentRuntimeId, initial S, workflow Workflow[S], mbCfg MailboxConfig, logger *slog.Logger) *runtimeEntry[S] {
	ctx, cancel := context.WithCancel(context.Background())
	entry := &runtimeEntry[S]{
		id:       id,
		mailbox:  NewMailbox(mbCfg),
		cell:     newStateCell(id, initial),
		workflow: workflow,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   logger,
	}
	go entry.loop(ctx)
	return entry
}

// loop is the single long-running task per runtime described in spec.md
// §4.3, generalized from registry.Cell.loop(): take → invoke workflow →
// update state → broadcast. A failing workflow never exits the loop; only
// cancellation (Terminate) or mailbox closure does.
func (e *runtimeEntry[S]) loop(ctx context.Context) {
	defer close(e.done)
	for {
		activity, err := e.mailbox.Take(ctx)
		if err != nil {
			// Either ctx was cancelled (Terminate) or the mailbox drained
			// after Shutdown — both are a normal exit for this loop.
			e.cell.mutate(func(st AgentRuntimeState[S]) AgentRuntimeState[S] {
				return st.withStatus(StatusTerminated)
			})
			return
		}

		e.mailbox.broadcast(activity)

		e.cell.mutate(func(st AgentRuntimeState[S]) AgentRuntimeState[S] {
			return st.withStatus(StatusProcessing)
		})

		t0 := time.Now()
		current := e.cell.snapshot().State
		next, werr := e.workflow(ctx, activity, current)
		elapsed := time.Since(t0)

		if werr != nil {
			e.logger.Error("workflow invocation failed",
				"agent_runtime_id", string(e.id),
				"activity_id", activity.ID,
				"activity_type", activity.Type.String(),
				"err", werr,
			)
			e.cell.mutate(func(st AgentRuntimeState[S]) AgentRuntimeState[S] {
				return st.withFailure(werr)
			})
			continue
		}

		e.cell.mutate(func(st AgentRuntimeState[S]) AgentRuntimeState[S] {
			return st.withSuccess(next, elapsed)
		})

		change := NewActivity(e.id, ActivityStateChange, next,
			WithCorrelationID(activity.Metadata.CorrelationID),
			WithSource(e.id),
		)
		e.mailbox.broadcast(change)
	}
}

// terminate cancels the loop and shuts down the mailbox, then waits for
// the loop goroutine to observe termination. Safe to call once; the
// registry guards against a second call per id.
func (e *runtimeEntry[S]) terminate() {
	e.cancel()
	e.mailbox.Shutdown()
	<-e.done
}
