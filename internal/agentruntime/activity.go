package agentruntime

import (
	"time"

	"github.com/google/uuid"
)

// ActivityType classifies what an Activity means to the workflow that
// consumes it. The core never interprets payload; it only routes and
// prioritizes based on type and metadata.
type ActivityType int16

const (
	ActivityCommand ActivityType = iota + 1
	ActivityEvent
	ActivityQuery
	ActivityResponse
	ActivityError
	ActivityStateChange
	ActivitySystem
)

func (t ActivityType) String() string {
	switch t {
	case ActivityCommand:
		return "COMMAND"
	case ActivityEvent:
		return "EVENT"
	case ActivityQuery:
		return "QUERY"
	case ActivityResponse:
		return "RESPONSE"
	case ActivityError:
		return "ERROR"
	case ActivityStateChange:
		return "STATE_CHANGE"
	case ActivitySystem:
		return "SYSTEM"
	default:
		return "UNKNOWN"
	}
}

// Priority controls which mailbox bucket an Activity lands in. Lower
// values are serviced first.
type Priority int32

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
	PriorityBackground
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	case PriorityBackground:
		return "BACKGROUND"
	default:
		return "UNKNOWN"
	}
}

// priorityBucketCount is the number of distinct mailbox priority buckets.
const priorityBucketCount = int(PriorityBackground) + 1

// Metadata carries routing and scheduling hints that the core understands,
// plus free-form keys that pass through untouched for the workflow.
type Metadata struct {
	Priority             Priority
	CorrelationID        string
	SourceAgentRuntimeID AgentRuntimeId
	ScheduledFor         time.Time
	Timeout              time.Duration
	Extra                map[string]any
}

// Activity is the immutable envelope carried through the mailbox. Once
// constructed by [NewActivity] it must not be mutated; the mailbox,
// processing loop and subscribers all share the same pointer.
type Activity struct {
	ID             string
	AgentRuntimeID AgentRuntimeId
	Timestamp      time.Time
	Sequence       int64
	Type           ActivityType
	Payload        any
	Metadata       Metadata
}

// ActivityOption customizes a newly constructed Activity before it is
// handed to the mailbox.
type ActivityOption func(*Activity)

// WithCorrelationID sets Metadata.CorrelationID.
func WithCorrelationID(id string) ActivityOption {
	return func(a *Activity) { a.Metadata.CorrelationID = id }
}

// WithSource records the sending runtime for diagnostics and for
// machine-shaped workflows that reply to their caller.
func WithSource(id AgentRuntimeId) ActivityOption {
	return func(a *Activity) { a.Metadata.SourceAgentRuntimeID = id }
}

// WithPriority overrides the default PriorityNormal bucket.
func WithPriority(p Priority) ActivityOption {
	return func(a *Activity) { a.Metadata.Priority = p }
}

// WithScheduledFor marks the activity as intended for future delivery.
// The mailbox in this package does not itself delay delivery past
// ScheduledFor — schedulers upstream of Send are expected to hold the
// activity until due, consistent with the envelope being "informational"
// per the external-interfaces contract.
func WithScheduledFor(t time.Time) ActivityOption {
	return func(a *Activity) { a.Metadata.ScheduledFor = t }
}

// WithTimeout sets the advisory per-activity processing timeout. It is
// informational at this layer; workflows decide whether to honour it.
func WithTimeout(d time.Duration) ActivityOption {
	return func(a *Activity) { a.Metadata.Timeout = d }
}

// WithExtra sets a free-form metadata key, preserved verbatim.
func WithExtra(key string, value any) ActivityOption {
	return func(a *Activity) {
		if a.Metadata.Extra == nil {
			a.Metadata.Extra = make(map[string]any)
		}
		a.Metadata.Extra[key] = value
	}
}

// NewActivity builds an Activity addressed to agentID. Sequence is left at
// zero; the mailbox assigns it at Offer time (see Open Questions in
// SPEC_FULL.md) so two concurrent senders to the same runtime still observe
// a single total order.
func NewActivity(agentID AgentRuntimeId, typ ActivityType, payload any, opts ...ActivityOption) *Activity {
	a := &Activity{
		ID:             uuid.NewString(),
		AgentRuntimeID: agentID,
		Timestamp:      time.Now(),
		Type:           typ,
		Payload:        payload,
		Metadata:       Metadata{Priority: PriorityNormal},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}
