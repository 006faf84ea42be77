package amqp

import (
	"encoding/json"
	"fmt"

	"github.com/flowmesh/agentruntime/internal/agentruntime"
)

// ActivityMessageV1 is the wire shape carried in an AMQP message body: the
// external representation of an Activity destined for one agent runtime.
// The envelope fields the core already understands (target runtime id,
// activity type, priority, correlation id) travel explicitly; the activity
// id and timestamp are assigned on decode by NewActivity, and everything
// else rides in Payload untouched,
// matching spec.md's stance that the core never interprets payload.
type ActivityMessageV1 struct {
	AgentRuntimeID string          `json:"agent_runtime_id"`
	ActivityType   string          `json:"activity_type"`
	Priority       string          `json:"priority,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

var activityTypeByName = map[string]agentruntime.ActivityType{
	"COMMAND":      agentruntime.ActivityCommand,
	"EVENT":        agentruntime.ActivityEvent,
	"QUERY":        agentruntime.ActivityQuery,
	"RESPONSE":     agentruntime.ActivityResponse,
	"ERROR":        agentruntime.ActivityError,
	"STATE_CHANGE": agentruntime.ActivityStateChange,
	"SYSTEM":       agentruntime.ActivitySystem,
}

var priorityByName = map[string]agentruntime.Priority{
	"HIGH":       agentruntime.PriorityHigh,
	"NORMAL":     agentruntime.PriorityNormal,
	"LOW":        agentruntime.PriorityLow,
	"BACKGROUND": agentruntime.PriorityBackground,
}

// toActivity decodes the wire envelope into an Activity addressed to its
// AgentRuntimeID. Payload is left as json.RawMessage; workflows that need a
// concrete type unmarshal it themselves, the same way the core leaves
// Activity.Payload as `any` for every in-process caller.
func (m ActivityMessageV1) toActivity() (*agentruntime.Activity, error) {
	id, err := agentruntime.NewAgentRuntimeId(m.AgentRuntimeID)
	if err != nil {
		return nil, fmt.Errorf("amqp ingress: %w", err)
	}

	typ, ok := activityTypeByName[m.ActivityType]
	if !ok {
		return nil, fmt.Errorf("amqp ingress: unknown activity_type %q", m.ActivityType)
	}

	opts := []agentruntime.ActivityOption{}
	if m.CorrelationID != "" {
		opts = append(opts, agentruntime.WithCorrelationID(m.CorrelationID))
	}
	if p, ok := priorityByName[m.Priority]; ok {
		opts = append(opts, agentruntime.WithPriority(p))
	}

	return agentruntime.NewActivity(id, typ, m.Payload, opts...), nil
}
