package agentruntime

import "strings"

// AgentRuntimeId is an opaque, comparable identifier for an agent runtime.
// It is a plain string under the hood so it can be used directly as a map
// key and logged without indirection, but construction is gated through
// [NewAgentRuntimeId] so an empty id can never reach the registry.
type AgentRuntimeId string

// NewAgentRuntimeId validates and wraps a caller-supplied identifier.
// Callers that mint ids from [github.com/google/uuid] should pass
// uuid.String() through here rather than converting directly, so the
// non-empty invariant is enforced at one place.
func NewAgentRuntimeId(id string) (AgentRuntimeId, error) {
	if strings.TrimSpace(id) == "" {
		return "", newErr("agentruntime", "NewAgentRuntimeId", "id must not be empty", ErrEmptyAgentRuntimeID)
	}
	return AgentRuntimeId(id), nil
}

func (id AgentRuntimeId) String() string { return string(id) }
