package agentruntime

import "time"

// Status is the lifecycle state of a single agent runtime.
type Status int32

const (
	StatusIdle Status = iota
	StatusProcessing
	StatusError
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusProcessing:
		return "PROCESSING"
	case StatusError:
		return "ERROR"
	case StatusTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// ProcessingStats tracks the running tally of workflow invocations for a
// runtime. avgProcessingTime is a running mean over successful invocations
// only; failures increment Failures but never touch the mean.
type ProcessingStats struct {
	Processed         int64
	Failures          int64
	AvgProcessingTime time.Duration
	LastError         error
}

func (s ProcessingStats) recordSuccess(d time.Duration) ProcessingStats {
	n := s.Processed + 1
	// Incremental mean: avg_n = avg_{n-1} + (x_n - avg_{n-1}) / n
	delta := d - s.AvgProcessingTime
	s.AvgProcessingTime += delta / time.Duration(n)
	s.Processed = n
	return s
}

func (s ProcessingStats) recordFailure(err error) ProcessingStats {
	s.Failures++
	s.LastError = err
	return s
}

// AgentRuntimeState is the full observable state of a single runtime: its
// user-defined state S plus the envelope the core maintains around it.
// Values are immutable snapshots — callers never get a pointer into the
// live cell.
type AgentRuntimeState[S any] struct {
	ID          AgentRuntimeId
	State       S
	Status      Status
	LastUpdated time.Time
	Err         error
	Processing  ProcessingStats
}

func newInitialState[S any](id AgentRuntimeId, initial S) AgentRuntimeState[S] {
	return AgentRuntimeState[S]{
		ID:          id,
		State:       initial,
		Status:      StatusIdle,
		LastUpdated: time.Now(),
	}
}

func (st AgentRuntimeState[S]) withSuccess(newState S, elapsed time.Duration) AgentRuntimeState[S] {
	st.State = newState
	st.Status = StatusIdle
	st.Err = nil
	st.LastUpdated = time.Now()
	st.Processing = st.Processing.recordSuccess(elapsed)
	return st
}

func (st AgentRuntimeState[S]) withFailure(err error) AgentRuntimeState[S] {
	st.Status = StatusError
	st.Err = err
	st.LastUpdated = time.Now()
	st.Processing = st.Processing.recordFailure(err)
	return st
}

func (st AgentRuntimeState[S]) withStatus(status Status) AgentRuntimeState[S] {
	st.Status = status
	st.LastUpdated = time.Now()
	return st
}
