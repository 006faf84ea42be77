package agentruntime

import (
	"errors"
	"testing"
	"time"
)

func TestProcessingStatsIncrementalMean(t *testing.T) {
	var stats ProcessingStats
	stats = stats.recordSuccess(100 * time.Millisecond)
	stats = stats.recordSuccess(200 * time.Millisecond)
	stats = stats.recordSuccess(300 * time.Millisecond)

	if stats.Processed != 3 {
		t.Fatalf("Processed = %d, want 3", stats.Processed)
	}
	want := 200 * time.Millisecond
	if stats.AvgProcessingTime != want {
		t.Fatalf("AvgProcessingTime = %v, want %v", stats.AvgProcessingTime, want)
	}
}

func TestProcessingStatsFailureDoesNotTouchMean(t *testing.T) {
	var stats ProcessingStats
	stats = stats.recordSuccess(100 * time.Millisecond)
	before := stats.AvgProcessingTime
	stats = stats.recordFailure(errors.New("boom"))

	if stats.Failures != 1 {
		t.Fatalf("Failures = %d, want 1", stats.Failures)
	}
	if stats.AvgProcessingTime != before {
		t.Fatalf("AvgProcessingTime changed on failure: %v -> %v", before, stats.AvgProcessingTime)
	}
	if stats.LastError == nil || stats.LastError.Error() != "boom" {
		t.Fatalf("LastError = %v, want boom", stats.LastError)
	}
}

func TestAgentRuntimeStateTransitions(t *testing.T) {
	st := newInitialState[int]("r1", 0)
	if st.Status != StatusIdle {
		t.Fatalf("initial status = %v, want IDLE", st.Status)
	}

	st = st.withStatus(StatusProcessing)
	if st.Status != StatusProcessing {
		t.Fatalf("status = %v, want PROCESSING", st.Status)
	}

	st = st.withSuccess(42, 10*time.Millisecond)
	if st.State != 42 || st.Status != StatusIdle || st.Err != nil {
		t.Fatalf("withSuccess result = %+v", st)
	}
	if st.Processing.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", st.Processing.Processed)
	}

	failErr := errors.New("workflow exploded")
	st = st.withFailure(failErr)
	if st.Status != StatusError || !errors.Is(st.Err, failErr) {
		t.Fatalf("withFailure result = %+v", st)
	}
	// State itself is untouched by a failure.
	if st.State != 42 {
		t.Fatalf("State changed on failure: %v", st.State)
	}
}

func TestStateCellSnapshotIsolation(t *testing.T) {
	cell := newStateCell[int]("r1", 1)
	snap := cell.snapshot()

	cell.mutate(func(st AgentRuntimeState[int]) AgentRuntimeState[int] {
		return st.withSuccess(99, time.Millisecond)
	})

	if snap.State != 1 {
		t.Fatalf("earlier snapshot mutated: %v, want 1", snap.State)
	}
	if cell.snapshot().State != 99 {
		t.Fatalf("cell state = %v, want 99", cell.snapshot().State)
	}
}
