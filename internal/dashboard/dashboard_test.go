package dashboard

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/flowmesh/agentruntime/internal/agentruntime"
	"github.com/flowmesh/agentruntime/internal/resilience"
)

func counterWorkflow(_ context.Context, activity *agentruntime.Activity, state int) (int, error) {
	delta, _ := activity.Payload.(int)
	return state + delta, nil
}

func TestRuntimeRows(t *testing.T) {
	r := agentruntime.NewRegistry(nil)
	if _, err := agentruntime.Create[int](r, "a1", 0, counterWorkflow, agentruntime.MailboxConfig{}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rows := runtimeRows(r)
	if len(rows) != 1 || rows[0] != "a1" {
		t.Fatalf("rows = %v, want [a1]", rows)
	}

	if rows := runtimeRows(nil); rows != nil {
		t.Fatalf("nil registry rows = %v, want nil", rows)
	}
}

func TestBreakerRows(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	metrics, _ := resilience.NewMetricsRegistry(meter)
	reg := resilience.NewBreakerRegistry(metrics)
	reg.GetOrCreate(resilience.BreakerConfig{Name: "svc", FailureThreshold: 3, ResetTimeout: time.Second, HalfOpenMaxAttempts: 1})

	rows := breakerRows(reg)
	if len(rows) != 1 {
		t.Fatalf("rows = %v, want 1 entry", rows)
	}

	if rows := breakerRows(resilience.NewBreakerRegistry(metrics)); rows[0] != "(no breakers registered)" {
		t.Fatalf("empty registry rows = %v", rows)
	}
}

func TestMetricsRows(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	metrics, _ := resilience.NewMetricsRegistry(meter)
	metrics.RecordAttempt("op")
	metrics.RecordSuccess("op", time.Millisecond)

	rows := metricsRows(metrics)
	if len(rows) != 1 {
		t.Fatalf("rows = %v, want 1 entry", rows)
	}
}
