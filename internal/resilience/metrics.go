package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OperationMetrics is the C8 per-operation tally described in spec.md §4.8:
// attempts, successes, failures, whether a fallback was ever used, and the
// latency of the most recent call.
type OperationMetrics struct {
	Attempts     int64
	Successes    int64
	Failures     int64
	FallbackUsed bool
	LastLatency  time.Duration
}

// MetricsRegistry is the C8 Resilience Metrics component: an in-process
// table readable by operation name, cleared only on explicit Reset, mirrored
// into OpenTelemetry instruments so the same counts are visible to whatever
// the process exports to (no in-pack repo keeps resilience counters in
// anything but plain maps, so the otel mirroring is this package's own
// addition to satisfy "introspection" from spec.md §1).
type MetricsRegistry struct {
	mu      sync.Mutex
	entries map[string]*OperationMetrics

	attempts  metric.Int64Counter
	successes metric.Int64Counter
	failures  metric.Int64Counter
	fallbacks metric.Int64Counter
	latency   metric.Float64Histogram
}

// NewMetricsRegistry builds a registry backed by instruments created on
// meter. Pass otel.Meter("agentruntime/resilience") in production, or
// noop.NewMeterProvider().Meter("") in tests.
func NewMetricsRegistry(meter metric.Meter) (*MetricsRegistry, error) {
	attempts, err := meter.Int64Counter("resilience.operation.attempts",
		metric.WithDescription("attempts per named resilience operation"))
	if err != nil {
		return nil, newErr("resilience", "NewMetricsRegistry", "attempts counter", err)
	}
	successes, err := meter.Int64Counter("resilience.operation.successes",
		metric.WithDescription("successes per named resilience operation"))
	if err != nil {
		return nil, newErr("resilience", "NewMetricsRegistry", "successes counter", err)
	}
	failures, err := meter.Int64Counter("resilience.operation.failures",
		metric.WithDescription("failures per named resilience operation"))
	if err != nil {
		return nil, newErr("resilience", "NewMetricsRegistry", "failures counter", err)
	}
	fallbacks, err := meter.Int64Counter("resilience.operation.fallbacks",
		metric.WithDescription("fallback invocations per named resilience operation"))
	if err != nil {
		return nil, newErr("resilience", "NewMetricsRegistry", "fallbacks counter", err)
	}
	latency, err := meter.Float64Histogram("resilience.operation.latency_ms",
		metric.WithDescription("latency in milliseconds per named resilience operation"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, newErr("resilience", "NewMetricsRegistry", "latency histogram", err)
	}

	return &MetricsRegistry{
		entries:   make(map[string]*OperationMetrics),
		attempts:  attempts,
		successes: successes,
		failures:  failures,
		fallbacks: fallbacks,
		latency:   latency,
	}, nil
}

func (r *MetricsRegistry) entry(name string) *OperationMetrics {
	e, ok := r.entries[name]
	if !ok {
		e = &OperationMetrics{}
		r.entries[name] = e
	}
	return e
}

// RecordAttempt records one invocation of the underlying operation (not one
// call to Execute — a single retried Execute records one attempt per try).
func (r *MetricsRegistry) RecordAttempt(name string) {
	r.mu.Lock()
	r.entry(name).Attempts++
	r.mu.Unlock()
	r.attempts.Add(context.Background(), 1, metric.WithAttributes(attribute.String("operation", name)))
}

// RecordSuccess records a successful attempt and its latency.
func (r *MetricsRegistry) RecordSuccess(name string, latency time.Duration) {
	r.mu.Lock()
	e := r.entry(name)
	e.Successes++
	e.LastLatency = latency
	r.mu.Unlock()
	attrs := metric.WithAttributes(attribute.String("operation", name))
	r.successes.Add(context.Background(), 1, attrs)
	r.latency.Record(context.Background(), float64(latency.Milliseconds()), attrs)
}

// RecordFailure records a failed attempt and its latency.
func (r *MetricsRegistry) RecordFailure(name string, latency time.Duration) {
	r.mu.Lock()
	e := r.entry(name)
	e.Failures++
	e.LastLatency = latency
	r.mu.Unlock()
	attrs := metric.WithAttributes(attribute.String("operation", name))
	r.failures.Add(context.Background(), 1, attrs)
	r.latency.Record(context.Background(), float64(latency.Milliseconds()), attrs)
}

// RecordFallback marks name as having used its fallback chain at least
// once, in addition to recording the success that the fallback produced.
func (r *MetricsRegistry) RecordFallback(name string, latency time.Duration) {
	r.mu.Lock()
	e := r.entry(name)
	e.Successes++
	e.FallbackUsed = true
	e.LastLatency = latency
	r.mu.Unlock()
	attrs := metric.WithAttributes(attribute.String("operation", name))
	r.fallbacks.Add(context.Background(), 1, attrs)
	r.successes.Add(context.Background(), 1, attrs)
	r.latency.Record(context.Background(), float64(latency.Milliseconds()), attrs)
}

// Get returns a snapshot of name's metrics, or ErrUnknownOperation if
// nothing has been recorded for name since it was created or last Reset.
func (r *MetricsRegistry) Get(name string) (OperationMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return OperationMetrics{}, newErr("resilience", "Get", name, ErrUnknownOperation)
	}
	return *e, nil
}

// Reset clears name's in-memory tally. The otel instruments themselves are
// cumulative by design and are not rolled back by Reset — only the
// introspectable snapshot is cleared, matching spec.md §4.8's "cleared only
// on explicit reset" applying to the readable-by-name table.
func (r *MetricsRegistry) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Names returns every operation name with at least one recorded attempt,
// success, failure or fallback.
func (r *MetricsRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
