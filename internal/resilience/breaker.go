package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// State mirrors gobreaker.State under this package's own name so callers
// never need to import gobreaker directly.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

func fromGobreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

// BreakerConfig is the C6 circuit breaker config from spec.md §4.6.
type BreakerConfig struct {
	Name                string
	FailureThreshold    uint32
	ResetTimeout        time.Duration
	HalfOpenMaxAttempts uint32
}

// BreakerMetrics is the breaker snapshot from spec.md §4.6: state,
// consecutive failure count, success count, total requests, total
// failures, and when the breaker last opened.
type BreakerMetrics struct {
	State         State
	FailureCount  int64
	SuccessCount  int64
	TotalRequests int64
	TotalFailures int64
	RejectedCount int64
	OpenedAt      time.Time
}

// Breaker is the C6 Circuit Breaker, backed by sony/gobreaker.CircuitBreaker
// (non-generic v1 API, matching the teacher's indirect dependency and the
// usage found in flowcatalyst-flowcatalyst's HTTP mediator). gobreaker
// already serializes state transitions per breaker and requires every
// HALF_OPEN probe up to MaxRequests to succeed before closing, which is
// exactly the "all probes must succeed" resolution spec.md §9 calls for.
//
// spec.md's metrics shape names fields gobreaker's own Counts doesn't track
// (rejectedCount, openedAt), so this wrapper keeps its own atomics/mutex
// alongside the underlying breaker rather than reconstructing them from
// gobreaker.Counts after the fact.
type Breaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	metrics *MetricsRegistry

	mu       sync.Mutex
	openedAt time.Time

	totalRequests int64
	totalFailures int64
	successCount  int64
	rejected      int64
	failureCount  int64
}

// NewBreaker constructs a named breaker. metrics may be nil to disable C8
// recording for this breaker's operations.
func NewBreaker(cfg BreakerConfig, metrics *MetricsRegistry) *Breaker {
	if cfg.HalfOpenMaxAttempts == 0 {
		cfg.HalfOpenMaxAttempts = 1
	}
	b := &Breaker{name: cfg.Name, metrics: metrics}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxAttempts,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= cfg.FailureThreshold
			if trip {
				atomic.StoreInt64(&b.failureCount, int64(counts.ConsecutiveFailures))
			}
			return trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.mu.Lock()
				b.openedAt = time.Now()
				b.mu.Unlock()
			}
			if to == gobreaker.StateClosed {
				atomic.StoreInt64(&b.failureCount, 0)
			}
		},
	})
	return b
}

// Execute runs op through the breaker. Rejections (OPEN, or HALF_OPEN with
// no probe slot available) return ErrCircuitBreakerOpen without invoking op.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	start := time.Now()
	if b.metrics != nil {
		b.metrics.RecordAttempt(b.name)
	}

	_, err := b.cb.Execute(func() (any, error) {
		return nil, op(ctx)
	})
	elapsed := time.Since(start)
	atomic.AddInt64(&b.totalRequests, 1)
	// While CLOSED, mirror gobreaker's live consecutive-failure count; a trip
	// stores the count in ReadyToTrip and it is kept until the breaker closes.
	if b.cb.State() == gobreaker.StateClosed {
		atomic.StoreInt64(&b.failureCount, int64(b.cb.Counts().ConsecutiveFailures))
	}

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			atomic.AddInt64(&b.rejected, 1)
			if b.metrics != nil {
				b.metrics.RecordFailure(b.name, elapsed)
			}
			return newErr("resilience", "Breaker.Execute", b.name, ErrCircuitBreakerOpen)
		}
		atomic.AddInt64(&b.totalFailures, 1)
		if b.metrics != nil {
			b.metrics.RecordFailure(b.name, elapsed)
		}
		return err
	}

	atomic.AddInt64(&b.successCount, 1)
	if b.metrics != nil {
		b.metrics.RecordSuccess(b.name, elapsed)
	}
	return nil
}

// Metrics returns a consistent snapshot of the breaker's counters.
func (b *Breaker) Metrics() BreakerMetrics {
	b.mu.Lock()
	openedAt := b.openedAt
	b.mu.Unlock()

	return BreakerMetrics{
		State:         fromGobreakerState(b.cb.State()),
		FailureCount:  atomic.LoadInt64(&b.failureCount),
		SuccessCount:  atomic.LoadInt64(&b.successCount),
		TotalRequests: atomic.LoadInt64(&b.totalRequests),
		TotalFailures: atomic.LoadInt64(&b.totalFailures),
		RejectedCount: atomic.LoadInt64(&b.rejected),
		OpenedAt:      openedAt,
	}
}

// Name returns the breaker's configured name.
func (b *Breaker) Name() string { return b.name }
