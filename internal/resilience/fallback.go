package resilience

import (
	"context"
	"sort"
	"time"
)

// Strategy is one alternate handler in a C7 Fallback Chain (spec.md §4.7):
// tried in ascending Priority order, only when Condition matches the
// current failure, bounded by an optional per-strategy Timeout.
type Strategy struct {
	Name      string
	Priority  int
	Condition func(err error) bool
	Handler   func(ctx context.Context) error
	Timeout   time.Duration
}

// FallbackChain is the C7 Fallback Chain. Strategies are sorted by
// ascending Priority at construction time, with ties broken by the order
// they were passed, matching spec.md §4.7's tie-breaking rule.
type FallbackChain struct {
	name       string
	strategies []Strategy
	metrics    *MetricsRegistry
}

// NewFallbackChain builds a chain for the named operation (used as the C8
// metrics key). metrics may be nil to disable recording.
func NewFallbackChain(name string, metrics *MetricsRegistry, strategies ...Strategy) *FallbackChain {
	sorted := make([]Strategy, len(strategies))
	copy(sorted, strategies)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &FallbackChain{name: name, strategies: sorted, metrics: metrics}
}

// Execute runs op; on failure it scans strategies in priority order for the
// first whose Condition matches the current error, running its Handler
// under Timeout if set. A strategy timeout surfaces ErrFallbackTimeout
// internally but the chain keeps going to the next matching strategy,
// exactly as spec.md §4.7 describes. If nothing matches or every matching
// strategy itself fails, the last error is returned wrapped in
// ErrFallbackExhausted.
func (f *FallbackChain) Execute(ctx context.Context, op func(context.Context) error) error {
	start := time.Now()
	if f.metrics != nil {
		f.metrics.RecordAttempt(f.name)
	}

	err := op(ctx)
	if err == nil {
		if f.metrics != nil {
			f.metrics.RecordSuccess(f.name, time.Since(start))
		}
		return nil
	}

	usedFallback := false
	// currentErr is what each strategy's Condition is evaluated against: the
	// primary failure at first, then the failure of the last strategy that
	// ran. A strategy that exceeds its Timeout fails with an error wrapping
	// ErrFallbackTimeout, so later Conditions see that error. lastErr is the
	// most recent failure and is what gets reported in the final
	// ErrFallbackExhausted wrap.
	currentErr := err
	lastErr := err
	for _, s := range f.strategies {
		if !s.Condition(currentErr) {
			continue
		}
		usedFallback = true

		hctx := ctx
		var cancel context.CancelFunc
		if s.Timeout > 0 {
			hctx, cancel = context.WithTimeout(ctx, s.Timeout)
		}
		herr := s.Handler(hctx)
		if cancel != nil {
			cancel()
		}
		if herr == nil {
			if f.metrics != nil {
				f.metrics.RecordFallback(f.name, time.Since(start))
			}
			return nil
		}
		if hctx.Err() != nil {
			lastErr = newErr("resilience", "FallbackChain.Execute", s.Name, ErrFallbackTimeout)
			currentErr = lastErr
			continue
		}
		currentErr = herr
		lastErr = herr
	}

	if f.metrics != nil {
		f.metrics.RecordFailure(f.name, time.Since(start))
	}
	if !usedFallback {
		return newErr("resilience", "FallbackChain.Execute", f.name+": no strategy matched", joinErr(ErrFallbackExhausted, lastErr))
	}
	return newErr("resilience", "FallbackChain.Execute", f.name, joinErr(ErrFallbackExhausted, lastErr))
}
