package resilience

import (
	"context"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrorTag classifies an error for retry/fallback routing decisions. A
// package producing errors that should participate in retry classification
// implements TaggedError on its error type.
type ErrorTag string

// TaggedError is implemented by errors that carry a classification tag.
// Retry finds it by walking the error's Unwrap chain; an error with no tag is treated as
// retryable whenever RetryableErrors is empty.
type TaggedError interface {
	error
	Tag() ErrorTag
}

func tagOf(err error) (ErrorTag, bool) {
	type taggedChecker interface {
		Tag() ErrorTag
	}
	for e := err; e != nil; e = unwrap(e) {
		if tc, ok := e.(taggedChecker); ok {
			return tc.Tag(), true
		}
	}
	return "", false
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

// Policy is the C5 retry policy from spec.md §4.5.
type Policy struct {
	// MaxAttempts bounds the total number of operation invocations,
	// including the first. Must be >= 1.
	MaxAttempts int

	// BaseDelay is the delay before the first retry (attempt k=1's delay).
	BaseDelay time.Duration

	// MaxDelay caps the computed delay at any attempt.
	MaxDelay time.Duration

	// BackoffMultiplier must be >= 1; delay at attempt k is
	// BaseDelay * BackoffMultiplier^(k-1), capped at MaxDelay.
	BackoffMultiplier float64

	// Jitter, when true, samples the actual delay uniformly from
	// [delay, delay*(1+JitterFactor)].
	Jitter       bool
	JitterFactor float64

	// RetryableErrors, when non-empty, is the exclusive set of tags that
	// trigger a retry; errors with any other tag stop immediately.
	RetryableErrors map[ErrorTag]struct{}

	// NonRetryableErrors always stops immediately, checked before
	// RetryableErrors.
	NonRetryableErrors map[ErrorTag]struct{}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 1
	}
	return p
}

// shouldRetry reports whether err should trigger another attempt, per the
// algorithm in spec.md §4.5: nonRetryable always wins; otherwise retry when
// retryableErrors is empty or contains the error's tag.
func (p Policy) shouldRetry(err error) bool {
	tag, tagged := tagOf(err)
	if tagged {
		if _, stop := p.NonRetryableErrors[tag]; stop {
			return false
		}
		if len(p.RetryableErrors) == 0 {
			return true
		}
		_, ok := p.RetryableErrors[tag]
		return ok
	}
	// Untagged errors are retryable exactly when the policy doesn't
	// restrict retryability to a specific tag set.
	return len(p.RetryableErrors) == 0
}

// Retry is the C5 Retry Engine: capped attempts, exponential backoff with
// optional jitter, and tag-based error classification, driven by
// cenkalti/backoff/v5's ExponentialBackOff for the delay schedule —
// promoted from an indirect teacher dependency into direct use rather than
// hand-rolling math.Pow backoff math (see DESIGN.md).
type Retry struct {
	name    string
	policy  Policy
	metrics *MetricsRegistry
}

// NewRetry builds a Retry engine for the named operation (used for C8
// metrics keys). metrics may be nil to disable metrics recording.
func NewRetry(name string, policy Policy, metrics *MetricsRegistry) *Retry {
	return &Retry{name: name, policy: policy.withDefaults(), metrics: metrics}
}

// Execute runs op, retrying per Policy. Honours ctx cancellation between and
// during backoff waits. On exhaustion, returns the last error wrapped with
// ErrRetryExhausted.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.policy.BaseDelay
	bo.MaxInterval = r.policy.MaxDelay
	bo.Multiplier = r.policy.BackoffMultiplier
	bo.RandomizationFactor = 0
	if r.policy.Jitter && r.policy.JitterFactor > 0 {
		// backoff samples symmetrically around its current interval. Scaling
		// that interval by (1+f/2) and using a factor of (f/2)/(1+f/2) turns
		// the sampled range into [delay, delay*(1+f)].
		half := r.policy.JitterFactor / 2
		scale := 1 + half
		bo.InitialInterval = time.Duration(float64(r.policy.BaseDelay) * scale)
		bo.MaxInterval = time.Duration(float64(r.policy.MaxDelay) * scale)
		bo.RandomizationFactor = half / scale
	}

	var lastErr error
	nonRetryable := false
	attempts := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if r.metrics != nil {
			r.metrics.RecordAttempt(r.name)
		}

		start := time.Now()
		opErr := op(ctx)
		elapsed := time.Since(start)

		if opErr == nil {
			if r.metrics != nil {
				r.metrics.RecordSuccess(r.name, elapsed)
			}
			return struct{}{}, nil
		}

		lastErr = opErr
		if !r.policy.shouldRetry(opErr) {
			nonRetryable = true
			if r.metrics != nil {
				r.metrics.RecordFailure(r.name, elapsed)
			}
			return struct{}{}, backoff.Permanent(opErr)
		}
		return struct{}{}, opErr
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
	)

	if err == nil {
		return nil
	}
	if lastErr == nil {
		lastErr = err
	}
	if r.metrics != nil && !nonRetryable {
		r.metrics.RecordFailure(r.name, 0)
	}
	// A non-retryable classification stops the loop early via
	// backoff.Permanent, a distinct outcome from exhausting MaxAttempts
	// (spec.md "stop and propagate e" vs "All retry attempts failed") — only
	// the latter is tagged ErrRetryExhausted.
	if nonRetryable {
		return newErr("resilience", "Retry.Execute", r.name+" ("+strconv.Itoa(attempts)+" attempts, non-retryable)", lastErr)
	}
	return newErr("resilience", "Retry.Execute", r.name+" ("+strconv.Itoa(attempts)+" attempts)", joinErr(ErrRetryExhausted, lastErr))
}

// joinErr lets callers errors.Is against both the taxonomy sentinel and the
// underlying cause without pulling in errors.Join's multi-line formatting.
func joinErr(sentinelErr, cause error) error {
	return &wrappedSentinel{sentinel: sentinelErr, cause: cause}
}

type wrappedSentinel struct {
	sentinel error
	cause    error
}

func (w *wrappedSentinel) Error() string {
	if w.cause == nil {
		return w.sentinel.Error()
	}
	return w.sentinel.Error() + ": " + w.cause.Error()
}

func (w *wrappedSentinel) Unwrap() []error { return []error{w.sentinel, w.cause} }
