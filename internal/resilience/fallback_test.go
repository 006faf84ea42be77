package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errNetwork = errors.New("network")
var errTimeout = errors.New("timeout")

// TestFallbackChainOrdering reproduces S5 from spec.md §8: s1 (priority=1,
// matches Network, times out) then s2 (priority=2, matches Timeout,
// succeeds). The primary fails with Network; s1 is tried and times out;
// the chain falls through to s2, which succeeds.
func TestFallbackChainOrdering(t *testing.T) {
	var s1Called, s2Called bool

	chain := NewFallbackChain("s5", nil,
		Strategy{
			Name:      "s1",
			Priority:  1,
			Condition: func(err error) bool { return errors.Is(err, errNetwork) },
			Timeout:   20 * time.Millisecond,
			Handler: func(ctx context.Context) error {
				s1Called = true
				<-ctx.Done()
				return ctx.Err()
			},
		},
		Strategy{
			Name:      "s2",
			Priority:  2,
			Condition: func(err error) bool { return errors.Is(err, ErrFallbackTimeout) },
			Handler: func(ctx context.Context) error {
				s2Called = true
				return nil
			},
		},
	)

	err := chain.Execute(context.Background(), func(ctx context.Context) error {
		return errNetwork
	})

	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !s1Called {
		t.Fatal("s1 (priority 1, matches Network) was never tried")
	}
	if !s2Called {
		t.Fatal("s2 (priority 2) was never tried after s1 timed out")
	}
}

func TestFallbackChainNoStrategyMatches(t *testing.T) {
	chain := NewFallbackChain("no-match", nil, Strategy{
		Name:      "only",
		Priority:  1,
		Condition: func(err error) bool { return errors.Is(err, errTimeout) },
		Handler:   func(ctx context.Context) error { return nil },
	})

	err := chain.Execute(context.Background(), func(ctx context.Context) error {
		return errNetwork
	})
	if !errors.Is(err, ErrFallbackExhausted) {
		t.Fatalf("want ErrFallbackExhausted, got %v", err)
	}
}

func TestFallbackChainPrimarySuccessSkipsStrategies(t *testing.T) {
	called := false
	chain := NewFallbackChain("primary-ok", nil, Strategy{
		Name:      "should-not-run",
		Priority:  1,
		Condition: func(err error) bool { return true },
		Handler:   func(ctx context.Context) error { called = true; return nil },
	})

	err := chain.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called {
		t.Fatal("fallback strategy ran despite primary success")
	}
}
