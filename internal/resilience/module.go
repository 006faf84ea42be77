package resilience

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
)

// Module wires C6/C8 (named breakers, resilience metrics) into the fx
// graph. Retry and FallbackChain are deliberately not provided as
// singletons here: both are cheap, policy-specific values a caller
// constructs per call site with NewRetry/NewFallbackChain, sharing the
// single injected *MetricsRegistry.
var Module = fx.Module("resilience",
	fx.Provide(
		func() metric.Meter { return otel.Meter("agentruntime/resilience") },
		NewMetricsRegistry,
		NewBreakerRegistry,
	),
)
