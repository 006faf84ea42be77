package agentruntime

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

// Module wires a process-wide Registry into the fx graph, with an OnStop
// hook that drains every runtime before shutdown — the explicit
// init/teardown the redesign guidance in spec.md §9 calls for in place of
// an implicit, test-unfriendly global.
var Module = fx.Module("agentruntime",
	fx.Provide(NewRegistry),
	fx.Invoke(func(lc fx.Lifecycle, logger *slog.Logger, r *Registry) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				logger.Info("agentruntime registry shutting down", "runtime_count", r.Len())
				return r.Shutdown(ctx)
			},
		})
	}),
)
