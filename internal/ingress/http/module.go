package http

import (
	"context"
	"log/slog"
	"net/http"

	"go.uber.org/fx"

	"github.com/flowmesh/agentruntime/internal/agentruntime"
	"github.com/flowmesh/agentruntime/internal/config"
)

// Module wires the introspection HTTP surface into the fx graph. No
// SnapshotLookup is provided here — a binary that creates typed runtimes
// registers one via fx.Supply/fx.Decorate for its own state type; without
// one, GET /runtimes/{id} degrades to 501 rather than failing to start.
var Module = fx.Module("http-ingress",
	fx.Provide(
		func(r *agentruntime.Registry) RuntimeRegistry { return r },
		fx.Annotate(NewHandler, fx.ParamTags(``, `optional:"true"`, ``, ``)),
		NewRouter,
		func(cfg *config.Config, h http.Handler, logger *slog.Logger) *Server {
			return NewServer(cfg.HTTP.Addr, h, logger)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				s.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return s.Stop(ctx)
			},
		})
	}),
)
