package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/flowmesh/agentruntime/internal/agentruntime"
	"github.com/flowmesh/agentruntime/internal/config"
)

// Module wires the websocket bridge into the fx graph on its own listener
// (WSConfig.Addr), separate from the introspection HTTP surface, matching
// the teacher's handler/ws and handler/lp living as distinct mount points
// rather than sharing one router. The Subscriber is an optional dependency,
// as SnapshotLookup is for ingress/http: without one the graph still starts
// and every stream request is answered 404.
var Module = fx.Module("ws-ingress",
	fx.Provide(
		fx.Annotate(func(logger *slog.Logger, subscribe Subscriber) *Handler {
			if subscribe == nil {
				subscribe = func(agentruntime.AgentRuntimeId) (<-chan *agentruntime.Activity, error) {
					return nil, errors.New("no subscriber registered")
				}
			}
			return NewHandler(logger, subscribe)
		}, fx.ParamTags(``, `optional:"true"`)),
		func(h *Handler) http.Handler {
			r := chi.NewRouter()
			h.Routes(r)
			return r
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, mux http.Handler, logger *slog.Logger) {
		server := &http.Server{Addr: cfg.WS.Addr, Handler: mux}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("ws ingress server exited", "err", err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return server.Shutdown(ctx)
			},
		})
	}),
)
