package amqp

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/flowmesh/agentruntime/internal/agentruntime"
	"github.com/flowmesh/agentruntime/internal/config"
)

// Module wires the AMQP ingress adapter into the fx graph: subscriber,
// router (with its own OnStart/OnStop lifecycle, see NewWatermillRouter),
// handler, and the registration call that binds them together. Shaped after
// the teacher's amqp-handler fx.Module in internal/handler/amqp/module.go.
var Module = fx.Module("amqp-ingress",
	fx.Provide(
		NewSubscriber,
		NewWatermillRouter,
		func(r *agentruntime.Registry) agentruntime.EffectSink {
			return agentruntime.RegistryEffectSink{Registry: r}
		},
		func(sink agentruntime.EffectSink, logger *slog.Logger, cfg *config.Config) *Handler {
			return NewHandler(sink, logger, cfg.AMQP.RoutingKeyPrefix)
		},
	),

	fx.Invoke(func(router *message.Router, sub message.Subscriber, h *Handler, cfg *config.Config) error {
		return RegisterHandler(router, sub, h, cfg)
	}),
)
