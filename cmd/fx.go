package cmd

import (
	"go.uber.org/fx"

	"github.com/flowmesh/agentruntime/internal/agentruntime"
	"github.com/flowmesh/agentruntime/internal/config"
	amqpingress "github.com/flowmesh/agentruntime/internal/ingress/amqp"
	httpingress "github.com/flowmesh/agentruntime/internal/ingress/http"
	wsingress "github.com/flowmesh/agentruntime/internal/ingress/ws"
	"github.com/flowmesh/agentruntime/internal/resilience"
)

// NewApp assembles the full fx graph: config, logging, the agentruntime
// registry, resilience (breakers/metrics), and the three ingress surfaces
// (AMQP activity intake, HTTP introspection, WS activity streaming).
// Mirrors the shape of the teacher's cmd/fx.go (config supplied as a value,
// logger providers, per-concern fx.Modules) generalized from a single
// gRPC/postgres stack to this runtime's modules. extra lets callers splice
// in fx.Populate targets without duplicating the wiring.
func NewApp(cfg *config.Config, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
		),
		agentruntime.Module,
		resilience.Module,
		amqpingress.Module,
		httpingress.Module,
		wsingress.Module,
	}
	opts = append(opts, extra...)
	return fx.New(opts...)
}

// NewDashboardApp builds the same graph as NewApp but without the AMQP, HTTP
// and WS ingress modules: the "top" command only needs the registry and the
// resilience registries to poll, not another process's listeners.
func NewDashboardApp(cfg *config.Config, reg **agentruntime.Registry, breakers **resilience.BreakerRegistry, metrics **resilience.MetricsRegistry) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		agentruntime.Module,
		resilience.Module,
		fx.Populate(reg, breakers, metrics),
	)
}
