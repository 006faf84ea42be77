package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	amqptransport "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/flowmesh/agentruntime/internal/config"
)

// nodeQueueSuffix identifies this process for a per-node, non-shared queue:
// every node binds its own queue to the activities exchange so every
// running instance of the binary observes every published activity,
// mirroring the teacher's per-node unique-queue naming in router.go.
func nodeQueueSuffix() string {
	host, err := os.Hostname()
	if err != nil {
		return watermill.NewShortUUID()
	}
	return host
}

// NewSubscriber builds the watermill-amqp/v3 subscriber this service's
// node-local queue binds from. The teacher wired its subscriber through an
// infra/pubsub factory that wasn't part of the retrieved reference set
// (see DESIGN.md); this constructs the equivalent watermill-amqp/v3 config
// directly rather than inventing a factory layer that has no reference.
func NewSubscriber(cfg *config.Config, logger *slog.Logger) (message.Subscriber, error) {
	queue := fmt.Sprintf("%s.%s", cfg.AMQP.Queue, nodeQueueSuffix())

	// NewDurablePubSubConfig treats the topic passed to AddNoPublisherHandler
	// as the exchange name, so RegisterHandler below subscribes with
	// cfg.AMQP.Exchange as the topic rather than a routing-key pattern.
	amqpCfg := amqptransport.NewDurablePubSubConfig(cfg.AMQP.URL, func(_ string) string {
		return queue
	})

	sub, err := amqptransport.NewSubscriber(amqpCfg, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("amqp ingress: build subscriber: %w", err)
	}
	return sub, nil
}

// NewWatermillRouter initializes the router and manages its lifecycle via
// Uber Fx, identical in shape to the teacher's NewWatermillRouter.
func NewWatermillRouter(lc fx.Lifecycle, logger *slog.Logger) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					logger.Error("amqp ingress router run error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return router.Close()
		},
	})

	return router, nil
}

// RegisterHandler subscribes h.HandleActivityV1 to the activities exchange
// under cfg's topic/queue naming.
func RegisterHandler(router *message.Router, sub message.Subscriber, h *Handler, cfg *config.Config) error {
	router.AddNoPublisherHandler(
		"agentruntime-activities-ingress",
		cfg.AMQP.Exchange,
		sub,
		h.HandleActivityV1,
	)
	return nil
}
