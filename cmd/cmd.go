package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/flowmesh/agentruntime/internal/agentruntime"
	"github.com/flowmesh/agentruntime/internal/config"
	"github.com/flowmesh/agentruntime/internal/dashboard"
	"github.com/flowmesh/agentruntime/internal/resilience"
)

const (
	ServiceName      = "agentruntime"
	ServiceNamespace = "flowmesh"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

// Run is the process entrypoint, matching the teacher's cli.App shape in
// cmd/cmd.go: a "server" command running the fx graph to completion on
// SIGINT/SIGTERM, plus a "top" command for the live terminal dashboard.
func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "supervised, message-driven agent runtime substrate",
		Commands: []*cli.Command{
			serverCmd(),
			topCmd(),
		},
	}

	return app.Run(os.Args)
}

func configFileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "config_file",
		Usage: "path to the configuration file",
	}
}

func loadConfigFromFlag(c *cli.Context) (*config.Config, error) {
	var flags []string
	if cf := c.String("config_file"); cf != "" {
		flags = []string{"--config_file", cf}
	}
	return config.LoadConfig(flags)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "run the agent runtime server",
		Flags:   []cli.Flag{configFileFlag()},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfigFromFlag(c)
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			return app.Stop(context.Background())
		},
	}
}

func topCmd() *cli.Command {
	return &cli.Command{
		Name:  "top",
		Usage: "live terminal dashboard over the registry and resilience state",
		Flags: []cli.Flag{configFileFlag()},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfigFromFlag(c)
			if err != nil {
				return err
			}

			var reg *agentruntime.Registry
			var breakers *resilience.BreakerRegistry
			var metrics *resilience.MetricsRegistry
			app := NewDashboardApp(cfg, &reg, &breakers, &metrics)

			if err := app.Start(c.Context); err != nil {
				return err
			}
			defer app.Stop(context.Background())

			return dashboard.New(reg, breakers, metrics, time.Second).Run(c.Context)
		},
	}
}
