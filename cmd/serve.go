package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"unichat/internal/server"
	"unichat/internal/telemetry"
)

const serveLongDesc string = `Start the HTTP gateway.

Routes:
  GET  /health
  GET  /v1/providers
  GET  /v1/capabilities?backend=<name>&model=<id>
  POST /v1/chat
  POST /v1/chat/stream

Examples:
  unichat serve
  unichat serve --config /etc/unichat.yaml --port 9090`

type serveCommander struct {
	root *rootOptions
	port int
}

func newServeCmd(root *rootOptions) *cobra.Command {
	cmder := &serveCommander{root: root}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&cmder.port, "port", "p", 0, "Override server port from configuration")

	return cmd
}

func (c *serveCommander) run(ctx context.Context) error {
	log := c.root.logger

	cfg, err := c.root.loadConfig()
	if err != nil {
		return err
	}

	if c.port != 0 {
		if c.port < 0 || c.port > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", c.port)
		}
		cfg.Server.Port = c.port
	}

	if cfg.Server.Tracing {
		shutdown, err := telemetry.InitTracer("unichat", log)
		if err != nil {
			return fmt.Errorf("initialise tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	rt, registry, err := c.root.buildRouter(cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	srv, err := server.New(cfg, rt, log)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
