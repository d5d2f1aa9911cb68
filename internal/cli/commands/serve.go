package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/deltapatch/internal/server"
)

// NewServeCommand creates the serve command
func NewServeCommand(global *globalOptions) *cobra.Command {
	var (
		schemaFile string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the patch API over HTTP",
		Long: `Start an HTTP server exposing the patch engine:

  GET  /healthz               liveness probe
  GET  /v1/models             registered models
  POST /v1/patch/{model}      patch one object or an array of objects
  POST /v1/patch              patch a list of model/delta envelopes
  GET  /metrics               Prometheus metrics (when metrics.enabled)

The server shuts down gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global, schemaFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srvCfg := server.DefaultConfig()
			srvCfg.Address = cfg.Server.Addr
			srvCfg.ReadTimeout = cfg.Server.ReadTimeout
			srvCfg.WriteTimeout = cfg.Server.WriteTimeout
			srvCfg.MaxBodyBytes = cfg.Server.MaxBodyBytes
			srvCfg.MetricsPath = cfg.Metrics.Path
			if a.metrics != nil {
				srvCfg.Gatherer = a.metrics
			}

			srv, err := server.New(a.engine, srvCfg, a.logger)
			if err != nil {
				return err
			}

			a.logger.Info("starting deltapatch server",
				zap.String("addr", srvCfg.Address),
				zap.String("store", cfg.Store.Driver),
				zap.Int("models", a.registry.Count()),
			)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&schemaFile, "schema", "", "model definitions file (overrides schema.file)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}
