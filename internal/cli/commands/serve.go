package commands

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/cli/ui"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/web/api"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/web/server"
)

// NewServeCommand creates the serve command
func NewServeCommand(opts *globalOptions) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query, save and metadata endpoints",
		Long: `Start the HTTP gateway.

Endpoints, relative to server.api_prefix:
  GET  /{type}     query with where.<prop>, orderby, limit, offset, expand
  POST /save       apply a change set atomically
  GET  /metadata   entity model description (?format=yaml)

Examples:
  northwind serve
  northwind serve --port 8080 --schema examples/northwind/schema.yaml
  NORTHWIND_DATABASE_DRIVER=sqlite3 NORTHWIND_DATABASE_URL=file:nw.db northwind serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if cfg.Database.Driver == "memory" {
				cmd.PrintErr(ui.Warning("database.driver is memory; saved changes are lost on exit", nil, opts.noColor))
			}
			svc, err := buildGateway(ctx, cfg, logger)
			if err != nil {
				return err
			}

			handler := api.NewRouter(svc, api.Config{
				Prefix:         cfg.Server.APIPrefix,
				Logger:         logger,
				AllowedOrigins: cfg.Server.CORSOrigins,
			})
			srv, err := server.New(server.DefaultConfig(cfg.Server.Address(), handler))
			if err != nil {
				_ = svc.Close()
				return err
			}

			gs := server.NewGracefulShutdown(srv, &server.ShutdownConfig{
				Timeout: cfg.Server.ShutdownTimeout,
				Logger:  logger,
			})
			gs.RegisterHook(func(context.Context) error { return svc.Close() })

			logger.Info("starting gateway",
				zap.String("addr", cfg.Server.Address()),
				zap.String("api_prefix", cfg.Server.APIPrefix),
				zap.String("driver", cfg.Database.Driver),
				zap.String("cache", cfg.Cache.Backend),
				zap.Int("entity_types", svc.Registry().Count()),
			)
			color.New(color.FgGreen, color.Bold).Fprintf(cmd.OutOrStdout(),
				"Northwind gateway listening on http://%s%s\n", cfg.Server.Address(), cfg.Server.APIPrefix)

			return gs.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "localhost", "address to bind (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 3000, "port to listen on (overrides server.port)")
	return cmd
}
