package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/axescan/internal/observability"
	"github.com/xkilldash9x/axescan/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		port        int
		maxSessions int
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scan API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.ServerCfg.Port = port
			}
			if cmd.Flags().Changed("max-sessions") {
				cfg.SetBrowserMaxSessions(maxSessions)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := observability.GetLogger()
			app, err := buildComponents(cfg, logger)
			if err != nil {
				return err
			}

			srv, err := server.New(cfg.Server(), app.scanner, app.sessions, logger)
			if err != nil {
				return err
			}
			logger.Info("Starting API server",
				zap.String("address", cfg.Server().Addr()),
				zap.Int("max_sessions", cfg.Browser().MaxSessions))
			return srv.Run(ctx)
		},
	}

	serveCmd.Flags().IntVarP(&port, "port", "p", 8000, "port to listen on (overrides server.port)")
	serveCmd.Flags().IntVar(&maxSessions, "max-sessions", 4, "maximum concurrent browser sessions")
	return serveCmd
}
