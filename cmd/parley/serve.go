package main

import (
	"github.com/aretw0/parley/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/SSE server",
	Long: `Starts the session registry behind an HTTP API:

  POST   /v1/triggers               inbound trigger {sessionId, message?, type?, ...}
  GET    /v1/sessions               live sessions
  GET    /v1/sessions/{id}          one session
  DELETE /v1/sessions/{id}          stop a session
  GET    /v1/sessions/{id}/events   outbound stream (Server-Sent Events)
  GET    /health, /info, /metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		p, err := cli.Build(sigCtx, cfg, nil, logger)
		if err != nil {
			return err
		}
		return cli.Serve(sigCtx, cfg, p, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}
