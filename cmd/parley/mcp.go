package main

import (
	"fmt"
	"log"
	"os"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/pkg/adapters/mcp"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes the session registry as an MCP server with the send_trigger,
get_session and list_sessions tools and the parley://statechart resource.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")
		echo, _ := cmd.Flags().GetBool("echo")

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		var wf ports.Workflow
		if echo {
			wf = cli.EchoWorkflow()
		}
		p, err := cli.Build(sigCtx, cfg, wf, logger)
		if err != nil {
			return err
		}
		defer p.Close(cmd.Context())

		srv := mcp.NewServer(p, p.Chart(), mcp.WithLogger(logger))

		switch transport {
		case "stdio":
			// Keep stray log output off the JSON-RPC stream.
			log.SetOutput(os.Stderr)
			logger.Info("Starting Parley MCP Server (Stdio)")
			return srv.ServeStdio()
		case "sse":
			addr := fmt.Sprintf(":%d", port)
			return srv.ServeSSE(sigCtx, addr, fmt.Sprintf("http://localhost:%d", port))
		}
		return fmt.Errorf("unknown transport %q: use stdio or sse", transport)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringP("transport", "t", "stdio", "Transport: stdio or sse")
	mcpCmd.Flags().IntP("port", "p", 8081, "Port for the sse transport")
	mcpCmd.Flags().Bool("echo", false, "Use the built-in echo backend instead of workflow.base_url")
}
