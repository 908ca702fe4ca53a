package main

import (
	"os"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a session from the terminal",
	Long: `Runs the session registry in-process and opens an interactive chat bound to
one session. Lines are sent as user messages, numbers pick a button and slash
commands (/agent, /email, /end, /skip, /state, /graph, /quit) drive the session.

Without workflow.base_url (or with --echo) a built-in echo backend answers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		echo, _ := cmd.Flags().GetBool("echo")
		states, _ := cmd.Flags().GetBool("states")
		plain, _ := cmd.Flags().GetBool("plain")

		var wf ports.Workflow
		if echo || cfg.Workflow.BaseURL == "" {
			wf = cli.EchoWorkflow()
		}

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		p, err := cli.Build(sigCtx, cfg, wf, logger)
		if err != nil {
			return err
		}
		defer p.Close(cmd.Context())

		interactive := term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
		return cli.NewChat(p, cli.ChatOptions{
			SessionID:  sessionID,
			In:         os.Stdin,
			Out:        os.Stdout,
			Plain:      plain || !interactive,
			Quiet:      !interactive,
			ShowStates: states,
			Welcome:    true,
			Version:    parley.Version,
		}).Run(sigCtx)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("session", "s", "", "Session id (default: a new random id)")
	chatCmd.Flags().Bool("echo", false, "Use the built-in echo backend instead of workflow.base_url")
	chatCmd.Flags().Bool("states", false, "Print state transitions")
	chatCmd.Flags().Bool("plain", false, "Disable colors and markdown rendering")
}
