package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley is a session-control core for multi-party chat backends",
	Long: `Parley tracks every chat session through its bot, live agent, survey and
transcript phases, calls the automation backend on its behalf and streams the
conversation to subscribers.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides the config file)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json (overrides the config file)")
}

// loadConfig reads the configuration named by --config and builds the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("PARLEY_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	return cfg, cli.NewLogger(cfg.Logging, level, format), nil
}
