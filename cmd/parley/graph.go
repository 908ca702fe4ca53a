package main

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/internal/presentation/graph"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the conversation statechart",
	Long: `Outputs the session state machine as a Mermaid stateDiagram-v2 or as JSON.
With --session the state stored for that session is highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		sessionID, _ := cmd.Flags().GetString("session")

		chart := runtime.NewMachine().Chart()

		switch format {
		case "json":
			data, err := json.MarshalIndent(chart, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		case "mermaid":
		default:
			return fmt.Errorf("unknown format %q: use mermaid or json", format)
		}

		var overlay *graph.GraphOverlay
		if sessionID != "" {
			var err error
			if overlay, err = storedOverlay(cmd, sessionID); err != nil {
				return err
			}
		}
		fmt.Print(graph.GenerateMermaid(chart, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("format", "f", "mermaid", "Output format: mermaid or json")
	graphCmd.Flags().StringP("session", "s", "", "Highlight the stored state of this session")
}

func storedOverlay(cmd *cobra.Command, sessionID string) (*graph.GraphOverlay, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	store, closeFn, err := cli.OpenSnapshots(cmd.Context(), cfg.Store)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	snap, err := store.Load(cmd.Context(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session '%s': %w", sessionID, err)
	}
	state, _ := snap.Metadata["state"].(string)
	if state == "" {
		return nil, fmt.Errorf("session '%s' has no stored state", sessionID)
	}
	return &graph.GraphOverlay{CurrentState: domain.StateValue(state)}, nil
}
