package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persisted session snapshots",
	Long:  `List, inspect, and remove session snapshots in the configured store (store.backend).`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List persisted sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store ports.SnapshotStore) error {
			ids, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing sessions: %w", err)
			}
			if len(ids) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}
			sort.Strings(ids)
			fmt.Println("Sessions:")
			for _, id := range ids {
				snap, err := store.Load(cmd.Context(), id)
				if err != nil {
					fmt.Printf("- %s (unreadable: %v)\n", id, err)
					continue
				}
				fmt.Printf("- %s [%s] %v\n", id, snap.Mode, snap.Metadata["state"])
			}
			return nil
		})
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Print a session snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store ports.SnapshotStore) error {
			snap, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("loading session '%s': %w", args[0], err)
			}
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		})
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more session snapshots",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store ports.SnapshotStore) error {
			failed := 0
			for _, id := range args {
				if err := store.Delete(cmd.Context(), id); err != nil {
					fmt.Printf("Error removing '%s': %v\n", id, err)
					failed++
					continue
				}
				fmt.Printf("Removed session '%s'\n", id)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d sessions not removed", failed, len(args))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)
}

func withStore(cmd *cobra.Command, fn func(ports.SnapshotStore) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, closeFn, err := cli.OpenSnapshots(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(store)
}
