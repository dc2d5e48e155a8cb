package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aretw0/forge"
	"github.com/aretw0/forge/internal/config"
	"github.com/aretw0/forge/pkg/workflow"
	"github.com/spf13/cobra"
)

func warnIfLocal(cfg config.Config) {
	if cfg.Store.Driver == config.DriverMemory {
		slog.Warn("the memory store is not shared between processes; use the file or redis driver")
	}
}

var statusCmd = &cobra.Command{
	Use:   "status <project>",
	Short: "Show the last checkpoint of a project's run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		warnIfLocal(cfg)
		store, closeStore, err := forge.OpenWorkflowStore(cfg.Store)
		if err != nil {
			return err
		}
		defer closeStore()

		st, err := store.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects with workflow state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		warnIfLocal(cfg)
		store, closeStore, err := forge.OpenWorkflowStore(cfg.Store)
		if err != nil {
			return err
		}
		defer closeStore()

		ids, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <project>",
	Short: "Request cancellation of a project's run",
	Long:  `Flags the stored run for cancellation. The owning process stops it at its next phase boundary.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		warnIfLocal(cfg)
		store, closeStore, err := forge.OpenWorkflowStore(cfg.Store)
		if err != nil {
			return err
		}
		defer closeStore()

		if err := workflow.RequestCancel(cmd.Context(), store, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, listCmd, cancelCmd)
}
