package main

import (
	"errors"
	"fmt"

	"github.com/aretw0/forge/internal/presentation/graph"
	"github.com/aretw0/forge/pkg/domain"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the pipeline visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of the configured pipeline, one subgraph per phase.
With --project, the project's last checkpoint is overlaid (visited agents and current phase).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")

		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.close()

		var overlay *graph.GraphOverlay
		if projectID != "" {
			st, err := s.engine.Status(cmd.Context(), projectID)
			switch {
			case errors.Is(err, domain.ErrWorkflowNotFound):
				s.logger.Warn("no checkpoint to overlay", "project_id", projectID)
			case err != nil:
				return err
			default:
				overlay = graph.OverlayFrom(st)
			}
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(s.engine.Pipeline(), overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)

	graphCmd.Flags().StringP("project", "p", "", "Overlay the state of this project")
}
