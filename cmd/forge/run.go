package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/forge/internal/presentation/tui"
	"github.com/aretw0/forge/internal/sanitize"
	"github.com/aretw0/forge/pkg/workflow"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bid pipeline for one project",
	Long: `Runs every phase for --project and prints the outcome.
The initial blackboard is read as a JSON object from --input (a file, or "-" for stdin).
Interrupting the command cancels the run at its next phase boundary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		userID, _ := cmd.Flags().GetString("user")
		inputPath, _ := cmd.Flags().GetString("input")
		budget, _ := cmd.Flags().GetDuration("budget")
		jsonOut, _ := cmd.Flags().GetBool("json")
		follow, _ := cmd.Flags().GetBool("follow")

		input, err := readInput(cmd.InOrStdin(), inputPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.close()

		if !jsonOut && tui.IsTerminal(os.Stderr) {
			tui.PrintBanner(os.Stderr)
		}
		if follow {
			events, cancel := s.engine.Subscribe(projectID, 0)
			defer cancel()
			go func() {
				for e := range events {
					fmt.Fprintf(os.Stderr, "%s %-20s %s %s\n", e.Timestamp.Format(time.TimeOnly), e.Type, e.AgentName, e.Message)
				}
			}()
		}

		res, err := s.engine.RunWorkflow(ctx, projectID, userID, input, workflow.RunOptions{Budget: budget})
		if err != nil {
			return err
		}
		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		return tui.Print(cmd.OutOrStdout(), res)
	},
}

// readInput decodes the initial blackboard. An empty path yields an empty object.
func readInput(stdin io.Reader, path string) (map[string]any, error) {
	input := make(map[string]any)
	var r io.Reader
	switch path {
	case "":
		return input, nil
	case "-":
		r = stdin
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&input); err != nil {
		return nil, fmt.Errorf("input must be a JSON object: %w", err)
	}
	return sanitize.Input(input)
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("project", "p", "", "Project id")
	runCmd.Flags().StringP("user", "u", "", "User id recorded on the run")
	runCmd.Flags().StringP("input", "i", "", `JSON file with the initial blackboard ("-" for stdin)`)
	runCmd.Flags().Duration("budget", 0, "Wall-clock budget (default from config)")
	runCmd.Flags().Bool("json", false, "Print the result as JSON")
	runCmd.Flags().BoolP("follow", "f", false, "Stream progress events to stderr")
	_ = runCmd.MarkFlagRequired("project")
}
