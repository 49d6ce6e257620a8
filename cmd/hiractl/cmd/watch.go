package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/hirameki/client"
)

var watchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Follow a run's progress events until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id %q", args[0])
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		return watchRun(cmd, c, id)
	},
}

// watchRun streams progress events for one run and prints the report
// once the run is terminal. Falls back to polling when the event stream
// is unavailable.
func watchRun(cmd *cobra.Command, c *client.Client, runID uuid.UUID) error {
	ctx := cmd.Context()

	events, errFn, err := c.Subscribe(ctx, &runID)
	if err != nil {
		fmt.Printf("event stream unavailable (%v), polling instead\n", err)
		return pollAndReport(cmd, c, runID)
	}

	done := false
	for ev := range events {
		printEvent(ev)
		if ev.Type == "run_completed" || ev.Type == "run_failed" || ev.Type == "run_cancelled" {
			done = true
			break
		}
	}
	if !done {
		if err := errFn(); err != nil {
			return err
		}
	}

	return pollAndReport(cmd, c, runID)
}

func pollAndReport(cmd *cobra.Command, c *client.Client, runID uuid.UUID) error {
	detail, err := c.WaitForRun(cmd.Context(), runID, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(detail)
	}

	fmt.Printf("\nrun %s: %s\n", detail.Run.ID, detail.Run.Status)
	if detail.Run.Report != nil {
		fmt.Println()
		printReport(detail.Run.Report)
	}
	return nil
}

func printEvent(ev client.ProgressEvent) {
	switch ev.Type {
	case "agent_started", "agent_completed", "agent_failed":
		fmt.Printf("  [%d] %-16s %s\n", ev.Seq, ev.Type, ev.AgentID)
	default:
		fmt.Printf("  [%d] %s\n", ev.Seq, ev.Type)
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
