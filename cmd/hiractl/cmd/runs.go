package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/hirameki/client"
)

var (
	runsLimit  int
	runsOffset int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		page, err := c.ListRuns(cmd.Context(), runsLimit, runsOffset)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(page.Runs)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTATUS\tAGENTS\tCREATED\tQUESTION")
		for _, r := range page.Runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				r.ID, r.Status, len(r.AgentIDs), r.CreatedAt.Local().Format(time.DateTime), truncate(r.Question, 60))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if page.HasMore {
			fmt.Printf("(more runs; rerun with --offset %d)\n", runsOffset+len(page.Runs))
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show one run with its per-agent executions",
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
		detail, err := c.GetRun(cmd.Context(), id)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(detail)
		}
		printRunDetail(detail)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel an in-flight run",
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
		res, err := c.CancelRun(cmd.Context(), id)
		if err != nil {
			if client.IsConflict(err) {
				return fmt.Errorf("run %s already finished", id)
			}
			return err
		}
		fmt.Printf("run %s %s\n", res.RunID, res.Status)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Print a finished run's report",
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
		rep, err := c.Report(cmd.Context(), id)
		if err != nil {
			if client.IsConflict(err) {
				return fmt.Errorf("run %s has not finished yet", id)
			}
			return err
		}

		if jsonOutput {
			return printJSON(rep)
		}
		printReport(rep)
		return nil
	},
}

func printRunDetail(detail *client.RunDetail) {
	r := detail.Run
	fmt.Printf("run:      %s\n", r.ID)
	fmt.Printf("status:   %s\n", r.Status)
	fmt.Printf("question: %s\n", r.Question)
	fmt.Printf("dataset:  %s\n", r.DatasetDigest)
	if r.Error != nil {
		fmt.Printf("error:    %s\n", *r.Error)
	}

	if len(detail.Executions) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tSTATUS\tCACHED\tDURATION\tERROR")
		for _, e := range detail.Executions {
			errMsg := e.ErrorMessage
			if e.ErrorCategory != "" {
				errMsg = e.ErrorCategory + ": " + errMsg
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%dms\t%s\n",
				e.AgentID, e.Status, e.Cached, e.DurationMs, truncate(errMsg, 50))
		}
		_ = w.Flush()
	}
}

func printReport(rep *client.Report) {
	fmt.Printf("question: %s\n", rep.Question)
	fmt.Printf("agents:   %d succeeded, %d failed, %d cached\n",
		rep.Summary.Succeeded, rep.Summary.Failed, rep.Summary.Cached)
	for _, in := range rep.Insights {
		fmt.Printf("\n[%s]", in.AgentID)
		if in.Cached {
			fmt.Print(" (cached)")
		}
		fmt.Println()
		fmt.Println(indent(in.Payload.Narrative, "  "))
	}
	for _, f := range rep.Failures {
		fmt.Printf("\n[%s] FAILED (%s): %s\n", f.AgentID, f.Category, f.Message)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	runsCmd.Flags().IntVar(&runsOffset, "offset", 0, "pagination offset")
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(reportCmd)
}
