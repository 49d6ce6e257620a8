package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hirameki/client"
)

var (
	submitAgents string
	submitWatch  bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <dataset-ref> <question>",
	Short: "Start an analysis run",
	Long: `Submit a run against a dataset. The dataset-ref is either a digest
from a previous upload or a remote http(s)/s3 URL.

With --watch the command follows the run's progress events and prints
the report when the run finishes.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		req := client.SubmitRunRequest{
			DatasetRef: args[0],
			Question:   args[1],
		}
		if submitAgents != "" {
			for _, id := range strings.Split(submitAgents, ",") {
				if id = strings.TrimSpace(id); id != "" {
					req.AgentIDs = append(req.AgentIDs, id)
				}
			}
		}

		run, err := c.SubmitRun(cmd.Context(), req)
		if err != nil {
			return err
		}

		if !submitWatch {
			if jsonOutput {
				return printJSON(run)
			}
			fmt.Printf("run %s accepted (%s)\n", run.ID, run.Status)
			return nil
		}

		return watchRun(cmd, c, run.ID)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <dataset-ref> <question>",
	Short: "Preview which agents a submission would execute",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		plan, err := c.Plan(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(plan)
		}
		fmt.Printf("dataset: %s\n", plan.DatasetDigest)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tNAME\tTAGS")
		for _, a := range plan.Agents {
			fmt.Fprintf(w, "%s\t%s\t%s\n", a.ID, a.Name, strings.Join(a.Tags, ","))
		}
		return w.Flush()
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitAgents, "agents", "", "comma-separated agent ids (default: planner selects)")
	submitCmd.Flags().BoolVar(&submitWatch, "watch", false, "stream progress and print the report")
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(planCmd)
}
