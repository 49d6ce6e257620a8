package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search past run insights semantically",
	Long: `Search completed run reports by meaning rather than keywords.
Requires a server with the insight index configured.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		results, err := c.Search(cmd.Context(), args[0], searchLimit)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(results)
		}
		if len(results) == 0 {
			fmt.Println("no matches")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tRUN\tCOMPLETED\tQUESTION")
		for _, r := range results {
			completed := "-"
			if r.CompletedAt != nil {
				completed = r.CompletedAt.Local().Format(time.DateOnly)
			}
			fmt.Fprintf(w, "%.2f\t%s\t%s\t%s\n", r.Score, r.RunID, completed, truncate(r.Question, 60))
		}
		return w.Flush()
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	rootCmd.AddCommand(searchCmd)
}
