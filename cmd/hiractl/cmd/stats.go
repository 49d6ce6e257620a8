package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-agent performance statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		stats, err := c.AgentStats(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(stats)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tRUNS\tOK\tFAILED\tCACHED\tAVG\tLAST RUN")
		for _, s := range stats {
			avg := int64(0)
			if executed := s.Succeeded + s.Failed; executed > 0 {
				avg = s.TotalDurationMs / executed
			}
			last := "-"
			if s.LastRunAt != nil {
				last = s.LastRunAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%dms\t%s\n",
				s.AgentID, s.TotalRuns, s.Succeeded, s.Failed, s.CacheHits, avg, last)
		}
		return w.Flush()
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or purge the result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache hit and miss counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		stats, err := c.CacheStats(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(stats)
		}
		fmt.Printf("entries: %d\n", stats.Entries)
		fmt.Printf("hits:    %d\n", stats.Hits)
		fmt.Printf("misses:  %d\n", stats.Misses)
		fmt.Printf("inserts: %d\n", stats.Inserts)
		fmt.Printf("saved:   %s\n", time.Duration(stats.TimeSavedMs)*time.Millisecond)
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop every memoized agent result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.PurgeCache(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("cache purged")
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		h, err := c.Health(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(h)
		}
		fmt.Printf("status:  %s (version %s)\n", h.Status, h.Version)
		fmt.Printf("ledger:  %s\n", h.Ledger)
		fmt.Printf("cache:   %s\n", h.Cache)
		if h.Search != "" {
			fmt.Printf("search:  %s\n", h.Search)
		}
		fmt.Printf("workers: %d\n", h.Workers)
		fmt.Printf("uptime:  %s\n", time.Duration(h.Uptime)*time.Second)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(healthCmd)
}
