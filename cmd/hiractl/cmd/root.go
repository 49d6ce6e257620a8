// Package cmd implements the hiractl command line interface.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hirameki/client"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	serverURL  string
	apiKey     string
	jsonOutput bool
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "hiractl",
	Short: "Hirameki analysis runs from the command line",
	Long: `hiractl drives a Hirameki server: upload datasets, preview and
submit analysis runs, follow their progress, and search past insights.

The server address comes from --server or HIRAMEKI_SERVER. When the
server runs with auth enabled, pass the API key via --api-key or
HIRAMEKI_API_KEY.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("HIRAMEKI_SERVER", "http://localhost:8080"), "server base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("HIRAMEKI_API_KEY"), "API key for servers with auth enabled")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON instead of tables")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("hiractl {{.Version}}\n")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// newClient builds an API client from the global flags.
func newClient() (*client.Client, error) {
	return client.NewClient(client.Config{
		BaseURL: serverURL,
		APIKey:  apiKey,
		Timeout: timeout,
	})
}

// printJSON pretty-prints v to stdout.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
