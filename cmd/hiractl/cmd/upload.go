package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var uploadName string

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a dataset and print its digest",
	Long: `Upload a local CSV or JSON file to the server's dataset spool.
The printed digest is the dataset_ref to pass to plan and submit.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		name := uploadName
		if name == "" {
			name = filepath.Base(args[0])
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		up, err := c.UploadDataset(cmd.Context(), name, data)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(up)
		}
		fmt.Printf("digest: %s\n", up.Digest)
		fmt.Printf("format: %s  rows: %d  columns: %d  bytes: %d\n",
			up.Summary.Format, up.Summary.RowCount, len(up.Summary.Columns), up.Summary.SizeBytes)
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadName, "name", "", "dataset name (default: file name)")
	rootCmd.AddCommand(uploadCmd)
}
