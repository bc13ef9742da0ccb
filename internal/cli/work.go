package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var workJobID string

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run the worker for one queued job",
	Long: `Run a single report job to completion. This is what the process spawn
mode executes for every new job; it can also be run by hand.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if workJobID == "" {
			return fmt.Errorf("--job is required")
		}
		return rt.worker.Run(context.Background(), workJobID)
	},
}

func init() {
	workCmd.Flags().StringVar(&workJobID, "job", "", "job ID to run")
}
