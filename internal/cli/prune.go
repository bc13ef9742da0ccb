package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired jobs and their artifacts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := rt.dispatcher.Prune(context.Background())
		fmt.Printf("Pruned %d expired job(s)\n", n)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		return nil
	},
}
