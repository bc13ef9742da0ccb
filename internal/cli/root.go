// Package cli provides the command-line interface for reportd.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go-report-pipeline/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	envFile string

	// Shared runtime, built before every command
	rt         *runtime
	logCleanup func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "reportd",
	Short: "Asynchronous bulk report pipeline",
	Long: `reportd queues long-running CSV exports, runs them in detached workers
and serves progress, paged previews and downloads over HTTP.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for help
		if cmd.Name() == "help" {
			return nil
		}

		if envFile != "" {
			config.LoadDotEnv(envFile)
		} else {
			config.LoadDotEnv()
		}
		cfg := config.Load()

		logger, cleanup := config.SetupLogger(cfg)
		logCleanup = cleanup

		var err error
		if rt, err = newRuntime(cfg, logger); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rt != nil {
			if err := rt.close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
		if logCleanup != nil {
			logCleanup()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment from this file instead of .env")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(pruneCmd)
}
