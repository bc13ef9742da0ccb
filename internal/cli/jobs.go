package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"go-report-pipeline/internal/model"
)

var (
	jobsTenant string
	jobsUser   string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List report jobs",
	Long: `List report jobs, newest first.

Examples:
  reportd jobs                       # List all jobs
  reportd jobs --tenant t1 --user u1 # Jobs of one user`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := rt.dispatcher.ListJobs(context.Background(), jobsTenant, jobsUser)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		printJobs(os.Stdout, jobs)
		return nil
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsTenant, "tenant", "", "filter by tenant ID")
	jobsCmd.Flags().StringVar(&jobsUser, "user", "", "filter by user ID")
}

func printJobs(w io.Writer, jobs []*model.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return
	}

	fmt.Fprintf(w, "%-36s %-20s %-10s %-15s %s\n", "ID", "TYPE", "STATUS", "PROGRESS", "CREATED")
	fmt.Fprintln(w, "---------------------------------------------------------------------------------------------------")
	for _, job := range jobs {
		progress := fmt.Sprintf("%d/%d", job.RecordsCompleted, job.RecordsToProcess)
		fmt.Fprintf(w, "%-36s %-20s %-10s %-15s %s\n",
			job.ID, job.Scope.JobType, job.Status, progress, job.CreatedAt.Format("2006-01-02 15:04:05"))
		if job.ErrorMessage != "" {
			fmt.Fprintf(w, "  error: %s\n", job.ErrorMessage)
		}
	}
}
