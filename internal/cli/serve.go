package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go-report-pipeline/internal/api"
	"go-report-pipeline/internal/api/handler"
	"go-report-pipeline/pkg/router"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the report API. In goroutine spawn mode workers run inside this
process and shutdown waits for them to finish.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides REPORTD_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := rt.cfg.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	if err := rt.outputs.EnsureOutputDirExists(); err != nil {
		return err
	}

	r := router.New(rt.logger)
	api.RegisterRoutes(r, handler.NewReportHandler(rt.dispatcher, rt.logger))

	err := r.ListenAndServe(ctx, addr)
	rt.wait()
	return err
}
