package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/verdictlabs/verdict/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verdict service",
	Long: `Start the credit core as a long-running service: HTTP API, Prometheus
metrics, and the background payout reconciler. Stops cleanly on SIGINT or
SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.Load(cfgPath)
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}
