// Package cli implements the verdict command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/verdictlabs/verdict/internal/daemon"
	"github.com/verdictlabs/verdict/internal/infra/sqlite"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "verdict",
	Short: "Account credit ledger and reward-tier service",
	Long: `verdict runs the marketplace credit core: the account ledger with
idempotent deductions and refunds, the reputation tier engine, and the
payout pipeline that converts earned credits to cash.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config file (default $VERDICT_HOME/config.toml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openStore opens the configured SQLite store for the read-only inspection
// commands. The caller closes it.
func openStore() (*sqlite.DB, error) {
	cfg, err := daemon.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	return db, nil
}
