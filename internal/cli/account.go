package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/verdictlabs/verdict/internal/app/tier"
	"github.com/verdictlabs/verdict/internal/infra/observability"
)

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountShowCmd)
	accountCmd.AddCommand(accountLedgerCmd)

	accountLedgerCmd.Flags().IntP("limit", "n", 20, "Maximum entries to show")
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Inspect accounts",
}

// ─── account show ───────────────────────────────────────────────────────────

var accountShowCmd = &cobra.Command{
	Use:   "show ACCOUNT_ID",
	Short: "Show an account's balance, tier, and reputation",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountShow,
}

func runAccountShow(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()
	id := args[0]

	account, err := db.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	rep, err := db.GetReputation(ctx, id)
	if err != nil {
		return err
	}
	tiers := tier.New(db, observability.NewNop(), zerolog.Nop())
	current, err := tiers.TierFor(ctx, id)
	if err != nil {
		return err
	}
	progress, err := tiers.Progress(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("Account:    %s (%s)\n", account.ID, account.Status)
	fmt.Printf("Balance:    %d credits\n", account.Balance)
	fmt.Printf("Tier:       %s (x%s earnings", current.Name, current.Multiplier)
	if current.PayoutOK {
		fmt.Printf(", payouts enabled, min %d credits", current.MinPayout)
	}
	fmt.Println(")")
	fmt.Printf("Judgments:  %d (%d%% consensus)\n", rep.Judgments, rep.ConsensusRate)
	if progress.Next != nil {
		fmt.Printf("Next tier:  %s — %d more judgments, %d more consensus points\n",
			progress.Next.Name, progress.JudgmentsNeeded, progress.ConsensusNeeded)
	}
	return nil
}

// ─── account ledger ─────────────────────────────────────────────────────────

var accountLedgerCmd = &cobra.Command{
	Use:   "ledger ACCOUNT_ID",
	Short: "Show an account's recent ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountLedger,
}

func runAccountLedger(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	limit, _ := cmd.Flags().GetInt("limit")

	entries, err := db.EntriesFor(context.Background(), args[0], limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No ledger entries.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tAMOUNT\tBALANCE\tOK\tREQUEST")
	for _, e := range entries {
		ok := "yes"
		if !e.Success {
			ok = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.Kind, e.Amount, e.BalanceAfter, ok, e.RequestID)
	}
	return w.Flush()
}
