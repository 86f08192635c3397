package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(payoutCmd)
	payoutCmd.AddCommand(payoutListCmd)
	payoutCmd.AddCommand(payoutShowCmd)

	payoutListCmd.Flags().StringP("account", "a", "", "Account to list payouts for")
	payoutListCmd.Flags().IntP("limit", "n", 20, "Maximum payouts to show")
}

var payoutCmd = &cobra.Command{
	Use:   "payout",
	Short: "Inspect payout requests",
}

var payoutListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an account's payout requests",
	RunE:  runPayoutList,
}

func runPayoutList(cmd *cobra.Command, args []string) error {
	account, _ := cmd.Flags().GetString("account")
	if account == "" {
		return fmt.Errorf("--account is required")
	}
	limit, _ := cmd.Flags().GetInt("limit")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	payouts, err := db.PayoutsFor(context.Background(), account, limit)
	if err != nil {
		return err
	}
	if len(payouts) == 0 {
		fmt.Println("No payout requests.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tCREDITS\tNET\tTIER\tSTATUS")
	for _, p := range payouts {
		fmt.Fprintf(w, "%s\t%s\t%d\t$%d.%02d\t%s\t%s\n",
			p.ID, p.CreatedAt.Format("2006-01-02 15:04"), p.Credits,
			p.NetCents/100, p.NetCents%100, p.Tier, p.Status)
	}
	return w.Flush()
}

var payoutShowCmd = &cobra.Command{
	Use:   "show PAYOUT_ID",
	Short: "Show one payout request",
	Args:  cobra.ExactArgs(1),
	RunE:  runPayoutShow,
}

func runPayoutShow(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := db.GetPayout(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Payout:   %s\n", p.ID)
	fmt.Printf("Account:  %s\n", p.AccountID)
	fmt.Printf("Credits:  %d\n", p.Credits)
	fmt.Printf("Gross:    $%d.%02d\n", p.GrossCents/100, p.GrossCents%100)
	fmt.Printf("Fee:      $%d.%02d\n", p.FeeCents/100, p.FeeCents%100)
	fmt.Printf("Net:      $%d.%02d\n", p.NetCents/100, p.NetCents%100)
	fmt.Printf("Tier:     %s\n", p.Tier)
	fmt.Printf("Status:   %s\n", p.Status)
	fmt.Printf("Created:  %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:  %s\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}
