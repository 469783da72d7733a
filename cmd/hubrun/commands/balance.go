package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hubrun/sym"
)

// BalanceCmd shows the credit balance of each credential
var BalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: sym.Hub + " Show the credit balance of each credential",
	Long: sym.Hub + ` balance — Query the hub for each credential's remaining credits

Credentials are shown by id and fingerprint; api keys are never printed.`,
	Args: cobra.NoArgs,
	RunE: runBalance,
}

func runBalance(cmd *cobra.Command, args []string) error {
	r, closeDB, err := newRunner(nil)
	if err != nil {
		return err
	}
	defer closeDB()

	balances, err := r.Balances(context.Background())
	if err != nil {
		return err
	}

	data := pterm.TableData{{"Credential", "Fingerprint", "Balance"}}
	total, known := 0.0, 0
	for _, b := range balances {
		value := pterm.Red("error: " + b.Error)
		if b.Balance != nil {
			value = fmt.Sprintf("%.2f", *b.Balance)
			total += *b.Balance
			known++
		}
		data = append(data, []string{b.ID, b.Fingerprint, value})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	if len(balances) > 1 {
		pterm.Info.Printf("Total over %d of %d credentials: %.2f\n", known, len(balances), total)
	}
	return nil
}
