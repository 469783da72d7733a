package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/pulse/batch"
	"github.com/teranos/hubrun/sym"
)

// BudgetCmd shows credit consumption and hub call statistics
var BudgetCmd = &cobra.Command{
	Use:   "budget",
	Short: sym.DB + " Show credit consumption and hub call statistics",
	Long: sym.DB + ` budget — Credit consumption from the ledger

Shows credits consumed over the last 24h, 7d and 30d against the configured
pulse budget limits, hub call statistics and, with --runs, recent batches.

Examples:
  hubrun budget
  hubrun budget --runs 10`,
	Args: cobra.NoArgs,
	RunE: runBudget,
}

var budgetRuns int

func init() {
	BudgetCmd.Flags().IntVar(&budgetRuns, "runs", 0, "Also list the N most recent batches")
}

func runBudget(cmd *cobra.Command, args []string) error {
	r, closeDB, err := newRunner(nil)
	if err != nil {
		return err
	}
	defer closeDB()

	status, err := r.Budget().GetStatus()
	if err != nil {
		return errors.Wrap(err, "failed to read credit ledger")
	}
	limits := r.Budget().GetBudgetLimits()

	pterm.DefaultSection.Println(sym.DB + " Credit consumption")
	windows := pterm.TableData{
		{"Window", "Consumed", "Limit", "Remaining", "Batches"},
		{"24h", credits(status.DailyConsumed), limit(limits.DailyBudgetCredits), remainingCredits(limits.DailyBudgetCredits, status.DailyRemaining), fmt.Sprint(status.DailyRuns)},
		{"7d", credits(status.WeeklyConsumed), limit(limits.WeeklyBudgetCredits), remainingCredits(limits.WeeklyBudgetCredits, status.WeeklyRemaining), fmt.Sprint(status.WeeklyRuns)},
		{"30d", credits(status.MonthlyConsumed), limit(limits.MonthlyBudgetCredits), remainingCredits(limits.MonthlyBudgetCredits, status.MonthlyRemaining), fmt.Sprint(status.MonthlyRuns)},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(windows).Render(); err != nil {
		return err
	}

	since := time.Now().Add(-24 * time.Hour)
	stats, err := r.Usage().GetUsageStats(since)
	if err != nil {
		return errors.Wrap(err, "failed to read call statistics")
	}
	pterm.DefaultSection.Println(sym.Hub + " Hub calls (24h)")
	pterm.Printf("Calls: %d  Success rate: %.1f%%  Avg: %.0fms  Submits: %d\n",
		stats.TotalCalls, stats.SuccessRate*100, stats.AvgDurationMs, stats.Submits)

	breakdown, err := r.Usage().GetOperationBreakdown(since)
	if err != nil {
		return errors.Wrap(err, "failed to read call breakdown")
	}
	if len(breakdown) > 0 {
		ops := pterm.TableData{{"Operation", "Calls", "Failures", "Avg ms"}}
		for _, b := range breakdown {
			ops = append(ops, []string{b.Operation, fmt.Sprint(b.CallCount), fmt.Sprint(b.FailureCount), fmt.Sprintf("%.0f", b.AvgDurationMs)})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(ops).Render(); err != nil {
			return err
		}
	}

	if budgetRuns > 0 {
		runs, err := r.Budget().Store().ListRuns(budgetRuns)
		if err != nil {
			return errors.Wrap(err, "failed to list batches")
		}
		pterm.DefaultSection.Println(sym.Pulse + " Recent batches")
		data := pterm.TableData{{"Batch", "Finished", "State", "Done", "Failed", "Aborted", "Retry"}}
		for _, run := range runs {
			data = append(data, []string{
				run.ID,
				run.FinishedAt.Local().Format("2006-01-02 15:04"),
				run.State,
				fmt.Sprintf("%d/%d", run.Completed, run.Total),
				fmt.Sprint(run.Failed),
				fmt.Sprint(run.Aborted),
				batch.FormatIndices(run.RetryIndices),
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
	}
	return nil
}

func credits(v float64) string { return fmt.Sprintf("%.2f", v) }

func limit(v float64) string {
	if v <= 0 {
		return "unlimited"
	}
	return credits(v)
}

func remainingCredits(limitValue, remaining float64) string {
	if limitValue <= 0 {
		return "-"
	}
	return credits(remaining)
}
