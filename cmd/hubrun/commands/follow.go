package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/pulse/batch"
	"github.com/teranos/hubrun/runner"
	"github.com/teranos/hubrun/sym"
)

// followBatch shows live progress until h finishes, records the run and
// prints its summary. The first Ctrl+C cancels the batch; a second exits.
func followBatch(r *runner.Runner, h *batch.Handle, events <-chan batch.Event, verbosity int) error {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
		case <-h.Done():
			return
		}
		pterm.Warning.Println("Cancelling batch (press Ctrl+C again to force)...")
		go h.Cancel()
		select {
		case <-sigChan:
			pterm.Warning.Println("Force exit - in-flight tasks keep running on the hub")
			os.Exit(130)
		case <-h.Done():
		}
	}()

	total := h.Progress().Total
	var bar *pterm.ProgressbarPrinter
	if total > 0 {
		bar, _ = pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle(fmt.Sprintf("%s batch %s", sym.Pulse, shortID(h.ID()))).
			Start()
	}

	done := 0
	advance := func(p batch.Progress) {
		if bar == nil {
			return
		}
		if n := p.Completed + p.Failed; n > done {
			bar.Add(n - done)
			done = n
		}
	}

loop:
	for {
		select {
		case e, ok := <-events:
			if !ok {
				break loop
			}
			if e.BatchID != h.ID() {
				continue
			}
			switch e.Kind {
			case batch.EventProgress:
				if e.Progress != nil {
					advance(*e.Progress)
				}
			case batch.EventLog:
				if verbosity > 0 {
					pterm.Println(e.Message)
				}
			case batch.EventBatchFinished:
				break loop
			}
		case <-h.Done():
			break loop
		}
	}

	summary := h.Wait()
	advance(batch.Progress{Completed: summary.Completed, Failed: summary.Failed})
	if bar != nil {
		bar.Stop()
	}

	if err := r.Record(summary); err != nil {
		pterm.Warning.Printf("Failed to record batch: %v\n", err)
	}
	printSummary(summary)

	if summary.EngineError != "" {
		return errors.Newf("batch %s stopped: %s", summary.BatchID, summary.EngineError)
	}
	if retry := summary.RetryIndices(); len(retry) > 0 {
		return errors.WithHintf(
			errors.Wrapf(errIncomplete, "%d of %d jobs did not complete", len(retry), summary.Total),
			"hubrun retry %s", summary.BatchID)
	}
	return nil
}

// printSummary renders the outcome of a batch
func printSummary(s batch.BatchSummary) {
	pterm.DefaultSection.Printf("%s Batch %s %s\n", sym.PulseClose, s.BatchID, s.State)

	counts := pterm.TableData{
		{"Total", "Completed", "Failed", "Aborted", "Pending", "Duration"},
		{
			fmt.Sprint(s.Total),
			pterm.Green(s.Completed),
			pterm.Red(s.Failed),
			pterm.Yellow(len(s.AbortedJobs)),
			fmt.Sprint(len(s.PendingJobs)),
			s.FinishedAt.Sub(s.StartedAt).Round(100 * time.Millisecond).String(),
		},
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(counts).Render()

	if len(s.FailedJobs) > 0 {
		failed := pterm.TableData{{"Job", "Kind", "Node", "Message"}}
		for _, f := range s.FailedJobs {
			failed = append(failed, []string{fmt.Sprint(f.Index), string(f.Kind), f.NodeID, f.Message})
		}
		pterm.Println()
		_ = pterm.DefaultTable.WithHasHeader().WithData(failed).Render()
	}
	if len(s.AbortedJobs) > 0 {
		pterm.Info.Printf("Aborted while in flight: %s\n", batch.FormatIndices(s.AbortedJobs))
	}
	if len(s.PendingJobs) > 0 {
		pterm.Info.Printf("Never started: %s\n", batch.FormatIndices(s.PendingJobs))
	}

	if len(s.Consumption) > 0 {
		spend := pterm.TableData{{"Credential", "Fingerprint", "Start", "End", "Consumed"}}
		for _, c := range s.Consumption {
			consumed := "unavailable"
			if c.Available {
				consumed = fmt.Sprintf("%.2f", c.Consumed)
			}
			spend = append(spend, []string{c.CredentialID, c.Fingerprint, formatCredits(c.Start), formatCredits(c.End), consumed})
		}
		pterm.Println()
		_ = pterm.DefaultTable.WithHasHeader().WithData(spend).Render()
	}
}

func formatCredits(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

// shortID truncates an ID to 8 characters for display
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
