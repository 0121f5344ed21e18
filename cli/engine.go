// ABOUTME: Engine CLI commands
// ABOUTME: Runs the auto-transition batch and reports statistics
package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/harperreed/oppflow/db"
	"github.com/harperreed/oppflow/engine"
)

// RunCommand executes one auto-transition batch run.
func RunCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("engine run", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "Report what would transition without mutating anything")
	ruleName := fs.String("rule", "", "Run one named rule instead of all active rules")
	_ = fs.Parse(args)

	registry := db.NewRuleRegistry(database)
	store := db.NewStateStore(database)

	var orchestrator *engine.Orchestrator
	if *dryRun {
		orchestrator = engine.NewDryRunOrchestrator(registry, store)
	} else {
		orchestrator = engine.NewOrchestrator(registry, store)
	}

	// Ctrl-C cancels between opportunities; no transition is left
	// half-applied.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var result *engine.RunResult
	var err error
	if *ruleName != "" {
		result, err = orchestrator.RunSpecific(ctx, *ruleName)
	} else {
		result, err = orchestrator.RunAll(ctx)
	}
	if err != nil && result == nil {
		return fmt.Errorf("run failed: %w", err)
	}

	mode := "live"
	if result.DryRun {
		mode = "dry-run"
	}
	fmt.Printf("Run %s (%s)\n", result.RunID, mode)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RULE\tFROM\tTO\tCHECKED\tELIGIBLE\tTRANSITIONED\tFAILED")
	for _, r := range result.ByRule {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.RuleName, r.FromState, r.ToState, r.Checked, r.Eligible, r.Transitioned, r.Failed)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("Total: %d checked, %d eligible, %d transitioned, %d failed\n",
		result.Checked, result.Eligible, result.Transitioned, result.Failed)

	for _, failure := range result.Failures {
		fmt.Printf("  ✗ %s (rule %s): %s\n", failure.OpportunityID, failure.RuleName, failure.Error)
	}

	if err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	return nil
}

// AnalyticsCommand prints time-in-state aggregates and pipeline counts.
func AnalyticsCommand(database *sql.DB, _ []string) error {
	analytics := db.NewAnalyticsRepository(database)
	ctx := context.Background()

	states, err := analytics.GetStateAnalytics(ctx)
	if err != nil {
		return fmt.Errorf("failed to load analytics: %w", err)
	}

	counts, err := analytics.GetCurrentStateCounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pipeline counts: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tCURRENT\tCOMPLETED\tAVG SECONDS\tMEDIAN SECONDS")
	seen := make(map[string]bool)
	for _, s := range states {
		seen[s.State] = true
		fmt.Fprintf(w, "%s\t%d\t%d\t%.0f\t%.0f\n",
			s.State, counts[s.State], s.CompletedIntervals,
			s.AverageDurationSeconds, s.MedianDurationSeconds)
	}
	for state, count := range counts {
		if !seen[state] {
			fmt.Fprintf(w, "%s\t%d\t0\t-\t-\n", state, count)
		}
	}
	return w.Flush()
}
