// ABOUTME: State CLI commands
// ABOUTME: Human-friendly commands for inspecting and moving opportunities
package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/harperreed/oppflow/db"
	"github.com/harperreed/oppflow/models"
)

// InitStateCommand opens the initial state for an opportunity.
func InitStateCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("state init", flag.ExitOnError)
	oppID := fs.String("opportunity", "", "Opportunity ID (required)")
	state := fs.String("state", models.StateDiscovered, "Initial state")
	reason := fs.String("reason", "initial state", "Audit reason")
	_ = fs.Parse(args)

	if *oppID == "" {
		return fmt.Errorf("--opportunity is required")
	}

	store := db.NewStateStore(database)
	interval, err := store.CreateInitialState(context.Background(), *oppID, *state, *reason)
	if err != nil {
		return fmt.Errorf("failed to create initial state: %w", err)
	}

	fmt.Printf("✓ Opportunity %s entered %s (interval %s)\n", *oppID, interval.State, interval.ID)
	return nil
}

// CurrentStateCommand prints an opportunity's current state.
func CurrentStateCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("state current", flag.ExitOnError)
	oppID := fs.String("opportunity", "", "Opportunity ID (required)")
	_ = fs.Parse(args)

	if *oppID == "" {
		return fmt.Errorf("--opportunity is required")
	}

	store := db.NewStateStore(database)
	interval, err := store.GetCurrentState(context.Background(), *oppID)
	if err != nil {
		return err
	}

	fmt.Printf("Opportunity: %s\n", interval.OpportunityID)
	fmt.Printf("  State:     %s\n", interval.State)
	fmt.Printf("  Since:     %s (%s)\n", interval.EnteredAt.Format(time.RFC3339),
		time.Since(interval.EnteredAt).Round(time.Second))
	fmt.Printf("  Trigger:   %s (%s)\n", interval.TriggerType, interval.TriggerReason)
	if metadataJSON, err := json.Marshal(interval.Metadata); err == nil && string(metadataJSON) != "{}" {
		fmt.Printf("  Metadata:  %s\n", metadataJSON)
	}

	return nil
}

// HistoryCommand prints an opportunity's lifecycle history, oldest first.
func HistoryCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("state history", flag.ExitOnError)
	oppID := fs.String("opportunity", "", "Opportunity ID (required)")
	limit := fs.Int("limit", 0, "Page size (0 = full history)")
	offset := fs.Int("offset", 0, "Page offset")
	_ = fs.Parse(args)

	if *oppID == "" {
		return fmt.Errorf("--opportunity is required")
	}

	store := db.NewStateStore(database)

	var history []models.LifecycleInterval
	var err error
	if *limit > 0 || *offset > 0 {
		pageLimit := *limit
		if pageLimit == 0 {
			pageLimit = -1
		}
		history, err = store.GetHistoryPage(context.Background(), *oppID, pageLimit, *offset)
	} else {
		history, err = store.GetHistory(context.Background(), *oppID)
	}
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	if len(history) == 0 {
		fmt.Printf("No history for opportunity %s\n", *oppID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tENTERED\tEXITED\tDURATION\tTRIGGER\tREASON")
	for _, interval := range history {
		exited := "-"
		duration := "open"
		if interval.ExitedAt != nil {
			exited = interval.ExitedAt.Format(time.RFC3339)
		}
		if interval.DurationSeconds != nil {
			duration = (time.Duration(*interval.DurationSeconds) * time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			interval.State,
			interval.EnteredAt.Format(time.RFC3339),
			exited,
			duration,
			interval.TriggerType,
			interval.TriggerReason,
		)
	}
	return w.Flush()
}

// TransitionCommand manually transitions an opportunity.
func TransitionCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("state transition", flag.ExitOnError)
	oppID := fs.String("opportunity", "", "Opportunity ID (required)")
	toState := fs.String("to", "", "Target state (required)")
	reason := fs.String("reason", "", "Audit reason (required)")
	by := fs.String("by", "", "Actor performing the transition")
	metadataJSON := fs.String("metadata", "", "Metadata JSON for the new interval")
	_ = fs.Parse(args)

	if *oppID == "" {
		return fmt.Errorf("--opportunity is required")
	}
	if *toState == "" {
		return fmt.Errorf("--to is required")
	}
	if *reason == "" {
		return fmt.Errorf("--reason is required")
	}

	var metadata *models.IntervalMetadata
	if *metadataJSON != "" {
		metadata = &models.IntervalMetadata{}
		if err := json.Unmarshal([]byte(*metadataJSON), metadata); err != nil {
			return fmt.Errorf("invalid --metadata: %w", err)
		}
	}

	store := db.NewStateStore(database)
	interval, err := store.Transition(context.Background(), *oppID, *toState,
		models.TriggerManual, *reason, *by, metadata)
	if err != nil {
		return fmt.Errorf("transition failed: %w", err)
	}

	fmt.Printf("✓ Opportunity %s: %s → %s\n", *oppID, interval.PreviousState, interval.State)
	return nil
}
