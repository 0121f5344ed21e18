// ABOUTME: Tests for the lifecycle interval state store
// ABOUTME: Covers the open-interval invariant, history ordering, and transitions
package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/oppflow/models"
)

func TestCreateInitialState(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStateStore(db)
	ctx := context.Background()

	interval, err := store.CreateInitialState(ctx, "opp-1", models.StateDiscovered, "imported from feed")
	if err != nil {
		t.Fatalf("CreateInitialState failed: %v", err)
	}

	if interval.ID == uuid.Nil {
		t.Error("Interval ID was not set")
	}
	if !interval.IsOpen() {
		t.Error("Initial interval should be open")
	}
	if interval.State != models.StateDiscovered {
		t.Errorf("Expected state discovered, got %s", interval.State)
	}

	count, err := store.CountOpenIntervals(ctx, "opp-1")
	if err != nil {
		t.Fatalf("CountOpenIntervals failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 open interval, got %d", count)
	}
}

func TestCreateInitialStateAlreadyExists(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStateStore(db)
	ctx := context.Background()

	if _, err := store.CreateInitialState(ctx, "opp-1", models.StateDiscovered, "test"); err != nil {
		t.Fatalf("CreateInitialState failed: %v", err)
	}

	_, err := store.CreateInitialState(ctx, "opp-1", models.StateQualified, "test")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateInitialStateInvalidState(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStateStore(db)

	_, err := store.CreateInitialState(context.Background(), "opp-1", "bogus", "test")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}

func TestGetCurrentStateNotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStateStore(db)

	_, err := store.GetCurrentState(context.Background(), "nobody")
	if !errors.Is(err, ErrNoCurrentState) {
		t.Errorf("Expected ErrNoCurrentState, got %v", err)
	}
}

func TestTransition(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStateStore(db)
	ctx := context.Background()

	if _, err := store.CreateInitialState(ctx, "opp-1", models.StateDiscovered, "test"); err != nil {
		t.Fatalf("CreateInitialState failed: %v", err)
	}

	next, err := store.Transition(ctx, "opp-1", models.StateQualified,
		models.TriggerManual, "fit confirmed", "alice", nil)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	if next.State != models.StateQualified {
		t.Errorf("Expected state qualified, got %s", next.State)
	}
	if next.PreviousState != models.StateDiscovered {
		t.Errorf("Expected previous_state discovered, got %s", next.PreviousState)
	}
	if next.TriggeredBy != "alice" {
		t.Errorf("Expected triggered_by alice, got %s", next.TriggeredBy)
	}

	// Invariant: still exactly one open interval.
	count, err := store.CountOpenIntervals(ctx, "opp-1")
	if err != nil {
		t.Fatalf("CountOpenIntervals failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 open interval after transition, got %d", count)
	}

	// The closed interval records where the opportunity went.
	history, err := store.GetHistory(ctx, "opp-1")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 intervals, got %d", len(history))
	}

	closed := history[0]
	if closed.ExitedAt == nil {
		t.Fatal("First interval should be closed")
	}
	if closed.NextState != models.StateQualified {
		t.Errorf("Expected next_state qualified, got %s", closed.NextState)
	}
	if closed.DurationSeconds == nil {
		t.Error("DurationSeconds was not set on the closed interval")
	}
}

func TestTransitionNoCurrentState(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStateStore(db)

	_, err := store.Transition(context.Background(), "nobody", models.StateQualified,
		models.TriggerManual, "test", "", nil)
	if !errors.Is(err, ErrNoCurrentState) {
		t.Errorf("Expected ErrNoCurrentState, got %v", err)
	}
}

func TestTransitionInvalidState(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStateStore(db)
	ctx := context.Background()

	if _, err := store.CreateInitialState(ctx, "opp-1", models.StateDiscovered, "test"); err != nil {
		t.Fatalf("CreateInitialState failed: %v", err)
	}

	_, err := store.Transition(ctx, "opp-1", "bogus", models.TriggerManual, "test", "", nil)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}

func TestTransitionCarriesMetadataForward(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStateStore(db)
	ctx := context.Background()

	if _, err := store.CreateInitialState(ctx, "opp-1", models.StateEngaged, "test"); err != nil {
		t.Fatalf("CreateInitialState failed: %v", err)
	}

	score := 85.0
	if err := store.UpdateMetadata(ctx, "opp-1", models.IntervalMetadata{QualityScore: &score}); err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}

	next, err := store.Transition(ctx, "opp-1", models.StateDormant,
		models.TriggerManual, "test", "", nil)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	if next.Metadata.QualityScore == nil || *next.Metadata.QualityScore != 85.0 {
		t.Errorf("Expected quality_score 85 carried forward, got %v", next.Metadata.QualityScore)
	}
}

func TestTransitionFromConcurrentModification(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStateStore(db)
	ctx := context.Background()

	if _, err := store.CreateInitialState(ctx, "opp-1", models.StateQualified, "test"); err != nil {
		t.Fatalf("CreateInitialState failed: %v", err)
	}

	// A manual transition lands first.
	if _, err := store.Transition(ctx, "opp-1", models.StateClosed,
		models.TriggerManual, "closed by hand", "alice", nil); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	// The auto path still believes the opportunity is qualified.
	_, err := store.TransitionFrom(ctx, "opp-1", models.StateQualified, models.StateOutreach,
		models.TriggerAuto, "qualified_to_outreach", "orchestrator", nil)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("Expected ErrConcurrentModification, got %v", err)
	}

	count, err := store.CountOpenIntervals(ctx, "opp-1")
	if err != nil {
		t.Fatalf("CountOpenIntervals failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 open interval after the conflict, got %d", count)
	}
}

func TestConcurrentTransitionsOneWinner(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStateStore(db)
	ctx := context.Background()

	if _, err := store.CreateInitialState(ctx, "opp-1", models.StateQualified, "test"); err != nil {
		t.Fatalf("CreateInitialState failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	targets := []string{models.StateOutreach, models.StateClosed}

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = store.TransitionFrom(ctx, "opp-1", models.StateQualified,
				targets[i], models.TriggerAuto, "race", "", nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrConcurrentModification) {
			t.Errorf("Expected ErrConcurrentModification for the loser, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("Expected exactly one winner, got %d", succeeded)
	}

	count, err := store.CountOpenIntervals(ctx, "opp-1")
	if err != nil {
		t.Fatalf("CountOpenIntervals failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Invariant broken: %d open intervals", count)
	}
}

func TestGetHistoryOrderingAndContinuity(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStateStore(db)
	ctx := context.Background()

	if _, err := store.CreateInitialState(ctx, "opp-1", models.StateDiscovered, "test"); err != nil {
		t.Fatalf("CreateInitialState failed: %v", err)
	}

	steps := []string{models.StateQualified, models.StateOutreach, models.StateEngaged}
	for _, state := range steps {
		if _, err := store.Transition(ctx, "opp-1", state, models.TriggerManual, "step", "", nil); err != nil {
			t.Fatalf("Transition to %s failed: %v", state, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	history, err := store.GetHistory(ctx, "opp-1")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("Expected 4 intervals, got %d", len(history))
	}

	for i := 1; i < len(history); i++ {
		prev, curr := history[i-1], history[i]

		if !prev.EnteredAt.Before(curr.EnteredAt) {
			t.Errorf("History not strictly ascending at index %d", i)
		}
		if prev.ExitedAt == nil {
			t.Fatalf("Interval %d should be closed", i-1)
		}
		// No gaps, no overlaps.
		if !prev.ExitedAt.Equal(curr.EnteredAt) {
			t.Errorf("Gap between interval %d and %d: exited %v, entered %v",
				i-1, i, prev.ExitedAt, curr.EnteredAt)
		}
		if prev.NextState != curr.State {
			t.Errorf("Denormalized next_state mismatch at index %d: %s vs %s",
				i, prev.NextState, curr.State)
		}
		if curr.PreviousState != prev.State {
			t.Errorf("Denormalized previous_state mismatch at index %d: %s vs %s",
				i, curr.PreviousState, prev.State)
		}
	}

	if history[len(history)-1].ExitedAt != nil {
		t.Error("Last interval should be open")
	}
}

func TestGetHistoryPage(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStateStore(db)
	ctx := context.Background()

	if _, err := store.CreateInitialState(ctx, "opp-1", models.StateDiscovered, "test"); err != nil {
		t.Fatalf("CreateInitialState failed: %v", err)
	}
	for _, state := range []string{models.StateQualified, models.StateOutreach} {
		if _, err := store.Transition(ctx, "opp-1", state, models.TriggerManual, "step", "", nil); err != nil {
			t.Fatalf("Transition failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	page, err := store.GetHistoryPage(ctx, "opp-1", 2, 0)
	if err != nil {
		t.Fatalf("GetHistoryPage failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("Expected 2 intervals, got %d", len(page))
	}
	if page[0].State != models.StateDiscovered {
		t.Errorf("Expected first page to start at discovered, got %s", page[0].State)
	}

	rest, err := store.GetHistoryPage(ctx, "opp-1", 2, 2)
	if err != nil {
		t.Fatalf("GetHistoryPage failed: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("Expected 1 interval on second page, got %d", len(rest))
	}
	if rest[0].State != models.StateOutreach {
		t.Errorf("Expected second page to hold outreach, got %s", rest[0].State)
	}
}

func TestListOpenByState(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStateStore(db)
	ctx := context.Background()

	for _, id := range []string{"opp-1", "opp-2"} {
		if _, err := store.CreateInitialState(ctx, id, models.StateQualified, "test"); err != nil {
			t.Fatalf("CreateInitialState failed: %v", err)
		}
	}
	if _, err := store.CreateInitialState(ctx, "opp-3", models.StateEngaged, "test"); err != nil {
		t.Fatalf("CreateInitialState failed: %v", err)
	}

	qualified, err := store.ListOpenByState(ctx, models.StateQualified)
	if err != nil {
		t.Fatalf("ListOpenByState failed: %v", err)
	}
	if len(qualified) != 2 {
		t.Errorf("Expected 2 qualified opportunities, got %d", len(qualified))
	}

	closed, err := store.ListOpenByState(ctx, models.StateClosed)
	if err != nil {
		t.Fatalf("ListOpenByState failed: %v", err)
	}
	if len(closed) != 0 {
		t.Errorf("Expected 0 closed opportunities, got %d", len(closed))
	}
}

func TestUpdateMetadataNoCurrentState(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStateStore(db)

	err := store.UpdateMetadata(context.Background(), "nobody", models.IntervalMetadata{})
	if !errors.Is(err, ErrNoCurrentState) {
		t.Errorf("Expected ErrNoCurrentState, got %v", err)
	}
}
