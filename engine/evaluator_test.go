// ABOUTME: Tests for pure condition evaluation and eligibility queries
// ABOUTME: Boundary cases use >= semantics throughout
package engine

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/harperreed/oppflow/db"
	"github.com/harperreed/oppflow/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDatabase failed: %v", err)
	}
	return database
}

// backdate shifts the open interval's entered_at into the past so
// elapsed-time conditions can be tested without waiting.
func backdate(t *testing.T, database *sql.DB, oppID string, age time.Duration) {
	t.Helper()

	_, err := database.Exec(`
		UPDATE lifecycle_intervals SET entered_at = ?
		WHERE opportunity_id = ? AND exited_at IS NULL
	`, time.Now().UTC().Add(-age), oppID)
	if err != nil {
		t.Fatalf("backdate failed: %v", err)
	}
}

func timeRule(hours float64) models.TransitionRule {
	return models.TransitionRule{
		RuleName:  "qualified_to_outreach",
		FromState: models.StateQualified,
		ToState:   models.StateOutreach,
		Condition: models.TimeCondition{Hours: &hours},
		Active:    true,
	}
}

func TestEvaluateTimeBoundary(t *testing.T) {
	rule := timeRule(2)

	atThreshold := Snapshot{SecondsInState: 7200}
	if !Evaluate(rule, atThreshold) {
		t.Error("Exactly at the threshold should be eligible")
	}

	justUnder := Snapshot{SecondsInState: 7199}
	if Evaluate(rule, justUnder) {
		t.Error("One second under the threshold should not be eligible")
	}

	over := Snapshot{SecondsInState: 7201}
	if !Evaluate(rule, over) {
		t.Error("Over the threshold should be eligible")
	}
}

func TestEvaluateActivityUsesTimeInStateWithoutActivity(t *testing.T) {
	rule := models.TransitionRule{
		FromState: models.StateEngaged,
		ToState:   models.StateDormant,
		Condition: models.ActivityCondition{DaysInactive: 30},
	}

	if !Evaluate(rule, Snapshot{SecondsInState: 30 * 86400}) {
		t.Error("30 days in state with no activity data should be eligible")
	}
	if Evaluate(rule, Snapshot{SecondsInState: 30*86400 - 1}) {
		t.Error("Just under 30 days should not be eligible")
	}
}

func TestEvaluateActivityResetsOnRecordedActivity(t *testing.T) {
	rule := models.TransitionRule{
		FromState: models.StateEngaged,
		ToState:   models.StateDormant,
		Condition: models.ActivityCondition{DaysInactive: 30},
	}

	entered := time.Now().UTC().Add(-40 * 24 * time.Hour)
	recent := entered.Add(20 * 24 * time.Hour) // activity 20 days ago

	snap := Snapshot{
		EnteredAt:      entered,
		SecondsInState: 40 * 86400,
		Metadata:       models.IntervalMetadata{LastActivityAt: &recent},
	}
	if Evaluate(rule, snap) {
		t.Error("Activity 20 days ago should reset the 30-day inactivity clock")
	}

	stale := entered.Add(5 * 24 * time.Hour) // activity 35 days ago
	snap.Metadata.LastActivityAt = &stale
	if !Evaluate(rule, snap) {
		t.Error("Activity 35 days ago should leave the opportunity eligible")
	}
}

func TestEvaluateScoreBoundaries(t *testing.T) {
	maxScore := 100.0
	rule := models.TransitionRule{
		FromState: models.StateEngaged,
		ToState:   models.StateQualified,
		Condition: models.ScoreCondition{ScoreField: "quality_score", MinScore: 70, MaxScore: &maxScore},
	}

	snapWith := func(score float64) Snapshot {
		return Snapshot{Metadata: models.IntervalMetadata{QualityScore: &score}}
	}

	if Evaluate(rule, snapWith(69)) {
		t.Error("69 should be below the range")
	}
	if !Evaluate(rule, snapWith(70)) {
		t.Error("min_score exactly should be eligible")
	}
	if !Evaluate(rule, snapWith(100)) {
		t.Error("max_score exactly should be eligible")
	}
	if Evaluate(rule, snapWith(101)) {
		t.Error("101 should be above the range")
	}
}

func TestEvaluateScoreMinOnly(t *testing.T) {
	rule := models.TransitionRule{
		Condition: models.ScoreCondition{ScoreField: "quality_score", MinScore: 70},
	}

	score := 250.0
	if !Evaluate(rule, Snapshot{Metadata: models.IntervalMetadata{QualityScore: &score}}) {
		t.Error("Any score at or above min should be eligible without max_score")
	}
}

func TestEvaluateScoreMissingField(t *testing.T) {
	rule := models.TransitionRule{
		Condition: models.ScoreCondition{ScoreField: "quality_score", MinScore: 70},
	}

	if Evaluate(rule, Snapshot{}) {
		t.Error("Missing score field should never be eligible")
	}
}

func TestEvaluateEventBoundaries(t *testing.T) {
	rule := models.TransitionRule{
		Condition: models.EventCondition{MaxAttempts: 5, Flags: map[string]bool{"no_response": true}},
	}

	snapWith := func(attempts int64, noResponse bool) Snapshot {
		return Snapshot{Metadata: models.IntervalMetadata{
			AttemptsCount: &attempts,
			NoResponse:    &noResponse,
		}}
	}

	if !Evaluate(rule, snapWith(5, true)) {
		t.Error("attempts_count == max_attempts with matching flag should be eligible")
	}
	if Evaluate(rule, snapWith(4, true)) {
		t.Error("max_attempts - 1 should not be eligible")
	}
	if Evaluate(rule, snapWith(5, false)) {
		t.Error("A recorded response should disqualify even at the attempt threshold")
	}
	if Evaluate(rule, snapWith(9, false)) {
		t.Error("A recorded response should disqualify above the attempt threshold too")
	}
}

func TestEvaluateEventMissingData(t *testing.T) {
	rule := models.TransitionRule{
		Condition: models.EventCondition{MaxAttempts: 5, Flags: map[string]bool{"no_response": true}},
	}

	if Evaluate(rule, Snapshot{}) {
		t.Error("No attempts_count should never be eligible")
	}

	attempts := int64(5)
	noFlag := Snapshot{Metadata: models.IntervalMetadata{AttemptsCount: &attempts}}
	if Evaluate(rule, noFlag) {
		t.Error("A required flag that is absent should not match")
	}
}

func TestFindEligible(t *testing.T) {
	database := openTestDB(t)
	defer database.Close()

	store := db.NewStateStore(database)
	evaluator := NewEvaluator(store)
	ctx := context.Background()

	// Three qualified opportunities at different ages, one engaged.
	for _, id := range []string{"opp-old", "opp-exact", "opp-new"} {
		if _, err := store.CreateInitialState(ctx, id, models.StateQualified, "test"); err != nil {
			t.Fatalf("CreateInitialState failed: %v", err)
		}
	}
	if _, err := store.CreateInitialState(ctx, "opp-other", models.StateEngaged, "test"); err != nil {
		t.Fatalf("CreateInitialState failed: %v", err)
	}

	backdate(t, database, "opp-old", 3*time.Hour)
	backdate(t, database, "opp-exact", 2*time.Hour+time.Second)
	backdate(t, database, "opp-new", time.Hour)

	eligible, checked, err := evaluator.FindEligible(ctx, timeRule(2))
	if err != nil {
		t.Fatalf("FindEligible failed: %v", err)
	}

	if checked != 3 {
		t.Errorf("Expected 3 candidates checked, got %d", checked)
	}
	if len(eligible) != 2 {
		t.Fatalf("Expected 2 eligible, got %d", len(eligible))
	}

	got := map[string]bool{}
	for _, c := range eligible {
		got[c.OpportunityID] = true
		if c.Snapshot.SecondsInState < 7200 {
			t.Errorf("Eligible snapshot below threshold: %v", c.Snapshot.SecondsInState)
		}
	}
	if !got["opp-old"] || !got["opp-exact"] {
		t.Errorf("Unexpected eligible set: %v", got)
	}
}
