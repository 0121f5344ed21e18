// ABOUTME: Trigger evaluator for transition rule conditions
// ABOUTME: Pure Evaluate over snapshots plus the FindEligible candidate query
package engine

import (
	"context"
	"time"

	"github.com/harperreed/oppflow/db"
	"github.com/harperreed/oppflow/models"
)

// Snapshot is the read-only view of one opportunity's current interval that
// condition evaluation runs against.
type Snapshot struct {
	OpportunityID  string
	State          string
	EnteredAt      time.Time
	SecondsInState float64
	Metadata       models.IntervalMetadata
}

// Candidate pairs an opportunity with the snapshot that made it eligible.
type Candidate struct {
	OpportunityID string
	Snapshot      Snapshot
}

// Evaluate reports whether the rule's condition holds for the snapshot.
// It never mutates state and never performs I/O, so it is safe inside a
// dry run and trivially testable.
func Evaluate(rule models.TransitionRule, snap Snapshot) bool {
	switch c := rule.Condition.(type) {
	case models.TimeCondition:
		return snap.SecondsInState >= c.ThresholdSeconds()

	case models.ActivityCondition:
		// Recorded activity resets the inactivity clock; without activity
		// data the time in state stands in for it.
		elapsed := snap.SecondsInState
		if snap.Metadata.LastActivityAt != nil {
			elapsed = snap.SecondsInState - snap.Metadata.LastActivityAt.Sub(snap.EnteredAt).Seconds()
		}
		return elapsed >= c.ThresholdSeconds()

	case models.ScoreCondition:
		score, ok := snap.Metadata.NumericField(c.ScoreField)
		if !ok {
			return false
		}
		if score < c.MinScore {
			return false
		}
		if c.MaxScore != nil && score > *c.MaxScore {
			return false
		}
		return true

	case models.EventCondition:
		attempts, ok := snap.Metadata.NumericField("attempts_count")
		if !ok || attempts < float64(c.MaxAttempts) {
			return false
		}
		for flag, required := range c.Flags {
			actual, ok := snap.Metadata.BoolField(flag)
			if !ok || actual != required {
				return false
			}
		}
		return true
	}

	// Unreachable for conditions built through ParseCondition.
	return false
}

// Evaluator finds opportunities whose current interval satisfies a rule.
type Evaluator struct {
	store *db.StateStore
}

// NewEvaluator creates an evaluator over the state store.
func NewEvaluator(store *db.StateStore) *Evaluator {
	return &Evaluator{store: store}
}

// FindEligible snapshots every opportunity currently in the rule's
// from_state and returns the ones whose condition holds, along with the
// total number of candidates checked.
func (e *Evaluator) FindEligible(ctx context.Context, rule models.TransitionRule) ([]Candidate, int, error) {
	intervals, err := e.store.ListOpenByState(ctx, rule.FromState)
	if err != nil {
		return nil, 0, err
	}

	now := time.Now().UTC()

	var eligible []Candidate
	for _, interval := range intervals {
		snap := Snapshot{
			OpportunityID:  interval.OpportunityID,
			State:          interval.State,
			EnteredAt:      interval.EnteredAt,
			SecondsInState: now.Sub(interval.EnteredAt).Seconds(),
			Metadata:       interval.Metadata,
		}
		if Evaluate(rule, snap) {
			eligible = append(eligible, Candidate{
				OpportunityID: interval.OpportunityID,
				Snapshot:      snap,
			})
		}
	}

	return eligible, len(intervals), nil
}
