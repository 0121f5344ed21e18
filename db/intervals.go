// ABOUTME: State store for opportunity lifecycle intervals
// ABOUTME: Atomic transitions that close the open interval and open the next
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/oppflow/models"
	"github.com/mattn/go-sqlite3"
)

const intervalColumns = `id, opportunity_id, state, sub_state, entered_at, exited_at,
	duration_seconds, trigger_type, trigger_reason, triggered_by,
	previous_state, next_state, metadata, created_at, updated_at`

// StateStore provides durable access to lifecycle intervals. All writes go
// through single transactions so an opportunity never has zero or two open
// intervals mid-flight.
type StateStore struct {
	db *sql.DB
}

// NewStateStore creates a state store over an open database handle.
func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

// CreateInitialState opens the first interval for an opportunity.
func (s *StateStore) CreateInitialState(ctx context.Context, opportunityID, state, triggerReason string) (*models.LifecycleInterval, error) {
	if !models.IsValidState(state) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}

	now := time.Now().UTC()
	interval := &models.LifecycleInterval{
		ID:            uuid.New(),
		OpportunityID: opportunityID,
		State:         state,
		EnteredAt:     now,
		TriggerType:   models.TriggerSystem,
		TriggerReason: triggerReason,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	metadataJSON, err := json.Marshal(interval.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_intervals (
			id, opportunity_id, state, sub_state, entered_at, exited_at,
			duration_seconds, trigger_type, trigger_reason, triggered_by,
			previous_state, next_state, metadata, created_at, updated_at
		) VALUES (?, ?, ?, NULL, ?, NULL, NULL, ?, ?, NULL, NULL, NULL, ?, ?, ?)
	`, interval.ID.String(), opportunityID, state, interval.EnteredAt,
		interval.TriggerType, triggerReason, string(metadataJSON),
		interval.CreatedAt, interval.UpdatedAt)

	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, opportunityID)
	}
	if err != nil {
		return nil, err
	}

	return interval, nil
}

// GetCurrentState returns the open interval for an opportunity, or
// ErrNoCurrentState when there is none.
func (s *StateStore) GetCurrentState(ctx context.Context, opportunityID string) (*models.LifecycleInterval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+intervalColumns+`
		FROM lifecycle_intervals
		WHERE opportunity_id = ? AND exited_at IS NULL
	`, opportunityID)

	interval, err := scanInterval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoCurrentState, opportunityID)
	}
	return interval, err
}

// GetHistory returns every interval for an opportunity, ordered by
// entered_at ascending.
func (s *StateStore) GetHistory(ctx context.Context, opportunityID string) ([]models.LifecycleInterval, error) {
	return s.GetHistoryPage(ctx, opportunityID, -1, 0)
}

// GetHistoryPage returns one page of an opportunity's history, ordered by
// entered_at ascending. A negative limit returns everything from offset on.
func (s *StateStore) GetHistoryPage(ctx context.Context, opportunityID string, limit, offset int) ([]models.LifecycleInterval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+intervalColumns+`
		FROM lifecycle_intervals
		WHERE opportunity_id = ?
		ORDER BY entered_at ASC
		LIMIT ? OFFSET ?
	`, opportunityID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var history []models.LifecycleInterval
	for rows.Next() {
		interval, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, *interval)
	}

	return history, rows.Err()
}

// ListOpenByState returns every opportunity's open interval in the given
// state. This is the candidate query behind FindEligible.
func (s *StateStore) ListOpenByState(ctx context.Context, state string) ([]models.LifecycleInterval, error) {
	if !models.IsValidState(state) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+intervalColumns+`
		FROM lifecycle_intervals
		WHERE state = ? AND exited_at IS NULL
		ORDER BY entered_at ASC
	`, state)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var intervals []models.LifecycleInterval
	for rows.Next() {
		interval, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, *interval)
	}

	return intervals, rows.Err()
}

// CountOpenIntervals counts open intervals for one opportunity. Anything
// other than 0 or 1 means the invariant is broken.
func (s *StateStore) CountOpenIntervals(ctx context.Context, opportunityID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM lifecycle_intervals
		WHERE opportunity_id = ? AND exited_at IS NULL
	`, opportunityID).Scan(&count)
	return count, err
}

// Transition closes the opportunity's open interval and opens a new one in
// toState, atomically. A nil metadata carries the previous interval's
// metadata forward so score and activity facts survive state changes.
func (s *StateStore) Transition(ctx context.Context, opportunityID, toState, triggerType, triggerReason, triggeredBy string, metadata *models.IntervalMetadata) (*models.LifecycleInterval, error) {
	return s.transition(ctx, opportunityID, "", toState, triggerType, triggerReason, triggeredBy, metadata)
}

// TransitionFrom is Transition with a precondition: the open interval must
// still be in fromState. The auto executor uses this so a transition applied
// after its snapshot was taken fails with ErrConcurrentModification instead
// of firing against the wrong state.
func (s *StateStore) TransitionFrom(ctx context.Context, opportunityID, fromState, toState, triggerType, triggerReason, triggeredBy string, metadata *models.IntervalMetadata) (*models.LifecycleInterval, error) {
	if !models.IsValidState(fromState) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, fromState)
	}
	return s.transition(ctx, opportunityID, fromState, toState, triggerType, triggerReason, triggeredBy, metadata)
}

func (s *StateStore) transition(ctx context.Context, opportunityID, fromState, toState, triggerType, triggerReason, triggeredBy string, metadata *models.IntervalMetadata) (*models.LifecycleInterval, error) {
	if !models.IsValidState(toState) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, toState)
	}
	if !models.IsValidTriggerType(triggerType) {
		return nil, fmt.Errorf("invalid trigger type: %q", triggerType)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanInterval(tx.QueryRowContext(ctx, `
		SELECT `+intervalColumns+`
		FROM lifecycle_intervals
		WHERE opportunity_id = ? AND exited_at IS NULL
	`, opportunityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoCurrentState, opportunityID)
	}
	if err != nil {
		return nil, err
	}

	if fromState != "" && current.State != fromState {
		return nil, fmt.Errorf("%w: %s is in %q, expected %q",
			ErrConcurrentModification, opportunityID, current.State, fromState)
	}

	now := time.Now().UTC()
	duration := int64(now.Sub(current.EnteredAt).Seconds())

	// Close the open interval. The exited_at IS NULL guard makes a racing
	// writer's close visible as zero affected rows.
	result, err := tx.ExecContext(ctx, `
		UPDATE lifecycle_intervals
		SET exited_at = ?, duration_seconds = ?, next_state = ?, updated_at = ?
		WHERE id = ? AND exited_at IS NULL
	`, now, duration, toState, now, current.ID.String())
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrConcurrentModification, opportunityID)
	}

	newMetadata := current.Metadata
	if metadata != nil {
		newMetadata = *metadata
	}
	metadataJSON, err := json.Marshal(newMetadata)
	if err != nil {
		return nil, err
	}

	next := &models.LifecycleInterval{
		ID:            uuid.New(),
		OpportunityID: opportunityID,
		State:         toState,
		EnteredAt:     now,
		TriggerType:   triggerType,
		TriggerReason: triggerReason,
		TriggeredBy:   triggeredBy,
		PreviousState: current.State,
		Metadata:      newMetadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var triggeredByArg interface{}
	if triggeredBy != "" {
		triggeredByArg = triggeredBy
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lifecycle_intervals (
			id, opportunity_id, state, sub_state, entered_at, exited_at,
			duration_seconds, trigger_type, trigger_reason, triggered_by,
			previous_state, next_state, metadata, created_at, updated_at
		) VALUES (?, ?, ?, NULL, ?, NULL, NULL, ?, ?, ?, ?, NULL, ?, ?, ?)
	`, next.ID.String(), opportunityID, toState, next.EnteredAt,
		triggerType, triggerReason, triggeredByArg, current.State,
		string(metadataJSON), next.CreatedAt, next.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s", ErrConcurrentModification, opportunityID)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return next, nil
}

// UpdateMetadata replaces the metadata on an opportunity's open interval.
// External score and activity feeds write through this.
func (s *StateStore) UpdateMetadata(ctx context.Context, opportunityID string, metadata models.IntervalMetadata) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE lifecycle_intervals
		SET metadata = ?, updated_at = ?
		WHERE opportunity_id = ? AND exited_at IS NULL
	`, string(metadataJSON), time.Now().UTC(), opportunityID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNoCurrentState, opportunityID)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInterval(row rowScanner) (*models.LifecycleInterval, error) {
	var interval models.LifecycleInterval
	var idStr string
	var subState, triggeredBy, previousState, nextState sql.NullString
	var exitedAt sql.NullTime
	var duration sql.NullInt64
	var metadataJSON sql.NullString

	err := row.Scan(
		&idStr,
		&interval.OpportunityID,
		&interval.State,
		&subState,
		&interval.EnteredAt,
		&exitedAt,
		&duration,
		&interval.TriggerType,
		&interval.TriggerReason,
		&triggeredBy,
		&previousState,
		&nextState,
		&metadataJSON,
		&interval.CreatedAt,
		&interval.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	interval.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse interval ID: %w", err)
	}

	if subState.Valid {
		interval.SubState = subState.String
	}
	if triggeredBy.Valid {
		interval.TriggeredBy = triggeredBy.String
	}
	if previousState.Valid {
		interval.PreviousState = previousState.String
	}
	if nextState.Valid {
		interval.NextState = nextState.String
	}
	if exitedAt.Valid {
		t := exitedAt.Time
		interval.ExitedAt = &t
	}
	if duration.Valid {
		d := duration.Int64
		interval.DurationSeconds = &d
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &interval.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse interval metadata: %w", err)
		}
	}

	return &interval, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
