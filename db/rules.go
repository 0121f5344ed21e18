// ABOUTME: Rule registry for declarative transition rules
// ABOUTME: Loads, validates, and orders the active rule set
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/oppflow/models"
)

const ruleColumns = `id, rule_name, from_state, to_state, condition_type,
	condition_config, active, priority, created_at, updated_at`

// RuleRegistry provides access to transition rules. The engine reads rules;
// writes are administrative.
type RuleRegistry struct {
	db *sql.DB
}

// NewRuleRegistry creates a rule registry over an open database handle.
func NewRuleRegistry(db *sql.DB) *RuleRegistry {
	return &RuleRegistry{db: db}
}

// GetActiveRules returns the active rules, optionally filtered by
// from_state, ordered by priority descending then rule_name ascending.
// A malformed condition_config fails the whole load: a rule set that cannot
// be parsed is unsafe to evaluate.
func (r *RuleRegistry) GetActiveRules(ctx context.Context, fromState string) ([]models.TransitionRule, error) {
	if fromState != "" && !models.IsValidState(fromState) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, fromState)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM transition_rules
		WHERE active = 1
		ORDER BY priority DESC, rule_name ASC
	`
	args := []interface{}{}
	if fromState != "" {
		query = `
			SELECT ` + ruleColumns + `
			FROM transition_rules
			WHERE active = 1 AND from_state = ?
			ORDER BY priority DESC, rule_name ASC
		`
		args = append(args, fromState)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rules []models.TransitionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}

	return rules, rows.Err()
}

// GetRule returns one rule by name, active or not.
func (r *RuleRegistry) GetRule(ctx context.Context, ruleName string) (*models.TransitionRule, error) {
	rule, err := scanRule(r.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM transition_rules
		WHERE rule_name = ?
	`, ruleName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleName)
	}
	return rule, err
}

// ListRules returns every rule, active or not, in evaluation order.
func (r *RuleRegistry) ListRules(ctx context.Context) ([]models.TransitionRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM transition_rules
		ORDER BY priority DESC, rule_name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rules []models.TransitionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}

	return rules, rows.Err()
}

// CreateRule inserts a new transition rule. Administrative.
func (r *RuleRegistry) CreateRule(ctx context.Context, rule *models.TransitionRule) error {
	if !models.IsValidState(rule.FromState) {
		return fmt.Errorf("%w: %q", ErrInvalidState, rule.FromState)
	}
	if !models.IsValidState(rule.ToState) {
		return fmt.Errorf("%w: %q", ErrInvalidState, rule.ToState)
	}
	if rule.Condition == nil {
		return fmt.Errorf("%w: rule %q has no condition", models.ErrInvalidCondition, rule.RuleName)
	}

	configJSON, err := models.MarshalConditionConfig(rule.Condition)
	if err != nil {
		return err
	}

	rule.ID = uuid.New()
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO transition_rules (
			id, rule_name, from_state, to_state, condition_type,
			condition_config, active, priority, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.ID.String(), rule.RuleName, rule.FromState, rule.ToState,
		rule.Condition.Type(), string(configJSON), rule.Active, rule.Priority,
		rule.CreatedAt, rule.UpdatedAt)

	if isUniqueViolation(err) {
		return fmt.Errorf("rule %q already exists", rule.RuleName)
	}
	return err
}

// SetRuleActive flips a rule's active flag. Administrative.
func (r *RuleRegistry) SetRuleActive(ctx context.Context, ruleName string, active bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE transition_rules SET active = ?, updated_at = ? WHERE rule_name = ?
	`, active, time.Now().UTC(), ruleName)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleName)
	}

	return nil
}

// SeedDefaultRules installs the canonical pipeline rules when the registry
// is empty. Idempotent.
func (r *RuleRegistry) SeedDefaultRules(ctx context.Context) error {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transition_rules`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hours := func(h float64) *float64 { return &h }
	maxScore := 100.0

	defaults := []models.TransitionRule{
		{
			RuleName:  "discovered_to_qualified",
			FromState: models.StateDiscovered,
			ToState:   models.StateQualified,
			Condition: models.ScoreCondition{ScoreField: "quality_score", MinScore: 70, MaxScore: &maxScore},
			Active:    true,
			Priority:  100,
		},
		{
			RuleName:  "qualified_to_outreach",
			FromState: models.StateQualified,
			ToState:   models.StateOutreach,
			Condition: models.TimeCondition{Hours: hours(2)},
			Active:    true,
			Priority:  100,
		},
		{
			RuleName:  "outreach_to_dormant",
			FromState: models.StateOutreach,
			ToState:   models.StateDormant,
			Condition: models.EventCondition{MaxAttempts: 5, Flags: map[string]bool{"no_response": true}},
			Active:    true,
			Priority:  100,
		},
		{
			RuleName:  "engaged_to_dormant",
			FromState: models.StateEngaged,
			ToState:   models.StateDormant,
			Condition: models.ActivityCondition{DaysInactive: 30},
			Active:    true,
			Priority:  100,
		},
	}

	for i := range defaults {
		if err := r.CreateRule(ctx, &defaults[i]); err != nil {
			return err
		}
	}

	return nil
}

func scanRule(row rowScanner) (*models.TransitionRule, error) {
	var rule models.TransitionRule
	var idStr, conditionType, conditionConfig string

	err := row.Scan(
		&idStr,
		&rule.RuleName,
		&rule.FromState,
		&rule.ToState,
		&conditionType,
		&conditionConfig,
		&rule.Active,
		&rule.Priority,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule ID: %w", err)
	}

	rule.Condition, err = models.ParseCondition(conditionType, []byte(conditionConfig))
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", rule.RuleName, err)
	}

	return &rule, nil
}
