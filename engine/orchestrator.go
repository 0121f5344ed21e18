// ABOUTME: Auto-transition orchestrator batch runner
// ABOUTME: Applies eligible rule transitions with per-opportunity failure isolation
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/harperreed/oppflow/db"
	"github.com/harperreed/oppflow/models"
	"github.com/oklog/ulid/v2"
)

// maxRunHistory bounds the orchestrator's in-memory run log.
const maxRunHistory = 50

// TransitionExecutor applies (or, for dry runs, skips) one eligible
// transition. The eligibility path is identical in both modes; only the
// executor differs.
type TransitionExecutor interface {
	Execute(ctx context.Context, rule models.TransitionRule, candidate Candidate) error
}

// StoreExecutor executes transitions against the state store with one
// bounded retry on concurrent modification.
type StoreExecutor struct {
	store *db.StateStore
}

// NewStoreExecutor creates the live executor.
func NewStoreExecutor(store *db.StateStore) *StoreExecutor {
	return &StoreExecutor{store: store}
}

// Execute transitions the candidate per the rule, with trigger_type auto and
// the rule name as the audit reason.
func (e *StoreExecutor) Execute(ctx context.Context, rule models.TransitionRule, candidate Candidate) error {
	_, err := e.store.TransitionFrom(ctx, candidate.OpportunityID, rule.FromState,
		rule.ToState, models.TriggerAuto, rule.RuleName, "orchestrator", nil)
	if errors.Is(err, db.ErrConcurrentModification) {
		_, err = e.store.TransitionFrom(ctx, candidate.OpportunityID, rule.FromState,
			rule.ToState, models.TriggerAuto, rule.RuleName, "orchestrator", nil)
	}
	return err
}

// DryRunExecutor records nothing and mutates nothing.
type DryRunExecutor struct{}

// Execute is a no-op; the candidate only shows up in the run report.
func (DryRunExecutor) Execute(context.Context, models.TransitionRule, Candidate) error {
	return nil
}

// RuleResult is the per-rule breakdown of one run.
type RuleResult struct {
	RuleName     string `json:"rule_name"`
	FromState    string `json:"from_state"`
	ToState      string `json:"to_state"`
	Checked      int    `json:"checked"`
	Eligible     int    `json:"eligible"`
	Transitioned int    `json:"transitioned"`
	Failed       int    `json:"failed"`
}

// RunFailure records one isolated per-opportunity failure.
type RunFailure struct {
	OpportunityID string `json:"opportunity_id"`
	RuleName      string `json:"rule_name"`
	Error         string `json:"error"`
}

// RunResult summarizes one orchestrator run. Dry runs produce the same
// structure; Transitioned then counts would-be transitions.
type RunResult struct {
	RunID        string       `json:"run_id"`
	DryRun       bool         `json:"dry_run"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	Checked      int          `json:"checked"`
	Eligible     int          `json:"eligible"`
	Transitioned int          `json:"transitioned"`
	Failed       int          `json:"failed"`
	ByRule       []RuleResult `json:"by_rule"`
	Failures     []RunFailure `json:"failures,omitempty"`
}

// Summary holds the orchestrator's cumulative counters.
type Summary struct {
	Runs              int   `json:"runs"`
	TotalChecked      int64 `json:"total_checked"`
	TotalTransitioned int64 `json:"total_transitioned"`
	TotalErrors       int64 `json:"total_errors"`
}

// Stats is the summary plus the bounded run history, newest last.
type Stats struct {
	Summary
	RunHistory []RunResult `json:"run_history"`
}

// Orchestrator runs the active rule set against the pipeline. It is
// externally scheduled; each invocation is one batch run.
type Orchestrator struct {
	registry  *db.RuleRegistry
	evaluator *Evaluator
	executor  TransitionExecutor
	dryRun    bool

	mu                sync.Mutex
	runs              int
	totalChecked      int64
	totalTransitioned int64
	totalErrors       int64
	runHistory        []RunResult
}

// NewOrchestrator creates a live orchestrator that writes transitions
// through the state store.
func NewOrchestrator(registry *db.RuleRegistry, store *db.StateStore) *Orchestrator {
	return &Orchestrator{
		registry:  registry,
		evaluator: NewEvaluator(store),
		executor:  NewStoreExecutor(store),
	}
}

// NewDryRunOrchestrator creates an orchestrator that computes eligibility
// identically but never mutates the state store.
func NewDryRunOrchestrator(registry *db.RuleRegistry, store *db.StateStore) *Orchestrator {
	return &Orchestrator{
		registry:  registry,
		evaluator: NewEvaluator(store),
		executor:  DryRunExecutor{},
		dryRun:    true,
	}
}

// RunAll evaluates every active rule. A rule-load failure aborts the run
// before any transition; per-opportunity failures never do.
func (o *Orchestrator) RunAll(ctx context.Context) (*RunResult, error) {
	rules, err := o.registry.GetActiveRules(ctx, "")
	if err != nil {
		return nil, err
	}
	return o.run(ctx, rules)
}

// RunSpecific evaluates one named rule. Inactive rules are rejected the
// same way a missing one is.
func (o *Orchestrator) RunSpecific(ctx context.Context, ruleName string) (*RunResult, error) {
	rule, err := o.registry.GetRule(ctx, ruleName)
	if err != nil {
		return nil, err
	}
	if !rule.Active {
		return nil, db.ErrRuleNotFound
	}
	return o.run(ctx, []models.TransitionRule{*rule})
}

func (o *Orchestrator) run(ctx context.Context, rules []models.TransitionRule) (*RunResult, error) {
	result := &RunResult{
		RunID:     ulid.Make().String(),
		DryRun:    o.dryRun,
		StartedAt: time.Now().UTC(),
	}

	mode := "live"
	if o.dryRun {
		mode = "dry-run"
	}
	log.Printf("Transition run %s started (%s, %d rules)", result.RunID, mode, len(rules))

	var runErr error

rules:
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		eligible, checked, err := o.evaluator.FindEligible(ctx, rule)
		if err != nil {
			// Storage-level failure: the rule set can no longer be
			// evaluated consistently, so the whole run stops.
			runErr = err
			break
		}

		ruleResult := RuleResult{
			RuleName:  rule.RuleName,
			FromState: rule.FromState,
			ToState:   rule.ToState,
			Checked:   checked,
			Eligible:  len(eligible),
		}

		for _, candidate := range eligible {
			if err := ctx.Err(); err != nil {
				result.ByRule = append(result.ByRule, ruleResult)
				runErr = err
				break rules
			}

			if err := o.executor.Execute(ctx, rule, candidate); err != nil {
				ruleResult.Failed++
				result.Failures = append(result.Failures, RunFailure{
					OpportunityID: candidate.OpportunityID,
					RuleName:      rule.RuleName,
					Error:         err.Error(),
				})
				log.Printf("Transition failed for %s (rule %s): %v",
					candidate.OpportunityID, rule.RuleName, err)
				continue
			}
			ruleResult.Transitioned++
		}

		result.ByRule = append(result.ByRule, ruleResult)
	}

	result.FinishedAt = time.Now().UTC()
	for _, r := range result.ByRule {
		result.Checked += r.Checked
		result.Eligible += r.Eligible
		result.Transitioned += r.Transitioned
		result.Failed += r.Failed
	}

	o.record(result)

	log.Printf("Transition run %s finished: %d checked, %d transitioned, %d failed",
		result.RunID, result.Checked, result.Transitioned, result.Failed)

	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

func (o *Orchestrator) record(result *RunResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.runs++
	o.totalChecked += int64(result.Checked)
	o.totalTransitioned += int64(result.Transitioned)
	o.totalErrors += int64(result.Failed)

	o.runHistory = append(o.runHistory, *result)
	if len(o.runHistory) > maxRunHistory {
		o.runHistory = o.runHistory[len(o.runHistory)-maxRunHistory:]
	}
}

// GetSummary returns the cumulative counters across all runs.
func (o *Orchestrator) GetSummary() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	return Summary{
		Runs:              o.runs,
		TotalChecked:      o.totalChecked,
		TotalTransitioned: o.totalTransitioned,
		TotalErrors:       o.totalErrors,
	}
}

// GetStats returns the summary plus a copy of the bounded run history.
func (o *Orchestrator) GetStats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	history := make([]RunResult, len(o.runHistory))
	copy(history, o.runHistory)

	return Stats{
		Summary: Summary{
			Runs:              o.runs,
			TotalChecked:      o.totalChecked,
			TotalTransitioned: o.totalTransitioned,
			TotalErrors:       o.totalErrors,
		},
		RunHistory: history,
	}
}
