// ABOUTME: Engine MCP tool handlers
// ABOUTME: Implements rule listing, auto-transition runs, summary, and analytics tools
package handlers

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/harperreed/oppflow/db"
	"github.com/harperreed/oppflow/engine"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type EngineHandlers struct {
	registry  *db.RuleRegistry
	store     *db.StateStore
	analytics *db.AnalyticsRepository

	// The live orchestrator is shared so GetRunSummary sees cumulative
	// stats across runs. Dry runs get throwaway orchestrators.
	orchestrator *engine.Orchestrator
}

func NewEngineHandlers(database *sql.DB) *EngineHandlers {
	registry := db.NewRuleRegistry(database)
	store := db.NewStateStore(database)

	return &EngineHandlers{
		registry:     registry,
		store:        store,
		analytics:    db.NewAnalyticsRepository(database),
		orchestrator: engine.NewOrchestrator(registry, store),
	}
}

type ListRulesInput struct {
	FromState string `json:"from_state,omitempty" jsonschema:"Filter rules by from_state"`
}

type RuleOutput struct {
	RuleName      string `json:"rule_name"`
	FromState     string `json:"from_state"`
	ToState       string `json:"to_state"`
	ConditionType string `json:"condition_type"`
	Active        bool   `json:"active"`
	Priority      int    `json:"priority"`
}

type ListRulesOutput struct {
	Rules []RuleOutput `json:"rules"`
}

func (h *EngineHandlers) ListRules(ctx context.Context, _ *mcp.CallToolRequest, input ListRulesInput) (*mcp.CallToolResult, ListRulesOutput, error) {
	rules, err := h.registry.GetActiveRules(ctx, input.FromState)
	if err != nil {
		return nil, ListRulesOutput{}, err
	}

	var out ListRulesOutput
	for _, rule := range rules {
		out.Rules = append(out.Rules, RuleOutput{
			RuleName:      rule.RuleName,
			FromState:     rule.FromState,
			ToState:       rule.ToState,
			ConditionType: rule.Condition.Type(),
			Active:        rule.Active,
			Priority:      rule.Priority,
		})
	}

	return nil, out, nil
}

type RunTransitionsInput struct {
	DryRun   bool   `json:"dry_run,omitempty" jsonschema:"Report what would transition without mutating anything"`
	RuleName string `json:"rule_name,omitempty" jsonschema:"Run one named rule instead of all active rules"`
}

type RunTransitionsOutput struct {
	RunID        string              `json:"run_id"`
	DryRun       bool                `json:"dry_run"`
	Checked      int                 `json:"checked"`
	Eligible     int                 `json:"eligible"`
	Transitioned int                 `json:"transitioned"`
	Failed       int                 `json:"failed"`
	ByRule       []engine.RuleResult `json:"by_rule"`
	Failures     []engine.RunFailure `json:"failures,omitempty"`
}

func (h *EngineHandlers) RunTransitions(ctx context.Context, _ *mcp.CallToolRequest, input RunTransitionsInput) (*mcp.CallToolResult, RunTransitionsOutput, error) {
	orchestrator := h.orchestrator
	if input.DryRun {
		orchestrator = engine.NewDryRunOrchestrator(h.registry, h.store)
	}

	var result *engine.RunResult
	var err error
	if input.RuleName != "" {
		result, err = orchestrator.RunSpecific(ctx, input.RuleName)
	} else {
		result, err = orchestrator.RunAll(ctx)
	}
	if err != nil {
		return nil, RunTransitionsOutput{}, fmt.Errorf("transition run failed: %w", err)
	}

	return nil, RunTransitionsOutput{
		RunID:        result.RunID,
		DryRun:       result.DryRun,
		Checked:      result.Checked,
		Eligible:     result.Eligible,
		Transitioned: result.Transitioned,
		Failed:       result.Failed,
		ByRule:       result.ByRule,
		Failures:     result.Failures,
	}, nil
}

type GetRunSummaryInput struct {
	IncludeHistory bool `json:"include_history,omitempty" jsonschema:"Include the bounded run history"`
}

type RunSummaryOutput struct {
	Runs              int                `json:"runs"`
	TotalChecked      int64              `json:"total_checked"`
	TotalTransitioned int64              `json:"total_transitioned"`
	TotalErrors       int64              `json:"total_errors"`
	RunHistory        []engine.RunResult `json:"run_history,omitempty"`
}

func (h *EngineHandlers) GetRunSummary(_ context.Context, _ *mcp.CallToolRequest, input GetRunSummaryInput) (*mcp.CallToolResult, RunSummaryOutput, error) {
	if input.IncludeHistory {
		stats := h.orchestrator.GetStats()
		return nil, RunSummaryOutput{
			Runs:              stats.Runs,
			TotalChecked:      stats.TotalChecked,
			TotalTransitioned: stats.TotalTransitioned,
			TotalErrors:       stats.TotalErrors,
			RunHistory:        stats.RunHistory,
		}, nil
	}

	summary := h.orchestrator.GetSummary()
	return nil, RunSummaryOutput{
		Runs:              summary.Runs,
		TotalChecked:      summary.TotalChecked,
		TotalTransitioned: summary.TotalTransitioned,
		TotalErrors:       summary.TotalErrors,
	}, nil
}

type AnalyticsInput struct{}

type AnalyticsOutput struct {
	States        []db.StateDurations `json:"states"`
	CurrentCounts map[string]int      `json:"current_counts"`
}

func (h *EngineHandlers) LifecycleAnalytics(ctx context.Context, _ *mcp.CallToolRequest, _ AnalyticsInput) (*mcp.CallToolResult, AnalyticsOutput, error) {
	states, err := h.analytics.GetStateAnalytics(ctx)
	if err != nil {
		return nil, AnalyticsOutput{}, err
	}

	counts, err := h.analytics.GetCurrentStateCounts(ctx)
	if err != nil {
		return nil, AnalyticsOutput{}, err
	}

	return nil, AnalyticsOutput{States: states, CurrentCounts: counts}, nil
}
