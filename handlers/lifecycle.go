// ABOUTME: Lifecycle MCP tool handlers
// ABOUTME: Implements state creation, lookup, history, and manual transition tools
package handlers

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/harperreed/oppflow/db"
	"github.com/harperreed/oppflow/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type LifecycleHandlers struct {
	store *db.StateStore
}

func NewLifecycleHandlers(database *sql.DB) *LifecycleHandlers {
	return &LifecycleHandlers{store: db.NewStateStore(database)}
}

type CreateStateInput struct {
	OpportunityID string `json:"opportunity_id" jsonschema:"Opportunity identifier (required)"`
	State         string `json:"state,omitempty" jsonschema:"Initial state (default discovered)"`
	Reason        string `json:"reason,omitempty" jsonschema:"Audit reason for the initial state"`
}

type GetCurrentStateInput struct {
	OpportunityID string `json:"opportunity_id" jsonschema:"Opportunity identifier (required)"`
}

type GetHistoryInput struct {
	OpportunityID string `json:"opportunity_id" jsonschema:"Opportunity identifier (required)"`
	Limit         int    `json:"limit,omitempty" jsonschema:"Page size; omit for full history"`
	Offset        int    `json:"offset,omitempty" jsonschema:"Page offset for resumable iteration"`
}

type TransitionInput struct {
	OpportunityID string                 `json:"opportunity_id" jsonschema:"Opportunity identifier (required)"`
	ToState       string                 `json:"to_state" jsonschema:"Target state: discovered, qualified, outreach, engaged, dormant, closed"`
	Reason        string                 `json:"reason" jsonschema:"Audit reason for the transition (required)"`
	TriggeredBy   string                 `json:"triggered_by,omitempty" jsonschema:"Actor performing the transition"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" jsonschema:"Metadata for the new interval; omit to carry the current metadata forward"`
}

type IntervalOutput struct {
	ID              string                 `json:"id"`
	OpportunityID   string                 `json:"opportunity_id"`
	State           string                 `json:"state"`
	SubState        string                 `json:"sub_state,omitempty"`
	EnteredAt       string                 `json:"entered_at"`
	ExitedAt        *string                `json:"exited_at,omitempty"`
	DurationSeconds *int64                 `json:"duration_seconds,omitempty"`
	TriggerType     string                 `json:"trigger_type"`
	TriggerReason   string                 `json:"trigger_reason"`
	TriggeredBy     string                 `json:"triggered_by,omitempty"`
	PreviousState   string                 `json:"previous_state,omitempty"`
	NextState       string                 `json:"next_state,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

type HistoryOutput struct {
	OpportunityID string           `json:"opportunity_id"`
	Intervals     []IntervalOutput `json:"intervals"`
}

func (h *LifecycleHandlers) CreateState(ctx context.Context, _ *mcp.CallToolRequest, input CreateStateInput) (*mcp.CallToolResult, IntervalOutput, error) {
	if input.OpportunityID == "" {
		return nil, IntervalOutput{}, fmt.Errorf("opportunity_id is required")
	}

	state := input.State
	if state == "" {
		state = models.StateDiscovered
	}

	reason := input.Reason
	if reason == "" {
		reason = "initial state"
	}

	interval, err := h.store.CreateInitialState(ctx, input.OpportunityID, state, reason)
	if err != nil {
		return nil, IntervalOutput{}, err
	}

	return nil, intervalToOutput(interval), nil
}

func (h *LifecycleHandlers) GetCurrentState(ctx context.Context, _ *mcp.CallToolRequest, input GetCurrentStateInput) (*mcp.CallToolResult, IntervalOutput, error) {
	if input.OpportunityID == "" {
		return nil, IntervalOutput{}, fmt.Errorf("opportunity_id is required")
	}

	interval, err := h.store.GetCurrentState(ctx, input.OpportunityID)
	if err != nil {
		return nil, IntervalOutput{}, err
	}

	return nil, intervalToOutput(interval), nil
}

func (h *LifecycleHandlers) GetHistory(ctx context.Context, _ *mcp.CallToolRequest, input GetHistoryInput) (*mcp.CallToolResult, HistoryOutput, error) {
	if input.OpportunityID == "" {
		return nil, HistoryOutput{}, fmt.Errorf("opportunity_id is required")
	}

	var history []models.LifecycleInterval
	var err error
	if input.Limit > 0 || input.Offset > 0 {
		limit := input.Limit
		if limit == 0 {
			limit = -1
		}
		history, err = h.store.GetHistoryPage(ctx, input.OpportunityID, limit, input.Offset)
	} else {
		history, err = h.store.GetHistory(ctx, input.OpportunityID)
	}
	if err != nil {
		return nil, HistoryOutput{}, err
	}

	out := HistoryOutput{OpportunityID: input.OpportunityID}
	for i := range history {
		out.Intervals = append(out.Intervals, intervalToOutput(&history[i]))
	}

	return nil, out, nil
}

func (h *LifecycleHandlers) Transition(ctx context.Context, _ *mcp.CallToolRequest, input TransitionInput) (*mcp.CallToolResult, IntervalOutput, error) {
	if input.OpportunityID == "" {
		return nil, IntervalOutput{}, fmt.Errorf("opportunity_id is required")
	}
	if input.ToState == "" {
		return nil, IntervalOutput{}, fmt.Errorf("to_state is required")
	}
	if input.Reason == "" {
		return nil, IntervalOutput{}, fmt.Errorf("reason is required")
	}

	metadata, err := metadataFromMap(input.Metadata)
	if err != nil {
		return nil, IntervalOutput{}, err
	}

	interval, err := h.store.Transition(ctx, input.OpportunityID, input.ToState,
		models.TriggerManual, input.Reason, input.TriggeredBy, metadata)
	if err != nil {
		return nil, IntervalOutput{}, err
	}

	return nil, intervalToOutput(interval), nil
}

func intervalToOutput(interval *models.LifecycleInterval) IntervalOutput {
	out := IntervalOutput{
		ID:              interval.ID.String(),
		OpportunityID:   interval.OpportunityID,
		State:           interval.State,
		SubState:        interval.SubState,
		EnteredAt:       interval.EnteredAt.Format(timeFormat),
		DurationSeconds: interval.DurationSeconds,
		TriggerType:     interval.TriggerType,
		TriggerReason:   interval.TriggerReason,
		TriggeredBy:     interval.TriggeredBy,
		PreviousState:   interval.PreviousState,
		NextState:       interval.NextState,
	}

	if interval.ExitedAt != nil {
		s := interval.ExitedAt.Format(timeFormat)
		out.ExitedAt = &s
	}

	out.Metadata = metadataToMap(interval.Metadata)

	return out
}
