// ABOUTME: Data models for the opportunity lifecycle engine
// ABOUTME: Defines LifecycleInterval, TransitionRule, and metadata structs
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Lifecycle state constants. The set is closed; the storage layer rejects
// anything else.
const (
	StateDiscovered = "discovered"
	StateQualified  = "qualified"
	StateOutreach   = "outreach"
	StateEngaged    = "engaged"
	StateDormant    = "dormant"
	StateClosed     = "closed"
)

// Trigger type constants.
const (
	TriggerManual = "manual"
	TriggerAuto   = "auto"
	TriggerSystem = "system"
	TriggerImport = "import"
)

// ValidStates lists every member of the closed state set, in pipeline order.
var ValidStates = []string{
	StateDiscovered,
	StateQualified,
	StateOutreach,
	StateEngaged,
	StateDormant,
	StateClosed,
}

// ValidTriggerTypes lists every member of the closed trigger set.
var ValidTriggerTypes = []string{
	TriggerManual,
	TriggerAuto,
	TriggerSystem,
	TriggerImport,
}

// IsValidState reports whether s is a member of the closed state set.
func IsValidState(s string) bool {
	for _, v := range ValidStates {
		if s == v {
			return true
		}
	}
	return false
}

// IsValidTriggerType reports whether t is a member of the closed trigger set.
func IsValidTriggerType(t string) bool {
	for _, v := range ValidTriggerTypes {
		if t == v {
			return true
		}
	}
	return false
}

// IntervalMetadata carries the rule-relevant facts attached to an interval.
// Known keys get typed fields; anything else lands in Extra so external
// feeds can add keys without a schema change.
type IntervalMetadata struct {
	QualityScore   *float64   `json:"quality_score,omitempty"`
	AttemptsCount  *int64     `json:"attempts_count,omitempty"`
	NoResponse     *bool      `json:"no_response,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`

	Extra map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Extra alongside the typed fields.
func (m IntervalMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.QualityScore != nil {
		out["quality_score"] = *m.QualityScore
	}
	if m.AttemptsCount != nil {
		out["attempts_count"] = *m.AttemptsCount
	}
	if m.NoResponse != nil {
		out["no_response"] = *m.NoResponse
	}
	if m.LastActivityAt != nil {
		out["last_activity_at"] = m.LastActivityAt.Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

// UnmarshalJSON picks out the typed fields and keeps the rest in Extra.
func (m *IntervalMetadata) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["quality_score"]; ok {
		var score float64
		if err := json.Unmarshal(v, &score); err == nil {
			m.QualityScore = &score
			delete(raw, "quality_score")
		}
	}
	if v, ok := raw["attempts_count"]; ok {
		var count int64
		if err := json.Unmarshal(v, &count); err == nil {
			m.AttemptsCount = &count
			delete(raw, "attempts_count")
		}
	}
	if v, ok := raw["no_response"]; ok {
		var flag bool
		if err := json.Unmarshal(v, &flag); err == nil {
			m.NoResponse = &flag
			delete(raw, "no_response")
		}
	}
	if v, ok := raw["last_activity_at"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				m.LastActivityAt = &ts
				delete(raw, "last_activity_at")
			}
		}
	}

	if len(raw) > 0 {
		m.Extra = make(map[string]interface{}, len(raw))
		for k, v := range raw {
			var val interface{}
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			m.Extra[k] = val
		}
	}

	return nil
}

// Field looks up a metadata value by key, checking typed fields first.
// Numeric values come back as float64. The second return is false when the
// key is absent.
func (m IntervalMetadata) Field(key string) (interface{}, bool) {
	switch key {
	case "quality_score":
		if m.QualityScore != nil {
			return *m.QualityScore, true
		}
	case "attempts_count":
		if m.AttemptsCount != nil {
			return float64(*m.AttemptsCount), true
		}
	case "no_response":
		if m.NoResponse != nil {
			return *m.NoResponse, true
		}
	}
	if v, ok := m.Extra[key]; ok {
		return v, true
	}
	return nil, false
}

// NumericField looks up a metadata value and coerces it to float64.
func (m IntervalMetadata) NumericField(key string) (float64, bool) {
	v, ok := m.Field(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// BoolField looks up a boolean metadata value.
func (m IntervalMetadata) BoolField(key string) (bool, bool) {
	v, ok := m.Field(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// LifecycleInterval is one contiguous occupancy of a single state by one
// opportunity. ExitedAt is nil exactly when this is the current interval.
type LifecycleInterval struct {
	ID              uuid.UUID        `json:"id"`
	OpportunityID   string           `json:"opportunity_id"`
	State           string           `json:"state"`
	SubState        string           `json:"sub_state,omitempty"`
	EnteredAt       time.Time        `json:"entered_at"`
	ExitedAt        *time.Time       `json:"exited_at,omitempty"`
	DurationSeconds *int64           `json:"duration_seconds,omitempty"`
	TriggerType     string           `json:"trigger_type"`
	TriggerReason   string           `json:"trigger_reason"`
	TriggeredBy     string           `json:"triggered_by,omitempty"`
	PreviousState   string           `json:"previous_state,omitempty"`
	NextState       string           `json:"next_state,omitempty"`
	Metadata        IntervalMetadata `json:"metadata"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// IsOpen reports whether this is the opportunity's current interval.
func (i *LifecycleInterval) IsOpen() bool {
	return i.ExitedAt == nil
}

// TransitionRule is one declared from-state → to-state transition with the
// condition that must hold before the engine applies it.
type TransitionRule struct {
	ID        uuid.UUID `json:"id"`
	RuleName  string    `json:"rule_name"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Condition Condition `json:"-"`
	Active    bool      `json:"active"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
