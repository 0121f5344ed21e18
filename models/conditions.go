// ABOUTME: Transition rule conditions as a closed sum type
// ABOUTME: Parses condition_config JSON and validates it at load time
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Condition type constants, matching the condition_type column.
const (
	ConditionTime     = "time_based"
	ConditionActivity = "activity_based"
	ConditionScore    = "score_based"
	ConditionEvent    = "event_based"
)

// ErrInvalidCondition marks a malformed condition_config. Rule loading wraps
// it with the rule name and detail; callers match with errors.Is.
var ErrInvalidCondition = errors.New("invalid condition config")

// Condition is the closed set of trigger conditions a rule can carry. An
// unknown condition type is a construction-time error, not a runtime
// fallthrough.
type Condition interface {
	Type() string
	isCondition()
}

// TimeCondition fires after a fixed time in state. Exactly one of Hours or
// Days is set.
type TimeCondition struct {
	Hours *float64 `json:"hours,omitempty"`
	Days  *float64 `json:"days,omitempty"`
}

func (TimeCondition) Type() string { return ConditionTime }
func (TimeCondition) isCondition() {}

// ThresholdSeconds returns the elapsed-time threshold in seconds.
func (c TimeCondition) ThresholdSeconds() float64 {
	if c.Hours != nil {
		return *c.Hours * 3600
	}
	return *c.Days * 86400
}

// ActivityCondition fires after a period with no recorded activity.
type ActivityCondition struct {
	DaysInactive float64 `json:"days_inactive"`
}

func (ActivityCondition) Type() string { return ConditionActivity }
func (ActivityCondition) isCondition() {}

// ThresholdSeconds returns the inactivity threshold in seconds.
func (c ActivityCondition) ThresholdSeconds() float64 {
	return c.DaysInactive * 86400
}

// ScoreCondition fires when a numeric metadata field reaches MinScore, or
// falls inside [MinScore, MaxScore] when MaxScore is set.
type ScoreCondition struct {
	ScoreField string   `json:"score_field"`
	MinScore   float64  `json:"min_score"`
	MaxScore   *float64 `json:"max_score,omitempty"`
}

func (ScoreCondition) Type() string { return ConditionScore }
func (ScoreCondition) isCondition() {}

// EventCondition fires when attempts_count reaches MaxAttempts and every
// named boolean flag matches its required value.
type EventCondition struct {
	MaxAttempts int64           `json:"max_attempts"`
	Flags       map[string]bool `json:"flags,omitempty"`
}

func (EventCondition) Type() string { return ConditionEvent }
func (EventCondition) isCondition() {}

// ParseCondition builds a Condition from the stored (condition_type,
// condition_config) pair, rejecting malformed config. This runs at rule load
// time so a bad rule set fails before any evaluation happens.
func ParseCondition(conditionType string, config []byte) (Condition, error) {
	switch conditionType {
	case ConditionTime:
		var c TimeCondition
		if err := json.Unmarshal(config, &c); err != nil {
			return nil, fmt.Errorf("%w: time_based: %v", ErrInvalidCondition, err)
		}
		if (c.Hours == nil) == (c.Days == nil) {
			return nil, fmt.Errorf("%w: time_based requires exactly one of hours or days", ErrInvalidCondition)
		}
		if c.Hours != nil && *c.Hours <= 0 {
			return nil, fmt.Errorf("%w: time_based hours must be positive", ErrInvalidCondition)
		}
		if c.Days != nil && *c.Days <= 0 {
			return nil, fmt.Errorf("%w: time_based days must be positive", ErrInvalidCondition)
		}
		return c, nil

	case ConditionActivity:
		var c ActivityCondition
		if err := json.Unmarshal(config, &c); err != nil {
			return nil, fmt.Errorf("%w: activity_based: %v", ErrInvalidCondition, err)
		}
		if c.DaysInactive <= 0 {
			return nil, fmt.Errorf("%w: activity_based requires positive days_inactive", ErrInvalidCondition)
		}
		return c, nil

	case ConditionScore:
		// score_based config is flat: {score_field, min_score, max_score?}
		var raw struct {
			ScoreField string   `json:"score_field"`
			MinScore   *float64 `json:"min_score"`
			MaxScore   *float64 `json:"max_score"`
		}
		if err := json.Unmarshal(config, &raw); err != nil {
			return nil, fmt.Errorf("%w: score_based: %v", ErrInvalidCondition, err)
		}
		if raw.ScoreField == "" {
			return nil, fmt.Errorf("%w: score_based requires score_field", ErrInvalidCondition)
		}
		if raw.MinScore == nil {
			return nil, fmt.Errorf("%w: score_based requires min_score", ErrInvalidCondition)
		}
		if raw.MaxScore != nil && *raw.MaxScore < *raw.MinScore {
			return nil, fmt.Errorf("%w: score_based max_score below min_score", ErrInvalidCondition)
		}
		return ScoreCondition{ScoreField: raw.ScoreField, MinScore: *raw.MinScore, MaxScore: raw.MaxScore}, nil

	case ConditionEvent:
		// event_based config mixes max_attempts with arbitrary boolean flags,
		// e.g. {"max_attempts": 5, "no_response": true}.
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(config, &raw); err != nil {
			return nil, fmt.Errorf("%w: event_based: %v", ErrInvalidCondition, err)
		}
		attemptsRaw, ok := raw["max_attempts"]
		if !ok {
			return nil, fmt.Errorf("%w: event_based requires max_attempts", ErrInvalidCondition)
		}
		var attempts int64
		if err := json.Unmarshal(attemptsRaw, &attempts); err != nil {
			return nil, fmt.Errorf("%w: event_based max_attempts must be an integer", ErrInvalidCondition)
		}
		if attempts < 1 {
			return nil, fmt.Errorf("%w: event_based max_attempts must be at least 1", ErrInvalidCondition)
		}
		c := EventCondition{MaxAttempts: attempts}
		for k, v := range raw {
			if k == "max_attempts" {
				continue
			}
			var flag bool
			if err := json.Unmarshal(v, &flag); err != nil {
				return nil, fmt.Errorf("%w: event_based flag %q must be boolean", ErrInvalidCondition, k)
			}
			if c.Flags == nil {
				c.Flags = make(map[string]bool)
			}
			c.Flags[k] = flag
		}
		return c, nil

	default:
		return nil, fmt.Errorf("%w: unknown condition type %q", ErrInvalidCondition, conditionType)
	}
}

// MarshalConditionConfig serializes a Condition back to the stored JSON form.
func MarshalConditionConfig(c Condition) ([]byte, error) {
	switch v := c.(type) {
	case TimeCondition, ActivityCondition, ScoreCondition:
		return json.Marshal(v)
	case EventCondition:
		out := make(map[string]interface{}, len(v.Flags)+1)
		out["max_attempts"] = v.MaxAttempts
		for k, flag := range v.Flags {
			out[k] = flag
		}
		return json.Marshal(out)
	default:
		return nil, fmt.Errorf("%w: unknown condition %T", ErrInvalidCondition, c)
	}
}
