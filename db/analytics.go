// ABOUTME: Lifecycle analytics over completed intervals
// ABOUTME: Per-state duration aggregates and current pipeline counts
package db

import (
	"context"
	"database/sql"
	"sort"
)

// AnalyticsRepository reads the derived reporting views.
type AnalyticsRepository struct {
	db *sql.DB
}

// NewAnalyticsRepository creates an analytics repository.
func NewAnalyticsRepository(db *sql.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// GetStateAnalytics returns per-state duration aggregates for completed
// intervals. Count and average come from the lifecycle_analytics view;
// the median is computed here since sqlite has no median aggregate.
func (a *AnalyticsRepository) GetStateAnalytics(ctx context.Context) ([]StateDurations, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT state, completed_intervals, avg_duration_seconds
		FROM lifecycle_analytics
		ORDER BY state ASC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stats []StateDurations
	for rows.Next() {
		var s StateDurations
		if err := rows.Scan(&s.State, &s.CompletedIntervals, &s.AverageDurationSeconds); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range stats {
		median, err := a.medianDuration(ctx, stats[i].State)
		if err != nil {
			return nil, err
		}
		stats[i].MedianDurationSeconds = median
	}

	return stats, nil
}

// GetCurrentStateCounts returns how many opportunities sit in each state
// right now, via the current_states view.
func (a *AnalyticsRepository) GetCurrentStateCounts(ctx context.Context) (map[string]int, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT state, COUNT(*) FROM current_states GROUP BY state
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		counts[state] = count
	}

	return counts, rows.Err()
}

func (a *AnalyticsRepository) medianDuration(ctx context.Context, state string) (float64, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT duration_seconds FROM lifecycle_intervals
		WHERE state = ? AND exited_at IS NOT NULL
		ORDER BY duration_seconds ASC
	`, state)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	var durations []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return 0, err
		}
		durations = append(durations, d)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	return median(durations), nil
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}

// StateDurations is one row of the per-state duration report.
type StateDurations struct {
	State                  string  `json:"state"`
	CompletedIntervals     int     `json:"completed_intervals"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
	MedianDurationSeconds  float64 `json:"median_duration_seconds"`
}
