// ABOUTME: Database schema for lifecycle intervals and transition rules
// ABOUTME: Enforces the single-open-interval invariant with a partial unique index
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS lifecycle_intervals (
	id TEXT PRIMARY KEY,
	opportunity_id TEXT NOT NULL,
	state TEXT NOT NULL CHECK(state IN ('discovered', 'qualified', 'outreach', 'engaged', 'dormant', 'closed')),
	sub_state TEXT,
	entered_at DATETIME NOT NULL,
	exited_at DATETIME,
	duration_seconds INTEGER,
	trigger_type TEXT NOT NULL CHECK(trigger_type IN ('manual', 'auto', 'system', 'import')),
	trigger_reason TEXT NOT NULL,
	triggered_by TEXT,
	previous_state TEXT,
	next_state TEXT,
	metadata TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

-- At most one open interval per opportunity. A violating insert fails at the
-- storage layer, so the invariant cannot be broken by a racing writer.
CREATE UNIQUE INDEX IF NOT EXISTS idx_intervals_one_open
	ON lifecycle_intervals(opportunity_id) WHERE exited_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_intervals_open_state
	ON lifecycle_intervals(state) WHERE exited_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_intervals_history
	ON lifecycle_intervals(opportunity_id, entered_at);

CREATE TABLE IF NOT EXISTS transition_rules (
	id TEXT PRIMARY KEY,
	rule_name TEXT NOT NULL UNIQUE,
	from_state TEXT NOT NULL CHECK(from_state IN ('discovered', 'qualified', 'outreach', 'engaged', 'dormant', 'closed')),
	to_state TEXT NOT NULL CHECK(to_state IN ('discovered', 'qualified', 'outreach', 'engaged', 'dormant', 'closed')),
	condition_type TEXT NOT NULL CHECK(condition_type IN ('time_based', 'activity_based', 'score_based', 'event_based')),
	condition_config TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	priority INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_from_state ON transition_rules(from_state, active);

CREATE VIEW IF NOT EXISTS current_states AS
	SELECT * FROM lifecycle_intervals WHERE exited_at IS NULL;

CREATE VIEW IF NOT EXISTS lifecycle_analytics AS
	SELECT state,
	       COUNT(*) AS completed_intervals,
	       AVG(duration_seconds) AS avg_duration_seconds
	FROM lifecycle_intervals
	WHERE exited_at IS NOT NULL
	GROUP BY state;
`

// InitSchema creates the lifecycle tables, indexes, and views.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
