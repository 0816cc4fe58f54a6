package sqldb

import "strings"

// Схема общая для обоих диалектов, отличаются только типы
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS policies (
	id {{pk}},
	name TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	priority INTEGER NOT NULL,
	action TEXT NOT NULL,
	params {{json}},
	confidence_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
	condition_tree {{json}} NOT NULL,
	origin TEXT NOT NULL DEFAULT 'manual',
	fingerprint TEXT,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_fingerprint ON policies (fingerprint);
CREATE INDEX IF NOT EXISTS idx_policies_enabled ON policies (enabled, priority, id);

CREATE TABLE IF NOT EXISTS proposed_actions (
	id {{pk}},
	item_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	params {{json}},
	confidence DOUBLE PRECISION NOT NULL,
	rationale {{json}} NOT NULL,
	policy_id BIGINT REFERENCES policies (id) ON DELETE SET NULL,
	status TEXT NOT NULL,
	reviewed_by TEXT,
	reviewed_at {{ts}},
	executed_at {{ts}},
	error TEXT,
	created_at {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proposed_actions_status ON proposed_actions (status, id);
CREATE INDEX IF NOT EXISTS idx_proposed_actions_item ON proposed_actions (item_id);

CREATE TABLE IF NOT EXISTS user_weights (
	user_id TEXT NOT NULL,
	feature TEXT NOT NULL,
	weight DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at {{ts}} NOT NULL,
	PRIMARY KEY (user_id, feature)
);

CREATE TABLE IF NOT EXISTS policy_stats (
	policy_id BIGINT NOT NULL,
	user_id TEXT NOT NULL,
	fired BIGINT NOT NULL DEFAULT 0,
	approved BIGINT NOT NULL DEFAULT 0,
	rejected BIGINT NOT NULL DEFAULT 0,
	precision_value DOUBLE PRECISION NOT NULL DEFAULT 0,
	window_days INTEGER NOT NULL DEFAULT 0,
	updated_at {{ts}} NOT NULL,
	PRIMARY KEY (policy_id, user_id)
)`

func schema(d Dialect) []string {
	r := strings.NewReplacer(
		"{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{json}}", "TEXT",
		"{{ts}}", "TIMESTAMP",
	)
	if d == Postgres {
		r = strings.NewReplacer(
			"{{pk}}", "BIGSERIAL PRIMARY KEY",
			"{{json}}", "JSONB",
			"{{ts}}", "TIMESTAMPTZ",
		)
	}

	var stmts []string
	for _, s := range strings.Split(r.Replace(schemaTemplate), ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
