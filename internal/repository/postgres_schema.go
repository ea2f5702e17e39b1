package repository

// PostgresSchema is applied by Init and by the migrate command. Every
// statement is idempotent.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		symbol      TEXT NOT NULL,
		day         DATE NOT NULL,
		state       TEXT NOT NULL,
		version     BIGINT NOT NULL,
		realized_r  DOUBLE PRECISION NOT NULL DEFAULT 0,
		data        JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		UNIQUE (symbol, day)
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_open_idx ON sessions (symbol, day DESC) WHERE state = 'IN_TRADE'`,
	`CREATE TABLE IF NOT EXISTS sweeps (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES sessions(id),
		data        JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sweeps_session_idx ON sweeps (session_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id               TEXT PRIMARY KEY,
		session_id       TEXT NOT NULL REFERENCES sessions(id),
		broker_order_id  TEXT,
		data             JSONB NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS signals_session_idx ON signals (session_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS signals_order_idx ON signals (broker_order_id)`,
	`CREATE TABLE IF NOT EXISTS confluence_results (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL REFERENCES sessions(id),
		stage         TEXT NOT NULL,
		passed        BOOLEAN NOT NULL,
		data          JSONB NOT NULL,
		evaluated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS confluence_session_idx ON confluence_results (session_id, evaluated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		kind        TEXT NOT NULL,
		from_state  TEXT NOT NULL,
		to_state    TEXT NOT NULL,
		reason      TEXT NOT NULL,
		context     JSONB,
		ts          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_session_idx ON audit_log (session_id, ts DESC)`,
}
