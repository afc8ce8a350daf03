package observability

import "database/sql"

// Schema is the DDL of the batch history database. Times are Unix
// milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS batch_runs (
    batch_id TEXT PRIMARY KEY,
    started INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    format TEXT NOT NULL,
    placeholders INTEGER NOT NULL DEFAULT 0,
    total_rows INTEGER NOT NULL DEFAULT 0,
    succeeded INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    archive_bytes INTEGER NOT NULL DEFAULT 0,
    archive_digest TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    error TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_batch_runs_started ON batch_runs(started DESC);
CREATE INDEX IF NOT EXISTS idx_batch_runs_status ON batch_runs(status, started DESC);

CREATE TABLE IF NOT EXISTS batch_row_errors (
    batch_id TEXT NOT NULL REFERENCES batch_runs(batch_id) ON DELETE CASCADE,
    row_num INTEGER NOT NULL,
    stage TEXT NOT NULL,
    reason TEXT NOT NULL,
    placeholder TEXT,
    message TEXT NOT NULL,
    PRIMARY KEY (batch_id, row_num)
);

CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id INTEGER PRIMARY KEY AUTOINCREMENT,
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);

CREATE TABLE IF NOT EXISTS _observability_metadata (
    table_name TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    description TEXT
);
INSERT OR IGNORE INTO _observability_metadata (table_name, description) VALUES
    ('batch_runs', 'One row per mail-merge batch, fatal or not'),
    ('batch_row_errors', 'Rows excluded from a batch and why'),
    ('metrics_timeseries', 'Batch metric datapoints');
`

// Init applies Schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
