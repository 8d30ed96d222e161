package repository

// Schema definitions for the Kestrel alert store.
// Compatible with both SQLite and PostgreSQL.

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    alert_id INTEGER PRIMARY KEY AUTOINCREMENT,
    transaction_id TEXT NOT NULL,
    alert_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    priority INTEGER NOT NULL,
    score REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'OPEN',
    resolution TEXT,
    investigation_notes TEXT,
    created_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_transaction ON alerts(transaction_id);
CREATE INDEX IF NOT EXISTS idx_alerts_open_priority ON alerts(status, priority, created_at);
`

// postgres has no AUTOINCREMENT keyword; BIGSERIAL covers it.
const schemaAlertsPostgres = `
CREATE TABLE IF NOT EXISTS alerts (
    alert_id BIGSERIAL PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    alert_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    priority INTEGER NOT NULL,
    score REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'OPEN',
    resolution TEXT,
    investigation_notes TEXT,
    created_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_transaction ON alerts(transaction_id);
CREATE INDEX IF NOT EXISTS idx_alerts_open_priority ON alerts(status, priority, created_at);
`

const schemaScoreRecords = `
CREATE TABLE IF NOT EXISTS score_records (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    amount REAL NOT NULL,
    isolation_score REAL NOT NULL,
    density_score REAL NOT NULL,
    anomaly_score REAL NOT NULL,
    risk_level TEXT NOT NULL,
    priority INTEGER NOT NULL,
    is_anomaly INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_score_records_tx ON score_records(transaction_id);
CREATE INDEX IF NOT EXISTS idx_score_records_risk ON score_records(risk_level);
CREATE INDEX IF NOT EXISTS idx_score_records_timestamp ON score_records(timestamp);
`

// Schemas returns the schema statements for a driver in order.
func Schemas(driver string) []string {
	alerts := schemaAlerts
	if driver == "postgres" {
		alerts = schemaAlertsPostgres
	}
	return []string{alerts, schemaScoreRecords}
}
