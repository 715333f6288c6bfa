package repository

// Schema definitions for the momoguard database.
// Compatible with both SQLite and PostgreSQL.

const schemaPayments = `
CREATE TABLE IF NOT EXISTS payments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    amount DOUBLE PRECISION NOT NULL,
    sender_name TEXT,
    sender_phone TEXT,
    timestamp TIMESTAMP NOT NULL,
    timestamp_inferred INTEGER NOT NULL DEFAULT 0,
    source_language TEXT,
    extraction_method TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    raw_text TEXT NOT NULL,
    sender_number TEXT,
    status TEXT NOT NULL,
    fraud_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payments_tenant ON payments(tenant_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_payments_txid ON payments(tenant_id, transaction_id);
CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(tenant_id, status, created_at);
`

const schemaVerifications = `
CREATE TABLE IF NOT EXISTS verifications (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    payment_id TEXT,
    customer_name TEXT,
    customer_phone TEXT NOT NULL,
    submitted_txid TEXT NOT NULL,
    submitted_amount DOUBLE PRECISION,
    status TEXT NOT NULL,
    match_method TEXT,
    match_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    fraud_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    risk_tier TEXT,
    violated_rules TEXT,
    created_at TIMESTAMP NOT NULL,
    verified_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_verifications_tenant ON verifications(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_verifications_phone ON verifications(tenant_id, customer_phone, created_at);
CREATE INDEX IF NOT EXISTS idx_verifications_status ON verifications(tenant_id, status);
`

const schemaFraudLogs = `
CREATE TABLE IF NOT EXISTS fraud_logs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    verification_id TEXT NOT NULL,
    fraud_type TEXT NOT NULL,
    risk_score DOUBLE PRECISION NOT NULL,
    details TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_logs_verification ON fraud_logs(tenant_id, verification_id);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL DEFAULT 0.1,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaPayments,
		schemaVerifications,
		schemaFraudLogs,
		schemaRuleConfigs,
	}
}
