package repository

// Schema definitions for the claimguard audit database.
// Compatible with both SQLite and PostgreSQL.

// scored_at holds Unix nanoseconds so range queries compare integers on
// both drivers.
const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    beneficiary_id TEXT NOT NULL,
    shop_id TEXT NOT NULL,
    quantity DOUBLE PRECISION NOT NULL,
    region_risk DOUBLE PRECISION NOT NULL,
    claimed_at DOUBLE PRECISION NOT NULL,
    fraud_score DOUBLE PRECISION NOT NULL,
    risk_level TEXT NOT NULL,
    reasons TEXT NOT NULL,
    features TEXT NOT NULL,
    signals TEXT NOT NULL,
    breakdown TEXT NOT NULL,
    metadata TEXT NOT NULL,
    scored_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_beneficiary ON assessments(beneficiary_id, scored_at);
CREATE INDEX IF NOT EXISTS idx_assessments_risk ON assessments(risk_level);
`

const schemaReasonRules = `
CREATE TABLE IF NOT EXISTS reason_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    reason TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reason_rules_enabled ON reason_rules(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAssessments,
		schemaReasonRules,
	}
}
