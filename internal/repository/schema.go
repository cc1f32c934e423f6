package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaDeposits = `
CREATE TABLE IF NOT EXISTS deposits (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    amount REAL NOT NULL,
    deposit_date TIMESTAMP NOT NULL,
    btag TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deposits_tenant ON deposits(tenant_id);
CREATE INDEX IF NOT EXISTS idx_deposits_customer ON deposits(tenant_id, customer_id);
CREATE INDEX IF NOT EXISTS idx_deposits_date ON deposits(tenant_id, deposit_date);
`

const schemaBonuses = `
CREATE TABLE IF NOT EXISTS bonuses (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    bonus_name TEXT NOT NULL,
    amount REAL NOT NULL,
    acceptance_date TIMESTAMP NOT NULL,
    created_date TIMESTAMP,
    created_by TEXT,
    btag TEXT,
    deposit_id TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bonuses_tenant ON bonuses(tenant_id);
CREATE INDEX IF NOT EXISTS idx_bonuses_customer ON bonuses(tenant_id, customer_id);
CREATE INDEX IF NOT EXISTS idx_bonuses_unlinked ON bonuses(tenant_id, deposit_id);
`

const schemaWithdrawals = `
CREATE TABLE IF NOT EXISTS withdrawals (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    amount REAL NOT NULL,
    request_date TIMESTAMP NOT NULL,
    payment_date TIMESTAMP,
    staff_name TEXT,
    konum TEXT,
    btag TEXT,
    rejection_date TIMESTAMP,
    deposit_id TEXT,
    bonus_id TEXT,
    max_allowed_withdrawal REAL,
    is_overpayment INTEGER NOT NULL DEFAULT 0,
    overpayment_amount REAL NOT NULL DEFAULT 0,
    processing_time_minutes INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_withdrawals_tenant ON withdrawals(tenant_id);
CREATE INDEX IF NOT EXISTS idx_withdrawals_customer ON withdrawals(tenant_id, customer_id);
CREATE INDEX IF NOT EXISTS idx_withdrawals_overpayment ON withdrawals(tenant_id, is_overpayment);
`

const schemaBonusRules = `
CREATE TABLE IF NOT EXISTS bonus_rules (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    bonus_name TEXT NOT NULL,
    calculation_type TEXT NOT NULL,
    multiplier REAL NOT NULL DEFAULT 0,
    fixed_amount REAL NOT NULL DEFAULT 0,
    max_withdrawal_formula TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bonus_rules_tenant ON bonus_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_bonus_rules_name ON bonus_rules(tenant_id, bonus_name);
`

const schemaRulePrompts = `
CREATE TABLE IF NOT EXISTS ai_rule_prompts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    bonus_name TEXT NOT NULL,
    prompt TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ai_rule_prompts_tenant ON ai_rule_prompts(tenant_id);
`

// schemaReportCache stores the last computed report per report type.
// Upsert-by-key; rows are deleted whenever source data is re-ingested.
const schemaReportCache = `
CREATE TABLE IF NOT EXISTS report_cache (
    tenant_id TEXT NOT NULL,
    report_type TEXT NOT NULL,
    payload TEXT NOT NULL,
    computed_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, report_type)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaDeposits,
		schemaBonuses,
		schemaWithdrawals,
		schemaBonusRules,
		schemaRulePrompts,
		schemaReportCache,
	}
}
