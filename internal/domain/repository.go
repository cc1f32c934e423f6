package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict tenant (brand/skin) isolation.
type Repository interface {
	// Deposit operations. Deposits are immutable once saved.
	SaveDeposit(ctx context.Context, tenantID string, d *Deposit) error
	GetDeposit(ctx context.Context, tenantID string, id string) (*Deposit, error)
	ListDeposits(ctx context.Context, tenantID string) ([]*Deposit, error)
	ListDepositsByCustomer(ctx context.Context, tenantID string, customerID string) ([]*Deposit, error)

	// Bonus operations. SetBonusDeposit is the matcher's one-shot link
	// write; it must not overwrite an existing link.
	SaveBonus(ctx context.Context, tenantID string, b *Bonus) error
	GetBonus(ctx context.Context, tenantID string, id string) (*Bonus, error)
	ListBonuses(ctx context.Context, tenantID string) ([]*Bonus, error)
	ListUnlinkedBonuses(ctx context.Context, tenantID string) ([]*Bonus, error)
	SetBonusDeposit(ctx context.Context, tenantID string, bonusID string, depositID string) error

	// Withdrawal operations. UpdateWithdrawalAnalysis overwrites all
	// reconciliation fields (full recompute semantics).
	SaveWithdrawal(ctx context.Context, tenantID string, w *Withdrawal) error
	GetWithdrawal(ctx context.Context, tenantID string, id string) (*Withdrawal, error)
	ListWithdrawals(ctx context.Context, tenantID string) ([]*Withdrawal, error)
	UpdateWithdrawalAnalysis(ctx context.Context, tenantID string, w *Withdrawal) error

	// Bonus rule operations. Rules are operator-configured, read-only to
	// the reconciliation core.
	SaveBonusRule(ctx context.Context, tenantID string, r *BonusRule) error
	GetBonusRule(ctx context.Context, tenantID string, id string) (*BonusRule, error)
	ListBonusRules(ctx context.Context, tenantID string) ([]*BonusRule, error)

	// AI rule prompt operations.
	SaveRulePrompt(ctx context.Context, tenantID string, p *AIRulePrompt) error
	ListRulePrompts(ctx context.Context, tenantID string) ([]*AIRulePrompt, error)

	// Report cache: upsert-by-key persistence of the last computed report.
	PutReport(ctx context.Context, tenantID string, report *ReportSummary) error
	GetReport(ctx context.Context, tenantID string, reportType string) (*ReportSummary, error)
	DeleteReport(ctx context.Context, tenantID string, reportType string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
