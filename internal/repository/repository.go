// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyLinked is returned when the matcher tries to link a bonus
	// that already carries a deposit link.
	ErrAlreadyLinked = errors.New("bonus already linked to a deposit")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveDeposit stores a deposit with tenant isolation.
func (r *SQLRepository) SaveDeposit(ctx context.Context, tenantID string, d *domain.Deposit) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO deposits (id, tenant_id, customer_id, amount, deposit_date, btag, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		d.ID, tenantID, d.CustomerID, d.Amount, d.DepositDate, d.Btag, d.CreatedAt,
	)
	return err
}

// GetDeposit retrieves a deposit by ID with tenant isolation.
func (r *SQLRepository) GetDeposit(ctx context.Context, tenantID string, id string) (*domain.Deposit, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, customer_id, amount, deposit_date, btag, created_at
		FROM deposits
		WHERE tenant_id = ? AND id = ?
	`

	var d domain.Deposit
	var btag sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id).Scan(
		&d.ID, &d.TenantID, &d.CustomerID, &d.Amount, &d.DepositDate, &btag, &d.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Btag = btag.String
	return &d, nil
}

// ListDeposits retrieves all deposits for a tenant, oldest first.
func (r *SQLRepository) ListDeposits(ctx context.Context, tenantID string) ([]*domain.Deposit, error) {
	return r.queryDeposits(ctx, tenantID, `
		SELECT id, tenant_id, customer_id, amount, deposit_date, btag, created_at
		FROM deposits
		WHERE tenant_id = ?
		ORDER BY deposit_date
	`, tenantID)
}

// ListDepositsByCustomer retrieves one customer's deposits, oldest first.
func (r *SQLRepository) ListDepositsByCustomer(ctx context.Context, tenantID string, customerID string) ([]*domain.Deposit, error) {
	return r.queryDeposits(ctx, tenantID, `
		SELECT id, tenant_id, customer_id, amount, deposit_date, btag, created_at
		FROM deposits
		WHERE tenant_id = ? AND customer_id = ?
		ORDER BY deposit_date
	`, tenantID, customerID)
}

func (r *SQLRepository) queryDeposits(ctx context.Context, tenantID string, query string, args ...any) ([]*domain.Deposit, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []*domain.Deposit
	for rows.Next() {
		var d domain.Deposit
		var btag sql.NullString

		if err := rows.Scan(
			&d.ID, &d.TenantID, &d.CustomerID, &d.Amount, &d.DepositDate, &btag, &d.CreatedAt,
		); err != nil {
			return nil, err
		}

		d.Btag = btag.String
		deposits = append(deposits, &d)
	}

	return deposits, rows.Err()
}

// SaveBonus stores a bonus with tenant isolation.
func (r *SQLRepository) SaveBonus(ctx context.Context, tenantID string, b *domain.Bonus) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO bonuses (
			id, tenant_id, customer_id, bonus_name, amount,
			acceptance_date, created_date, created_by, btag, deposit_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		b.ID, tenantID, b.CustomerID, b.BonusName, b.Amount,
		b.AcceptanceDate, b.CreatedDate, b.CreatedBy, b.Btag, b.DepositID, b.CreatedAt,
	)
	return err
}

const bonusColumns = `id, tenant_id, customer_id, bonus_name, amount,
		acceptance_date, created_date, created_by, btag, deposit_id, created_at`

// GetBonus retrieves a bonus by ID with tenant isolation.
func (r *SQLRepository) GetBonus(ctx context.Context, tenantID string, id string) (*domain.Bonus, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + bonusColumns + ` FROM bonuses WHERE tenant_id = ? AND id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id)
	b, err := scanBonus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// ListBonuses retrieves all bonuses for a tenant, oldest effective date first.
func (r *SQLRepository) ListBonuses(ctx context.Context, tenantID string) ([]*domain.Bonus, error) {
	return r.queryBonuses(ctx, tenantID, `
		SELECT `+bonusColumns+`
		FROM bonuses
		WHERE tenant_id = ?
		ORDER BY COALESCE(created_date, acceptance_date)
	`, tenantID)
}

// ListUnlinkedBonuses retrieves bonuses that the matcher has not linked yet.
func (r *SQLRepository) ListUnlinkedBonuses(ctx context.Context, tenantID string) ([]*domain.Bonus, error) {
	return r.queryBonuses(ctx, tenantID, `
		SELECT `+bonusColumns+`
		FROM bonuses
		WHERE tenant_id = ? AND deposit_id IS NULL
		ORDER BY COALESCE(created_date, acceptance_date)
	`, tenantID)
}

func (r *SQLRepository) queryBonuses(ctx context.Context, tenantID string, query string, args ...any) ([]*domain.Bonus, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bonuses []*domain.Bonus
	for rows.Next() {
		b, err := scanBonus(rows)
		if err != nil {
			return nil, err
		}
		bonuses = append(bonuses, b)
	}

	return bonuses, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBonus(row rowScanner) (*domain.Bonus, error) {
	var b domain.Bonus
	var createdDate sql.NullTime
	var createdBy, btag, depositID sql.NullString

	if err := row.Scan(
		&b.ID, &b.TenantID, &b.CustomerID, &b.BonusName, &b.Amount,
		&b.AcceptanceDate, &createdDate, &createdBy, &btag, &depositID, &b.CreatedAt,
	); err != nil {
		return nil, err
	}

	if createdDate.Valid {
		t := createdDate.Time
		b.CreatedDate = &t
	}
	b.CreatedBy = createdBy.String
	b.Btag = btag.String
	if depositID.Valid {
		s := depositID.String
		b.DepositID = &s
	}
	return &b, nil
}

// SetBonusDeposit links a bonus to a deposit. The link is one-shot: a bonus
// that already has a deposit_id is never overwritten.
func (r *SQLRepository) SetBonusDeposit(ctx context.Context, tenantID string, bonusID string, depositID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE bonuses
		SET deposit_id = ?
		WHERE tenant_id = ? AND id = ? AND deposit_id IS NULL
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), depositID, tenantID, bonusID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either the bonus does not exist or it is already linked.
		if _, err := r.GetBonus(ctx, tenantID, bonusID); err != nil {
			return err
		}
		return ErrAlreadyLinked
	}
	return nil
}

// SaveWithdrawal stores a withdrawal with tenant isolation. Reconciliation
// fields are stored as ingested (normally unset).
func (r *SQLRepository) SaveWithdrawal(ctx context.Context, tenantID string, w *domain.Withdrawal) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO withdrawals (
			id, tenant_id, customer_id, amount, request_date, payment_date,
			staff_name, konum, btag, rejection_date,
			deposit_id, bonus_id, max_allowed_withdrawal,
			is_overpayment, overpayment_amount, processing_time_minutes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		w.ID, tenantID, w.CustomerID, w.Amount, w.RequestDate, w.PaymentDate,
		w.StaffName, w.Konum, w.Btag, w.RejectionDate,
		w.DepositID, w.BonusID, w.MaxAllowedWithdrawal,
		boolToInt(w.IsOverpayment), w.OverpaymentAmount, w.ProcessingTimeMinutes, w.CreatedAt,
	)
	return err
}

const withdrawalColumns = `id, tenant_id, customer_id, amount, request_date, payment_date,
		staff_name, konum, btag, rejection_date,
		deposit_id, bonus_id, max_allowed_withdrawal,
		is_overpayment, overpayment_amount, processing_time_minutes, created_at`

// GetWithdrawal retrieves a withdrawal by ID with tenant isolation.
func (r *SQLRepository) GetWithdrawal(ctx context.Context, tenantID string, id string) (*domain.Withdrawal, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE tenant_id = ? AND id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id)
	w, err := scanWithdrawal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

// ListWithdrawals retrieves all withdrawals for a tenant, oldest request first.
func (r *SQLRepository) ListWithdrawals(ctx context.Context, tenantID string) ([]*domain.Withdrawal, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE tenant_id = ?
		ORDER BY request_date
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var withdrawals []*domain.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, w)
	}

	return withdrawals, rows.Err()
}

func scanWithdrawal(row rowScanner) (*domain.Withdrawal, error) {
	var w domain.Withdrawal
	var paymentDate, rejectionDate sql.NullTime
	var staffName, konum, btag, depositID, bonusID sql.NullString
	var maxAllowed sql.NullFloat64
	var isOverpayment int

	if err := row.Scan(
		&w.ID, &w.TenantID, &w.CustomerID, &w.Amount, &w.RequestDate, &paymentDate,
		&staffName, &konum, &btag, &rejectionDate,
		&depositID, &bonusID, &maxAllowed,
		&isOverpayment, &w.OverpaymentAmount, &w.ProcessingTimeMinutes, &w.CreatedAt,
	); err != nil {
		return nil, err
	}

	if paymentDate.Valid {
		t := paymentDate.Time
		w.PaymentDate = &t
	}
	if rejectionDate.Valid {
		t := rejectionDate.Time
		w.RejectionDate = &t
	}
	w.StaffName = staffName.String
	w.Konum = konum.String
	w.Btag = btag.String
	if depositID.Valid {
		s := depositID.String
		w.DepositID = &s
	}
	if bonusID.Valid {
		s := bonusID.String
		w.BonusID = &s
	}
	if maxAllowed.Valid {
		v := maxAllowed.Float64
		w.MaxAllowedWithdrawal = &v
	}
	w.IsOverpayment = isOverpayment == 1
	return &w, nil
}

// UpdateWithdrawalAnalysis overwrites all reconciliation fields on a
// withdrawal. Full recompute semantics: every field is written, including
// back to NULL/zero when this run found no linkage.
func (r *SQLRepository) UpdateWithdrawalAnalysis(ctx context.Context, tenantID string, w *domain.Withdrawal) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE withdrawals
		SET deposit_id = ?,
			bonus_id = ?,
			max_allowed_withdrawal = ?,
			is_overpayment = ?,
			overpayment_amount = ?,
			processing_time_minutes = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		w.DepositID, w.BonusID, w.MaxAllowedWithdrawal,
		boolToInt(w.IsOverpayment), w.OverpaymentAmount, w.ProcessingTimeMinutes,
		tenantID, w.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveBonusRule upserts a bonus rule with tenant isolation.
func (r *SQLRepository) SaveBonusRule(ctx context.Context, tenantID string, rule *domain.BonusRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO bonus_rules (
			id, tenant_id, bonus_name, calculation_type,
			multiplier, fixed_amount, max_withdrawal_formula, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bonus_name = excluded.bonus_name,
			calculation_type = excluded.calculation_type,
			multiplier = excluded.multiplier,
			fixed_amount = excluded.fixed_amount,
			max_withdrawal_formula = excluded.max_withdrawal_formula,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.BonusName, rule.CalculationType,
		rule.Multiplier, rule.FixedAmount, rule.MaxWithdrawalFormula,
		now, now,
	)
	return err
}

// GetBonusRule retrieves a bonus rule by ID with tenant isolation.
func (r *SQLRepository) GetBonusRule(ctx context.Context, tenantID string, id string) (*domain.BonusRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, bonus_name, calculation_type, multiplier, fixed_amount, max_withdrawal_formula
		FROM bonus_rules
		WHERE tenant_id = ? AND id = ?
	`

	var rule domain.BonusRule
	var formula sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id).Scan(
		&rule.ID, &rule.TenantID, &rule.BonusName, &rule.CalculationType,
		&rule.Multiplier, &rule.FixedAmount, &formula,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.MaxWithdrawalFormula = formula.String
	return &rule, nil
}

// ListBonusRules retrieves all bonus rules for a tenant, by name.
func (r *SQLRepository) ListBonusRules(ctx context.Context, tenantID string) ([]*domain.BonusRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, bonus_name, calculation_type, multiplier, fixed_amount, max_withdrawal_formula
		FROM bonus_rules
		WHERE tenant_id = ?
		ORDER BY bonus_name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.BonusRule
	for rows.Next() {
		var rule domain.BonusRule
		var formula sql.NullString

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.BonusName, &rule.CalculationType,
			&rule.Multiplier, &rule.FixedAmount, &formula,
		); err != nil {
			return nil, err
		}

		rule.MaxWithdrawalFormula = formula.String
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveRulePrompt upserts an AI rule prompt with tenant isolation.
func (r *SQLRepository) SaveRulePrompt(ctx context.Context, tenantID string, p *domain.AIRulePrompt) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO ai_rule_prompts (id, tenant_id, bonus_name, prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bonus_name = excluded.bonus_name,
			prompt = excluded.prompt,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, tenantID, p.BonusName, p.Prompt, now, now,
	)
	return err
}

// ListRulePrompts retrieves all AI rule prompts for a tenant.
func (r *SQLRepository) ListRulePrompts(ctx context.Context, tenantID string) ([]*domain.AIRulePrompt, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, bonus_name, prompt
		FROM ai_rule_prompts
		WHERE tenant_id = ?
		ORDER BY bonus_name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []*domain.AIRulePrompt
	for rows.Next() {
		var p domain.AIRulePrompt
		if err := rows.Scan(&p.ID, &p.TenantID, &p.BonusName, &p.Prompt); err != nil {
			return nil, err
		}
		prompts = append(prompts, &p)
	}

	return prompts, rows.Err()
}

// PutReport upserts the last computed report for a report type.
func (r *SQLRepository) PutReport(ctx context.Context, tenantID string, report *domain.ReportSummary) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	query := `
		INSERT INTO report_cache (tenant_id, report_type, payload, computed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, report_type) DO UPDATE SET
			payload = excluded.payload,
			computed_at = excluded.computed_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tenantID, report.ReportType, string(payload), report.GeneratedAt,
	)
	return err
}

// GetReport retrieves the last computed report for a report type.
func (r *SQLRepository) GetReport(ctx context.Context, tenantID string, reportType string) (*domain.ReportSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT payload FROM report_cache
		WHERE tenant_id = ? AND report_type = ?
	`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, reportType).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var report domain.ReportSummary
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("failed to decode cached report: %w", err)
	}
	return &report, nil
}

// DeleteReport removes the cached report for a report type. Called on any
// re-ingestion of source data.
func (r *SQLRepository) DeleteReport(ctx context.Context, tenantID string, reportType string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM report_cache WHERE tenant_id = ? AND report_type = ?`
	_, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, reportType)
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
