// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"fmt"
	"time"
)

// Deposit is a customer funding transaction. Deposits are immutable once
// ingested; they serve as the base quantity in withdrawal-limit formulas.
type Deposit struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	CustomerID  string    `json:"customerId"`
	Amount      float64   `json:"amount"`
	DepositDate time.Time `json:"depositDate"`
	Btag        string    `json:"btag,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Validate checks required deposit fields at ingest time.
func (d *Deposit) Validate() error {
	if d.CustomerID == "" {
		return fmt.Errorf("%w: customerId is required", ErrInvalidRecord)
	}
	if d.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative", ErrInvalidRecord)
	}
	if d.DepositDate.IsZero() {
		return fmt.Errorf("%w: depositDate is required", ErrInvalidRecord)
	}
	return nil
}

// Bonus is a promotional credit grant. DepositID starts nil and is set
// exactly once by the deposit-bonus matcher; linked bonuses are never
// re-evaluated.
type Bonus struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenantId"`
	CustomerID     string     `json:"customerId"`
	BonusName      string     `json:"bonusName"`
	Amount         float64    `json:"amount"`
	AcceptanceDate time.Time  `json:"acceptanceDate"`
	CreatedDate    *time.Time `json:"createdDate,omitempty"`
	CreatedBy      string     `json:"createdBy,omitempty"`
	Btag           string     `json:"btag,omitempty"`
	DepositID      *string    `json:"depositId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// EffectiveDate is the timestamp used for all temporal bonus comparisons:
// CreatedDate when present, AcceptanceDate otherwise.
func (b *Bonus) EffectiveDate() time.Time {
	if b.CreatedDate != nil && !b.CreatedDate.IsZero() {
		return *b.CreatedDate
	}
	return b.AcceptanceDate
}

// Validate checks required bonus fields at ingest time.
func (b *Bonus) Validate() error {
	if b.CustomerID == "" {
		return fmt.Errorf("%w: customerId is required", ErrInvalidRecord)
	}
	if b.BonusName == "" {
		return fmt.Errorf("%w: bonusName is required", ErrInvalidRecord)
	}
	if b.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative", ErrInvalidRecord)
	}
	if b.EffectiveDate().IsZero() {
		return fmt.Errorf("%w: acceptanceDate or createdDate is required", ErrInvalidRecord)
	}
	return nil
}

// Withdrawal is a customer payout request. The reconciliation fields
// (DepositID, BonusID, MaxAllowedWithdrawal, IsOverpayment,
// OverpaymentAmount, ProcessingTimeMinutes) are recomputed and overwritten
// in full on every analyzer run.
type Withdrawal struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	CustomerID  string     `json:"customerId"`
	Amount      float64    `json:"amount"`
	RequestDate time.Time  `json:"requestDate"`
	PaymentDate *time.Time `json:"paymentDate,omitempty"`
	StaffName   string     `json:"staffName,omitempty"`
	Konum       string     `json:"konum,omitempty"`
	Btag        string     `json:"btag,omitempty"`

	RejectionDate *time.Time `json:"rejectionDate,omitempty"`

	// Reconciliation fields, owned by the withdrawal analyzer.
	DepositID             *string  `json:"depositId,omitempty"`
	BonusID               *string  `json:"bonusId,omitempty"`
	MaxAllowedWithdrawal  *float64 `json:"maxAllowedWithdrawal,omitempty"` // nil = not computed or unlimited
	IsOverpayment         bool     `json:"isOverpayment"`
	OverpaymentAmount     float64  `json:"overpaymentAmount"`
	ProcessingTimeMinutes int      `json:"processingTimeMinutes"`

	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks required withdrawal fields at ingest time.
func (w *Withdrawal) Validate() error {
	if w.CustomerID == "" {
		return fmt.Errorf("%w: customerId is required", ErrInvalidRecord)
	}
	if w.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative", ErrInvalidRecord)
	}
	if w.RequestDate.IsZero() {
		return fmt.Errorf("%w: requestDate is required", ErrInvalidRecord)
	}
	return nil
}

// Calculation types for bonus rules.
const (
	CalcFixed      = "fixed"
	CalcMultiplier = "multiplier"
	CalcUnlimited  = "unlimited"
)

// UnlimitedSentinel marks a formula field that should be treated as no
// formula at all ("Sınırsız" = unlimited in the operator UI).
const UnlimitedSentinel = "Sınırsız"

// BonusRule is an operator-configured withdrawal-limit rule. A non-empty
// MaxWithdrawalFormula (other than the unlimited sentinel) overrides
// CalculationType.
type BonusRule struct {
	ID                  string  `json:"id"`
	TenantID            string  `json:"tenantId"`
	BonusName           string  `json:"bonusName"`
	CalculationType     string  `json:"calculationType"` // fixed | multiplier | unlimited
	Multiplier          float64 `json:"multiplier"`
	FixedAmount         float64 `json:"fixedAmount"`
	MaxWithdrawalFormula string `json:"maxWithdrawalFormula,omitempty"`
}

// HasFormula reports whether the rule carries a usable override formula.
func (r *BonusRule) HasFormula() bool {
	return r.MaxWithdrawalFormula != "" && r.MaxWithdrawalFormula != UnlimitedSentinel
}

// Validate checks a rule before it is saved.
func (r *BonusRule) Validate() error {
	if r.BonusName == "" {
		return fmt.Errorf("%w: bonusName is required", ErrInvalidRecord)
	}
	switch r.CalculationType {
	case CalcFixed, CalcMultiplier, CalcUnlimited:
	default:
		return fmt.Errorf("%w: unknown calculationType %q", ErrInvalidRecord, r.CalculationType)
	}
	return nil
}

// AIRulePrompt is a free-text rule description used when no structured
// BonusRule resolves for a bonus name. Prompts are parsed on demand and
// never cached as formulas.
type AIRulePrompt struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	BonusName string `json:"bonusName"`
	Prompt    string `json:"prompt"`
}
