package domain

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

// ErrInvalidRecord is returned by Validate methods when an ingested row is
// missing required fields.
var ErrInvalidRecord = errors.New("invalid record")

// Withdrawal classification statuses emitted by the analyzer. Missing
// linkage is a terminal classification, not an error.
const (
	StatusCompliant    = "compliant"
	StatusOverpayment  = "overpayment"
	StatusNoBonus      = "no_bonus"
	StatusRuleNotFound = "rule_not_found"
)

// Markers used in the calculation log. The reporting UI keys off these, so
// they are part of the contract, not decoration.
const (
	MarkCompliant   = "✅ DOĞRU"
	MarkOverpayment = "❌ HATA"
)

// AnalysisResult is the analyzer's per-withdrawal output. MaxAllowed may be
// +Inf (unlimited); JSON renders that as maxAllowed:null with unlimited:true.
type AnalysisResult struct {
	Withdrawal *Withdrawal `json:"withdrawal"`
	Deposit    *Deposit    `json:"deposit,omitempty"`
	Bonus      *Bonus      `json:"bonus,omitempty"`
	Rule       *BonusRule  `json:"rule,omitempty"`

	Status                string  `json:"status"`
	MaxAllowed            float64 `json:"-"`
	IsOverpayment         bool    `json:"isOverpayment"`
	OverpaymentAmount     float64 `json:"overpaymentAmount"`
	ProcessingTimeMinutes int     `json:"processingTimeMinutes"`

	// CalculationLog is the operator-facing audit trace. First-class
	// output: every decision the analyzer made for this withdrawal,
	// ending in a ✅ DOĞRU or ❌ HATA line.
	CalculationLog string `json:"calculationLog"`
}

// Unlimited reports whether the resolved limit was infinite.
func (r *AnalysisResult) Unlimited() bool {
	return math.IsInf(r.MaxAllowed, 1)
}

type analysisResultJSON struct {
	Withdrawal *Withdrawal `json:"withdrawal"`
	Deposit    *Deposit    `json:"deposit,omitempty"`
	Bonus      *Bonus      `json:"bonus,omitempty"`
	Rule       *BonusRule  `json:"rule,omitempty"`

	Status                string   `json:"status"`
	MaxAllowed            *float64 `json:"maxAllowed"`
	Unlimited             bool     `json:"unlimited"`
	IsOverpayment         bool     `json:"isOverpayment"`
	OverpaymentAmount     float64  `json:"overpaymentAmount"`
	ProcessingTimeMinutes int      `json:"processingTimeMinutes"`
	CalculationLog        string   `json:"calculationLog"`
}

// MarshalJSON renders an infinite limit as null, since JSON has no Inf.
func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	out := analysisResultJSON{
		Withdrawal:            r.Withdrawal,
		Deposit:               r.Deposit,
		Bonus:                 r.Bonus,
		Rule:                  r.Rule,
		Status:                r.Status,
		Unlimited:             r.Unlimited(),
		IsOverpayment:         r.IsOverpayment,
		OverpaymentAmount:     r.OverpaymentAmount,
		ProcessingTimeMinutes: r.ProcessingTimeMinutes,
		CalculationLog:        r.CalculationLog,
	}
	if !r.Unlimited() {
		v := r.MaxAllowed
		out.MaxAllowed = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON: null + unlimited restores +Inf.
func (r *AnalysisResult) UnmarshalJSON(data []byte) error {
	var in analysisResultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Withdrawal = in.Withdrawal
	r.Deposit = in.Deposit
	r.Bonus = in.Bonus
	r.Rule = in.Rule
	r.Status = in.Status
	r.IsOverpayment = in.IsOverpayment
	r.OverpaymentAmount = in.OverpaymentAmount
	r.ProcessingTimeMinutes = in.ProcessingTimeMinutes
	r.CalculationLog = in.CalculationLog
	switch {
	case in.Unlimited:
		r.MaxAllowed = math.Inf(1)
	case in.MaxAllowed != nil:
		r.MaxAllowed = *in.MaxAllowed
	default:
		r.MaxAllowed = 0
	}
	return nil
}

// Report types stored in the report cache.
const (
	ReportOverpayment = "overpayment"
)

// ReportSummary is the aggregate result of a full reconciliation run, the
// payload stored in the report cache keyed by report type.
type ReportSummary struct {
	TenantID    string    `json:"tenantId"`
	ReportType  string    `json:"reportType"`
	GeneratedAt time.Time `json:"generatedAt"`

	TotalWithdrawals       int     `json:"totalWithdrawals"`
	CompliantCount         int     `json:"compliantCount"`
	OverpaymentCount       int     `json:"overpaymentCount"`
	NoBonusCount           int     `json:"noBonusCount"`
	RuleNotFoundCount      int     `json:"ruleNotFoundCount"`
	TotalOverpaymentAmount float64 `json:"totalOverpaymentAmount"`

	BonusesMatched int `json:"bonusesMatched"`

	Results []AnalysisResult `json:"results"`
}
