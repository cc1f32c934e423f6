// Package analyzer classifies withdrawals against bonus withdrawal limits.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/formula"
	"github.com/opensource-finance/kestrel/internal/ledger"
	"github.com/opensource-finance/kestrel/internal/nlrule"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// DefaultConfidenceThreshold is the minimum parse confidence for a
// natural-language rule to be trusted during analysis.
const DefaultConfidenceThreshold = 0.7

// Analyzer runs the per-withdrawal limit state machine: find the most
// recent qualifying bonus, resolve its rule, compute the allowed maximum
// and classify the withdrawal. All reconciliation fields are recomputed
// and overwritten on every run.
type Analyzer struct {
	repo      domain.Repository
	engine    *formula.Engine
	threshold float64
}

// New creates an analyzer. A non-positive threshold falls back to
// DefaultConfidenceThreshold.
func New(repo domain.Repository, engine *formula.Engine, threshold float64) *Analyzer {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Analyzer{repo: repo, engine: engine, threshold: threshold}
}

// AnalyzeAll analyzes every withdrawal in the snapshot and persists the
// reconciliation fields. A single withdrawal's failure never aborts the
// batch; persistence errors are logged and the run continues.
func (a *Analyzer) AnalyzeAll(ctx context.Context, snap *ledger.Snapshot) ([]domain.AnalysisResult, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot is required")
	}

	ruleSet, err := a.repo.ListBonusRules(ctx, snap.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bonus rules: %w", err)
	}
	prompts, err := a.repo.ListRulePrompts(ctx, snap.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule prompts: %w", err)
	}

	customers := make([]string, 0, len(snap.Withdrawals))
	for id := range snap.Withdrawals {
		customers = append(customers, id)
	}
	sort.Strings(customers)

	var results []domain.AnalysisResult
	for _, customerID := range customers {
		for _, w := range snap.Withdrawals[customerID] {
			res := a.analyzeOne(snap, w, ruleSet, prompts)
			results = append(results, res)

			if err := a.repo.UpdateWithdrawalAnalysis(ctx, snap.TenantID, w); err != nil {
				slog.Error("failed to persist withdrawal analysis",
					"tenant_id", snap.TenantID,
					"withdrawal_id", w.ID,
					"error", err)
			}
		}
	}

	slog.Info("withdrawal analysis complete",
		"tenant_id", snap.TenantID,
		"withdrawals", len(results))
	return results, nil
}

// analyzeOne computes and writes the reconciliation fields onto w and
// returns the full result with its audit trace.
func (a *Analyzer) analyzeOne(snap *ledger.Snapshot, w *domain.Withdrawal, ruleSet []*domain.BonusRule, prompts []*domain.AIRulePrompt) domain.AnalysisResult {
	var log strings.Builder
	fmt.Fprintf(&log, "customer: %s\n", w.CustomerID)
	fmt.Fprintf(&log, "withdrawal: %.2f @ %s\n", w.Amount, w.RequestDate.Format("2006-01-02 15:04"))

	// Full recompute: any reconciliation state from a previous run is
	// discarded before this one writes its own.
	w.DepositID = nil
	w.BonusID = nil
	w.ProcessingTimeMinutes = processingMinutes(w)

	res := domain.AnalysisResult{Withdrawal: w}

	bonus := latestBonusBefore(snap.Bonuses[w.CustomerID], w)
	if bonus == nil {
		log.WriteString("no bonus precedes this withdrawal\n")
		a.finish(&res, w, domain.StatusNoBonus, 0, &log)
		return res
	}
	res.Bonus = bonus
	id := bonus.ID
	w.BonusID = &id
	fmt.Fprintf(&log, "bonus: %s %.2f @ %s\n",
		bonus.BonusName, bonus.Amount, bonus.EffectiveDate().Format("2006-01-02 15:04"))

	var deposit *domain.Deposit
	if bonus.DepositID != nil {
		deposit = snap.DepositByID(*bonus.DepositID)
	}
	if deposit != nil {
		res.Deposit = deposit
		depID := deposit.ID
		w.DepositID = &depID
		fmt.Fprintf(&log, "deposit: %.2f @ %s\n",
			deposit.Amount, deposit.DepositDate.Format("2006-01-02 15:04"))
	} else {
		log.WriteString("deposit: none linked\n")
	}

	rule := rules.Resolve(bonus.BonusName, ruleSet)
	var parsed *nlrule.ParsedRule
	if rule == nil {
		parsed = a.parseFallback(bonus.BonusName, prompts, &log)
		if parsed == nil {
			log.WriteString("no rule or trusted prompt resolves this bonus name\n")
			a.finish(&res, w, domain.StatusRuleNotFound, 0, &log)
			return res
		}
	}
	res.Rule = rule

	maxAllowed := a.maxAllowed(rule, parsed, deposit, bonus, w, &log)
	fmt.Fprintf(&log, "limit: %s\n", formatLimit(maxAllowed))

	status := domain.StatusCompliant
	if !math.IsInf(maxAllowed, 1) && w.Amount > maxAllowed {
		status = domain.StatusOverpayment
		res.OverpaymentAmount = w.Amount - maxAllowed
	}
	a.finish(&res, w, status, maxAllowed, &log)
	return res
}

// finish stamps the terminal state onto the result and the withdrawal,
// writing the closing marker line of the audit trace.
func (a *Analyzer) finish(res *domain.AnalysisResult, w *domain.Withdrawal, status string, maxAllowed float64, log *strings.Builder) {
	res.Status = status
	res.MaxAllowed = maxAllowed
	res.ProcessingTimeMinutes = w.ProcessingTimeMinutes

	if status == domain.StatusOverpayment {
		res.IsOverpayment = true
		fmt.Fprintf(log, "%s overpayment: %.2f\n", domain.MarkOverpayment, res.OverpaymentAmount)
	} else {
		fmt.Fprintf(log, "%s within limit\n", domain.MarkCompliant)
	}
	res.CalculationLog = log.String()

	w.IsOverpayment = res.IsOverpayment
	w.OverpaymentAmount = res.OverpaymentAmount
	if math.IsInf(maxAllowed, 1) {
		w.MaxAllowedWithdrawal = nil
	} else {
		v := maxAllowed
		w.MaxAllowedWithdrawal = &v
	}
}

// parseFallback resolves a natural-language rule when no structured rule
// matched: a configured prompt first, the bonus name text itself second.
// Configured prompt text additionally runs through the numeric
// formula-text parser before the keyword parser; bonus names do not,
// since a name is never an arithmetic expression. Low-confidence parses
// are rejected.
func (a *Analyzer) parseFallback(bonusName string, prompts []*domain.AIRulePrompt, log *strings.Builder) *nlrule.ParsedRule {
	text := bonusName
	var parsed *nlrule.ParsedRule
	if p := rules.ResolvePrompt(bonusName, prompts); p != nil {
		text = p.Prompt
		fmt.Fprintf(log, "prompt: %q\n", p.Prompt)
		parsed = nlrule.ParseFormulaText(text)
	}
	if parsed == nil {
		parsed = nlrule.ParsePrompt(text)
	}
	fmt.Fprintf(log, "parsed rule: %s (%s) confidence %.2f\n",
		parsed.Formula, parsed.Reasoning, parsed.Confidence)
	if parsed.Confidence <= a.threshold {
		fmt.Fprintf(log, "confidence below threshold %.2f, parse rejected\n", a.threshold)
		return nil
	}
	return parsed
}

// maxAllowed computes the withdrawal limit for a resolved rule or a
// trusted natural-language parse. Formula evaluation failures fall back
// to the structured calculation type; they never abort the analysis.
func (a *Analyzer) maxAllowed(rule *domain.BonusRule, parsed *nlrule.ParsedRule, deposit *domain.Deposit, bonus *domain.Bonus, w *domain.Withdrawal, log *strings.Builder) float64 {
	vars := formula.Vars{
		Bonus:      bonus.Amount,
		Withdrawal: w.Amount,
	}
	if deposit != nil {
		vars.Deposit = deposit.Amount
	}

	if rule != nil {
		vars.Multiplier = rule.Multiplier
		vars.Fixed = rule.FixedAmount

		if rule.CalculationType == domain.CalcUnlimited {
			fmt.Fprintf(log, "rule: %s (unlimited)\n", rule.BonusName)
			return math.Inf(1)
		}
		if rule.HasFormula() {
			fmt.Fprintf(log, "rule: %s formula %q\n", rule.BonusName, rule.MaxWithdrawalFormula)
			v, err := a.engine.Evaluate(rule.MaxWithdrawalFormula, vars)
			if err == nil {
				return v
			}
			fmt.Fprintf(log, "formula failed (%v), falling back to %s calculation\n", err, rule.CalculationType)
		} else {
			fmt.Fprintf(log, "rule: %s (%s)\n", rule.BonusName, rule.CalculationType)
		}

		switch rule.CalculationType {
		case domain.CalcFixed:
			base := 0.0
			if deposit != nil {
				base = deposit.Amount
			}
			return base + rule.FixedAmount
		case domain.CalcMultiplier:
			if deposit != nil {
				return deposit.Amount * rule.Multiplier
			}
			log.WriteString("no linked deposit, multiplier applied to bonus amount\n")
			return bonus.Amount * rule.Multiplier
		}
		return 0
	}

	vars.Multiplier = parsed.Multiplier
	vars.Fixed = parsed.FixedAmount
	if parsed.CalculationType == domain.CalcUnlimited {
		return math.Inf(1)
	}
	v, err := a.engine.Evaluate(parsed.Formula, vars)
	if err != nil {
		fmt.Fprintf(log, "parsed formula failed (%v), limit degrades to 0\n", err)
		return 0
	}
	return v
}

// latestBonusBefore returns the bonus with the latest effective date
// strictly before the withdrawal request. Bonuses are sorted ascending.
func latestBonusBefore(bonuses []*domain.Bonus, w *domain.Withdrawal) *domain.Bonus {
	var best *domain.Bonus
	for _, b := range bonuses {
		if !b.EffectiveDate().Before(w.RequestDate) {
			break
		}
		best = b
	}
	return best
}

// processingMinutes is the rounded minute span from request to payment,
// zero when the withdrawal was never paid.
func processingMinutes(w *domain.Withdrawal) int {
	if w.PaymentDate == nil {
		return 0
	}
	return int(math.Round(w.PaymentDate.Sub(w.RequestDate).Minutes()))
}

func formatLimit(v float64) string {
	if math.IsInf(v, 1) {
		return "unlimited"
	}
	return fmt.Sprintf("%.2f", v)
}
