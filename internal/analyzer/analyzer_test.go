package analyzer

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/formula"
	"github.com/opensource-finance/kestrel/internal/ledger"
	"github.com/opensource-finance/kestrel/internal/matcher"
	"github.com/opensource-finance/kestrel/internal/repository"
)

type testEnv struct {
	repo   domain.Repository
	engine *formula.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "analyzer_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := formula.NewEngine()
	if err != nil {
		t.Fatalf("failed to create formula engine: %v", err)
	}
	return &testEnv{repo: repo, engine: engine}
}

func day(n int) time.Time {
	return time.Date(2025, 6, n, 12, 0, 0, 0, time.UTC)
}

func (e *testEnv) seedDeposit(t *testing.T, id, customer string, amount float64, date time.Time) {
	t.Helper()
	err := e.repo.SaveDeposit(context.Background(), "tenant-1", &domain.Deposit{
		ID: id, TenantID: "tenant-1", CustomerID: customer,
		Amount: amount, DepositDate: date,
	})
	if err != nil {
		t.Fatalf("failed to save deposit: %v", err)
	}
}

func (e *testEnv) seedBonus(t *testing.T, id, customer, name string, amount float64, date time.Time) {
	t.Helper()
	err := e.repo.SaveBonus(context.Background(), "tenant-1", &domain.Bonus{
		ID: id, TenantID: "tenant-1", CustomerID: customer,
		BonusName: name, Amount: amount, AcceptanceDate: date,
	})
	if err != nil {
		t.Fatalf("failed to save bonus: %v", err)
	}
}

func (e *testEnv) seedWithdrawal(t *testing.T, id, customer string, amount float64, date time.Time) {
	t.Helper()
	err := e.repo.SaveWithdrawal(context.Background(), "tenant-1", &domain.Withdrawal{
		ID: id, TenantID: "tenant-1", CustomerID: customer,
		Amount: amount, RequestDate: date,
	})
	if err != nil {
		t.Fatalf("failed to save withdrawal: %v", err)
	}
}

func (e *testEnv) seedRule(t *testing.T, r *domain.BonusRule) {
	t.Helper()
	r.TenantID = "tenant-1"
	if err := e.repo.SaveBonusRule(context.Background(), "tenant-1", r); err != nil {
		t.Fatalf("failed to save rule: %v", err)
	}
}

// run matches then analyzes, the order every reconciliation pass uses.
func (e *testEnv) run(t *testing.T) []domain.AnalysisResult {
	t.Helper()
	snap, err := ledger.NewService(e.repo).Load(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if _, err := matcher.New(e.repo, nil).MatchAll(context.Background(), snap); err != nil {
		t.Fatalf("matching failed: %v", err)
	}
	results, err := New(e.repo, e.engine, 0).AnalyzeAll(context.Background(), snap)
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	return results
}

func TestAnalyzeAll_MultiplierOverpayment(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeposit(t, "dep-1", "cust-1", 1000, day(1))
	env.seedBonus(t, "bon-1", "cust-1", "VIP Bonus", 200, day(2))
	env.seedWithdrawal(t, "wd-1", "cust-1", 5500, day(3))
	env.seedRule(t, &domain.BonusRule{
		ID: "rule-1", BonusName: "VIP",
		CalculationType: domain.CalcMultiplier, Multiplier: 5,
	})

	results := env.run(t)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Status != domain.StatusOverpayment {
		t.Fatalf("expected overpayment, got %s\n%s", r.Status, r.CalculationLog)
	}
	if r.MaxAllowed != 5000 {
		t.Errorf("expected limit 5000, got %v", r.MaxAllowed)
	}
	if r.OverpaymentAmount != 500 {
		t.Errorf("expected overpayment 500, got %v", r.OverpaymentAmount)
	}
	if !strings.Contains(r.CalculationLog, domain.MarkOverpayment) {
		t.Errorf("calculation log must carry the %s marker:\n%s", domain.MarkOverpayment, r.CalculationLog)
	}

	w, err := env.repo.GetWithdrawal(context.Background(), "tenant-1", "wd-1")
	if err != nil {
		t.Fatalf("failed to reload withdrawal: %v", err)
	}
	if w.MaxAllowedWithdrawal == nil || *w.MaxAllowedWithdrawal != 5000 {
		t.Errorf("persisted limit wrong: %v", w.MaxAllowedWithdrawal)
	}
	if !w.IsOverpayment || w.OverpaymentAmount != 500 {
		t.Errorf("persisted classification wrong: %+v", w)
	}
	if w.BonusID == nil || *w.BonusID != "bon-1" {
		t.Errorf("expected bonus link bon-1, got %v", w.BonusID)
	}
	if w.DepositID == nil || *w.DepositID != "dep-1" {
		t.Errorf("expected deposit link dep-1, got %v", w.DepositID)
	}
}

func TestAnalyzeAll_ExactLimitIsCompliant(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeposit(t, "dep-1", "cust-1", 1000, day(1))
	env.seedBonus(t, "bon-1", "cust-1", "VIP Bonus", 200, day(2))
	env.seedWithdrawal(t, "wd-1", "cust-1", 5000, day(3))
	env.seedWithdrawal(t, "wd-2", "cust-1", 5000.01, day(4))
	env.seedRule(t, &domain.BonusRule{
		ID: "rule-1", BonusName: "VIP",
		CalculationType: domain.CalcMultiplier, Multiplier: 5,
	})

	results := env.run(t)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != domain.StatusCompliant {
		t.Errorf("amount equal to limit must be compliant, got %s", results[0].Status)
	}
	if !strings.Contains(results[0].CalculationLog, domain.MarkCompliant) {
		t.Errorf("compliant log must carry the %s marker", domain.MarkCompliant)
	}
	if results[1].Status != domain.StatusOverpayment {
		t.Errorf("a cent over the limit must be an overpayment, got %s", results[1].Status)
	}
	if got := results[1].OverpaymentAmount; math.Abs(got-0.01) > 1e-9 {
		t.Errorf("expected overpayment 0.01, got %v", got)
	}
}

func TestAnalyzeAll_NoBonus(t *testing.T) {
	env := newTestEnv(t)
	env.seedWithdrawal(t, "wd-1", "cust-1", 300, day(3))

	results := env.run(t)
	r := results[0]
	if r.Status != domain.StatusNoBonus {
		t.Fatalf("expected no-bonus status, got %s", r.Status)
	}
	if r.IsOverpayment {
		t.Error("absence of a bonus is not a violation")
	}
	if r.MaxAllowed != 0 {
		t.Errorf("expected limit 0, got %v", r.MaxAllowed)
	}
}

func TestAnalyzeAll_BonusMustPrecedeWithdrawal(t *testing.T) {
	env := newTestEnv(t)
	env.seedBonus(t, "bon-1", "cust-1", "VIP Bonus", 200, day(5))
	env.seedWithdrawal(t, "wd-1", "cust-1", 300, day(3))
	env.seedRule(t, &domain.BonusRule{
		ID: "rule-1", BonusName: "VIP",
		CalculationType: domain.CalcMultiplier, Multiplier: 5,
	})

	results := env.run(t)
	if results[0].Status != domain.StatusNoBonus {
		t.Errorf("a bonus granted after the request must not qualify, got %s", results[0].Status)
	}
}

func TestAnalyzeAll_MostRecentBonusWins(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeposit(t, "dep-1", "cust-1", 1000, day(1))
	env.seedBonus(t, "bon-old", "cust-1", "Eski Bonus", 100, day(2))
	env.seedBonus(t, "bon-new", "cust-1", "VIP Bonus", 200, day(4))
	env.seedWithdrawal(t, "wd-1", "cust-1", 300, day(5))
	env.seedRule(t, &domain.BonusRule{
		ID: "rule-1", BonusName: "VIP",
		CalculationType: domain.CalcUnlimited,
	})

	results := env.run(t)
	r := results[0]
	if r.Bonus == nil || r.Bonus.ID != "bon-new" {
		t.Fatalf("expected most recent qualifying bonus, got %+v", r.Bonus)
	}
}

func TestAnalyzeAll_Unlimited(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeposit(t, "dep-1", "cust-1", 100, day(1))
	env.seedBonus(t, "bon-1", "cust-1", "Kayıp Bonusu", 50, day(2))
	env.seedWithdrawal(t, "wd-1", "cust-1", 1000000, day(3))
	env.seedRule(t, &domain.BonusRule{
		ID: "rule-1", BonusName: "Kayıp",
		CalculationType: domain.CalcUnlimited,
	})

	results := env.run(t)
	r := results[0]
	if r.Status != domain.StatusCompliant {
		t.Fatalf("unlimited rule must never flag overpayment, got %s", r.Status)
	}
	if !r.Unlimited() {
		t.Errorf("expected unlimited result, got limit %v", r.MaxAllowed)
	}

	w, _ := env.repo.GetWithdrawal(context.Background(), "tenant-1", "wd-1")
	if w.MaxAllowedWithdrawal != nil {
		t.Errorf("unlimited limit persists as NULL, got %v", *w.MaxAllowedWithdrawal)
	}
}

func TestAnalyzeAll_FormulaOverridesCalculationType(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeposit(t, "dep-1", "cust-1", 1000, day(1))
	env.seedBonus(t, "bon-1", "cust-1", "Özel Bonus", 200, day(2))
	env.seedWithdrawal(t, "wd-1", "cust-1", 4000, day(3))
	env.seedRule(t, &domain.BonusRule{
		ID: "rule-1", BonusName: "Özel",
		CalculationType: domain.CalcMultiplier, Multiplier: 10,
		MaxWithdrawalFormula: "(deposit + bonus) * 3",
	})

	results := env.run(t)
	r := results[0]
	if r.MaxAllowed != 3600 {
		t.Fatalf("expected formula limit 3600, got %v\n%s", r.MaxAllowed, r.CalculationLog)
	}
	if r.Status != domain.StatusOverpayment || r.OverpaymentAmount != 400 {
		t.Errorf("expected overpayment of 400, got %s / %v", r.Status, r.OverpaymentAmount)
	}
}

func TestAnalyzeAll_BrokenFormulaFallsBackToCalcType(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeposit(t, "dep-1", "cust-1", 1000, day(1))
	env.seedBonus(t, "bon-1", "cust-1", "Özel Bonus", 200, day(2))
	env.seedWithdrawal(t, "wd-1", "cust-1", 1800, day(3))
	env.seedRule(t, &domain.BonusRule{
		ID: "rule-1", BonusName: "Özel",
		CalculationType: domain.CalcMultiplier, Multiplier: 2,
		MaxWithdrawalFormula: "deposit *** broken",
	})

	results := env.run(t)
	r := results[0]
	if r.MaxAllowed != 2000 {
		t.Fatalf("expected fallback limit 2000, got %v\n%s", r.MaxAllowed, r.CalculationLog)
	}
	if r.Status != domain.StatusCompliant {
		t.Errorf("expected compliant after fallback, got %s", r.Status)
	}
}

func TestAnalyzeAll_FixedWithoutDeposit(t *testing.T) {
	env := newTestEnv(t)
	env.seedBonus(t, "bon-1", "cust-1", "Sabit Bonus", 200, day(2))
	env.seedWithdrawal(t, "wd-1", "cust-1", 600, day(3))
	env.seedRule(t, &domain.BonusRule{
		ID: "rule-1", BonusName: "Sabit",
		CalculationType: domain.CalcFixed, FixedAmount: 500,
	})

	results := env.run(t)
	r := results[0]
	if r.MaxAllowed != 500 {
		t.Fatalf("fixed limit without deposit must be the fixed amount, got %v", r.MaxAllowed)
	}
	if r.Status != domain.StatusOverpayment || r.OverpaymentAmount != 100 {
		t.Errorf("expected overpayment of 100, got %s / %v", r.Status, r.OverpaymentAmount)
	}
}

func TestAnalyzeAll_MultiplierWithoutDepositUsesBonusAmount(t *testing.T) {
	env := newTestEnv(t)
	env.seedBonus(t, "bon-1", "cust-1", "Çevrimsiz Bonus", 200, day(2))
	env.seedWithdrawal(t, "wd-1", "cust-1", 900, day(3))
	env.seedRule(t, &domain.BonusRule{
		ID: "rule-1", BonusName: "Çevrimsiz",
		CalculationType: domain.CalcMultiplier, Multiplier: 4,
	})

	results := env.run(t)
	r := results[0]
	if r.MaxAllowed != 800 {
		t.Fatalf("expected bonus-based limit 800, got %v\n%s", r.MaxAllowed, r.CalculationLog)
	}
	if !strings.Contains(r.CalculationLog, "multiplier applied to bonus amount") {
		t.Errorf("log must note the bonus-amount fallback:\n%s", r.CalculationLog)
	}
}

func TestAnalyzeAll_RuleNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeposit(t, "dep-1", "cust-1", 1000, day(1))
	env.seedBonus(t, "bon-1", "cust-1", "Bilinmeyen Bonus", 200, day(2))
	env.seedWithdrawal(t, "wd-1", "cust-1", 300, day(3))

	results := env.run(t)
	r := results[0]
	if r.Status != domain.StatusRuleNotFound {
		t.Fatalf("expected rule-not-found, got %s\n%s", r.Status, r.CalculationLog)
	}
	if r.IsOverpayment {
		t.Error("rule-not-found is not a violation")
	}
}

func TestAnalyzeAll_PromptFallback(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeposit(t, "dep-1", "cust-1", 1000, day(1))
	env.seedBonus(t, "bon-1", "cust-1", "Hafta Sonu Bonusu", 200, day(2))
	env.seedWithdrawal(t, "wd-1", "cust-1", 5500, day(3))
	err := env.repo.SaveRulePrompt(context.Background(), "tenant-1", &domain.AIRulePrompt{
		ID: "prompt-1", TenantID: "tenant-1",
		BonusName: "Hafta Sonu",
		Prompt:    "yatırım miktarının 5 katı kadar çekim yapılabilir",
	})
	if err != nil {
		t.Fatalf("failed to save prompt: %v", err)
	}

	results := env.run(t)
	r := results[0]
	if r.MaxAllowed != 5000 {
		t.Fatalf("expected prompt-derived limit 5000, got %v\n%s", r.MaxAllowed, r.CalculationLog)
	}
	if r.Status != domain.StatusOverpayment || r.OverpaymentAmount != 500 {
		t.Errorf("expected overpayment 500, got %s / %v", r.Status, r.OverpaymentAmount)
	}
}

func TestAnalyzeAll_NumericPromptCap(t *testing.T) {
	// Prompt text that names a flat numeric cap must resolve through the
	// formula-text parser, not degrade to the keyword parser's ambiguous
	// unlimited default.
	env := newTestEnv(t)
	env.seedDeposit(t, "dep-1", "cust-1", 1000, day(1))
	env.seedBonus(t, "bon-1", "cust-1", "Hafta Sonu Bonusu", 200, day(2))
	env.seedWithdrawal(t, "wd-1", "cust-1", 2000, day(3))
	err := env.repo.SaveRulePrompt(context.Background(), "tenant-1", &domain.AIRulePrompt{
		ID: "prompt-1", TenantID: "tenant-1",
		BonusName: "Hafta Sonu",
		Prompt:    "maksimum 1500 TL",
	})
	if err != nil {
		t.Fatalf("failed to save prompt: %v", err)
	}

	results := env.run(t)
	r := results[0]
	if r.MaxAllowed != 1500 {
		t.Fatalf("expected flat cap 1500, got %v\n%s", r.MaxAllowed, r.CalculationLog)
	}
	if r.Status != domain.StatusOverpayment || r.OverpaymentAmount != 500 {
		t.Errorf("expected overpayment 500 over the cap, got %s / %v", r.Status, r.OverpaymentAmount)
	}
}

func TestAnalyzeAll_LowConfidenceParseRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeposit(t, "dep-1", "cust-1", 1000, day(1))
	env.seedBonus(t, "bon-1", "cust-1", "Gizemli Promosyon", 200, day(2))
	env.seedWithdrawal(t, "wd-1", "cust-1", 300, day(3))
	err := env.repo.SaveRulePrompt(context.Background(), "tenant-1", &domain.AIRulePrompt{
		ID: "prompt-1", TenantID: "tenant-1",
		BonusName: "Gizemli",
		Prompt:    "kurallar sonra belirlenecek",
	})
	if err != nil {
		t.Fatalf("failed to save prompt: %v", err)
	}

	results := env.run(t)
	if results[0].Status != domain.StatusRuleNotFound {
		t.Errorf("ambiguous prompt must be rejected, got %s\n%s",
			results[0].Status, results[0].CalculationLog)
	}
}

func TestAnalyzeAll_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeposit(t, "dep-1", "cust-1", 1000, day(1))
	env.seedBonus(t, "bon-1", "cust-1", "VIP Bonus", 200, day(2))
	env.seedWithdrawal(t, "wd-1", "cust-1", 5500, day(3))
	env.seedRule(t, &domain.BonusRule{
		ID: "rule-1", BonusName: "VIP",
		CalculationType: domain.CalcMultiplier, Multiplier: 5,
	})

	first := env.run(t)
	second := env.run(t)

	if first[0].Status != second[0].Status ||
		first[0].MaxAllowed != second[0].MaxAllowed ||
		first[0].OverpaymentAmount != second[0].OverpaymentAmount {
		t.Errorf("re-running analysis changed the outcome:\nfirst:  %+v\nsecond: %+v",
			first[0], second[0])
	}
	if first[0].CalculationLog != second[0].CalculationLog {
		t.Errorf("calculation log must be deterministic")
	}
}

func TestAnalyzeAll_ProcessingMinutes(t *testing.T) {
	env := newTestEnv(t)
	paid := day(3).Add(95 * time.Minute)
	err := env.repo.SaveWithdrawal(context.Background(), "tenant-1", &domain.Withdrawal{
		ID: "wd-1", TenantID: "tenant-1", CustomerID: "cust-1",
		Amount: 300, RequestDate: day(3), PaymentDate: &paid,
	})
	if err != nil {
		t.Fatalf("failed to save withdrawal: %v", err)
	}

	results := env.run(t)
	if results[0].ProcessingTimeMinutes != 95 {
		t.Errorf("expected 95 processing minutes, got %d", results[0].ProcessingTimeMinutes)
	}
}
