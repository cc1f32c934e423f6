package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "report_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestBuild(t *testing.T) {
	results := []domain.AnalysisResult{
		{Status: domain.StatusCompliant},
		{Status: domain.StatusCompliant},
		{Status: domain.StatusOverpayment, OverpaymentAmount: 500},
		{Status: domain.StatusOverpayment, OverpaymentAmount: 120.50},
		{Status: domain.StatusNoBonus},
		{Status: domain.StatusRuleNotFound},
	}

	summary := Build("tenant-1", domain.ReportOverpayment, results, 3)

	if summary.TenantID != "tenant-1" || summary.ReportType != domain.ReportOverpayment {
		t.Errorf("unexpected identity fields: %+v", summary)
	}
	if summary.TotalWithdrawals != 6 {
		t.Errorf("expected 6 withdrawals, got %d", summary.TotalWithdrawals)
	}
	if summary.CompliantCount != 2 || summary.OverpaymentCount != 2 ||
		summary.NoBonusCount != 1 || summary.RuleNotFoundCount != 1 {
		t.Errorf("unexpected status counts: %+v", summary)
	}
	if summary.TotalOverpaymentAmount != 620.50 {
		t.Errorf("expected total overpayment 620.50, got %.2f", summary.TotalOverpaymentAmount)
	}
	if summary.BonusesMatched != 3 {
		t.Errorf("expected 3 bonuses matched, got %d", summary.BonusesMatched)
	}
	if summary.GeneratedAt.IsZero() {
		t.Error("expected GeneratedAt to be set")
	}
}

func TestBuild_Empty(t *testing.T) {
	summary := Build("tenant-1", domain.ReportOverpayment, nil, 0)
	if summary.TotalWithdrawals != 0 || summary.OverpaymentCount != 0 {
		t.Errorf("expected empty summary, got %+v", summary)
	}
}

func TestService_PutGetInvalidate(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo, cache.NewLRUCache(100), time.Hour)
	ctx := context.Background()

	if summary, err := svc.Get(ctx, "tenant-1", domain.ReportOverpayment); err != nil || summary != nil {
		t.Fatalf("expected no report before Put, got %+v err %v", summary, err)
	}

	stored := Build("tenant-1", domain.ReportOverpayment,
		[]domain.AnalysisResult{{Status: domain.StatusOverpayment, OverpaymentAmount: 500}}, 1)
	if err := svc.Put(ctx, "tenant-1", stored); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := svc.Get(ctx, "tenant-1", domain.ReportOverpayment)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.OverpaymentCount != 1 || got.TotalOverpaymentAmount != 500 {
		t.Fatalf("unexpected report: %+v", got)
	}

	if err := svc.Invalidate(ctx, "tenant-1", domain.ReportOverpayment); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if got, err := svc.Get(ctx, "tenant-1", domain.ReportOverpayment); err != nil || got != nil {
		t.Errorf("expected no report after Invalidate, got %+v err %v", got, err)
	}
}

// A dropped cache entry must not hide the repository row.
func TestService_RepositoryFallback(t *testing.T) {
	repo := newTestRepo(t)
	lru := cache.NewLRUCache(100)
	svc := NewService(repo, lru, time.Hour)
	ctx := context.Background()

	stored := Build("tenant-1", domain.ReportOverpayment, nil, 0)
	if err := svc.Put(ctx, "tenant-1", stored); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := lru.Delete(ctx, "tenant-1", "report:"+domain.ReportOverpayment); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := svc.Get(ctx, "tenant-1", domain.ReportOverpayment)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.TenantID != "tenant-1" {
		t.Fatalf("expected repository fallback to serve the report, got %+v", got)
	}

	// The read-through should have re-populated the cache layer.
	if cached, err := lru.GetReport(ctx, "tenant-1", domain.ReportOverpayment); err != nil || cached == nil {
		t.Errorf("expected report back in cache, got %+v err %v", cached, err)
	}
}

func TestService_TenantIsolation(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo, cache.NewLRUCache(100), time.Hour)
	ctx := context.Background()

	if err := svc.Put(ctx, "tenant-1", Build("tenant-1", domain.ReportOverpayment, nil, 0)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if got, err := svc.Get(ctx, "tenant-2", domain.ReportOverpayment); err != nil || got != nil {
		t.Errorf("expected no report for tenant-2, got %+v err %v", got, err)
	}
}
