package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "ledger_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func day(n int) time.Time {
	return time.Date(2025, 6, n, 12, 0, 0, 0, time.UTC)
}

func seedDeposit(t *testing.T, repo domain.Repository, id, customer string, date time.Time) {
	t.Helper()
	err := repo.SaveDeposit(context.Background(), "tenant-1", &domain.Deposit{
		ID: id, TenantID: "tenant-1", CustomerID: customer,
		Amount: 100, DepositDate: date,
	})
	if err != nil {
		t.Fatalf("failed to save deposit %s: %v", id, err)
	}
}

func TestLoad_SortsAndGroupsByCustomer(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// Inserted out of order on purpose.
	seedDeposit(t, repo, "dep-3", "cust-1", day(9))
	seedDeposit(t, repo, "dep-1", "cust-1", day(1))
	seedDeposit(t, repo, "dep-2", "cust-1", day(5))
	seedDeposit(t, repo, "dep-4", "cust-2", day(2))

	if err := repo.SaveBonus(ctx, "tenant-1", &domain.Bonus{
		ID: "bon-2", TenantID: "tenant-1", CustomerID: "cust-1",
		BonusName: "Hoş Geldin", Amount: 50, AcceptanceDate: day(6),
	}); err != nil {
		t.Fatalf("failed to save bonus: %v", err)
	}
	if err := repo.SaveBonus(ctx, "tenant-1", &domain.Bonus{
		ID: "bon-1", TenantID: "tenant-1", CustomerID: "cust-1",
		BonusName: "Hoş Geldin", Amount: 50, AcceptanceDate: day(3),
	}); err != nil {
		t.Fatalf("failed to save bonus: %v", err)
	}
	if err := repo.SaveWithdrawal(ctx, "tenant-1", &domain.Withdrawal{
		ID: "wd-1", TenantID: "tenant-1", CustomerID: "cust-1",
		Amount: 200, RequestDate: day(8),
	}); err != nil {
		t.Fatalf("failed to save withdrawal: %v", err)
	}

	snap, err := NewService(repo).Load(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if snap.TenantID != "tenant-1" {
		t.Errorf("expected tenant-1, got %s", snap.TenantID)
	}
	if len(snap.Deposits["cust-1"]) != 3 || len(snap.Deposits["cust-2"]) != 1 {
		t.Fatalf("unexpected deposit grouping: %d / %d",
			len(snap.Deposits["cust-1"]), len(snap.Deposits["cust-2"]))
	}

	wantDeposits := []string{"dep-1", "dep-2", "dep-3"}
	for i, d := range snap.Deposits["cust-1"] {
		if d.ID != wantDeposits[i] {
			t.Errorf("deposit %d: expected %s, got %s", i, wantDeposits[i], d.ID)
		}
	}
	wantBonuses := []string{"bon-1", "bon-2"}
	for i, b := range snap.Bonuses["cust-1"] {
		if b.ID != wantBonuses[i] {
			t.Errorf("bonus %d: expected %s, got %s", i, wantBonuses[i], b.ID)
		}
	}
	if len(snap.Withdrawals["cust-1"]) != 1 {
		t.Errorf("expected 1 withdrawal, got %d", len(snap.Withdrawals["cust-1"]))
	}
}

func TestLoad_TenantIsolation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedDeposit(t, repo, "dep-1", "cust-1", day(1))
	if err := repo.SaveDeposit(ctx, "tenant-2", &domain.Deposit{
		ID: "dep-other", TenantID: "tenant-2", CustomerID: "cust-1",
		Amount: 100, DepositDate: day(1),
	}); err != nil {
		t.Fatalf("failed to save deposit: %v", err)
	}

	snap, err := NewService(repo).Load(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(snap.Deposits["cust-1"]) != 1 || snap.Deposits["cust-1"][0].ID != "dep-1" {
		t.Errorf("snapshot leaked records across tenants: %+v", snap.Deposits["cust-1"])
	}
}

func TestLoad_RequiresTenantID(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := NewService(repo).Load(context.Background(), ""); err == nil {
		t.Error("expected error for empty tenant ID")
	}
}

func TestSnapshot_LookupByID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedDeposit(t, repo, "dep-1", "cust-1", day(1))
	if err := repo.SaveBonus(ctx, "tenant-1", &domain.Bonus{
		ID: "bon-1", TenantID: "tenant-1", CustomerID: "cust-1",
		BonusName: "Hoş Geldin", Amount: 50, AcceptanceDate: day(2),
	}); err != nil {
		t.Fatalf("failed to save bonus: %v", err)
	}

	snap, err := NewService(repo).Load(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if d := snap.DepositByID("dep-1"); d == nil || d.Amount != 100 {
		t.Errorf("DepositByID miss: %+v", d)
	}
	if d := snap.DepositByID("nope"); d != nil {
		t.Errorf("expected nil for unknown deposit, got %+v", d)
	}
	if b := snap.BonusByID("bon-1"); b == nil || b.BonusName != "Hoş Geldin" {
		t.Errorf("BonusByID miss: %+v", b)
	}
	if b := snap.BonusByID("nope"); b != nil {
		t.Errorf("expected nil for unknown bonus, got %+v", b)
	}
}
