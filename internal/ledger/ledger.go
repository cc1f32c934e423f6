// Package ledger provides indexed in-memory snapshots of tenant records.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service loads tenant records into per-customer indexes.
type Service struct {
	repo domain.Repository
}

// NewService creates a new ledger service.
func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo}
}

// Snapshot holds all records of a tenant, indexed per customer and
// sorted by date ascending. It is a read-only view; writes still go
// through the repository.
type Snapshot struct {
	TenantID    string
	Deposits    map[string][]*domain.Deposit
	Bonuses     map[string][]*domain.Bonus
	Withdrawals map[string][]*domain.Withdrawal
}

// Load reads every deposit, bonus and withdrawal of the tenant and
// builds the snapshot.
func (s *Service) Load(ctx context.Context, tenantID string) (*Snapshot, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	deposits, err := s.repo.ListDeposits(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	bonuses, err := s.repo.ListBonuses(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bonuses: %w", err)
	}
	withdrawals, err := s.repo.ListWithdrawals(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}

	snap := &Snapshot{
		TenantID:    tenantID,
		Deposits:    make(map[string][]*domain.Deposit),
		Bonuses:     make(map[string][]*domain.Bonus),
		Withdrawals: make(map[string][]*domain.Withdrawal),
	}
	for _, d := range deposits {
		snap.Deposits[d.CustomerID] = append(snap.Deposits[d.CustomerID], d)
	}
	for _, b := range bonuses {
		snap.Bonuses[b.CustomerID] = append(snap.Bonuses[b.CustomerID], b)
	}
	for _, w := range withdrawals {
		snap.Withdrawals[w.CustomerID] = append(snap.Withdrawals[w.CustomerID], w)
	}

	for _, ds := range snap.Deposits {
		sort.Slice(ds, func(i, j int) bool { return ds[i].DepositDate.Before(ds[j].DepositDate) })
	}
	for _, bs := range snap.Bonuses {
		sort.Slice(bs, func(i, j int) bool {
			return bs[i].EffectiveDate().Before(bs[j].EffectiveDate())
		})
	}
	for _, ws := range snap.Withdrawals {
		sort.Slice(ws, func(i, j int) bool {
			return ws[i].RequestDate.Before(ws[j].RequestDate)
		})
	}

	return snap, nil
}

// DepositByID returns the deposit with the given ID, or nil.
func (snap *Snapshot) DepositByID(id string) *domain.Deposit {
	for _, ds := range snap.Deposits {
		for _, d := range ds {
			if d.ID == id {
				return d
			}
		}
	}
	return nil
}

// BonusByID returns the bonus with the given ID, or nil.
func (snap *Snapshot) BonusByID(id string) *domain.Bonus {
	for _, bs := range snap.Bonuses {
		for _, b := range bs {
			if b.ID == id {
				return b
			}
		}
	}
	return nil
}
