// Package matcher links bonuses to their qualifying deposits.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ledger"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Matcher links each unlinked bonus to at most one deposit of the same
// customer. Links are one-shot: a bonus that already carries a deposit ID
// is never revisited.
type Matcher struct {
	repo   domain.Repository
	policy *rules.PolicyTable
}

// New creates a matcher with the given timing policy table. A nil table
// falls back to the default policy set.
func New(repo domain.Repository, policy *rules.PolicyTable) *Matcher {
	if policy == nil {
		policy = rules.DefaultPolicyTable()
	}
	return &Matcher{repo: repo, policy: policy}
}

// Stats summarizes a matching run.
type Stats struct {
	Examined int `json:"examined"`
	Linked   int `json:"linked"`
	Unmatch  int `json:"unmatched"`
	Skipped  int `json:"skipped"`
}

// MatchAll links every unlinked bonus in the snapshot. Failures on
// individual bonuses are logged and counted; the run continues.
func (m *Matcher) MatchAll(ctx context.Context, snap *ledger.Snapshot) (Stats, error) {
	if snap == nil {
		return Stats{}, fmt.Errorf("snapshot is required")
	}

	var stats Stats
	for customerID, bonuses := range snap.Bonuses {
		deposits := snap.Deposits[customerID]
		for _, b := range bonuses {
			if b.DepositID != nil {
				continue
			}
			stats.Examined++

			d := m.candidate(b, deposits)
			if d == nil {
				stats.Unmatch++
				continue
			}

			err := m.repo.SetBonusDeposit(ctx, snap.TenantID, b.ID, d.ID)
			switch {
			case errors.Is(err, repository.ErrAlreadyLinked):
				stats.Skipped++
				continue
			case err != nil:
				slog.Error("failed to link bonus",
					"tenant_id", snap.TenantID,
					"bonus_id", b.ID,
					"deposit_id", d.ID,
					"error", err)
				stats.Skipped++
				continue
			}

			// Keep the snapshot consistent for the analyzer pass that
			// follows in the same run.
			id := d.ID
			b.DepositID = &id
			stats.Linked++
		}
	}

	slog.Info("bonus matching complete",
		"tenant_id", snap.TenantID,
		"examined", stats.Examined,
		"linked", stats.Linked,
		"unmatched", stats.Unmatch,
		"skipped", stats.Skipped)
	return stats, nil
}

// candidate picks the deposit for a bonus according to its timing policy:
// the latest deposit strictly before the bonus effective date, or the
// earliest deposit strictly after it. A deposit on the effective date
// itself never qualifies. Deposits are sorted by date ascending.
func (m *Matcher) candidate(b *domain.Bonus, deposits []*domain.Deposit) *domain.Deposit {
	if len(deposits) == 0 {
		return nil
	}
	effective := b.EffectiveDate()

	switch m.policy.TimingFor(b.BonusName) {
	case rules.DepositAfter:
		for _, d := range deposits {
			if d.DepositDate.After(effective) {
				return d
			}
		}
	default:
		var best *domain.Deposit
		for _, d := range deposits {
			if !d.DepositDate.Before(effective) {
				break
			}
			best = d
		}
		return best
	}
	return nil
}
