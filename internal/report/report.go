// Package report aggregates analysis results into cached summaries.
package report

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Build aggregates a batch of analysis results into a report summary.
func Build(tenantID, reportType string, results []domain.AnalysisResult, bonusesMatched int) *domain.ReportSummary {
	summary := &domain.ReportSummary{
		TenantID:    tenantID,
		ReportType:  reportType,
		GeneratedAt: time.Now().UTC(),
		Results:     results,

		TotalWithdrawals: len(results),
		BonusesMatched:   bonusesMatched,
	}

	for _, r := range results {
		switch r.Status {
		case domain.StatusCompliant:
			summary.CompliantCount++
		case domain.StatusOverpayment:
			summary.OverpaymentCount++
			summary.TotalOverpaymentAmount += r.OverpaymentAmount
		case domain.StatusNoBonus:
			summary.NoBonusCount++
		case domain.StatusRuleNotFound:
			summary.RuleNotFoundCount++
		}
	}
	return summary
}

// Service stores report summaries behind a cache-then-repository lookup.
// The cache layer absorbs repeat reads; the repository row survives
// restarts. Both are invalidated together when source data changes.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewService creates a report service. A non-positive ttl disables cache
// expiry pressure and defaults to an hour.
func NewService(repo domain.Repository, cache domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{repo: repo, cache: cache, ttl: ttl}
}

// Get returns the stored report for the type, or nil when none exists.
func (s *Service) Get(ctx context.Context, tenantID, reportType string) (*domain.ReportSummary, error) {
	if s.cache != nil {
		if summary, err := s.cache.GetReport(ctx, tenantID, reportType); err == nil && summary != nil {
			return summary, nil
		}
	}

	summary, err := s.repo.GetReport(ctx, tenantID, reportType)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if summary != nil && s.cache != nil {
		if err := s.cache.SetReport(ctx, tenantID, reportType, summary, s.ttl); err != nil {
			slog.Warn("failed to re-populate report cache",
				"tenant_id", tenantID, "report_type", reportType, "error", err)
		}
	}
	return summary, nil
}

// Put stores the report in both layers.
func (s *Service) Put(ctx context.Context, tenantID string, summary *domain.ReportSummary) error {
	if err := s.repo.PutReport(ctx, tenantID, summary); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.SetReport(ctx, tenantID, summary.ReportType, summary, s.ttl); err != nil {
			slog.Warn("failed to cache report",
				"tenant_id", tenantID, "report_type", summary.ReportType, "error", err)
		}
	}
	return nil
}

// Invalidate removes the stored report for the type. Called whenever
// deposits, bonuses or withdrawals are ingested, since any stored report
// is stale from that point.
func (s *Service) Invalidate(ctx context.Context, tenantID, reportType string) error {
	if s.cache != nil {
		if err := s.cache.Delete(ctx, tenantID, "report:"+reportType); err != nil {
			slog.Warn("failed to drop cached report",
				"tenant_id", tenantID, "report_type", reportType, "error", err)
		}
	}
	return s.repo.DeleteReport(ctx, tenantID, reportType)
}
