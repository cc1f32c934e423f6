// Package worker runs reconciliation passes, synchronously on demand and
// asynchronously off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ledger"
	"github.com/opensource-finance/kestrel/internal/matcher"
	"github.com/opensource-finance/kestrel/internal/report"
)

// Runner orchestrates one full reconciliation pass: snapshot, match,
// analyze, report. Runs for the same data set are serialized; the matcher
// must finish (and its links be visible) before the analyzer starts, and
// two concurrent passes over one tenant would race on withdrawal updates.
type Runner struct {
	ledger   *ledger.Service
	matcher  *matcher.Matcher
	analyzer *analyzer.Analyzer
	reports  *report.Service
	bus      domain.EventBus

	mu sync.Mutex
}

// NewRunner wires a reconciliation runner. The bus may be nil; completion
// events are then skipped.
func NewRunner(ledgerSvc *ledger.Service, m *matcher.Matcher, a *analyzer.Analyzer, reports *report.Service, bus domain.EventBus) *Runner {
	return &Runner{
		ledger:   ledgerSvc,
		matcher:  m,
		analyzer: a,
		reports:  reports,
		bus:      bus,
	}
}

// Run executes a full pass for the tenant and stores the resulting
// overpayment report. Returns the freshly built summary.
func (r *Runner) Run(ctx context.Context, tenantID string) (*domain.ReportSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()

	snap, err := r.ledger.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	stats, err := r.matcher.MatchAll(ctx, snap)
	if err != nil {
		return nil, err
	}

	results, err := r.analyzer.AnalyzeAll(ctx, snap)
	if err != nil {
		return nil, err
	}

	summary := report.Build(tenantID, domain.ReportOverpayment, results, stats.Linked)
	if err := r.reports.Put(ctx, tenantID, summary); err != nil {
		return nil, err
	}

	r.publishCompleted(ctx, tenantID, summary)

	slog.Info("reconciliation run complete",
		"tenant_id", tenantID,
		"withdrawals", summary.TotalWithdrawals,
		"overpayments", summary.OverpaymentCount,
		"bonuses_linked", stats.Linked,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return summary, nil
}

func (r *Runner) publishCompleted(ctx context.Context, tenantID string, summary *domain.ReportSummary) {
	if r.bus == nil {
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"tenantId":         tenantID,
		"reportType":       summary.ReportType,
		"totalWithdrawals": summary.TotalWithdrawals,
		"overpaymentCount": summary.OverpaymentCount,
	})
	if err := r.bus.Publish(ctx, tenantID, domain.TopicReconcileCompleted, payload); err != nil {
		slog.Error("failed to publish reconcile event",
			"tenant_id", tenantID,
			"error", err,
		)
	}

	for _, res := range summary.Results {
		if !res.IsOverpayment {
			continue
		}
		alert, _ := json.Marshal(res)
		if err := r.bus.Publish(ctx, tenantID, domain.TopicOverpayment, alert); err != nil {
			slog.Error("failed to publish overpayment event",
				"tenant_id", tenantID,
				"withdrawal_id", res.Withdrawal.ID,
				"error", err,
			)
		}
	}
}

// Worker re-runs reconciliation whenever ingestion completes.
type Worker struct {
	bus     domain.EventBus
	runner  *Runner
	reports *report.Service

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string
}

// NewWorker creates an async reconciliation worker.
func NewWorker(bus domain.EventBus, runner *Runner, reports *report.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		runner:  runner,
		reports: reports,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to ingest-completed events for the given tenants.
func (w *Worker) Start(cfg Config) error {
	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)
	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicIngestCompleted, func(ctx context.Context, msg *domain.Message) error {
		return w.handleIngest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicIngestCompleted,
	)
	return nil
}

// handleIngest drops the stale report and recomputes it.
func (w *Worker) handleIngest(ctx context.Context, tenantID string, msg *domain.Message) error {
	slog.Debug("ingest event received",
		"tenant_id", tenantID,
		"message_id", msg.ID,
	)

	if err := w.reports.Invalidate(ctx, tenantID, domain.ReportOverpayment); err != nil {
		slog.Error("failed to invalidate report",
			"tenant_id", tenantID,
			"error", err,
		)
	}

	if _, err := w.runner.Run(ctx, tenantID); err != nil {
		slog.Error("reconciliation run failed",
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}
