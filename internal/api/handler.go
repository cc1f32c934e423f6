package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/formula"
	"github.com/opensource-finance/kestrel/internal/nlrule"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *formula.Engine
	runner  *worker.Runner
	reports *report.Service
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *formula.Engine, runner *worker.Runner, reports *report.Service, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  engine,
		runner:  runner,
		reports: reports,
		version: version,
	}
}

// IngestResponse is the response for all ingestion endpoints.
type IngestResponse struct {
	Ingested int      `json:"ingested"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// IngestDeposits handles POST /deposits. Accepts a JSON array of deposits;
// invalid records are rejected individually without failing the batch.
func (h *Handler) IngestDeposits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var deposits []*domain.Deposit
	if err := json.NewDecoder(r.Body).Decode(&deposits); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	var resp IngestResponse
	for _, d := range deposits {
		if err := d.Validate(); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		d.TenantID = tenantID
		if d.CreatedAt.IsZero() {
			d.CreatedAt = time.Now().UTC()
		}
		if err := h.repo.SaveDeposit(ctx, tenantID, d); err != nil {
			slog.Error("failed to save deposit", "id", d.ID, "error", err)
			resp.Rejected++
			resp.Errors = append(resp.Errors, "save failed: "+d.ID)
			continue
		}
		resp.Ingested++
	}

	h.afterIngest(r, tenantID, "deposits", resp.Ingested)
	writeJSON(w, http.StatusCreated, resp)
}

// IngestBonuses handles POST /bonuses.
func (h *Handler) IngestBonuses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var bonuses []*domain.Bonus
	if err := json.NewDecoder(r.Body).Decode(&bonuses); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	var resp IngestResponse
	for _, b := range bonuses {
		if err := b.Validate(); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		b.TenantID = tenantID
		// Links are owned by the matcher, never accepted from ingestion.
		b.DepositID = nil
		if b.CreatedAt.IsZero() {
			b.CreatedAt = time.Now().UTC()
		}
		if err := h.repo.SaveBonus(ctx, tenantID, b); err != nil {
			slog.Error("failed to save bonus", "id", b.ID, "error", err)
			resp.Rejected++
			resp.Errors = append(resp.Errors, "save failed: "+b.ID)
			continue
		}
		resp.Ingested++
	}

	h.afterIngest(r, tenantID, "bonuses", resp.Ingested)
	writeJSON(w, http.StatusCreated, resp)
}

// IngestWithdrawals handles POST /withdrawals.
func (h *Handler) IngestWithdrawals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var withdrawals []*domain.Withdrawal
	if err := json.NewDecoder(r.Body).Decode(&withdrawals); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	var resp IngestResponse
	for _, wd := range withdrawals {
		if err := wd.Validate(); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		if wd.ID == "" {
			wd.ID = uuid.New().String()
		}
		wd.TenantID = tenantID
		if wd.CreatedAt.IsZero() {
			wd.CreatedAt = time.Now().UTC()
		}
		if err := h.repo.SaveWithdrawal(ctx, tenantID, wd); err != nil {
			slog.Error("failed to save withdrawal", "id", wd.ID, "error", err)
			resp.Rejected++
			resp.Errors = append(resp.Errors, "save failed: "+wd.ID)
			continue
		}
		resp.Ingested++
	}

	h.afterIngest(r, tenantID, "withdrawals", resp.Ingested)
	writeJSON(w, http.StatusCreated, resp)
}

// afterIngest invalidates the stale report and announces the batch.
func (h *Handler) afterIngest(r *http.Request, tenantID, kind string, count int) {
	if count == 0 {
		return
	}
	ctx := r.Context()

	if err := h.reports.Invalidate(ctx, tenantID, domain.ReportOverpayment); err != nil {
		slog.Warn("failed to invalidate report after ingest",
			"tenant_id", tenantID, "error", err)
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"kind":  kind,
			"count": count,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicIngestCompleted, payload); err != nil {
			slog.Error("failed to publish ingest event",
				"tenant_id", tenantID, "error", err)
		}
	}
}

// Reconcile handles POST /reconcile: a full synchronous matcher+analyzer
// pass over the tenant's data.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	summary, err := h.runner.Run(ctx, tenantID)
	if err != nil {
		slog.Error("reconciliation failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "reconciliation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// GetOverpaymentReport handles GET /reports/overpayment. Serves the cached
// report when present; a miss means no run has happened since the last
// ingest, so the handler triggers a fresh reconciliation run and returns
// its summary. The run also re-populates the cache and store.
func (h *Handler) GetOverpaymentReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	summary, err := h.reports.Get(ctx, tenantID, domain.ReportOverpayment)
	if err != nil {
		slog.Error("failed to load report", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load report",
		})
		return
	}
	if summary == nil {
		summary, err = h.runner.Run(ctx, tenantID)
		if err != nil {
			slog.Error("on-demand reconciliation failed", "tenant_id", tenantID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "reconciliation failed",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, summary)
}

// GetWithdrawal retrieves a withdrawal with its reconciliation fields.
func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	id := chi.URLParam(r, "id")

	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "withdrawal id is required",
		})
		return
	}

	wd, err := h.repo.GetWithdrawal(ctx, tenantID, id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get withdrawal", "id", id, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "withdrawal not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, wd)
}

// ListRules returns all configured bonus rules for the tenant.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	ruleSet, err := h.repo.ListBonusRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rules", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": ruleSet,
		"count": len(ruleSet),
	})
}

// GetRule retrieves a bonus rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	rule, err := h.repo.GetBonusRule(ctx, tenantID, ruleID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating a bonus rule.
type CreateRuleRequest struct {
	ID                   string  `json:"id"`
	BonusName            string  `json:"bonusName"`
	CalculationType      string  `json:"calculationType"`
	Multiplier           float64 `json:"multiplier"`
	FixedAmount          float64 `json:"fixedAmount"`
	MaxWithdrawalFormula string  `json:"maxWithdrawalFormula,omitempty"`
}

// CreateRule creates or updates a bonus rule. Formulas are compiled before
// the rule is accepted so a broken expression never reaches the analyzer.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule := &domain.BonusRule{
		ID:                   req.ID,
		TenantID:             tenantID,
		BonusName:            req.BonusName,
		CalculationType:      req.CalculationType,
		Multiplier:           req.Multiplier,
		FixedAmount:          req.FixedAmount,
		MaxWithdrawalFormula: req.MaxWithdrawalFormula,
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	if err := rule.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	if rule.HasFormula() {
		if err := h.engine.Validate(rule.MaxWithdrawalFormula); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid formula: " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.SaveBonusRule(ctx, tenantID, rule); err != nil {
		slog.Error("failed to save rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("bonus rule saved", "id", rule.ID, "bonus_name", rule.BonusName)
	writeJSON(w, http.StatusCreated, rule)
}

// PreviewRuleRequest is the request body for POST /rules/preview.
type PreviewRuleRequest struct {
	Text string `json:"text"`
}

// PreviewRule parses natural-language rule text without persisting
// anything, so operators can inspect the derived formula first. The
// numeric formula-text parser runs first; text it cannot classify falls
// through to the keyword prompt parser.
func (h *Handler) PreviewRule(w http.ResponseWriter, r *http.Request) {
	var req PreviewRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "text is required",
		})
		return
	}

	parsed := nlrule.ParseFormulaText(req.Text)
	if parsed == nil {
		parsed = nlrule.ParsePrompt(req.Text)
	}

	formulaValid := true
	if parsed.CalculationType != domain.CalcUnlimited {
		if err := h.engine.Validate(parsed.Formula); err != nil {
			formulaValid = false
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"parsed":       parsed,
		"formulaValid": formulaValid,
	})
}

// ListPrompts returns all configured rule prompts for the tenant.
func (h *Handler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	prompts, err := h.repo.ListRulePrompts(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list prompts", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list prompts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"prompts": prompts,
		"count":   len(prompts),
	})
}

// CreatePrompt saves a natural-language rule prompt for a bonus name.
func (h *Handler) CreatePrompt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var prompt domain.AIRulePrompt
	if err := json.NewDecoder(r.Body).Decode(&prompt); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if prompt.BonusName == "" || prompt.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "bonusName and prompt are required",
		})
		return
	}
	if prompt.ID == "" {
		prompt.ID = uuid.New().String()
	}
	prompt.TenantID = tenantID

	if err := h.repo.SaveRulePrompt(ctx, tenantID, &prompt); err != nil {
		slog.Error("failed to save prompt", "id", prompt.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save prompt",
		})
		return
	}

	slog.Info("rule prompt saved", "id", prompt.ID, "bonus_name", prompt.BonusName)
	writeJSON(w, http.StatusCreated, prompt)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
