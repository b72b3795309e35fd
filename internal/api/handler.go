package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/claimguard/internal/anomaly"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/repository"
	"github.com/opensource-finance/claimguard/internal/rules"
	"github.com/opensource-finance/claimguard/internal/scoring"
	"github.com/opensource-finance/claimguard/internal/worker"
)

const (
	// StatusProcessed marks a claim scored synchronously.
	StatusProcessed = "PROCESSED"

	// StatusQueued marks a claim accepted for asynchronous scoring.
	StatusQueued = "QUEUED"

	// StatusFailed marks a batch item that could not be scored.
	StatusFailed = "FAILED"

	maxBodyBytes = 4 << 20
)

// ModelStatus reports whether an anomaly model is loaded.
type ModelStatus interface {
	Loaded() bool
}

// Dependencies are the collaborators the API serves from. Repo, Cache,
// Bus and Dispatcher may be nil.
type Dependencies struct {
	Engine     *scoring.Engine
	Rules      *rules.Engine
	Model      ModelStatus
	Dispatcher *worker.Dispatcher
	Repo       domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Version    string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	engine     *scoring.Engine
	rules      *rules.Engine
	model      ModelStatus
	dispatcher *worker.Dispatcher
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		engine:     deps.Engine,
		rules:      deps.Rules,
		model:      deps.Model,
		dispatcher: deps.Dispatcher,
		repo:       deps.Repo,
		cache:      deps.Cache,
		bus:        deps.Bus,
		version:    deps.Version,
	}
}

// PredictResponse is the response for POST /predict-fraud.
type PredictResponse struct {
	FraudScore   float64          `json:"fraud_score"`
	RiskLevel    domain.RiskLevel `json:"risk_level"`
	Reasons      []string         `json:"reasons"`
	Status       string           `json:"status"`
	AssessmentID string           `json:"assessment_id"`
}

// BatchResult is one entry of the POST /batch-analyze response.
type BatchResult struct {
	FraudScore   float64          `json:"fraud_score"`
	RiskLevel    domain.RiskLevel `json:"risk_level,omitempty"`
	Reasons      []string         `json:"reasons,omitempty"`
	Status       string           `json:"status"`
	AssessmentID string           `json:"assessment_id,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// BatchResponse is the response for POST /batch-analyze.
type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

// Root reports service liveness the way the legacy service did.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "AI Service Running",
		"model_trained": h.modelLoaded(),
	})
}

// ModelHealth reports the anomaly model state.
func (h *Handler) ModelHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !h.modelLoaded() {
		status = "unavailable"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"model_type": anomaly.ModelType,
		"trained":    h.modelLoaded(),
	})
}

// PredictFraud handles POST /predict-fraud requests.
func (h *Handler) PredictFraud(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ClaimRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	assessment, err := h.engine.ScoreTransaction(ctx, req.Claim())
	if err != nil {
		h.writeScoringError(w, r, err)
		return
	}
	h.finish(r, assessment)

	writeJSON(w, http.StatusOK, PredictResponse{
		FraudScore:   assessment.FraudScore,
		RiskLevel:    assessment.RiskLevel,
		Reasons:      assessment.Reasons,
		Status:       StatusProcessed,
		AssessmentID: assessment.ID,
	})
}

// BatchAnalyze handles POST /batch-analyze. Claims are scored in request
// order so later claims see the history of earlier ones.
func (h *Handler) BatchAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqs []domain.ClaimRequest
	if err := decodeBody(w, r, &reqs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	claims := make([]domain.Claim, len(reqs))
	for i, req := range reqs {
		claims[i] = req.Claim()
	}

	items, err := h.engine.ScoreBatch(ctx, claims)
	if err != nil {
		h.writeScoringError(w, r, err)
		return
	}

	resp := BatchResponse{Results: make([]BatchResult, len(items))}
	for i, item := range items {
		if item.Err != nil {
			// the provider is process-wide, so one miss means every item missed
			if errors.Is(item.Err, domain.ErrProviderUnavailable) {
				h.writeScoringError(w, r, item.Err)
				return
			}
			resp.Results[i] = BatchResult{Status: StatusFailed, Error: item.Err.Error()}
			continue
		}

		a := item.Assessment
		h.finish(r, a)
		resp.Results[i] = BatchResult{
			FraudScore:   a.FraudScore,
			RiskLevel:    a.RiskLevel,
			Reasons:      a.Reasons,
			Status:       StatusProcessed,
			AssessmentID: a.ID,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// SubmitClaim handles POST /claims by queueing the claim for the worker.
func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	var req domain.ClaimRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid claim")
		return
	}

	if err := h.bus.Publish(r.Context(), domain.TopicClaimSubmitted, payload); err != nil {
		slog.ErrorContext(r.Context(), "failed to queue claim",
			"beneficiary_id", req.BeneficiaryID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "failed to queue claim")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     StatusQueued,
		"request_id": GetRequestID(r.Context()),
	})
}

// GetAssessment retrieves an assessment by ID, cache first.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if h.cache != nil {
		a, err := h.cache.GetAssessment(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "cache lookup failed", "assessment_id", id, "error", err)
		}
		if a != nil {
			writeJSON(w, http.StatusOK, a)
			return
		}
	}

	if h.repo == nil {
		writeError(w, http.StatusNotFound, "assessment not found")
		return
	}

	a, err := h.repo.GetAssessment(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "assessment not found")
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to get assessment", "assessment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get assessment")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// GetHistory returns a snapshot of a beneficiary's in-memory history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	beneficiaryID := chi.URLParam(r, "beneficiaryId")
	records := h.engine.Store().History(beneficiaryID)

	writeJSON(w, http.StatusOK, map[string]any{
		"beneficiary_id": beneficiaryID,
		"count":          len(records),
		"records":        records,
	})
}

// ListAssessments returns a beneficiary's persisted assessments, newest
// first. The optional since query parameter takes RFC3339 or unix seconds.
func (h *Handler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	beneficiaryID := chi.URLParam(r, "beneficiaryId")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
		return
	}

	assessments, err := h.repo.ListAssessmentsByBeneficiary(ctx, beneficiaryID, since)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list assessments", "beneficiary_id", beneficiaryID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list assessments")
		return
	}
	if assessments == nil {
		assessments = []*domain.Assessment{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"beneficiary_id": beneficiaryID,
		"count":          len(assessments),
		"assessments":    assessments,
	})
}

func parseSince(v string) (time.Time, error) {
	if v == "" {
		return time.Unix(0, 0), nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.New("expected RFC3339 or unix seconds")
	}
	return t, nil
}

// ResetHistory clears all in-memory history.
func (h *Handler) ResetHistory(w http.ResponseWriter, r *http.Request) {
	beneficiaries, shops := h.engine.Store().Stats()
	h.engine.Store().Reset()

	slog.InfoContext(r.Context(), "history reset",
		"beneficiaries", beneficiaries,
		"shops", shops,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "history cleared",
		"beneficiaries": beneficiaries,
		"shops":         shops,
	})
}

// ListRules returns the built-in reason rules and the loaded custom rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	custom := h.rules.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"builtin": rules.BuiltinRules(),
		"custom":  custom,
		"count":   len(custom),
	})
}

// GetRule retrieves a custom rule by ID. Loaded rules are served from the
// rule engine; stored rules that are not loaded come from the repository.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.rules.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	if h.repo == nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}

	rule, err := h.repo.GetReasonRule(ctx, ruleID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to get reason rule", "rule_id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates, persists and loads a custom reason rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.ReasonRule
	if err := decodeBody(w, r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if rule.Name == "" {
		rule.Name = rule.ID
	}
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}

	if err := h.rules.ValidateRule(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule: "+err.Error())
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveReasonRule(ctx, &rule); err != nil {
			slog.ErrorContext(ctx, "failed to save reason rule", "rule_id", rule.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save rule")
			return
		}
	}

	if rule.Enabled {
		if err := h.rules.LoadRule(&rule); err != nil {
			writeError(w, http.StatusBadRequest, "invalid rule: "+err.Error())
			return
		}
	}

	slog.InfoContext(ctx, "reason rule created", "rule_id", rule.ID, "enabled", rule.Enabled)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "rule saved",
	})
}

// ReloadRules replaces the loaded custom rules with the repository's.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	stored, err := h.repo.ListReasonRules(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list reason rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load rules from database")
		return
	}

	if err := h.rules.ReloadRules(stored); err != nil {
		slog.ErrorContext(ctx, "failed to reload reason rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.InfoContext(ctx, "reason rules reloaded", "count", h.rules.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.rules.RulesCount(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("eventBus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"version":      h.version,
		"model_loaded": h.modelLoaded(),
		"checks":       checks,
	})
}

// Ready returns 200 only when a model is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.modelLoaded() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready":  "false",
			"reason": "anomaly model not loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) modelLoaded() bool {
	return h.model != nil && h.model.Loaded()
}

// finish fills request metadata and runs the assessment side effects.
func (h *Handler) finish(r *http.Request, a *domain.Assessment) {
	if a.Metadata.TraceID == "" {
		a.Metadata.TraceID = GetTraceID(r.Context())
	}
	if h.dispatcher != nil {
		h.dispatcher.Dispatch(r.Context(), a)
	}
}

func (h *Handler) writeScoringError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrProviderUnavailable) {
		writeError(w, http.StatusServiceUnavailable, domain.ErrProviderUnavailable.Error())
		return
	}
	slog.ErrorContext(r.Context(), "scoring failed", "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
