package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/claimguard/internal/decision"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/metrics"
)

// DispatchConfig controls assessment side effects.
type DispatchConfig struct {
	// AssessmentTTL is how long an assessment stays in cache
	AssessmentTTL time.Duration

	// AlertWindow allows one alert per beneficiary per window; 0 disables throttling
	AlertWindow time.Duration
}

// Dispatcher persists, caches and publishes finished assessments. Every
// step is best effort: failures are logged and never undo the scoring.
type Dispatcher struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	processor *decision.Processor
	cfg       DispatchConfig
}

// NewDispatcher creates a dispatcher. Any backend may be nil.
func NewDispatcher(repo domain.Repository, cache domain.Cache, bus domain.EventBus, processor *decision.Processor, cfg DispatchConfig) *Dispatcher {
	if processor == nil {
		processor = decision.NewProcessor()
	}
	if cfg.AssessmentTTL <= 0 {
		cfg.AssessmentTTL = time.Hour
	}
	return &Dispatcher{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		processor: processor,
		cfg:       cfg,
	}
}

// Dispatch runs the side effects for one assessment and reports whether an
// alert was published.
func (d *Dispatcher) Dispatch(ctx context.Context, a *domain.Assessment) bool {
	if a == nil {
		return false
	}

	if d.repo != nil {
		if err := d.repo.SaveAssessment(ctx, a); err != nil {
			slog.ErrorContext(ctx, "failed to save assessment",
				"assessment_id", a.ID,
				"error", err,
			)
		}
	}

	if d.cache != nil {
		if err := d.cache.SetAssessment(ctx, a, d.cfg.AssessmentTTL); err != nil {
			slog.WarnContext(ctx, "failed to cache assessment",
				"assessment_id", a.ID,
				"error", err,
			)
		}
	}

	if d.bus == nil {
		return false
	}

	payload, err := json.Marshal(a)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal assessment",
			"assessment_id", a.ID,
			"error", err,
		)
		return false
	}

	if err := d.bus.Publish(ctx, domain.TopicAssessment, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish assessment",
			"assessment_id", a.ID,
			"error", err,
		)
	}

	if !d.processor.ShouldAlert(a) || d.throttled(ctx, a.BeneficiaryID) {
		return false
	}

	if err := d.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish alert",
			"assessment_id", a.ID,
			"error", err,
		)
		d.releaseAlert(ctx, a.BeneficiaryID)
		return false
	}

	metrics.AlertsPublishedTotal.Inc()
	slog.InfoContext(ctx, "fraud alert published",
		"assessment_id", a.ID,
		"beneficiary_id", a.BeneficiaryID,
		"fraud_score", a.FraudScore,
		"risk_level", a.RiskLevel,
	)
	return true
}

// throttled reports whether the beneficiary already alerted in the current
// window. Cache errors let the alert through.
func (d *Dispatcher) throttled(ctx context.Context, beneficiaryID string) bool {
	if d.cache == nil || d.cfg.AlertWindow <= 0 {
		return false
	}

	n, err := d.cache.IncrementCounter(ctx, alertKey(beneficiaryID), d.cfg.AlertWindow)
	if err != nil {
		slog.WarnContext(ctx, "alert throttle unavailable",
			"beneficiary_id", beneficiaryID,
			"error", err,
		)
		return false
	}
	return n > 1
}

// releaseAlert clears the throttle counter after a failed alert publish so
// the next HIGH assessment in the window can still alert.
func (d *Dispatcher) releaseAlert(ctx context.Context, beneficiaryID string) {
	if d.cache == nil || d.cfg.AlertWindow <= 0 {
		return
	}
	if err := d.cache.ResetCounter(ctx, alertKey(beneficiaryID)); err != nil {
		slog.WarnContext(ctx, "failed to release alert throttle",
			"beneficiary_id", beneficiaryID,
			"error", err,
		)
	}
}

func alertKey(beneficiaryID string) string {
	return "alert:" + beneficiaryID
}
