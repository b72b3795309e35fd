package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/claimguard/internal/decision"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/features"
	"github.com/opensource-finance/claimguard/internal/history"
	"github.com/opensource-finance/claimguard/internal/rules"
)

var tracer = otel.Tracer("claimguard-scoring")

// Observer is notified of every scoring outcome.
type Observer interface {
	ClaimScored(riskLevel string, score float64, d time.Duration)
	ScoringFailed(cause string)
}

type nopObserver struct{}

func (nopObserver) ClaimScored(string, float64, time.Duration) {}
func (nopObserver) ScoringFailed(string)                       {}

// Engine runs the claim scoring pipeline: record, extract, score, explain,
// classify.
type Engine struct {
	store     *history.Store
	scorer    *HybridScorer
	explainer *rules.Engine
	processor *decision.Processor
	observer  Observer
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for claims without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithObserver registers a scoring observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine wires a scoring engine.
func NewEngine(store *history.Store, scorer *HybridScorer, explainer *rules.Engine, processor *decision.Processor, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		scorer:    scorer,
		explainer: explainer,
		processor: processor,
		observer:  nopObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the engine's history store.
func (e *Engine) Store() *history.Store {
	return e.store
}

// Processor returns the engine's decision processor.
func (e *Engine) Processor() *decision.Processor {
	return e.processor
}

// ScoreTransaction records the claim in history and scores it against the
// updated history. The history append is kept even when scoring fails.
func (e *Engine) ScoreTransaction(ctx context.Context, claim domain.Claim) (*domain.Assessment, error) {
	start := e.now()
	claim.Normalize()
	ts := claim.Timestamp
	if ts == 0 {
		ts = domain.EpochSeconds(start)
	}

	ctx, span := tracer.Start(ctx, "scoring.ScoreTransaction",
		trace.WithAttributes(
			attribute.String("claim.beneficiary_id", claim.BeneficiaryID),
			attribute.String("claim.shop_id", claim.ShopID),
		),
	)
	defer span.End()

	unlock := e.store.Lock(claim.BeneficiaryID, claim.ShopID)
	hist, shopTS := e.store.RecordTransaction(claim.BeneficiaryID, claim.ShopID, claim.Quantity, claim.RegionRisk, ts)

	fv, sig := features.Extract(hist[len(hist)-1], hist, shopTS)

	scoreStart := time.Now()
	breakdown, err := e.scorer.Score(ctx, fv, sig)
	scoringTime := time.Since(scoreStart)
	unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		e.observer.ScoringFailed(failureCause(err))
		return nil, fmt.Errorf("failed to score claim: %w", err)
	}

	reasons := e.explainer.Explain(ctx, breakdown.FraudScore, sig)

	assessment := e.processor.Process(ctx, &decision.DecisionInput{
		Claim:       claim,
		ClaimedAt:   ts,
		Features:    fv,
		Signals:     sig,
		Breakdown:   breakdown,
		Reasons:     reasons,
		TraceID:     traceID(ctx),
		StartTime:   start,
		ScoringTime: scoringTime,
	})

	span.SetAttributes(
		attribute.Float64("assessment.fraud_score", assessment.FraudScore),
		attribute.String("assessment.risk_level", string(assessment.RiskLevel)),
	)
	e.observer.ClaimScored(string(assessment.RiskLevel), assessment.FraudScore, e.now().Sub(start))

	slog.DebugContext(ctx, "claim scored",
		"assessment_id", assessment.ID,
		"beneficiary_id", claim.BeneficiaryID,
		"shop_id", claim.ShopID,
		"fraud_score", assessment.FraudScore,
		"risk_level", assessment.RiskLevel,
		"daily_count", sig.DailyCount,
		"unique_shops_today", sig.UniqueShopsToday,
		"unique_regions_today", sig.UniqueRegionsToday,
		"time_gap_minutes", sig.TimeGapMinutes,
	)

	return assessment, nil
}

// BatchItem is the outcome of one claim in a batch.
type BatchItem struct {
	Assessment *domain.Assessment
	Err        error
}

// ScoreBatch scores claims one after another in the given order. A failed
// item does not stop the batch; only context cancellation does.
func (e *Engine) ScoreBatch(ctx context.Context, claims []domain.Claim) ([]BatchItem, error) {
	items := make([]BatchItem, 0, len(claims))
	for _, c := range claims {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		a, err := e.ScoreTransaction(ctx, c)
		items = append(items, BatchItem{Assessment: a, Err: err})
	}
	return items, nil
}

func failureCause(err error) string {
	if errors.Is(err, domain.ErrProviderUnavailable) {
		return "provider_unavailable"
	}
	return "model_error"
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.TraceID().IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
