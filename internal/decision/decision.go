// Package decision turns a scored claim into a risk verdict and a complete
// assessment record.
package decision

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/claimguard/internal/domain"
)

// EngineVersion is stamped on every assessment.
const EngineVersion = "claimguard-1.0"

// Default risk tier boundaries. A score must exceed a boundary to enter
// the tier above it.
const (
	DefaultHighThreshold   = 0.7
	DefaultMediumThreshold = 0.4
)

// Processor classifies fraud scores and assembles assessments.
type Processor struct {
	HighThreshold   float64
	MediumThreshold float64

	// AlertLevel is the lowest risk level that raises an alert
	AlertLevel domain.RiskLevel

	now func() time.Time
}

// NewProcessor creates a processor with the default boundaries.
func NewProcessor() *Processor {
	return &Processor{
		HighThreshold:   DefaultHighThreshold,
		MediumThreshold: DefaultMediumThreshold,
		AlertLevel:      domain.RiskHigh,
		now:             time.Now,
	}
}

// WithClock replaces the wall clock used for assessment timestamps.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Classify maps a fraud score to its risk level.
func (p *Processor) Classify(score float64) domain.RiskLevel {
	switch {
	case score > p.HighThreshold:
		return domain.RiskHigh
	case score > p.MediumThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Classify maps a fraud score to its risk level using the default boundaries.
func Classify(score float64) domain.RiskLevel {
	return defaultProcessor.Classify(score)
}

var defaultProcessor = NewProcessor()

// DecisionInput contains everything needed to build an assessment.
type DecisionInput struct {
	Claim     domain.Claim
	ClaimedAt float64
	Features  domain.FeatureVector
	Signals   domain.Signals
	Breakdown domain.Breakdown
	Reasons   []string
	TraceID   string

	StartTime   time.Time
	ScoringTime time.Duration
}

// Process builds the assessment for a scored claim.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *domain.Assessment {
	reasons := input.Reasons
	if reasons == nil {
		reasons = []string{}
	}

	now := p.now()
	a := &domain.Assessment{
		ID:            uuid.New().String(),
		BeneficiaryID: input.Claim.BeneficiaryID,
		ShopID:        input.Claim.ShopID,
		Quantity:      input.Claim.Quantity,
		RegionRisk:    input.Claim.RegionRisk,
		ClaimedAt:     input.ClaimedAt,
		Timestamp:     now.UTC(),
		ScoringResult: domain.ScoringResult{
			FraudScore: input.Breakdown.FraudScore,
			RiskLevel:  p.Classify(input.Breakdown.FraudScore),
			Reasons:    reasons,
		},
		Features:  input.Features,
		Signals:   input.Signals,
		Breakdown: input.Breakdown,
	}

	var total int64
	if !input.StartTime.IsZero() {
		total = now.Sub(input.StartTime).Milliseconds()
	}
	a.Metadata = domain.AssessmentMetadata{
		TraceID:       input.TraceID,
		ScoringMs:     input.ScoringTime.Milliseconds(),
		TotalMs:       total,
		EngineVersion: EngineVersion,
	}

	return a
}

// ShouldAlert reports whether the assessment reaches the alert level.
func (p *Processor) ShouldAlert(a *domain.Assessment) bool {
	return rank(a.RiskLevel) >= rank(p.AlertLevel)
}

func rank(level domain.RiskLevel) int {
	switch level {
	case domain.RiskHigh:
		return 2
	case domain.RiskMedium:
		return 1
	default:
		return 0
	}
}
