package domain

import (
	"time"
)

// RiskLevel is the discrete risk tier of a scored claim.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ScoringResult is the verdict for one claim.
type ScoringResult struct {
	FraudScore float64   `json:"fraudScore"`
	RiskLevel  RiskLevel `json:"riskLevel"`
	Reasons    []string  `json:"reasons"`
}

// Breakdown exposes every component that went into a fraud score.
type Breakdown struct {
	RawModelScore   float64 `json:"rawModelScore"`
	ModelScore      float64 `json:"modelScore"`
	FrequencyRisk   float64 `json:"frequencyRisk"`
	QuantityRisk    float64 `json:"quantityRisk"`
	TimeRisk        float64 `json:"timeRisk"` // not weighted into the score
	ShopRisk        float64 `json:"shopRisk"`
	RegionRisk      float64 `json:"regionRisk"`
	Noise           float64 `json:"noise"`
	HoppingRisk     float64 `json:"hoppingRisk"`
	ZoneHoppingRisk float64 `json:"zoneHoppingRisk"`
	RepeatRisk      float64 `json:"repeatRisk"`
	FraudScore      float64 `json:"fraudScore"`
}

// Assessment is the complete, auditable result of scoring a claim.
type Assessment struct {
	ID            string    `json:"id"`
	BeneficiaryID string    `json:"beneficiaryId"`
	ShopID        string    `json:"shopId"`
	Quantity      float64   `json:"quantity"`
	RegionRisk    float64   `json:"regionRisk"`
	ClaimedAt     float64   `json:"claimedAt"`
	Timestamp     time.Time `json:"timestamp"`

	ScoringResult

	Features  FeatureVector `json:"features"`
	Signals   Signals       `json:"signals"`
	Breakdown Breakdown     `json:"breakdown"`

	Metadata AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID       string `json:"traceId"`
	ScoringMs     int64  `json:"scoringMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// Result returns the plain verdict of the assessment.
func (a *Assessment) Result() ScoringResult {
	return a.ScoringResult
}
