package domain

import (
	"time"
)

// UnknownID is substituted for a missing beneficiary or shop identifier.
const UnknownID = "UNKNOWN"

// DefaultRegionRisk is used when a claim does not carry a region risk.
const DefaultRegionRisk = 0.3

// TransactionRecord is one observed claim as kept in an entity history.
// Records are immutable once appended.
type TransactionRecord struct {
	Quantity   float64 `json:"quantity"`
	Timestamp  float64 `json:"timestamp"` // seconds since epoch
	ShopID     string  `json:"shopId"`
	RegionRisk float64 `json:"regionRisk"`
}

// Claim is an incoming claim to be scored.
type Claim struct {
	BeneficiaryID string  `json:"beneficiaryId"`
	ShopID        string  `json:"shopId"`
	Quantity      float64 `json:"quantity"`
	RegionRisk    float64 `json:"regionRisk"`

	// Timestamp in epoch seconds. Zero means "now" on the scoring clock.
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Normalize fills the identifier defaults used for history keys.
func (c *Claim) Normalize() {
	if c.BeneficiaryID == "" {
		c.BeneficiaryID = UnknownID
	}
	if c.ShopID == "" {
		c.ShopID = UnknownID
	}
}

// ClaimRequest is the wire form of a claim on the HTTP API and the event
// bus. Fields the scorer does not use are ignored by the decoder.
type ClaimRequest struct {
	BeneficiaryID string   `json:"beneficiary_id"`
	ShopID        string   `json:"shop_id"`
	Quantity      float64  `json:"quantity"`
	RegionRisk    *float64 `json:"region_risk,omitempty"`
	Timestamp     float64  `json:"timestamp,omitempty"`
}

// Claim converts the request, applying the default region risk.
func (r ClaimRequest) Claim() Claim {
	regionRisk := DefaultRegionRisk
	if r.RegionRisk != nil {
		regionRisk = *r.RegionRisk
	}
	return Claim{
		BeneficiaryID: r.BeneficiaryID,
		ShopID:        r.ShopID,
		Quantity:      r.Quantity,
		RegionRisk:    regionRisk,
		Timestamp:     r.Timestamp,
	}
}

// EpochSeconds converts a time to the float timestamp used by histories.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FeatureVector is the model-facing subset of derived features.
type FeatureVector struct {
	Quantity      float64 `json:"quantity"`
	TimeGapHours  float64 `json:"time_gap_hours"`
	MonthlyTotal  float64 `json:"monthly_total"`
	ShopFrequency float64 `json:"shop_frequency"`
	RegionRisk    float64 `json:"region_risk"`
}

// Values returns the features in model column order.
func (f FeatureVector) Values() []float64 {
	return []float64{f.Quantity, f.TimeGapHours, f.MonthlyTotal, f.ShopFrequency, f.RegionRisk}
}

// FeatureColumns names the model columns in the order used by Values.
var FeatureColumns = []string{"quantity", "time_gap_hours", "monthly_total", "shop_frequency", "region_risk"}

// Signals are the behavioral signals derived alongside the feature vector.
type Signals struct {
	DailyCount         int     `json:"dailyCount"`
	UniqueShopsToday   int     `json:"uniqueShopsToday"`
	UniqueRegionsToday int     `json:"uniqueRegionsToday"`
	MonthlyCount       int     `json:"monthlyCount"`
	TimeGapMinutes     float64 `json:"timeGapMinutes"`
	QuantityDeviation  float64 `json:"quantityDeviation"`
	ShopFrequency      int     `json:"shopFrequency"`
	RegionRisk         float64 `json:"regionRisk"`
}
