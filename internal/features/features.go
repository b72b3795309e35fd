// Package features derives behavioral signals and the model feature vector
// from a claim and the history of its beneficiary and shop.
package features

import (
	"math"

	"github.com/opensource-finance/claimguard/internal/domain"
)

const (
	// DailyWindowSecs is the look-back window for "today" signals.
	DailyWindowSecs = 86400

	// NoPriorGapMinutes is the time gap reported for a first claim.
	NoPriorGapMinutes = 999
)

// Extract computes the feature vector and signals for current.
//
// history is the full beneficiary history with current as its last element;
// shopTimestamps is the full timestamp history of the claim's shop, also
// including current.
func Extract(current domain.TransactionRecord, history []domain.TransactionRecord, shopTimestamps []float64) (domain.FeatureVector, domain.Signals) {
	sig := domain.Signals{
		MonthlyCount:  len(history),
		ShopFrequency: len(shopTimestamps),
		RegionRisk:    current.RegionRisk,
	}

	shops := make(map[string]struct{})
	regions := make(map[float64]struct{})
	for _, rec := range history {
		if current.Timestamp-rec.Timestamp < DailyWindowSecs {
			sig.DailyCount++
			shops[rec.ShopID] = struct{}{}
			// Distinct risk values stand in for distinct regions.
			regions[rec.RegionRisk] = struct{}{}
		}
	}
	sig.UniqueShopsToday = len(shops)
	sig.UniqueRegionsToday = len(regions)

	sig.TimeGapMinutes = timeGapMinutes(current, history)
	sig.QuantityDeviation = quantityDeviation(current.Quantity, history)

	fv := domain.FeatureVector{
		Quantity:      current.Quantity,
		TimeGapHours:  sig.TimeGapMinutes / 60,
		MonthlyTotal:  float64(sig.MonthlyCount),
		ShopFrequency: float64(sig.ShopFrequency),
		RegionRisk:    current.RegionRisk,
	}

	return fv, sig
}

// timeGapMinutes is the gap to the previous claim of the same beneficiary.
func timeGapMinutes(current domain.TransactionRecord, history []domain.TransactionRecord) float64 {
	if len(history) <= 1 {
		return NoPriorGapMinutes
	}
	prev := history[len(history)-2]
	return (current.Timestamp - prev.Timestamp) / 60
}

// quantityDeviation is the relative distance of quantity from the mean
// quantity of the whole history.
func quantityDeviation(quantity float64, history []domain.TransactionRecord) float64 {
	if len(history) == 0 {
		return 0
	}

	var sum float64
	for _, rec := range history {
		sum += rec.Quantity
	}
	avg := sum / float64(len(history))
	if avg <= 0 {
		return 0
	}
	return math.Abs(quantity-avg) / avg
}
