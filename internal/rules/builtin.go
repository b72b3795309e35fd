package rules

import (
	"fmt"

	"github.com/opensource-finance/claimguard/internal/domain"
)

type builtinRule struct {
	id          string
	name        string
	description string
	condition   string

	// reason is a fmt template filled with arg
	reason string
	arg    func(domain.Signals) any
}

func (b builtinRule) format(s domain.Signals) string {
	return fmt.Sprintf(b.reason, b.arg(s))
}

// Order here is the order reasons are reported in.
var builtinRules = []builtinRule{
	{
		id:          "multi-zone",
		name:        "Multi-zone activity",
		description: "Claims from more than one region within 24 hours",
		condition:   "unique_regions_today > 1",
		reason:      "Suspicious multi-zone activity (%d zones)",
		arg:         func(s domain.Signals) any { return s.UniqueRegionsToday },
	},
	{
		id:          "shop-hopping",
		name:        "Shop hopping",
		description: "Claims at more than one shop within 24 hours",
		condition:   "unique_shops_today > 1",
		reason:      "Suspicious shop hopping detected (%d shops today)",
		arg:         func(s domain.Signals) any { return s.UniqueShopsToday },
	},
	{
		id:          "repeat-claim",
		name:        "Repeated claim",
		description: "More than one claim within 24 hours",
		condition:   "daily_count > 1",
		reason:      "Repeated claim attempt (Claim #%d today)",
		arg:         func(s domain.Signals) any { return s.DailyCount },
	},
	{
		id:          "quantity-anomaly",
		name:        "Unusual quantity",
		description: "Quantity deviates more than 30% from the beneficiary average",
		condition:   "quantity_deviation > 0.3",
		reason:      "Unusual quantity pattern (+%.0f%%)",
		arg:         func(s domain.Signals) any { return s.QuantityDeviation * 100 },
	},
	{
		id:          "rapid-repeat",
		name:        "Rapid repeat",
		description: "Less than ten minutes since the previous claim",
		condition:   "time_gap_minutes < 10.0",
		reason:      "Rapid repeat claim (%dm gap)",
		arg:         func(s domain.Signals) any { return int(s.TimeGapMinutes) },
	},
	{
		id:          "high-risk-region",
		name:        "High-risk region",
		description: "Claim from a region with risk above 0.6",
		condition:   "region_risk > 0.6",
		reason:      "High-risk region transaction (%.2f)",
		arg:         func(s domain.Signals) any { return s.RegionRisk },
	},
}

// BuiltinRules describes the built-in reason rules in report order.
// Reason holds the template filled from the claim signals.
func BuiltinRules() []*domain.ReasonRule {
	out := make([]*domain.ReasonRule, 0, len(builtinRules))
	for _, b := range builtinRules {
		out = append(out, &domain.ReasonRule{
			ID:          b.id,
			Name:        b.name,
			Description: b.description,
			Version:     "builtin",
			Condition:   b.condition,
			Reason:      b.reason,
			Enabled:     true,
		})
	}
	return out
}

func isBuiltinID(id string) bool {
	for _, b := range builtinRules {
		if b.id == id {
			return true
		}
	}
	return false
}
