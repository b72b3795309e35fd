package decision

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{0, domain.RiskLow},
		{0.39, domain.RiskLow},
		{0.4, domain.RiskLow},
		{0.41, domain.RiskMedium},
		{0.7, domain.RiskMedium},
		{0.71, domain.RiskHigh},
		{1, domain.RiskHigh},
	}

	for _, tc := range cases {
		if got := Classify(tc.score); got != tc.want {
			t.Errorf("Classify(%.2f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestClassify_Monotonic(t *testing.T) {
	prev := 0
	for i := 0; i <= 1000; i++ {
		r := rank(Classify(float64(i) / 1000))
		if r < prev {
			t.Fatalf("risk level decreased at score %.3f", float64(i)/1000)
		}
		prev = r
	}
}

func TestProcessor(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	proc := NewProcessor().WithClock(func() time.Time { return fixed })
	ctx := context.Background()

	claim := domain.Claim{BeneficiaryID: "B1", ShopID: "S1", Quantity: 5, RegionRisk: 0.1}

	t.Run("HighScore", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{
			Claim:     claim,
			ClaimedAt: 100,
			Breakdown: domain.Breakdown{FraudScore: 0.92},
			Reasons:   []string{"Repeated claim attempt (Claim #3 today)"},
			TraceID:   "trace-001",
			StartTime: fixed.Add(-25 * time.Millisecond),
		})

		if a.RiskLevel != domain.RiskHigh {
			t.Errorf("expected HIGH, got %s", a.RiskLevel)
		}
		if a.FraudScore != 0.92 {
			t.Errorf("expected score 0.92, got %.2f", a.FraudScore)
		}
		if len(a.Reasons) != 1 {
			t.Errorf("expected 1 reason, got %d", len(a.Reasons))
		}
		if !proc.ShouldAlert(a) {
			t.Error("expected HIGH assessment to alert")
		}
		if a.Metadata.TotalMs != 25 {
			t.Errorf("expected TotalMs 25, got %d", a.Metadata.TotalMs)
		}
	})

	t.Run("LowScoreHasEmptyReasons", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{
			Claim:     claim,
			Breakdown: domain.Breakdown{FraudScore: 0.1},
		})

		if a.RiskLevel != domain.RiskLow {
			t.Errorf("expected LOW, got %s", a.RiskLevel)
		}
		if a.Reasons == nil || len(a.Reasons) != 0 {
			t.Errorf("expected empty non-nil reasons, got %#v", a.Reasons)
		}
		if proc.ShouldAlert(a) {
			t.Error("LOW assessment should not alert")
		}
	})

	t.Run("MetadataPopulated", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{
			Claim:       claim,
			ClaimedAt:   42,
			TraceID:     "trace-002",
			ScoringTime: 3 * time.Millisecond,
		})

		if a.ID == "" {
			t.Error("missing assessment ID")
		}
		if a.Metadata.TraceID != "trace-002" {
			t.Error("missing traceID in metadata")
		}
		if a.Metadata.ScoringMs != 3 {
			t.Errorf("expected ScoringMs 3, got %d", a.Metadata.ScoringMs)
		}
		if a.Metadata.EngineVersion != EngineVersion {
			t.Errorf("unexpected engine version %q", a.Metadata.EngineVersion)
		}
		if !a.Timestamp.Equal(fixed) {
			t.Errorf("expected timestamp %v, got %v", fixed, a.Timestamp)
		}
		if a.ClaimedAt != 42 || a.BeneficiaryID != "B1" || a.ShopID != "S1" {
			t.Error("claim fields not copied")
		}
	})

	t.Run("UniqueIDs", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{Claim: claim})
		b := proc.Process(ctx, &DecisionInput{Claim: claim})
		if a.ID == b.ID {
			t.Error("expected distinct assessment IDs")
		}
	})
}

func TestShouldAlert_Level(t *testing.T) {
	proc := NewProcessor()
	proc.AlertLevel = domain.RiskMedium

	if !proc.ShouldAlert(&domain.Assessment{ScoringResult: domain.ScoringResult{RiskLevel: domain.RiskMedium}}) {
		t.Error("expected MEDIUM to alert at MEDIUM level")
	}
	if !proc.ShouldAlert(&domain.Assessment{ScoringResult: domain.ScoringResult{RiskLevel: domain.RiskHigh}}) {
		t.Error("expected HIGH to alert at MEDIUM level")
	}
	if proc.ShouldAlert(&domain.Assessment{ScoringResult: domain.ScoringResult{RiskLevel: domain.RiskLow}}) {
		t.Error("LOW should not alert")
	}
}
