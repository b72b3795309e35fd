package rules

import (
	"context"
	"reflect"
	"testing"

	"github.com/opensource-finance/claimguard/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestEngineCreation(t *testing.T) {
	engine := newTestEngine(t)

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 custom rules, got %d", engine.RulesCount())
	}
	if len(BuiltinRules()) != 6 {
		t.Errorf("expected 6 built-in rules, got %d", len(BuiltinRules()))
	}
}

func TestExplain_BuiltinScenarios(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	t.Run("FirstClaim", func(t *testing.T) {
		sig := domain.Signals{
			DailyCount: 1, UniqueShopsToday: 1, UniqueRegionsToday: 1, MonthlyCount: 1,
			TimeGapMinutes: 999, QuantityDeviation: 0, ShopFrequency: 1, RegionRisk: 0.1,
		}

		reasons := engine.Explain(ctx, 0.2, sig)
		if reasons == nil {
			t.Fatal("expected non-nil reasons")
		}
		if len(reasons) != 0 {
			t.Errorf("expected no reasons, got %v", reasons)
		}
	})

	t.Run("RapidRepeatWithLargeQuantity", func(t *testing.T) {
		sig := domain.Signals{
			DailyCount: 2, UniqueShopsToday: 1, UniqueRegionsToday: 1, MonthlyCount: 2,
			TimeGapMinutes: 1, QuantityDeviation: 22.5 / 27.5, ShopFrequency: 2, RegionRisk: 0.1,
		}

		want := []string{
			"Repeated claim attempt (Claim #2 today)",
			"Unusual quantity pattern (+82%)",
			"Rapid repeat claim (1m gap)",
		}
		if got := engine.Explain(ctx, 0.6, sig); !reflect.DeepEqual(got, want) {
			t.Errorf("reasons = %v, want %v", got, want)
		}
	})

	t.Run("ShopAndZoneHopping", func(t *testing.T) {
		sig := domain.Signals{
			DailyCount: 2, UniqueShopsToday: 2, UniqueRegionsToday: 2, MonthlyCount: 2,
			TimeGapMinutes: 120, ShopFrequency: 1, RegionRisk: 0.5,
		}

		want := []string{
			"Suspicious multi-zone activity (2 zones)",
			"Suspicious shop hopping detected (2 shops today)",
			"Repeated claim attempt (Claim #2 today)",
		}
		if got := engine.Explain(ctx, 1, sig); !reflect.DeepEqual(got, want) {
			t.Errorf("reasons = %v, want %v", got, want)
		}
	})

	t.Run("AllTriggeredInOrder", func(t *testing.T) {
		sig := domain.Signals{
			DailyCount: 4, UniqueShopsToday: 3, UniqueRegionsToday: 2,
			TimeGapMinutes: 7.9, QuantityDeviation: 0.5, RegionRisk: 0.85,
		}

		want := []string{
			"Suspicious multi-zone activity (2 zones)",
			"Suspicious shop hopping detected (3 shops today)",
			"Repeated claim attempt (Claim #4 today)",
			"Unusual quantity pattern (+50%)",
			"Rapid repeat claim (7m gap)",
			"High-risk region transaction (0.85)",
		}
		if got := engine.Explain(ctx, 1, sig); !reflect.DeepEqual(got, want) {
			t.Errorf("reasons = %v, want %v", got, want)
		}
	})
}

func TestExplain_Boundaries(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	// each value sits exactly on its threshold and must not trigger
	sig := domain.Signals{
		DailyCount: 1, UniqueShopsToday: 1, UniqueRegionsToday: 1,
		TimeGapMinutes: 10, QuantityDeviation: 0.3, RegionRisk: 0.6,
	}
	if got := engine.Explain(ctx, 0.5, sig); len(got) != 0 {
		t.Errorf("expected no reasons at thresholds, got %v", got)
	}
}

func TestCustomRules(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	rules := []*domain.ReasonRule{
		{ID: "z-bulk", Condition: "monthly_count >= 10", Reason: "High monthly volume", Enabled: true},
		{ID: "b-score", Condition: "fraud_score > 0.9", Reason: "Near-certain fraud score", Enabled: true},
		{ID: "c-off", Condition: "true", Reason: "Disabled rule", Enabled: false},
	}
	if err := engine.LoadRules(rules); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	if engine.RulesCount() != 2 {
		t.Fatalf("expected 2 rules, got %d", engine.RulesCount())
	}

	loaded := engine.GetLoadedRules()
	if loaded[0].ID != "b-score" || loaded[1].ID != "z-bulk" {
		t.Errorf("expected rules ordered by id, got %s, %s", loaded[0].ID, loaded[1].ID)
	}

	sig := domain.Signals{DailyCount: 2, MonthlyCount: 12, TimeGapMinutes: 300}
	want := []string{
		"Repeated claim attempt (Claim #2 today)",
		"Near-certain fraud score",
		"High monthly volume",
	}
	if got := engine.Explain(ctx, 0.95, sig); !reflect.DeepEqual(got, want) {
		t.Errorf("reasons = %v, want %v", got, want)
	}

	results := engine.Evaluate(ctx, 0.5, sig)
	if len(results) != len(BuiltinRules())+2 {
		t.Fatalf("expected %d results, got %d", len(BuiltinRules())+2, len(results))
	}
	last := results[len(results)-1]
	if last.RuleID != "z-bulk" || !last.Triggered {
		t.Errorf("expected z-bulk triggered last, got %+v", last)
	}
	if results[len(results)-2].Triggered {
		t.Error("b-score should not trigger at score 0.5")
	}
}

func TestValidateRule(t *testing.T) {
	engine := newTestEngine(t)

	cases := []struct {
		name string
		rule *domain.ReasonRule
	}{
		{"Nil", nil},
		{"MissingID", &domain.ReasonRule{Condition: "true", Reason: "x"}},
		{"ReservedID", &domain.ReasonRule{ID: "shop-hopping", Condition: "true", Reason: "x"}},
		{"MissingReason", &domain.ReasonRule{ID: "r1", Condition: "true"}},
		{"InvalidCEL", &domain.ReasonRule{ID: "r1", Condition: "this is not valid CEL !!!", Reason: "x"}},
		{"NonBool", &domain.ReasonRule{ID: "r1", Condition: "daily_count + 1", Reason: "x"}},
		{"UnknownVariable", &domain.ReasonRule{ID: "r1", Condition: "amount > 1.0", Reason: "x"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := engine.ValidateRule(tc.rule); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	ok := &domain.ReasonRule{ID: "r1", Condition: "shop_frequency > 100", Reason: "Busy shop"}
	if err := engine.ValidateRule(ok); err != nil {
		t.Errorf("expected valid rule, got %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Error("ValidateRule must not load the rule")
	}
}

func TestReloadRules(t *testing.T) {
	engine := newTestEngine(t)

	first := []*domain.ReasonRule{
		{ID: "r1", Condition: "daily_count > 5", Reason: "Many claims", Enabled: true},
		{ID: "r2", Condition: "daily_count > 9", Reason: "Too many claims", Enabled: true},
	}
	if err := engine.ReloadRules(first); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 2 {
		t.Fatalf("expected 2 rules, got %d", engine.RulesCount())
	}

	bad := []*domain.ReasonRule{
		{ID: "r3", Condition: "daily_count > 1", Reason: "ok", Enabled: true},
		{ID: "r4", Condition: "not valid !!", Reason: "broken", Enabled: true},
	}
	if err := engine.ReloadRules(bad); err == nil {
		t.Fatal("expected reload error")
	}
	if engine.RulesCount() != 2 {
		t.Errorf("failed reload must keep previous rules, got %d", engine.RulesCount())
	}

	if err := engine.ReloadRules([]*domain.ReasonRule{first[0]}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule after reload, got %d", engine.RulesCount())
	}
}

func TestCustomRuleEvaluationError(t *testing.T) {
	engine := newTestEngine(t)

	rule := &domain.ReasonRule{ID: "div", Condition: "10 / (daily_count - 1) > 1", Reason: "never", Enabled: true}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	results := engine.Evaluate(context.Background(), 0, domain.Signals{DailyCount: 1})
	last := results[len(results)-1]
	if last.Err == "" {
		t.Error("expected evaluation error to be reported")
	}
	if last.Triggered {
		t.Error("failed rule must not trigger")
	}

	reasons := engine.Explain(context.Background(), 0, domain.Signals{DailyCount: 1})
	if len(reasons) != 0 {
		t.Errorf("expected no reasons, got %v", reasons)
	}
}
