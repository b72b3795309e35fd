// Package rules provides the CEL-Go based reason engine that explains a
// fraud score in human-readable terms.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/claimguard/internal/domain"
)

// Engine evaluates the built-in reason rules, in fixed order, followed by
// operator-defined custom rules ordered by id.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	builtins      []*compiledBuiltin
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled custom reason rule.
type CompiledRule struct {
	Config  *domain.ReasonRule
	Program cel.Program
}

type compiledBuiltin struct {
	def     builtinRule
	program cel.Program
}

// NewEngine creates a reason engine with the built-in rules compiled.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("daily_count", cel.IntType),
		cel.Variable("unique_shops_today", cel.IntType),
		cel.Variable("unique_regions_today", cel.IntType),
		cel.Variable("monthly_count", cel.IntType),
		cel.Variable("shop_frequency", cel.IntType),
		cel.Variable("time_gap_minutes", cel.DoubleType),
		cel.Variable("quantity_deviation", cel.DoubleType),
		cel.Variable("region_risk", cel.DoubleType),
		cel.Variable("fraud_score", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}

	for _, def := range builtinRules {
		prg, err := e.compile(def.id, def.condition)
		if err != nil {
			return nil, err
		}
		e.builtins = append(e.builtins, &compiledBuiltin{def: def, program: prg})
	}

	return e, nil
}

// ValidateRule compiles a custom rule without loading it.
func (e *Engine) ValidateRule(rule *domain.ReasonRule) error {
	_, err := e.compileRule(rule)
	return err
}

func checkRule(rule *domain.ReasonRule) error {
	if rule == nil {
		return fmt.Errorf("reason rule is required")
	}
	if rule.ID == "" {
		return fmt.Errorf("reason rule id is required")
	}
	if isBuiltinID(rule.ID) {
		return fmt.Errorf("rule id %s is reserved", rule.ID)
	}
	if rule.Reason == "" {
		return fmt.Errorf("rule %s: reason is required", rule.ID)
	}
	return nil
}

// LoadRule compiles and loads a custom rule, replacing any rule with the
// same id.
func (e *Engine) LoadRule(rule *domain.ReasonRule) error {
	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.compiledRules[rule.ID] = compiled
	e.mu.Unlock()
	return nil
}

// LoadRules loads every enabled rule.
func (e *Engine) LoadRules(rules []*domain.ReasonRule) error {
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if err := e.LoadRule(r); err != nil {
			return err
		}
	}
	return nil
}

// ReloadRules atomically replaces all custom rules. On error the previous
// set stays active.
func (e *Engine) ReloadRules(rules []*domain.ReasonRule) error {
	next := make(map[string]*CompiledRule, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		compiled, err := e.compileRule(r)
		if err != nil {
			return err
		}
		next[r.ID] = compiled
	}

	e.mu.Lock()
	e.compiledRules = next
	e.mu.Unlock()
	return nil
}

// GetLoadedRules returns the loaded custom rules ordered by id.
func (e *Engine) GetLoadedRules() []*domain.ReasonRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.ReasonRule, 0, len(e.compiledRules))
	for _, c := range e.compiledRules {
		out = append(out, c.Config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RulesCount returns the number of loaded custom rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// Explain returns the triggered reasons for a scored claim in order.
// The result is never nil.
func (e *Engine) Explain(ctx context.Context, fraudScore float64, sig domain.Signals) []string {
	reasons := []string{}
	for _, r := range e.Evaluate(ctx, fraudScore, sig) {
		if r.Triggered {
			reasons = append(reasons, r.Reason)
		}
	}
	return reasons
}

// Evaluate runs every rule and reports each outcome. A custom rule that
// fails to evaluate is reported with Err set and never triggers.
func (e *Engine) Evaluate(ctx context.Context, fraudScore float64, sig domain.Signals) []domain.ReasonResult {
	activation := map[string]any{
		"daily_count":          int64(sig.DailyCount),
		"unique_shops_today":   int64(sig.UniqueShopsToday),
		"unique_regions_today": int64(sig.UniqueRegionsToday),
		"monthly_count":        int64(sig.MonthlyCount),
		"shop_frequency":       int64(sig.ShopFrequency),
		"time_gap_minutes":     sig.TimeGapMinutes,
		"quantity_deviation":   sig.QuantityDeviation,
		"region_risk":          sig.RegionRisk,
		"fraud_score":          fraudScore,
	}

	e.mu.RLock()
	custom := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, c := range e.compiledRules {
		custom = append(custom, c)
	}
	e.mu.RUnlock()
	sort.Slice(custom, func(i, j int) bool { return custom[i].Config.ID < custom[j].Config.ID })

	results := make([]domain.ReasonResult, 0, len(e.builtins)+len(custom))

	for _, b := range e.builtins {
		res := domain.ReasonResult{RuleID: b.def.id}
		ok, err := eval(b.program, activation)
		if err != nil {
			res.Err = err.Error()
		} else if ok {
			res.Triggered = true
			res.Reason = b.def.format(sig)
		}
		results = append(results, res)
	}

	for _, c := range custom {
		res := domain.ReasonResult{RuleID: c.Config.ID}
		ok, err := eval(c.Program, activation)
		if err != nil {
			slog.WarnContext(ctx, "reason rule evaluation failed", "rule_id", c.Config.ID, "error", err)
			res.Err = err.Error()
		} else if ok {
			res.Triggered = true
			res.Reason = c.Config.Reason
		}
		results = append(results, res)
	}

	return results
}

// Close unloads all custom rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.ReasonRule) (*CompiledRule, error) {
	if err := checkRule(rule); err != nil {
		return nil, err
	}
	prg, err := e.compile(rule.ID, rule.Condition)
	if err != nil {
		return nil, err
	}
	return &CompiledRule{Config: rule, Program: prg}, nil
}

func (e *Engine) compile(id, condition string) (cel.Program, error) {
	ast, issues := e.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", id, issues.Err())
	}

	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %s: condition must return bool, got %s", id, out)
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", id, err)
	}
	return prg, nil
}

func eval(prg cel.Program, activation map[string]any) (bool, error) {
	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, err
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type %v", out.Type())
	}
	return bool(b), nil
}
