package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/claimguard/internal/anomaly"
	"github.com/opensource-finance/claimguard/internal/decision"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/history"
	"github.com/opensource-finance/claimguard/internal/metrics"
	"github.com/opensource-finance/claimguard/internal/rules"
	"github.com/opensource-finance/claimguard/internal/scoring"
)

// core is the in-process scoring stack shared by serve and score.
type core struct {
	provider *anomaly.Provider
	rules    *rules.Engine
	engine   *scoring.Engine
}

func newCore(ctx context.Context, cfg *domain.Config, repo domain.Repository, opts ...scoring.Option) (*core, error) {
	provider := anomaly.NewProvider(cfg.Model)
	if err := provider.LoadOrTrain(ctx); err != nil {
		// the service still starts; scoring answers 503 until a model exists
		slog.Error("anomaly model unavailable", "path", cfg.Model.Path, "error", err)
	}
	if provider.Loaded() {
		metrics.ModelLoaded.Set(1)
	} else {
		metrics.ModelLoaded.Set(0)
	}

	explainer, err := rules.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	if repo != nil {
		loadCustomRules(ctx, repo, explainer)
	}

	store := history.NewStore(
		history.WithShards(cfg.History.Shards),
		history.WithMaxRecordsPerEntity(cfg.History.MaxRecordsPerEntity),
		history.WithMaxTimestampsPerShop(cfg.History.MaxTimestampsPerShop),
	)
	noise := scoring.NewUniformNoise(cfg.Scoring.NoiseMin, cfg.Scoring.NoiseMax, cfg.Scoring.NoiseSeed)
	scorer := scoring.NewHybridScorer(provider, scoring.DefaultWeights(), noise)

	engine := scoring.NewEngine(store, scorer, explainer, decision.NewProcessor(), opts...)

	return &core{provider: provider, rules: explainer, engine: engine}, nil
}

// loadCustomRules loads persisted reason rules. A failure leaves only the
// built-in reasons active; rules can be reloaded through the API.
func loadCustomRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) {
	custom, err := repo.ListReasonRules(ctx)
	if err != nil {
		slog.Warn("failed to list reason rules", "error", err)
		return
	}
	if len(custom) == 0 {
		return
	}
	if err := engine.ReloadRules(custom); err != nil {
		slog.Warn("failed to load reason rules", "error", err)
		return
	}
	slog.Info("reason rules loaded", "count", len(custom))
}
