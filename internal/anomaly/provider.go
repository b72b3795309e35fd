package anomaly

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// ModelType names the model behind the provider.
const ModelType = "IsolationForest"

// Default training range used before any model is loaded.
const (
	DefaultMinScore = -0.5
	DefaultMaxScore = 0.5
)

// ErrModelNotFound is returned by LoadOrTrain when no model file exists and
// automatic training is disabled.
var ErrModelNotFound = errors.New("model file not found")

// Provider holds the active anomaly model. It is safe for concurrent use and
// implements domain.AnomalyScorer.
type Provider struct {
	mu    sync.RWMutex
	model *IsolationForest
	cfg   domain.ModelConfig
}

// NewProvider creates a provider with no model loaded.
func NewProvider(cfg domain.ModelConfig) *Provider {
	return &Provider{cfg: cfg}
}

// NewProviderWithModel creates a provider serving m.
func NewProviderWithModel(m *IsolationForest) *Provider {
	p := &Provider{}
	p.Set(m)
	return p
}

// LoadOrTrain loads the model from the configured path. When the file is
// missing and AutoTrain is set, a model is trained on synthetic data and
// written to the path.
func (p *Provider) LoadOrTrain(ctx context.Context) error {
	if p.cfg.Path != "" {
		m, err := LoadFile(p.cfg.Path)
		if err == nil {
			p.Set(m)
			slog.Info("anomaly model loaded", "path", p.cfg.Path, "trees", len(m.Trees))
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if !p.cfg.AutoTrain {
		return fmt.Errorf("%w: %s", ErrModelNotFound, p.cfg.Path)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := Train(p.cfg)
	if err != nil {
		return err
	}
	p.Set(m)
	slog.Info("anomaly model trained",
		"rows", p.cfg.TrainingRows,
		"trees", len(m.Trees),
		"min_score", m.MinScore,
		"max_score", m.MaxScore,
	)

	if p.cfg.Path != "" {
		if err := SaveFile(p.cfg.Path, m); err != nil {
			// the trained model still serves
			slog.Warn("failed to save anomaly model", "path", p.cfg.Path, "error", err)
		}
	}
	return nil
}

// Set replaces the active model.
func (p *Provider) Set(m *IsolationForest) {
	p.mu.Lock()
	p.model = m
	p.mu.Unlock()
}

// Loaded reports whether a model is active.
func (p *Provider) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model != nil
}

// Evaluate returns the raw decision score of fv.
func (p *Provider) Evaluate(ctx context.Context, fv domain.FeatureVector) (float64, error) {
	p.mu.RLock()
	m := p.model
	p.mu.RUnlock()

	if m == nil {
		return 0, domain.ErrProviderUnavailable
	}
	return m.Decision(fv.Values())
}

// Range returns the training score range of the active model.
func (p *Provider) Range() (float64, float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.model == nil {
		return DefaultMinScore, DefaultMaxScore
	}
	return p.model.MinScore, p.model.MaxScore
}

// Train fits a forest on freshly generated synthetic data.
func Train(cfg domain.ModelConfig) (*IsolationForest, error) {
	rows := cfg.TrainingRows
	if rows <= 0 {
		rows = 500
	}
	data, _ := Synthetic(rows, cfg.Seed)

	m, err := Fit(data, ForestConfig{
		Trees:         cfg.Trees,
		SampleSize:    cfg.SampleSize,
		Contamination: cfg.Contamination,
		Seed:          cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to train model: %w", err)
	}
	return m, nil
}

// SaveFile writes m to path, creating parent directories.
func SaveFile(path string, m *IsolationForest) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create model directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	if err := m.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write model: %w", err)
	}
	return f.Close()
}

// LoadFile reads a model written by SaveFile.
func LoadFile(path string) (*IsolationForest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model: %w", err)
	}
	defer f.Close()
	return Load(f)
}
