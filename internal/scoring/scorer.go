// Package scoring fuses the anomaly model score with behavioral risk
// signals into a single fraud score, and runs the end-to-end claim
// scoring pipeline.
package scoring

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// Weights are the coefficients of the weighted sum and the additive
// escalation penalties.
type Weights struct {
	Model     float64
	Frequency float64
	Quantity  float64
	Region    float64
	Shop      float64
	Noise     float64

	// Penalties are added on top of the weighted sum.
	HoppingPenalty     float64
	ZoneHoppingPenalty float64
	RepeatPenalty      float64
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{
		Model:     0.35,
		Frequency: 0.20,
		Quantity:  0.15,
		Region:    0.15,
		Shop:      0.10,
		Noise:     0.05,

		HoppingPenalty:     0.5,
		ZoneHoppingPenalty: 0.6,
		RepeatPenalty:      0.25,
	}
}

// Thresholds used by the component risks.
const (
	FrequencyCap        = 3
	ShopFrequencyCap    = 10
	RapidGapMinutes     = 10
	degenerateRangeSpan = 1
)

// NoiseSource supplies the jitter term of the fraud score.
type NoiseSource interface {
	Next() float64
}

// UniformNoise draws uniformly from [Min, Max]. It is safe for concurrent use.
type UniformNoise struct {
	Min, Max float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewUniformNoise creates a uniform noise source. A zero seed seeds from
// the clock.
func NewUniformNoise(min, max float64, seed uint64) *UniformNoise {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &UniformNoise{
		Min: min,
		Max: max,
		rng: rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

func (n *UniformNoise) Next() float64 {
	n.mu.Lock()
	f := n.rng.Float64()
	n.mu.Unlock()
	return n.Min + f*(n.Max-n.Min)
}

// FixedNoise always returns the same value.
type FixedNoise float64

func (n FixedNoise) Next() float64 { return float64(n) }

// HybridScorer combines the anomaly model with behavioral signals.
type HybridScorer struct {
	model   domain.AnomalyScorer
	weights Weights
	noise   NoiseSource
}

// NewHybridScorer creates a scorer. A nil noise source disables noise.
func NewHybridScorer(model domain.AnomalyScorer, weights Weights, noise NoiseSource) *HybridScorer {
	if noise == nil {
		noise = FixedNoise(0)
	}
	return &HybridScorer{
		model:   model,
		weights: weights,
		noise:   noise,
	}
}

// Score computes the fraud score of a claim. The returned breakdown holds
// every component; FraudScore is always within [0, 1].
func (h *HybridScorer) Score(ctx context.Context, fv domain.FeatureVector, sig domain.Signals) (domain.Breakdown, error) {
	raw, err := h.model.Evaluate(ctx, fv)
	if err != nil {
		return domain.Breakdown{}, fmt.Errorf("anomaly model: %w", err)
	}
	lo, hi := h.model.Range()

	b := domain.Breakdown{
		RawModelScore: raw,
		ModelScore:    1 - Normalize(raw, lo, hi),
		FrequencyRisk: math.Min(float64(sig.DailyCount)/FrequencyCap, 1),
		QuantityRisk:  math.Min(sig.QuantityDeviation, 1),
		ShopRisk:      math.Min(float64(sig.ShopFrequency)/ShopFrequencyCap, 1),
		RegionRisk:    sig.RegionRisk,
		Noise:         h.noise.Next(),
	}
	if sig.TimeGapMinutes < RapidGapMinutes {
		b.TimeRisk = 1
	}
	if sig.UniqueShopsToday > 1 {
		b.HoppingRisk = h.weights.HoppingPenalty
	}
	if sig.UniqueRegionsToday > 1 {
		b.ZoneHoppingRisk = h.weights.ZoneHoppingPenalty
	}
	if sig.DailyCount > 1 {
		b.RepeatRisk = h.weights.RepeatPenalty
	}

	w := h.weights
	score := w.Model*b.ModelScore +
		w.Frequency*b.FrequencyRisk +
		w.Quantity*b.QuantityRisk +
		w.Region*b.RegionRisk +
		w.Shop*b.ShopRisk +
		w.Noise*b.Noise +
		b.HoppingRisk + b.ZoneHoppingRisk + b.RepeatRisk

	b.FraudScore = clip(score)
	return b, nil
}

// Normalize maps raw into [0, 1] relative to the training range.
func Normalize(raw, lo, hi float64) float64 {
	span := hi - lo
	if span <= 0 {
		span = degenerateRangeSpan
	}
	return clip((raw - lo) / span)
}

func clip(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(v, 1))
}
