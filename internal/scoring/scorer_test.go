package scoring

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// stubModel returns a fixed raw score over a fixed training range.
type stubModel struct {
	raw    float64
	lo, hi float64
	err    error
}

func (m *stubModel) Evaluate(_ context.Context, _ domain.FeatureVector) (float64, error) {
	return m.raw, m.err
}

func (m *stubModel) Range() (float64, float64) { return m.lo, m.hi }

func neutralModel() *stubModel { return &stubModel{raw: 0, lo: -0.5, hi: 0.5} }

func firstClaimSignals() domain.Signals {
	return domain.Signals{
		DailyCount: 1, UniqueShopsToday: 1, UniqueRegionsToday: 1, MonthlyCount: 1,
		TimeGapMinutes: 999, ShopFrequency: 1, RegionRisk: 0.1,
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, 0.5, Normalize(0, -0.5, 0.5))
	assert.Equal(t, 0.0, Normalize(-3, -0.5, 0.5))
	assert.Equal(t, 1.0, Normalize(3, -0.5, 0.5))

	// zero range falls back to a unit span
	assert.InDelta(t, 0.25, Normalize(0.25, 0, 0), 1e-12)
	assert.Equal(t, 1.0, Normalize(2, 0, 0))
}

func TestHybridScorer_Composite(t *testing.T) {
	s := NewHybridScorer(neutralModel(), DefaultWeights(), FixedNoise(0.03))

	b, err := s.Score(context.Background(), domain.FeatureVector{}, firstClaimSignals())
	require.NoError(t, err)

	assert.Equal(t, 0.5, b.ModelScore)
	assert.InDelta(t, 1.0/3, b.FrequencyRisk, 1e-12)
	assert.Zero(t, b.QuantityRisk)
	assert.InDelta(t, 0.1, b.ShopRisk, 1e-12)
	assert.Zero(t, b.TimeRisk)
	assert.Zero(t, b.HoppingRisk+b.ZoneHoppingRisk+b.RepeatRisk)

	want := 0.35*0.5 + 0.20/3 + 0.15*0.1 + 0.10*0.1 + 0.05*0.03
	assert.InDelta(t, want, b.FraudScore, 1e-12)
}

func TestHybridScorer_InvertsModelScore(t *testing.T) {
	normal := NewHybridScorer(&stubModel{raw: 0.5, lo: -0.5, hi: 0.5}, DefaultWeights(), nil)
	outlier := NewHybridScorer(&stubModel{raw: -0.5, lo: -0.5, hi: 0.5}, DefaultWeights(), nil)

	bn, err := normal.Score(context.Background(), domain.FeatureVector{}, firstClaimSignals())
	require.NoError(t, err)
	bo, err := outlier.Score(context.Background(), domain.FeatureVector{}, firstClaimSignals())
	require.NoError(t, err)

	assert.Zero(t, bn.ModelScore)
	assert.Equal(t, 1.0, bo.ModelScore)
	assert.Greater(t, bo.FraudScore, bn.FraudScore)
}

func TestHybridScorer_TimeRiskNotWeighted(t *testing.T) {
	s := NewHybridScorer(neutralModel(), DefaultWeights(), FixedNoise(0.02))

	slow := firstClaimSignals()
	fast := firstClaimSignals()
	fast.TimeGapMinutes = 5

	bs, err := s.Score(context.Background(), domain.FeatureVector{}, slow)
	require.NoError(t, err)
	bf, err := s.Score(context.Background(), domain.FeatureVector{}, fast)
	require.NoError(t, err)

	assert.Zero(t, bs.TimeRisk)
	assert.Equal(t, 1.0, bf.TimeRisk)
	assert.Equal(t, bs.FraudScore, bf.FraudScore)
}

func TestHybridScorer_PenaltiesSaturate(t *testing.T) {
	s := NewHybridScorer(neutralModel(), DefaultWeights(), FixedNoise(0.01))

	sig := firstClaimSignals()
	sig.DailyCount = 2
	sig.UniqueShopsToday = 2
	sig.UniqueRegionsToday = 2

	b, err := s.Score(context.Background(), domain.FeatureVector{}, sig)
	require.NoError(t, err)

	assert.Equal(t, 0.5, b.HoppingRisk)
	assert.Equal(t, 0.6, b.ZoneHoppingRisk)
	assert.Equal(t, 0.25, b.RepeatRisk)
	assert.Equal(t, 1.0, b.FraudScore)
}

func TestHybridScorer_AlwaysClipped(t *testing.T) {
	cases := []struct {
		name  string
		model *stubModel
		sig   domain.Signals
	}{
		{"Huge", &stubModel{raw: -1e9, lo: -0.5, hi: 0.5}, domain.Signals{
			DailyCount: 1e6, UniqueShopsToday: 50, UniqueRegionsToday: 50,
			QuantityDeviation: 1e12, ShopFrequency: 1e6, RegionRisk: 1e9,
		}},
		{"NegativeRegion", &stubModel{raw: 1e9, lo: -0.5, hi: 0.5}, domain.Signals{RegionRisk: -1e9}},
		{"DegenerateRange", &stubModel{raw: 0.2, lo: 0.2, hi: 0.2}, firstClaimSignals()},
		{"InvertedRange", &stubModel{raw: 0, lo: 1, hi: -1}, firstClaimSignals()},
		{"NaNRaw", &stubModel{raw: math.NaN(), lo: -0.5, hi: 0.5}, firstClaimSignals()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewHybridScorer(tc.model, DefaultWeights(), FixedNoise(0.05))
			b, err := s.Score(context.Background(), domain.FeatureVector{}, tc.sig)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, b.FraudScore, 0.0)
			assert.LessOrEqual(t, b.FraudScore, 1.0)
		})
	}
}

func TestHybridScorer_ProviderUnavailable(t *testing.T) {
	s := NewHybridScorer(&stubModel{err: domain.ErrProviderUnavailable}, DefaultWeights(), nil)

	_, err := s.Score(context.Background(), domain.FeatureVector{}, firstClaimSignals())
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestUniformNoise(t *testing.T) {
	n := NewUniformNoise(0.01, 0.05, 99)
	for i := 0; i < 1000; i++ {
		v := n.Next()
		require.GreaterOrEqual(t, v, 0.01)
		require.LessOrEqual(t, v, 0.05)
	}

	a := NewUniformNoise(0.01, 0.05, 7)
	b := NewUniformNoise(0.01, 0.05, 7)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}
}
