// Package anomaly provides the anomaly score provider used by the hybrid
// scorer: an isolation forest trained on synthetic claims.
package anomaly

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sort"
)

const eulerGamma = 0.5772156649015329

// ForestConfig holds isolation forest training parameters.
type ForestConfig struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          uint64
}

// DefaultForestConfig mirrors the production model settings.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:         100,
		SampleSize:    256,
		Contamination: 0.25,
		Seed:          42,
	}
}

type node struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s"`
	Left    int     `json:"l"` // -1 on leaves
	Right   int     `json:"r"`
	Size    int     `json:"n"`
}

// IsolationForest is a trained isolation forest.
//
// Decision scores follow the usual convention: positive means inlier,
// negative means outlier.
type IsolationForest struct {
	Trees      [][]node `json:"trees"`
	SampleSize int      `json:"sampleSize"`
	Features   int      `json:"features"`
	Offset     float64  `json:"offset"`
	MinScore   float64  `json:"minScore"`
	MaxScore   float64  `json:"maxScore"`
}

// Fit trains a forest on rows of equal width.
func Fit(data [][]float64, cfg ForestConfig) (*IsolationForest, error) {
	if len(data) == 0 {
		return nil, errors.New("training data is empty")
	}
	width := len(data[0])
	for i, row := range data {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
	}
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.SampleSize <= 0 || cfg.SampleSize > len(data) {
		cfg.SampleSize = min(256, len(data))
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(cfg.SampleSize), 2))))

	f := &IsolationForest{
		Trees:      make([][]node, 0, cfg.Trees),
		SampleSize: cfg.SampleSize,
		Features:   width,
	}

	for t := 0; t < cfg.Trees; t++ {
		perm := rng.Perm(len(data))[:cfg.SampleSize]
		rows := make([][]float64, len(perm))
		for i, idx := range perm {
			rows[i] = data[idx]
		}
		b := &builder{rng: rng, maxDepth: maxDepth}
		b.grow(rows, 0)
		f.Trees = append(f.Trees, b.nodes)
	}

	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = f.scoreSample(row)
	}
	f.Offset = percentile(scores, 100*cfg.Contamination)

	f.MinScore, f.MaxScore = math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		d := s - f.Offset
		f.MinScore = math.Min(f.MinScore, d)
		f.MaxScore = math.Max(f.MaxScore, d)
	}

	return f, nil
}

// Decision returns the decision score of one sample.
func (f *IsolationForest) Decision(x []float64) (float64, error) {
	if len(x) != f.Features {
		return 0, fmt.Errorf("sample has %d features, want %d", len(x), f.Features)
	}
	return f.scoreSample(x) - f.Offset, nil
}

// scoreSample is the negated anomaly score: -2^(-E[h(x)]/c(n)).
func (f *IsolationForest) scoreSample(x []float64) float64 {
	var depth float64
	for _, tree := range f.Trees {
		depth += pathLength(tree, x)
	}
	mean := depth / float64(len(f.Trees))
	return -math.Pow(2, -mean/averagePathLength(f.SampleSize))
}

// Save writes the forest as JSON.
func (f *IsolationForest) Save(w io.Writer) error {
	return json.NewEncoder(w).Encode(f)
}

// Load reads a forest written by Save.
func Load(r io.Reader) (*IsolationForest, error) {
	var f IsolationForest
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if len(f.Trees) == 0 || f.Features == 0 {
		return nil, errors.New("model has no trees")
	}
	return &f, nil
}

type builder struct {
	rng      *rand.Rand
	maxDepth int
	nodes    []node
}

func (b *builder) grow(rows [][]float64, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, node{Left: -1, Right: -1, Size: len(rows)})

	if depth >= b.maxDepth || len(rows) <= 1 {
		return idx
	}

	width := len(rows[0])
	for _, feat := range b.rng.Perm(width) {
		lo, hi := rows[0][feat], rows[0][feat]
		for _, r := range rows[1:] {
			lo = math.Min(lo, r[feat])
			hi = math.Max(hi, r[feat])
		}
		if lo == hi {
			continue
		}

		split := lo + b.rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, r := range rows {
			if r[feat] < split {
				left = append(left, r)
			} else {
				right = append(right, r)
			}
		}

		b.nodes[idx].Feature = feat
		b.nodes[idx].Split = split
		l := b.grow(left, depth+1)
		r := b.grow(right, depth+1)
		b.nodes[idx].Left = l
		b.nodes[idx].Right = r
		return idx
	}

	// every feature is constant
	return idx
}

func pathLength(tree []node, x []float64) float64 {
	var depth float64
	i := 0
	for tree[i].Left >= 0 {
		if x[tree[i].Feature] < tree[i].Split {
			i = tree[i].Left
		} else {
			i = tree[i].Right
		}
		depth++
	}
	return depth + averagePathLength(tree[i].Size)
}

// averagePathLength is c(n), the mean path length of an unsuccessful BST search.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
