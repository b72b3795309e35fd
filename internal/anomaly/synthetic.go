package anomaly

import (
	"math/rand/v2"
)

// FraudRatio is the share of fraudulent rows in synthetic training data.
const FraudRatio = 0.25

type band struct{ lo, hi float64 }

func (b band) draw(r *rand.Rand) float64 {
	return b.lo + r.Float64()*(b.hi-b.lo)
}

// Column bands in FeatureVector order: quantity, time gap hours,
// monthly total, shop frequency, region risk.
var (
	normalBands = [5]band{{3, 12}, {0.5 * 720, 2 * 720}, {3, 12}, {1, 4}, {0, 1}}
	fraudBands  = [5]band{{12, 30}, {0.1 * 720, 0.5 * 720}, {30, 100}, {4, 10}, {1.2, 3}}
)

// Synthetic generates n labelled training rows, a quarter of them drawn
// from fraud-like ranges. Labels are true for fraud rows.
func Synthetic(n int, seed uint64) ([][]float64, []bool) {
	r := rand.New(rand.NewPCG(seed, seed+1))

	fraud := int(float64(n) * FraudRatio)
	rows := make([][]float64, 0, n)
	labels := make([]bool, 0, n)

	for i := 0; i < n-fraud; i++ {
		rows = append(rows, drawRow(r, normalBands))
		labels = append(labels, false)
	}
	for i := 0; i < fraud; i++ {
		rows = append(rows, drawRow(r, fraudBands))
		labels = append(labels, true)
	}

	r.Shuffle(len(rows), func(i, j int) {
		rows[i], rows[j] = rows[j], rows[i]
		labels[i], labels[j] = labels[j], labels[i]
	})

	return rows, labels
}

func drawRow(r *rand.Rand, bands [5]band) []float64 {
	row := make([]float64, len(bands))
	for i, b := range bands {
		row[i] = b.draw(r)
	}
	return row
}
