package domain

import (
	"context"
	"errors"
)

// ErrProviderUnavailable is returned when no anomaly model is loaded.
// Scoring must not proceed without one.
var ErrProviderUnavailable = errors.New("anomaly score provider unavailable")

// AnomalyScorer returns a raw anomaly score for a feature vector.
// Higher raw scores mean more normal.
type AnomalyScorer interface {
	// Evaluate scores a single feature vector.
	Evaluate(ctx context.Context, features FeatureVector) (float64, error)

	// Range returns the min and max raw scores seen at training time.
	Range() (min, max float64)
}
