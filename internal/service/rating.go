package service

import (
	"errors"
	"math"
)

// ErrNoRatings is returned when an aggregate is requested over zero values.
var ErrNoRatings = errors.New("rating list must not be empty")

// GeometricMean returns the nth root of the product of the n values. A single
// zero value drives the whole aggregate to zero.
func GeometricMean(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoRatings
	}
	product := 1.0
	for _, v := range values {
		product *= v
	}
	return math.Pow(product, 1/float64(len(values))), nil
}
