package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometricMean(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"single value", []float64{7}, 7},
		{"uniform values", []float64{5, 5, 5, 5}, 5},
		{"two values", []float64{9, 16}, 12},
		{"mixed values", []float64{4, 1, 1.0 / 32.0}, 0.5},
		{"zero dominates", []float64{0, 5, 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GeometricMean(tt.values)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestGeometricMeanEmpty(t *testing.T) {
	_, err := GeometricMean(nil)
	assert.ErrorIs(t, err, ErrNoRatings)
}
