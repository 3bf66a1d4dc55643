package model

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Standardizer rescales each feature to zero mean and unit variance using
// statistics fitted on a training set.
type Standardizer struct {
	Mean []float64
	Std  []float64
}

// FitStandardizer computes per-feature statistics over inputs.
func FitStandardizer(inputs [][]float64) *Standardizer {
	if len(inputs) == 0 {
		return &Standardizer{}
	}
	width := len(inputs[0])
	s := &Standardizer{Mean: make([]float64, width), Std: make([]float64, width)}
	col := make([]float64, len(inputs))
	for j := 0; j < width; j++ {
		for i, in := range inputs {
			col[i] = in[j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		s.Mean[j] = mean
		s.Std[j] = math.Sqrt(variance)
	}
	return s
}

// Apply returns a standardised copy of input. Constant features map to zero.
func (s *Standardizer) Apply(input []float64) []float64 {
	out := make([]float64, len(input))
	for j, v := range input {
		if j >= len(s.Mean) {
			out[j] = v
			continue
		}
		if s.Std[j] == 0 {
			continue
		}
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}
