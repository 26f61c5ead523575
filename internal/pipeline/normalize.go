package pipeline

import (
	"math"

	"github.com/mnocc/vigilance-cli/internal/model"
)

// PercentileRank returns the fraction of historical values <= x. An empty
// history scores 0.
func PercentileRank(history []float64, x float64) float64 {
	if len(history) == 0 {
		return 0.0
	}
	n := 0
	for _, v := range history {
		if v <= x {
			n++
		}
	}
	return float64(n) / float64(len(history))
}

// ZScoreSigmoid standardizes x against the history and squashes the z-score
// through the logistic sigmoid. A history too short to estimate a spread, or
// one with zero spread, yields z=0 and therefore 0.5 — never NaN, never an
// exact 0 or 1.
func ZScoreSigmoid(history []float64, x float64) float64 {
	z := zscore(history, x)
	return 1.0 / (1.0 + math.Exp(-z))
}

// zscore uses the sample standard deviation, matching how the historical
// spread was estimated in the legacy engine.
func zscore(history []float64, x float64) float64 {
	if len(history) < 2 {
		return 0.0
	}
	mean := 0.0
	for _, v := range history {
		mean += v
	}
	mean /= float64(len(history))

	ss := 0.0
	for _, v := range history {
		d := v - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(history)-1))
	if sd == 0 || math.IsNaN(sd) {
		return 0.0
	}
	return (x - mean) / sd
}

// Normalize maps a raw zone aggregate onto [0,1] per the definition's
// normalization spec.
func Normalize(spec model.NormalizationSpec, history []float64, x float64) float64 {
	if spec.Method == model.NormZScore {
		return ZScoreSigmoid(history, x)
	}
	return PercentileRank(history, x)
}
