package signal

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FlatEpsilon is the standard deviation below which a series carries no signal.
const FlatEpsilon = 1e-6

// AllFinite reports whether x holds no NaN or infinity.
func AllFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Center returns x minus its mean.
func Center(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if len(out) == 0 {
		return out
	}
	floats.AddConst(-stat.Mean(out, nil), out)
	return out
}

// Detrend removes the least-squares line from x.
func Detrend(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if len(out) < 2 {
		return Center(out)
	}

	t := make([]float64, len(out))
	floats.Span(t, 0, float64(len(out)-1))
	alpha, beta := stat.LinearRegression(t, out, nil, false)
	for i := range out {
		out[i] -= alpha + beta*t[i]
	}
	return out
}

// Standardize centres x and divides by its standard deviation. A flat series is
// only centred.
func Standardize(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if len(out) < 2 {
		return Center(out)
	}

	mean, std := stat.MeanStdDev(out, nil)
	floats.AddConst(-mean, out)
	if std > 0 {
		floats.Scale(1/std, out)
	}
	return out
}

// LowPass applies a first-order RC low-pass filter with the given cutoff to a
// series sampled at rate Hz. A non-positive cutoff or rate returns a copy.
func LowPass(x []float64, rate, cutoff float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if len(out) == 0 || rate <= 0 || cutoff <= 0 {
		return out
	}

	rc := 1 / (2 * math.Pi * cutoff)
	dt := 1 / rate
	alpha := dt / (rc + dt)
	for i := 1; i < len(out); i++ {
		out[i] = out[i-1] + alpha*(x[i]-out[i-1])
	}
	return out
}

// IsFlat reports whether x has (near) zero spread.
func IsFlat(x []float64) bool {
	if len(x) < 2 {
		return true
	}
	return stat.StdDev(x, nil) < FlatEpsilon
}
