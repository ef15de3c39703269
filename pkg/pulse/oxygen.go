package pulse

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/MrCodeEU/pulsegate/pkg/signal"
)

// oxygenForecast is an informational oxygen-saturation trend: the red channel
// is low-passed, mapped through 100 - ln(100|r|) and extrapolated one step
// with an autoregressive model. It never affects the liveness decision.
func oxygenForecast(samples []signal.Sample, rate float64, cfg Config) (float64, bool) {
	if cfg.OxygenOrder < 1 {
		return 0, false
	}
	r, _, _ := signal.Channels(samples)
	r = signal.LowPass(r, rate, cfg.OxygenLowPassHz)
	return arForecast(logFit(r), cfg.OxygenOrder)
}

// logFit maps x to 100 - ln(100|v|), dropping values that come out non-finite.
func logFit(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if y := 100 - math.Log(100*math.Abs(v)); finite(y) {
			out = append(out, y)
		}
	}
	return out
}

// arForecast fits x[t] = Σ c[j]·x[t-1-j] by least squares and returns the
// one-step forecast Σ c[j]·x[n-1-j]. The series must hold at least twice
// order values.
func arForecast(x []float64, order int) (float64, bool) {
	n := len(x)
	if order < 1 || n < 2*order {
		return 0, false
	}

	rows := n - order
	a := mat.NewDense(rows, order, nil)
	b := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		t := i + order
		for j := 0; j < order; j++ {
			a.Set(i, j, x[t-1-j])
		}
		b.SetVec(i, x[t])
	}

	var coef mat.VecDense
	if err := coef.SolveVec(a, b); err != nil {
		// A finite condition number still yields coefficients; an infinite
		// one means the solve stopped early.
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return 0, false
		}
	}

	var f float64
	for j := 0; j < order; j++ {
		f += coef.AtVec(j) * x[n-1-j]
	}
	if !finite(f) {
		return 0, false
	}
	return f, true
}
