package pulse

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/MrCodeEU/pulsegate/pkg/signal"
)

// ChrominancePOS estimates the heart rate from the Plane-Orthogonal-to-Skin
// projection of all three channels over the whole buffer.
type ChrominancePOS struct {
	cfg Config
}

// NewChrominancePOS creates the POS estimator.
func NewChrominancePOS(cfg Config) *ChrominancePOS {
	if cfg.Window < 2 {
		cfg.Window = DefaultConfig().Window
	}
	return &ChrominancePOS{cfg: cfg}
}

// Name implements Estimator.
func (e *ChrominancePOS) Name() string {
	return "pos"
}

// Estimate implements Estimator.
func (e *ChrominancePOS) Estimate(samples []signal.Sample) (Estimate, error) {
	need := e.cfg.MinSamples
	if need < e.cfg.Window {
		need = e.cfg.Window
	}
	if len(samples) < need {
		return Estimate{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientSamples, len(samples), need)
	}

	h, err := e.Extract(samples)
	if err != nil {
		return Estimate{}, err
	}
	if signal.IsFlat(h) {
		return Estimate{}, fmt.Errorf("%w: flat pulse signal", ErrNoPeak)
	}

	rate := signal.SampleRate(samples, e.cfg.FallbackRate)
	freqs, mags, err := spectrum(signal.Center(h), rate)
	if err != nil {
		return Estimate{}, err
	}

	p, ok := dominant(freqs, mags, e.cfg.MinHz, e.cfg.MaxHz)
	if !ok || p.Magnitude <= 0 || p.Magnitude < e.cfg.MinMagnitude {
		return Estimate{}, fmt.Errorf("%w: in [%g, %g] Hz", ErrNoPeak, e.cfg.MinHz, e.cfg.MaxHz)
	}

	est := Estimate{
		BPM:       p.Hz * 60,
		Magnitude: p.Magnitude,
		Valid:     true,
	}
	if rp, ok := dominant(freqs, mags, e.cfg.RespirationMinHz, e.cfg.RespirationMaxHz); ok && rp.Magnitude > 0 {
		est.RespirationRPM = rp.Hz * 60
		est.RespirationValid = true
	}
	if f, ok := oxygenForecast(samples, rate, e.cfg); ok {
		est.OxygenForecast = f
		est.OxygenValid = true
	}
	return est, nil
}

// Extract returns the low-passed POS pulse signal, one value per sample.
func (e *ChrominancePOS) Extract(samples []signal.Sample) ([]float64, error) {
	n := len(samples)
	w := e.cfg.Window
	if n < w {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientSamples, n, w)
	}

	r, g, b := signal.Channels(samples)
	if !signal.AllFinite(r) || !signal.AllFinite(g) || !signal.AllFinite(b) {
		return nil, ErrNonFinite
	}

	out := make([]float64, n)
	s0 := make([]float64, w)
	s1 := make([]float64, w)
	cr := make([]float64, w)
	cg := make([]float64, w)
	cb := make([]float64, w)

	for start := 0; start+w <= n; start++ {
		normalize(cr, r[start:start+w])
		normalize(cg, g[start:start+w])
		normalize(cb, b[start:start+w])

		for j := 0; j < w; j++ {
			s0[j] = cg[j] - cb[j]
			s1[j] = -2*cr[j] + cg[j] + cb[j]
		}

		weight := posWeight(s0, s1)
		hw := make([]float64, w)
		for j := range hw {
			hw[j] = s0[j] + weight*s1[j]
		}
		floats.Add(out[start:start+w], signal.Standardize(hw))
	}

	if !signal.AllFinite(out) {
		return nil, ErrNonFinite
	}

	rate := signal.SampleRate(samples, e.cfg.FallbackRate)
	out = signal.LowPass(out, rate, rate*e.cfg.CutoffRatio)
	if !signal.AllFinite(out) {
		return nil, ErrNonFinite
	}
	return out, nil
}

// normalize writes src divided by its mean into dst. A zero mean leaves the
// values unchanged.
func normalize(dst, src []float64) {
	copy(dst, src)
	if m := stat.Mean(src, nil); m != 0 {
		floats.Scale(1/m, dst)
	}
}

// posWeight is the tuning ratio std(s0)/std(s1). A constant s1 gives weight 1.
func posWeight(s0, s1 []float64) float64 {
	sd1 := stat.StdDev(s1, nil)
	if sd1 == 0 || !finite(sd1) {
		return 1
	}
	return stat.StdDev(s0, nil) / sd1
}
