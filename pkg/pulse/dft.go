package pulse

import (
	"fmt"

	"github.com/MrCodeEU/pulsegate/pkg/signal"
)

// NaiveDFT estimates the heart rate as the dominant in-band frequency of the
// green channel over the newest MinSamples samples. Every sample in the buffer
// must be finite.
type NaiveDFT struct {
	cfg Config
}

// NewNaiveDFT creates the green-channel estimator.
func NewNaiveDFT(cfg Config) *NaiveDFT {
	return &NaiveDFT{cfg: cfg}
}

// Name implements Estimator.
func (e *NaiveDFT) Name() string {
	return "dft"
}

// Estimate implements Estimator.
func (e *NaiveDFT) Estimate(samples []signal.Sample) (Estimate, error) {
	n := e.cfg.MinSamples
	if n < 2 {
		n = 2
	}
	if len(samples) < n {
		return Estimate{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientSamples, len(samples), n)
	}
	// A non-finite value anywhere in the buffer drops the tick, even outside
	// the analysed window.
	r, g, b := signal.Channels(samples)
	if !signal.AllFinite(r) || !signal.AllFinite(g) || !signal.AllFinite(b) {
		return Estimate{}, ErrNonFinite
	}
	window := samples[len(samples)-n:]
	green := g[len(g)-n:]
	if signal.IsFlat(green) {
		return Estimate{}, fmt.Errorf("%w: flat signal", ErrNoPeak)
	}

	rate := signal.SampleRate(window, e.cfg.FallbackRate)
	x := signal.Center(signal.Detrend(green))
	x = signal.LowPass(x, rate, e.cfg.LowPassHz)
	if !signal.AllFinite(x) {
		return Estimate{}, ErrNonFinite
	}

	freqs, mags, err := spectrum(x, rate)
	if err != nil {
		return Estimate{}, err
	}

	p, ok := dominant(freqs, mags, e.cfg.MinHz, e.cfg.MaxHz)
	if !ok {
		return Estimate{}, fmt.Errorf("%w: no bin in [%g, %g] Hz at %.2f Hz sampling", ErrNoPeak, e.cfg.MinHz, e.cfg.MaxHz, rate)
	}
	if p.Magnitude <= 0 || p.Magnitude < e.cfg.MinMagnitude {
		return Estimate{}, fmt.Errorf("%w: peak magnitude %.4f below %.4f", ErrNoPeak, p.Magnitude, e.cfg.MinMagnitude)
	}

	return Estimate{
		BPM:       p.Hz * 60,
		Magnitude: p.Magnitude,
		Valid:     true,
	}, nil
}
