package pulse

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// bandTolerance keeps bins that land on a band edge up to rounding.
const bandTolerance = 1e-9

type peak struct {
	Hz        float64
	Magnitude float64
}

// spectrum returns the frequency (Hz) and magnitude of every real-DFT bin of x.
func spectrum(x []float64, rate float64) (freqs, mags []float64, err error) {
	fft := fourier.NewFFT(len(x))
	coeffs := fft.Coefficients(nil, x)

	freqs = make([]float64, len(coeffs))
	mags = make([]float64, len(coeffs))
	for i, c := range coeffs {
		if cmplx.IsNaN(c) || cmplx.IsInf(c) {
			return nil, nil, ErrNonFinite
		}
		freqs[i] = fft.Freq(i) * rate
		mags[i] = cmplx.Abs(c)
	}
	return freqs, mags, nil
}

// dominant picks the strongest bin inside [lo, hi] Hz. ok is false when no bin
// falls in the band.
func dominant(freqs, mags []float64, lo, hi float64) (p peak, ok bool) {
	for i, f := range freqs {
		if f < lo-bandTolerance || f > hi+bandTolerance {
			continue
		}
		if !ok || mags[i] > p.Magnitude {
			p = peak{Hz: f, Magnitude: mags[i]}
			ok = true
		}
	}
	return p, ok
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
