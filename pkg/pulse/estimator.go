// Package pulse estimates a heart rate from a buffer of colour samples.
//
// Two strategies are provided behind the Estimator interface: NaiveDFT, which
// looks for the dominant frequency of the green channel, and ChrominancePOS,
// which first projects all three channels onto the plane orthogonal to skin
// tone to suppress illumination and motion artefacts.
package pulse

import (
	"errors"
	"fmt"

	"github.com/MrCodeEU/pulsegate/pkg/signal"
)

var (
	// ErrInsufficientSamples is returned while the buffer is shorter than the analysis window.
	ErrInsufficientSamples = errors.New("insufficient samples")
	// ErrNonFinite is returned when a NaN or infinity appears anywhere in the signal path.
	ErrNonFinite = errors.New("non-finite value in signal")
	// ErrNoPeak is returned for a flat signal or when no in-band peak clears the minimum magnitude.
	ErrNoPeak = errors.New("no in-band spectral peak")
	// ErrUnknownEstimator is returned by New for an unrecognised strategy name.
	ErrUnknownEstimator = errors.New("unknown estimator")
)

// Estimate is the result of one analysis pass. Valid is false when no heart
// rate could be determined. Respiration and the oxygen forecast are
// informational.
type Estimate struct {
	BPM       float64
	Magnitude float64
	Valid     bool

	RespirationRPM   float64
	RespirationValid bool

	OxygenForecast float64
	OxygenValid    bool
}

// Estimator turns a sample series into a heart-rate estimate. Implementations
// are pure: the same samples always give the same result.
type Estimator interface {
	Name() string
	Estimate(samples []signal.Sample) (Estimate, error)
}

// Config holds the analysis parameters shared by both strategies.
type Config struct {
	MinSamples   int     // samples required before analysis starts
	FallbackRate float64 // Hz, used when timestamps cannot give a rate
	MinHz        float64 // heart band, inclusive
	MaxHz        float64
	LowPassHz    float64 // DFT conditioning cutoff
	MinMagnitude float64 // peaks below this are ignored

	Window      int     // POS sliding window length
	CutoffRatio float64 // POS low-pass cutoff as a fraction of the sample rate

	RespirationMinHz float64
	RespirationMaxHz float64

	OxygenLowPassHz float64 // red channel cutoff for the oxygen forecast
	OxygenOrder     int     // autoregressive order, 0 disables the forecast
}

// DefaultConfig returns the default analysis parameters.
func DefaultConfig() Config {
	return Config{
		MinSamples:       150,
		FallbackRate:     30,
		MinHz:            0.75,
		MaxHz:            3.0,
		LowPassHz:        4.0,
		Window:           64,
		CutoffRatio:      2.0 / 12.0,
		RespirationMinHz: 0.2,
		RespirationMaxHz: 0.5,
		OxygenLowPassHz:  5.5,
		OxygenOrder:      9,
	}
}

// New returns the estimator registered under name ("dft" or "pos").
func New(name string, cfg Config) (Estimator, error) {
	switch name {
	case "dft":
		return NewNaiveDFT(cfg), nil
	case "pos":
		return NewChrominancePOS(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEstimator, name)
	}
}
