package liveness

import (
	"time"

	"github.com/MrCodeEU/pulsegate/pkg/config"
	"github.com/MrCodeEU/pulsegate/pkg/pulse"
	"github.com/MrCodeEU/pulsegate/pkg/roi"
	"github.com/MrCodeEU/pulsegate/pkg/spoof"
)

// Config holds everything a Session needs.
type Config struct {
	BufferSize      int
	BufferWindow    time.Duration // 0 disables the time bound
	Estimator       string        // "dft" or "pos"
	AnalyzeInterval time.Duration
	StaleAfter      time.Duration // 0 means four analysis intervals
	JPEGQuality     int

	ROI   roi.Config
	Spoof spoof.Config
	Pulse pulse.Config
	Gate  GateConfig
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	p := pulse.DefaultConfig()
	return Config{
		BufferSize:      300,
		BufferWindow:    10 * time.Second,
		Estimator:       "dft",
		AnalyzeInterval: 250 * time.Millisecond,
		StaleAfter:      time.Second,
		JPEGQuality:     95,
		ROI:             roi.DefaultConfig(),
		Spoof:           spoof.DefaultConfig(),
		Pulse:           p,
		Gate: GateConfig{
			MinSamples:      p.MinSamples,
			MinBPM:          45,
			MaxBPM:          180,
			NoSignalTimeout: 10 * time.Second,
		},
	}
}

// ConfigFrom maps the application configuration onto a session configuration.
func ConfigFrom(c *config.Config) Config {
	return Config{
		BufferSize:      c.Sampling.BufferSize,
		BufferWindow:    seconds(c.Sampling.BufferWindow),
		Estimator:       c.Analysis.Estimator,
		AnalyzeInterval: time.Duration(c.Analysis.IntervalMS) * time.Millisecond,
		StaleAfter:      time.Duration(c.Source.StaleAfterMS) * time.Millisecond,
		JPEGQuality:     c.Capture.JPEGQuality,
		ROI: roi.Config{
			DetectEvery: c.Sampling.DetectEvery,
			FaceBand:    roi.Fraction(c.Sampling.FaceBand),
			Fallback:    roi.Fraction(c.Sampling.Fallback),
		},
		Spoof: spoof.Config{
			GridSize:      c.Spoof.GridSize,
			DiffThreshold: c.Spoof.DiffThreshold,
			StaticFrames:  c.Spoof.StaticFrames,
			Interval:      time.Duration(c.Spoof.IntervalMS) * time.Millisecond,
		},
		Pulse: pulse.Config{
			MinSamples:       c.Analysis.MinSamples,
			FallbackRate:     c.Source.FPS,
			MinHz:            c.Analysis.MinHz,
			MaxHz:            c.Analysis.MaxHz,
			LowPassHz:        c.Analysis.LowPassHz,
			MinMagnitude:     c.Analysis.MinMagnitude,
			Window:           c.Analysis.PosWindow,
			CutoffRatio:      c.Analysis.PosCutoffRatio,
			RespirationMinHz: c.Analysis.RespirationMinHz,
			RespirationMaxHz: c.Analysis.RespirationMaxHz,
			OxygenLowPassHz:  c.Analysis.OxygenLowPassHz,
			OxygenOrder:      c.Analysis.OxygenOrder,
		},
		Gate: GateConfig{
			MinSamples:      c.Analysis.MinSamples,
			MinBPM:          c.Gate.MinBPM,
			MaxBPM:          c.Gate.MaxBPM,
			NoSignalTimeout: time.Duration(c.Gate.NoSignalTimeout) * time.Second,
		},
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
