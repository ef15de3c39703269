// Package signal turns frames into colour samples and holds the rolling sample
// buffer and the conditioning steps applied before frequency analysis.
package signal

import (
	"time"
)

// Sample is the mean colour of the region of interest for one frame.
type Sample struct {
	Timestamp time.Time
	R, G, B   float64
}

// Green returns the green channel of samples.
func Green(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.G
	}
	return out
}

// Channels splits samples into per-channel series.
func Channels(samples []Sample) (r, g, b []float64) {
	r = make([]float64, len(samples))
	g = make([]float64, len(samples))
	b = make([]float64, len(samples))
	for i, s := range samples {
		r[i], g[i], b[i] = s.R, s.G, s.B
	}
	return r, g, b
}

// SampleRate measures the rate of samples in Hz from their timestamps. When the
// span is empty it returns fallback.
func SampleRate(samples []Sample, fallback float64) float64 {
	if len(samples) < 2 {
		return fallback
	}
	span := samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp).Seconds()
	if span <= 0 {
		return fallback
	}
	return float64(len(samples)-1) / span
}
