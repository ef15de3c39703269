// Package spoof flags presentations that show no frame-to-frame variation, such
// as a printed photo held in front of the camera.
package spoof

import (
	"image"
	"time"

	"golang.org/x/image/draw"

	"github.com/MrCodeEU/pulsegate/pkg/frame"
	"github.com/MrCodeEU/pulsegate/pkg/logging"
)

// State is the detector's current view of the subject.
type State struct {
	ConsecutiveStaticFrames int
	IsStatic                bool
}

// Config holds the detector thresholds.
type Config struct {
	GridSize      int           // side of the downsampled comparison grid
	DiffThreshold float64       // mean |dR|+|dG|+|dB| per cell below which a frame is static
	StaticFrames  int           // consecutive static comparisons that flag a spoof
	Interval      time.Duration // minimum frame time between comparisons
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		GridSize:      32,
		DiffThreshold: 5,
		StaticFrames:  3,
		Interval:      700 * time.Millisecond,
	}
}

// Detector compares each sampled frame with the previous one on a coarse grid.
// Detector is not safe for concurrent use.
type Detector struct {
	cfg Config

	prev      *image.RGBA
	cur       *image.RGBA
	lastCheck time.Time
	state     State
}

// NewDetector creates a detector. Non-positive settings fall back to defaults.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.GridSize <= 0 {
		cfg.GridSize = def.GridSize
	}
	if cfg.StaticFrames <= 0 {
		cfg.StaticFrames = def.StaticFrames
	}
	if cfg.DiffThreshold < 0 {
		cfg.DiffThreshold = def.DiffThreshold
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	return &Detector{cfg: cfg}
}

// Observe feeds a frame. Frames arriving sooner than the interval after the
// last comparison, invalid frames and the very first frame leave the state
// untouched.
func (d *Detector) Observe(f *frame.Frame) State {
	if f.Validate() != nil {
		return d.state
	}
	if !d.lastCheck.IsZero() && f.Timestamp.Sub(d.lastCheck) < d.cfg.Interval {
		return d.state
	}
	d.lastCheck = f.Timestamp

	d.cur = d.downsample(f, d.cur)
	if d.prev == nil {
		d.prev, d.cur = d.cur, nil
		return d.state
	}

	diff := meanAbsDiff(d.prev, d.cur)
	d.prev, d.cur = d.cur, d.prev

	if diff < d.cfg.DiffThreshold {
		d.state.ConsecutiveStaticFrames++
	} else {
		d.state.ConsecutiveStaticFrames = 0
	}

	wasStatic := d.state.IsStatic
	d.state.IsStatic = d.state.ConsecutiveStaticFrames >= d.cfg.StaticFrames
	if d.state.IsStatic != wasStatic {
		logging.Component("spoof").Debugf("Static state changed to %v (diff %.2f, run %d)",
			d.state.IsStatic, diff, d.state.ConsecutiveStaticFrames)
	}

	return d.state
}

// State returns the current state.
func (d *Detector) State() State {
	return d.state
}

// Reset forgets the previous frame and the static run.
func (d *Detector) Reset() {
	d.prev = nil
	d.cur = nil
	d.lastCheck = time.Time{}
	d.state = State{}
}

func (d *Detector) downsample(f *frame.Frame, dst *image.RGBA) *image.RGBA {
	n := d.cfg.GridSize
	if dst == nil {
		dst = image.NewRGBA(image.Rect(0, 0, n, n))
	}

	if f.Width == n && f.Height == n {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				r, g, b := f.RGB(x, y)
				i := dst.PixOffset(x, y)
				dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = r, g, b, 0xff
			}
		}
		return dst
	}

	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), f.Image(), f.Bounds(), draw.Src, nil)
	return dst
}

func meanAbsDiff(a, b *image.RGBA) float64 {
	var sum int
	for i := 0; i < len(a.Pix); i += 4 {
		sum += absDiff(a.Pix[i], b.Pix[i])
		sum += absDiff(a.Pix[i+1], b.Pix[i+1])
		sum += absDiff(a.Pix[i+2], b.Pix[i+2])
	}
	return float64(sum) / float64(len(a.Pix)/4)
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
