// Package roi chooses the image region whose colour is sampled for each frame.
// With a face detector the region is a forehead band inside the detected face;
// without one, or when detection fails, it is a fixed centre fraction of the frame.
package roi

import (
	"errors"
	"image"
	"math"

	"github.com/MrCodeEU/pulsegate/pkg/detector"
	"github.com/MrCodeEU/pulsegate/pkg/frame"
	"github.com/MrCodeEU/pulsegate/pkg/logging"
)

// FaceDetector locates the subject's face. found is false when no face is
// visible. Returning an error wrapping detector.ErrUnavailable disables
// detection for the rest of the session.
type FaceDetector interface {
	DetectFace(f *frame.Frame) (face image.Rectangle, found bool, err error)
}

// Fraction is a rectangle expressed as fractions of a reference rectangle.
type Fraction struct {
	X, Y, W, H float64
}

// Within maps the fraction onto r.
func (fr Fraction) Within(r image.Rectangle) image.Rectangle {
	dx, dy := float64(r.Dx()), float64(r.Dy())
	x0 := r.Min.X + int(math.Round(fr.X*dx))
	y0 := r.Min.Y + int(math.Round(fr.Y*dy))
	x1 := r.Min.X + int(math.Round((fr.X+fr.W)*dx))
	y1 := r.Min.Y + int(math.Round((fr.Y+fr.H)*dy))
	return image.Rect(x0, y0, x1, y1)
}

// Config holds the region selection settings.
type Config struct {
	DetectEvery int      // run the detector on every Nth frame
	FaceBand    Fraction // band inside the face box
	Fallback    Fraction // region inside the frame when no face is known
}

// DefaultConfig returns the default selection settings.
func DefaultConfig() Config {
	return Config{
		DetectEvery: 5,
		FaceBand:    Fraction{X: 0.25, Y: 0.15, W: 0.5, H: 0.2},
		Fallback:    Fraction{X: 0.3, Y: 0.3, W: 0.4, H: 0.4},
	}
}

// Selector tracks the latest face and derives the sampling region from it.
// Selector is not safe for concurrent use.
type Selector struct {
	cfg      Config
	detector FaceDetector

	frames   int
	face     image.Rectangle
	haveFace bool
	disabled bool
}

// NewSelector creates a selector. det may be nil.
func NewSelector(cfg Config, det FaceDetector) *Selector {
	if cfg.DetectEvery <= 0 {
		cfg.DetectEvery = DefaultConfig().DetectEvery
	}
	return &Selector{cfg: cfg, detector: det}
}

// Select returns the sampling region for f, refreshing the face every
// DetectEvery frames. The result always lies inside the frame.
func (s *Selector) Select(f *frame.Frame) image.Rectangle {
	bounds := f.Bounds()

	if s.detector != nil && !s.disabled && s.frames%s.cfg.DetectEvery == 0 {
		s.detect(f)
	}
	s.frames++

	if s.haveFace {
		band := s.cfg.FaceBand.Within(s.face).Intersect(bounds)
		if !band.Empty() {
			return band
		}
	}
	return s.fallback(bounds)
}

func (s *Selector) detect(f *frame.Frame) {
	face, found, err := s.detector.DetectFace(f)
	if err != nil {
		if errors.Is(err, detector.ErrUnavailable) {
			s.disabled = true
			s.haveFace = false
			logging.Component("roi").Warnf("Face detection unavailable, using centre region: %v", err)
			return
		}
		logging.Component("roi").Debugf("Face detection failed, keeping previous region: %v", err)
		return
	}

	s.face = face
	s.haveFace = found && !face.Empty()
}

func (s *Selector) fallback(bounds image.Rectangle) image.Rectangle {
	r := s.cfg.Fallback.Within(bounds).Intersect(bounds)
	if r.Empty() {
		return bounds
	}
	return r
}

// UsingFallback reports whether the last selection came from the fixed region.
func (s *Selector) UsingFallback() bool {
	return !s.haveFace
}

// DetectionDisabled reports whether the detector has been given up on.
func (s *Selector) DetectionDisabled() bool {
	return s.disabled
}

// Reset forgets the tracked face and re-enables detection.
func (s *Selector) Reset() {
	s.frames = 0
	s.face = image.Rectangle{}
	s.haveFace = false
	s.disabled = false
}
