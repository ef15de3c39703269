// Package detector provides optional face detector backends for region
// selection and the asynchronous loader that brings them up.
//
// Backends:
//   - PigoDetector: pure Go pixel-intensity cascade (github.com/esimov/pigo)
//   - DlibDetector: dlib HOG detector via github.com/Kagami/go-face (cgo)
package detector

import (
	"errors"
	"image"

	"github.com/MrCodeEU/pulsegate/pkg/frame"
)

// ErrUnavailable is returned when face detection cannot be provided for the
// rest of the session, for example because the model failed to load.
var ErrUnavailable = errors.New("face detection unavailable")

// ErrModelNotLoaded is returned by a backend used before its models are loaded.
var ErrModelNotLoaded = errors.New("detector models not loaded")

// Backend locates the most prominent face in a frame.
type Backend interface {
	DetectFace(f *frame.Frame) (face image.Rectangle, found bool, err error)
}

// largest returns the rectangle with the greatest area.
func largest(rects []image.Rectangle) (image.Rectangle, bool) {
	var best image.Rectangle
	found := false
	for _, r := range rects {
		if r.Empty() {
			continue
		}
		if !found || r.Dx()*r.Dy() > best.Dx()*best.Dy() {
			best = r
			found = true
		}
	}
	return best, found
}
