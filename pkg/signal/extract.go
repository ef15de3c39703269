package signal

import (
	"errors"
	"fmt"
	"image"

	"github.com/MrCodeEU/pulsegate/pkg/frame"
)

// ErrEmptyRegion is returned when the region does not overlap the frame.
var ErrEmptyRegion = errors.New("region of interest is empty")

// MeanRGB averages the colour of the pixels of f inside region. The region is
// clipped to the frame first.
func MeanRGB(f *frame.Frame, region image.Rectangle) (Sample, error) {
	if err := f.Validate(); err != nil {
		return Sample{}, err
	}

	r := region.Intersect(f.Bounds())
	if r.Empty() {
		return Sample{}, fmt.Errorf("%w: %v not inside %v", ErrEmptyRegion, region, f.Bounds())
	}

	var sumR, sumG, sumB uint64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			cr, cg, cb := f.RGB(x, y)
			sumR += uint64(cr)
			sumG += uint64(cg)
			sumB += uint64(cb)
		}
	}

	n := float64(r.Dx() * r.Dy())
	return Sample{
		Timestamp: f.Timestamp,
		R:         float64(sumR) / n,
		G:         float64(sumG) / n,
		B:         float64(sumB) / n,
	}, nil
}
