package detector

import (
	"fmt"
	"image"
	"os"
	"sync"

	pigo "github.com/esimov/pigo/core"

	"github.com/MrCodeEU/pulsegate/pkg/frame"
	"github.com/MrCodeEU/pulsegate/pkg/logging"
)

// Pigo cascade parameters.
const (
	pigoMinSize      = 20
	pigoMaxSize      = 1000
	pigoShiftFactor  = 0.1
	pigoScaleFactor  = 1.1
	pigoIoUThreshold = 0.2
)

// PigoDetector detects faces with a pigo pixel-intensity cascade.
type PigoDetector struct {
	classifier *pigo.Pigo
	minQuality float32

	mu   sync.Mutex
	gray []uint8
}

// LoadPigo reads and unpacks a pigo cascade file (for example "facefinder").
func LoadPigo(cascadePath string, minQuality float64) (*PigoDetector, error) {
	data, err := os.ReadFile(cascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file: %w", err)
	}
	return NewPigoDetector(data, minQuality)
}

// NewPigoDetector unpacks an in-memory cascade.
func NewPigoDetector(cascade []byte, minQuality float64) (*PigoDetector, error) {
	if len(cascade) == 0 {
		return nil, fmt.Errorf("empty cascade")
	}

	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}

	logging.Component("detector").Infof("Pigo face detector ready (minSize: %d, minQuality: %.1f)", pigoMinSize, minQuality)
	return &PigoDetector{classifier: classifier, minQuality: float32(minQuality)}, nil
}

// DetectFace returns the largest face whose cascade score clears the minimum quality.
func (p *PigoDetector) DetectFace(f *frame.Frame) (image.Rectangle, bool, error) {
	if err := f.Validate(); err != nil {
		return image.Rectangle{}, false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.gray = grayscale(f, p.gray)

	params := pigo.CascadeParams{
		MinSize:     pigoMinSize,
		MaxSize:     pigoMaxSize,
		ShiftFactor: pigoShiftFactor,
		ScaleFactor: pigoScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: p.gray,
			Rows:   f.Height,
			Cols:   f.Width,
			Dim:    f.Width,
		},
	}

	dets := p.classifier.RunCascade(params, 0.0)
	dets = p.classifier.ClusterDetections(dets, pigoIoUThreshold)

	r, found := largest(pigoRects(dets, p.minQuality))
	return r, found, nil
}

// pigoRects converts centre/scale detections above minQuality to boxes.
func pigoRects(dets []pigo.Detection, minQuality float32) []image.Rectangle {
	var rects []image.Rectangle
	for _, det := range dets {
		if det.Q < minQuality {
			continue
		}
		half := det.Scale / 2
		rects = append(rects, image.Rect(det.Col-half, det.Row-half, det.Col+half, det.Row+half))
	}
	return rects
}

// grayscale converts f to 8-bit luma, reusing dst when it is large enough.
func grayscale(f *frame.Frame, dst []uint8) []uint8 {
	n := f.Width * f.Height
	if cap(dst) < n {
		dst = make([]uint8, n)
	}
	dst = dst[:n]

	if f.Format == frame.FormatGray || f.Format == frame.FormatYUV420 {
		copy(dst, f.Data[:n])
		return dst
	}

	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, b := f.RGB(x, y)
			dst[y*f.Width+x] = uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b)) / 1000)
		}
	}
	return dst
}
