package roi

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/MrCodeEU/pulsegate/pkg/detector"
	"github.com/MrCodeEU/pulsegate/pkg/frame"
)

type MockFaceDetector struct {
	DetectFaceFunc func(f *frame.Frame) (image.Rectangle, bool, error)
	calls          int
}

func (m *MockFaceDetector) DetectFace(f *frame.Frame) (image.Rectangle, bool, error) {
	m.calls++
	if m.DetectFaceFunc != nil {
		return m.DetectFaceFunc(f)
	}
	return image.Rectangle{}, false, nil
}

func testFrame() *frame.Frame {
	return frame.Solid(100, 100, color.RGBA{R: 1, G: 2, B: 3}, time.Time{})
}

func TestFraction_Within(t *testing.T) {
	tests := []struct {
		name string
		fr   Fraction
		r    image.Rectangle
		want image.Rectangle
	}{
		{"centre of frame", Fraction{0.3, 0.3, 0.4, 0.4}, image.Rect(0, 0, 100, 100), image.Rect(30, 30, 70, 70)},
		{"forehead band", Fraction{0.25, 0.15, 0.5, 0.2}, image.Rect(100, 200, 300, 400), image.Rect(150, 230, 250, 270)},
		{"whole", Fraction{0, 0, 1, 1}, image.Rect(5, 5, 15, 25), image.Rect(5, 5, 15, 25)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fr.Within(tt.r); got != tt.want {
				t.Errorf("Within() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelector_NoDetector(t *testing.T) {
	s := NewSelector(DefaultConfig(), nil)
	if got := s.Select(testFrame()); got != image.Rect(30, 30, 70, 70) {
		t.Errorf("Select() = %v, want centre fallback", got)
	}
	if !s.UsingFallback() {
		t.Error("expected fallback without a detector")
	}
}

func TestSelector_FaceBand(t *testing.T) {
	det := &MockFaceDetector{
		DetectFaceFunc: func(f *frame.Frame) (image.Rectangle, bool, error) {
			return image.Rect(20, 0, 80, 100), true, nil
		},
	}
	s := NewSelector(DefaultConfig(), det)

	// 0.25*60=15, 0.15*100=15, 0.75*60=45, 0.35*100=35
	band := s.Select(testFrame())
	if band != image.Rect(35, 15, 65, 35) {
		t.Errorf("Select() = %v, want forehead band", band)
	}
	// The band sits below the hairline: it starts past the top tenth of the face
	// and ends above the eye line at mid-height.
	if band.Min.Y < 10 || band.Max.Y > 50 {
		t.Errorf("band %v leaves the lower forehead", band)
	}
	if s.UsingFallback() {
		t.Error("expected face region")
	}
}

func TestSelector_DetectEvery(t *testing.T) {
	det := &MockFaceDetector{
		DetectFaceFunc: func(f *frame.Frame) (image.Rectangle, bool, error) {
			return image.Rect(0, 0, 50, 50), true, nil
		},
	}
	s := NewSelector(Config{DetectEvery: 5, FaceBand: Fraction{0, 0, 1, 1}, Fallback: Fraction{0, 0, 1, 1}}, det)

	for i := 0; i < 11; i++ {
		s.Select(testFrame())
	}
	// Frames 0, 5 and 10.
	if det.calls != 3 {
		t.Errorf("detector called %d times, want 3", det.calls)
	}
}

func TestSelector_FaceLost(t *testing.T) {
	found := true
	det := &MockFaceDetector{
		DetectFaceFunc: func(f *frame.Frame) (image.Rectangle, bool, error) {
			return image.Rect(0, 0, 50, 50), found, nil
		},
	}
	s := NewSelector(Config{DetectEvery: 1, FaceBand: Fraction{0, 0, 1, 1}, Fallback: Fraction{0.3, 0.3, 0.4, 0.4}}, det)

	if got := s.Select(testFrame()); got != image.Rect(0, 0, 50, 50) {
		t.Fatalf("Select() = %v, want face", got)
	}
	found = false
	if got := s.Select(testFrame()); got != image.Rect(30, 30, 70, 70) {
		t.Errorf("Select() after face lost = %v, want fallback", got)
	}
}

func TestSelector_TransientErrorKeepsFace(t *testing.T) {
	fail := false
	det := &MockFaceDetector{
		DetectFaceFunc: func(f *frame.Frame) (image.Rectangle, bool, error) {
			if fail {
				return image.Rectangle{}, false, errors.New("timeout")
			}
			return image.Rect(10, 10, 60, 60), true, nil
		},
	}
	s := NewSelector(Config{DetectEvery: 1, FaceBand: Fraction{0, 0, 1, 1}, Fallback: Fraction{0, 0, 1, 1}}, det)

	s.Select(testFrame())
	fail = true
	if got := s.Select(testFrame()); got != image.Rect(10, 10, 60, 60) {
		t.Errorf("Select() after transient error = %v, want previous face", got)
	}
	if s.DetectionDisabled() {
		t.Error("transient error must not disable detection")
	}
}

func TestSelector_UnavailableIsPermanent(t *testing.T) {
	det := &MockFaceDetector{
		DetectFaceFunc: func(f *frame.Frame) (image.Rectangle, bool, error) {
			return image.Rectangle{}, false, fmt.Errorf("%w: model missing", detector.ErrUnavailable)
		},
	}
	s := NewSelector(Config{DetectEvery: 1, FaceBand: Fraction{0, 0, 1, 1}, Fallback: Fraction{0.3, 0.3, 0.4, 0.4}}, det)

	for i := 0; i < 5; i++ {
		if got := s.Select(testFrame()); got != image.Rect(30, 30, 70, 70) {
			t.Fatalf("Select() = %v, want fallback", got)
		}
	}
	if det.calls != 1 {
		t.Errorf("detector called %d times after becoming unavailable, want 1", det.calls)
	}
	if !s.DetectionDisabled() {
		t.Error("expected detection disabled")
	}

	s.Reset()
	if s.DetectionDisabled() || !s.UsingFallback() {
		t.Error("Reset should restore a fresh selector")
	}
}

func TestSelector_FaceOutsideFrame(t *testing.T) {
	det := &MockFaceDetector{
		DetectFaceFunc: func(f *frame.Frame) (image.Rectangle, bool, error) {
			return image.Rect(500, 500, 600, 600), true, nil
		},
	}
	s := NewSelector(DefaultConfig(), det)

	if got := s.Select(testFrame()); got != image.Rect(30, 30, 70, 70) {
		t.Errorf("Select() = %v, want fallback for an off-frame face", got)
	}
}

func TestSelector_ResultInsideFrame(t *testing.T) {
	det := &MockFaceDetector{
		DetectFaceFunc: func(f *frame.Frame) (image.Rectangle, bool, error) {
			return image.Rect(-40, -40, 60, 60), true, nil
		},
	}
	s := NewSelector(Config{DetectEvery: 1, FaceBand: Fraction{0, 0, 1, 1}, Fallback: Fraction{0, 0, 1, 1}}, det)

	f := testFrame()
	if got := s.Select(f); !got.In(f.Bounds()) {
		t.Errorf("Select() = %v lies outside %v", got, f.Bounds())
	}
}

func BenchmarkSelector_Select(b *testing.B) {
	s := NewSelector(DefaultConfig(), &MockFaceDetector{
		DetectFaceFunc: func(f *frame.Frame) (image.Rectangle, bool, error) {
			return image.Rect(20, 0, 80, 100), true, nil
		},
	})
	f := testFrame()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Select(f)
	}
}
