package signal

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/MrCodeEU/pulsegate/pkg/frame"
)

var epoch = time.Unix(1700000000, 0)

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func TestBuffer_CountBound(t *testing.T) {
	b := NewBuffer(3, 0)
	for i := 0; i < 5; i++ {
		if err := b.Push(Sample{Timestamp: at(i * 33), G: float64(i)}); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}

	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}
	got := Green(b.Snapshot())
	want := []float64{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestBuffer_WindowBound(t *testing.T) {
	b := NewBuffer(100, time.Second)
	for i := 0; i <= 20; i++ {
		if err := b.Push(Sample{Timestamp: at(i * 100)}); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}

	// Newest at 2000ms keeps 1000ms..2000ms inclusive.
	if b.Len() != 11 {
		t.Errorf("Len() = %d, want 11", b.Len())
	}
	snap := b.Snapshot()
	if !snap[0].Timestamp.Equal(at(1000)) {
		t.Errorf("oldest sample at %v, want %v", snap[0].Timestamp, at(1000))
	}
}

func TestBuffer_OutOfOrder(t *testing.T) {
	b := NewBuffer(10, 0)
	if err := b.Push(Sample{Timestamp: at(100)}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		ts   time.Time
	}{
		{"equal timestamp", at(100)},
		{"earlier timestamp", at(50)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Push(Sample{Timestamp: tt.ts})
			if !errors.Is(err, ErrOutOfOrder) {
				t.Errorf("expected ErrOutOfOrder, got %v", err)
			}
			if b.Len() != 1 {
				t.Errorf("rejected sample must not be stored, Len() = %d", b.Len())
			}
		})
	}
}

func TestBuffer_LastAndReset(t *testing.T) {
	b := NewBuffer(10, 0)
	for i := 0; i < 4; i++ {
		_ = b.Push(Sample{Timestamp: at(i), R: float64(i)})
	}

	last := b.Last(2)
	if len(last) != 2 || last[0].R != 2 || last[1].R != 3 {
		t.Errorf("Last(2) = %+v", last)
	}
	if all := b.Last(50); len(all) != 4 {
		t.Errorf("Last(50) length = %d, want 4", len(all))
	}

	last[0].R = 99
	if s := b.Snapshot(); s[2].R != 2 {
		t.Error("Last must return a copy")
	}

	latest, ok := b.Latest()
	if !ok || latest.R != 3 {
		t.Errorf("Latest() = %+v, %v", latest, ok)
	}

	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len() after Reset = %d", b.Len())
	}
	if _, ok := b.Latest(); ok {
		t.Error("Latest() on empty buffer should report false")
	}
	if err := b.Push(Sample{Timestamp: at(0)}); err != nil {
		t.Errorf("Push after Reset should accept any timestamp, got %v", err)
	}
}

func TestSampleRate(t *testing.T) {
	samples := make([]Sample, 31)
	for i := range samples {
		samples[i].Timestamp = epoch.Add(time.Duration(i) * time.Second / 30)
	}

	if got := SampleRate(samples, 12); math.Abs(got-30) > 1e-6 {
		t.Errorf("SampleRate() = %g, want 30", got)
	}
	if got := SampleRate(samples[:1], 12); got != 12 {
		t.Errorf("SampleRate() of one sample = %g, want fallback 12", got)
	}
}

func TestMeanRGB(t *testing.T) {
	f := frame.Solid(10, 10, color.RGBA{R: 10, G: 20, B: 30}, at(5))
	// Paint the left half differently.
	for y := 0; y < 10; y++ {
		for x := 0; x < 5; x++ {
			i := (y*10 + x) * 3
			f.Data[i], f.Data[i+1], f.Data[i+2] = 110, 120, 130
		}
	}

	tests := []struct {
		name    string
		region  image.Rectangle
		want    [3]float64
		wantErr error
	}{
		{"left half", image.Rect(0, 0, 5, 10), [3]float64{110, 120, 130}, nil},
		{"whole frame", image.Rect(0, 0, 10, 10), [3]float64{60, 70, 80}, nil},
		{"clipped", image.Rect(5, -5, 20, 20), [3]float64{10, 20, 30}, nil},
		{"outside", image.Rect(20, 20, 30, 30), [3]float64{}, ErrEmptyRegion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := MeanRGB(f, tt.region)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("MeanRGB() error = %v", err)
			}
			if s.R != tt.want[0] || s.G != tt.want[1] || s.B != tt.want[2] {
				t.Errorf("MeanRGB() = (%g,%g,%g), want %v", s.R, s.G, s.B, tt.want)
			}
			if !s.Timestamp.Equal(at(5)) {
				t.Errorf("sample timestamp = %v, want frame timestamp", s.Timestamp)
			}
		})
	}
}

func TestMeanRGB_InvalidFrame(t *testing.T) {
	f := &frame.Frame{Width: 4, Height: 4, Format: frame.FormatRGB, Data: make([]byte, 3)}
	if _, err := MeanRGB(f, image.Rect(0, 0, 2, 2)); !errors.Is(err, frame.ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestDetrend(t *testing.T) {
	x := make([]float64, 50)
	for i := range x {
		x[i] = 3 + 0.5*float64(i)
	}

	for i, v := range Detrend(x) {
		if math.Abs(v) > 1e-9 {
			t.Fatalf("Detrend left %g at %d", v, i)
		}
	}
	if x[10] != 8 {
		t.Error("Detrend must not modify its input")
	}
}

func TestStandardize(t *testing.T) {
	out := Standardize([]float64{1, 2, 3, 4, 5})
	var sum float64
	for _, v := range out {
		sum += v
	}
	if math.Abs(sum) > 1e-12 {
		t.Errorf("standardized series not centred, sum = %g", sum)
	}

	flat := Standardize([]float64{7, 7, 7})
	for _, v := range flat {
		if v != 0 {
			t.Errorf("flat series should centre to zero, got %v", flat)
			break
		}
	}
}

func TestLowPass(t *testing.T) {
	const rate = 30.0
	fast := make([]float64, 300)
	slow := make([]float64, 300)
	for i := range fast {
		ts := float64(i) / rate
		fast[i] = math.Sin(2 * math.Pi * 10 * ts)
		slow[i] = math.Sin(2 * math.Pi * 0.5 * ts)
	}

	amp := func(x []float64) float64 {
		m := 0.0
		for _, v := range x[100:] {
			m = math.Max(m, math.Abs(v))
		}
		return m
	}

	if got := amp(LowPass(fast, rate, 1)); got > 0.3 {
		t.Errorf("10 Hz tone should be attenuated by a 1 Hz low-pass, amplitude %g", got)
	}
	if got := amp(LowPass(slow, rate, 4)); got < 0.8 {
		t.Errorf("0.5 Hz tone should pass a 4 Hz low-pass, amplitude %g", got)
	}

	same := LowPass(fast, 0, 1)
	if same[5] != fast[5] {
		t.Error("zero rate should return the input unchanged")
	}
}

func TestAllFiniteAndIsFlat(t *testing.T) {
	if !AllFinite([]float64{1, 2}) {
		t.Error("finite series reported non-finite")
	}
	if AllFinite([]float64{1, math.NaN()}) || AllFinite([]float64{math.Inf(-1)}) {
		t.Error("non-finite series reported finite")
	}
	if !IsFlat([]float64{4, 4, 4}) || IsFlat([]float64{4, 5, 4}) {
		t.Error("IsFlat misclassified series")
	}
}

func BenchmarkMeanRGB(b *testing.B) {
	f := frame.Solid(640, 480, color.RGBA{R: 120, G: 100, B: 90}, epoch)
	region := image.Rect(160, 40, 480, 120)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = MeanRGB(f, region)
	}
}

func BenchmarkBuffer_Push(b *testing.B) {
	buf := NewBuffer(300, 10*time.Second)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buf.Push(Sample{Timestamp: epoch.Add(time.Duration(i+1) * time.Millisecond)})
	}
}
