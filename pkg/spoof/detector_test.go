package spoof

import (
	"image/color"
	"testing"
	"time"

	"github.com/MrCodeEU/pulsegate/pkg/frame"
)

var epoch = time.Unix(1700000000, 0)

func solidAt(size int, v uint8, ms int) *frame.Frame {
	return frame.Solid(size, size, color.RGBA{R: v, G: v, B: v}, epoch.Add(time.Duration(ms)*time.Millisecond))
}

func TestDetector_StaticAfterRun(t *testing.T) {
	d := NewDetector(DefaultConfig())

	// Baseline frame, no comparison.
	if s := d.Observe(solidAt(32, 100, 0)); s.IsStatic || s.ConsecutiveStaticFrames != 0 {
		t.Fatalf("first frame state = %+v", s)
	}

	want := []State{
		{ConsecutiveStaticFrames: 1},
		{ConsecutiveStaticFrames: 2},
		{ConsecutiveStaticFrames: 3, IsStatic: true},
		{ConsecutiveStaticFrames: 4, IsStatic: true},
	}
	for i, w := range want {
		got := d.Observe(solidAt(32, 100, (i+1)*700))
		if got != w {
			t.Errorf("tick %d: state = %+v, want %+v", i+1, got, w)
		}
	}
}

func TestDetector_IntervalGating(t *testing.T) {
	d := NewDetector(DefaultConfig())
	d.Observe(solidAt(32, 100, 0))

	// 30 fps frames inside the first interval are ignored.
	for ms := 33; ms < 700; ms += 33 {
		d.Observe(solidAt(32, 100, ms))
	}
	if got := d.State().ConsecutiveStaticFrames; got != 0 {
		t.Fatalf("frames inside the interval were compared, run = %d", got)
	}

	d.Observe(solidAt(32, 100, 700))
	if got := d.State().ConsecutiveStaticFrames; got != 1 {
		t.Errorf("run after one interval = %d, want 1", got)
	}
}

func TestDetector_MotionResets(t *testing.T) {
	d := NewDetector(DefaultConfig())
	for i := 0; i < 4; i++ {
		d.Observe(solidAt(32, 100, i*700))
	}
	if !d.State().IsStatic {
		t.Fatal("expected static after constant frames")
	}

	s := d.Observe(solidAt(32, 140, 4*700))
	if s.IsStatic || s.ConsecutiveStaticFrames != 0 {
		t.Errorf("state after motion = %+v, want reset", s)
	}
}

func TestDetector_Threshold(t *testing.T) {
	tests := []struct {
		name       string
		step       uint8
		wantStatic bool
	}{
		// Per cell diff is 3*step.
		{"below threshold", 1, true},
		{"at threshold", 2, false},
		{"well above", 20, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(Config{GridSize: 32, DiffThreshold: 5, StaticFrames: 1, Interval: 0})
			d.Observe(solidAt(32, 100, 0))
			s := d.Observe(solidAt(32, 100+tt.step, 1))
			if s.IsStatic != tt.wantStatic {
				t.Errorf("IsStatic = %v, want %v", s.IsStatic, tt.wantStatic)
			}
		})
	}
}

func TestDetector_DownsamplesLargeFrames(t *testing.T) {
	d := NewDetector(Config{GridSize: 8, DiffThreshold: 5, StaticFrames: 2, Interval: 0})
	for i := 0; i < 3; i++ {
		d.Observe(solidAt(64, 80, i))
	}
	if !d.State().IsStatic {
		t.Error("large constant frames should be flagged static")
	}

	if s := d.Observe(solidAt(64, 200, 3)); s.IsStatic {
		t.Error("large frame change should clear the static flag")
	}
}

func TestDetector_IgnoresInvalidFrames(t *testing.T) {
	d := NewDetector(DefaultConfig())
	bad := &frame.Frame{Width: 32, Height: 32, Format: frame.FormatRGB}
	if s := d.Observe(bad); s != (State{}) {
		t.Errorf("invalid frame changed state: %+v", s)
	}
}

func TestDetector_Reset(t *testing.T) {
	d := NewDetector(DefaultConfig())
	for i := 0; i < 4; i++ {
		d.Observe(solidAt(32, 100, i*700))
	}
	d.Reset()

	if d.State() != (State{}) {
		t.Errorf("state after Reset = %+v", d.State())
	}
	// First frame after reset is a new baseline.
	if s := d.Observe(solidAt(32, 100, 10000)); s.ConsecutiveStaticFrames != 0 {
		t.Errorf("baseline after Reset was compared, state %+v", s)
	}
}

func BenchmarkDetector_Observe(b *testing.B) {
	d := NewDetector(Config{GridSize: 32, DiffThreshold: 5, StaticFrames: 3})
	frames := []*frame.Frame{solidAt(640, 100, 0), solidAt(640, 110, 0)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f := frames[i%2]
		f.Timestamp = epoch.Add(time.Duration(i) * time.Millisecond)
		d.Observe(f)
	}
}
