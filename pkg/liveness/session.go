// Package liveness decides from a live frame stream whether the subject is a
// live person. A Session samples the colour of the subject's skin on every
// frame, watches for frames that never change, periodically estimates a heart
// rate from the sampled signal and feeds both into a decision gate that
// enables capture only for a live subject.
package liveness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/MrCodeEU/pulsegate/pkg/frame"
	"github.com/MrCodeEU/pulsegate/pkg/logging"
	"github.com/MrCodeEU/pulsegate/pkg/pulse"
	"github.com/MrCodeEU/pulsegate/pkg/roi"
	"github.com/MrCodeEU/pulsegate/pkg/signal"
	"github.com/MrCodeEU/pulsegate/pkg/spoof"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("liveness session closed")
	// ErrCaptureDisabled is returned by Capture while the gate does not allow capture.
	ErrCaptureDisabled = errors.New("capture disabled: liveness not confirmed")
	// ErrAlreadyRunning is returned when Run is called on a session that is already running.
	ErrAlreadyRunning = errors.New("liveness session already running")
	// ErrStreamEnded is returned by Run when the frame channel is closed.
	ErrStreamEnded = errors.New("frame stream ended")
)

// Still is a captured frame together with the decision that allowed it.
type Still struct {
	SessionID  string
	CapturedAt time.Time
	JPEG       []byte
	Verdict    Verdict
	BPM        float64
}

// Status is a point-in-time view of a session for hosts.
type Status struct {
	SessionID        string    `json:"session_id"`
	Verdict          Verdict   `json:"verdict"`
	Progress         float64   `json:"progress"`
	BPM              float64   `json:"bpm,omitempty"`
	BPMValid         bool      `json:"bpm_valid"`
	RespirationRPM   float64   `json:"respiration_rpm,omitempty"`
	RespirationValid bool      `json:"respiration_valid"`
	OxygenForecast   float64   `json:"oxygen_forecast,omitempty"`
	OxygenValid      bool      `json:"oxygen_valid"`
	Samples          int       `json:"samples"`
	Static           bool      `json:"static"`
	UsingFallbackROI bool      `json:"using_fallback_roi"`
	Stale            bool      `json:"stale"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Session runs the liveness pipeline for one capture session.
//
// PushFrame is the fast path and runs once per frame. Analyze is the slow path:
// it runs the estimator on a copy of the sample buffer without holding the
// session lock and commits the result only if no Reset happened meanwhile.
//
// A feed that has ended, or delivered no frame for StaleAfter of wall-clock
// time, is stale: the gate leaves Confirmed and Capture is refused until
// frames arrive again.
type Session struct {
	cfg       Config
	estimator pulse.Estimator
	clock     func() time.Time

	mu         sync.Mutex
	id         string
	generation uint64
	closed     bool
	buffer     *signal.Buffer
	selector   *roi.Selector
	motion     *spoof.Detector
	gate       *Gate
	latest     *frame.Frame
	receivedAt time.Time // wall clock of the latest frame
	ended      bool
	estimate   pulse.Estimate
	verdict    Verdict
	log        *logrus.Entry

	analyzeMu sync.Mutex

	cancelRun context.CancelFunc
	runDone   chan struct{}
}

// NewSession creates a session. det may be nil, in which case the fixed centre
// region is sampled.
func NewSession(cfg Config, det roi.FaceDetector) (*Session, error) {
	est, err := pulse.New(cfg.Estimator, cfg.Pulse)
	if err != nil {
		return nil, err
	}
	if cfg.AnalyzeInterval <= 0 {
		cfg.AnalyzeInterval = DefaultConfig().AnalyzeInterval
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultConfig().JPEGQuality
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 4 * cfg.AnalyzeInterval
	}

	s := &Session{
		cfg:       cfg,
		estimator: est,
		clock:     time.Now,
		buffer:    signal.NewBuffer(cfg.BufferSize, cfg.BufferWindow),
		selector:  roi.NewSelector(cfg.ROI, det),
		motion:    spoof.NewDetector(cfg.Spoof),
		gate:      NewGate(cfg.Gate),
	}
	s.begin()
	return s, nil
}

// begin starts a new generation. Callers hold mu or own s exclusively.
func (s *Session) begin() {
	s.id = uuid.New().String()
	s.generation++
	s.buffer.Reset()
	s.selector.Reset()
	s.motion.Reset()
	s.gate.Reset()
	s.latest = nil
	s.receivedAt = time.Time{}
	s.ended = false
	s.estimate = pulse.Estimate{}
	s.verdict = s.gate.Verdict()
	s.log = logging.Session("liveness", s.id)
}

// ID returns the current session ID. It changes on Reset.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// PushFrame samples one frame. Frames must arrive in timestamp order.
func (s *Session) PushFrame(f *frame.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if last, ok := s.buffer.Latest(); ok && !f.Timestamp.After(last.Timestamp) {
		return fmt.Errorf("%w: frame at %s", signal.ErrOutOfOrder, f.Timestamp.Format(time.RFC3339Nano))
	}

	region := s.selector.Select(f)
	sample, err := signal.MeanRGB(f, region)
	if err != nil {
		return fmt.Errorf("failed to sample frame: %w", err)
	}
	if err := s.buffer.Push(sample); err != nil {
		return err
	}
	s.latest = f
	s.receivedAt = s.clock()
	s.ended = false

	if s.motion.Observe(f).IsStatic {
		s.commit(s.gate.Spoof())
	}
	return nil
}

// Analyze runs one estimator pass and updates the verdict. Estimator failures
// are not errors; they only keep capture disabled. Only ErrClosed is returned.
func (s *Session) Analyze() (Verdict, error) {
	s.analyzeMu.Lock()
	defer s.analyzeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Verdict{}, ErrClosed
	}
	gen := s.generation
	samples := s.buffer.Snapshot()
	s.mu.Unlock()

	var now time.Time
	if len(samples) > 0 {
		now = samples[len(samples)-1].Timestamp
	}

	est, err := s.estimator.Estimate(samples)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Verdict{}, ErrClosed
	}
	if gen != s.generation {
		s.log.Debug("Discarding analysis started before reset")
		return s.verdict, nil
	}

	switch {
	case err == nil:
	case errors.Is(err, pulse.ErrInsufficientSamples):
	case errors.Is(err, pulse.ErrNonFinite):
		s.log.Debugf("Discarding analysis tick: %v", err)
	default:
		s.log.Debugf("No pulse estimate: %v", err)
	}

	// The frame path may have flagged a static subject while the estimator ran.
	static := s.motion.State().IsStatic
	if !static && s.stale() {
		v := s.gate.Stall()
		s.commit(v)
		return v, nil
	}

	s.estimate = est
	v := s.gate.Update(Input{
		Now:      now,
		Samples:  len(samples),
		Static:   static,
		Estimate: est,
	})
	s.commit(v)
	return v, nil
}

// stale reports whether the feed has ended or gone quiet. Callers hold mu.
func (s *Session) stale() bool {
	if s.ended {
		return true
	}
	return !s.receivedAt.IsZero() && s.clock().Sub(s.receivedAt) > s.cfg.StaleAfter
}

// commit stores v and logs state changes. Callers hold mu.
func (s *Session) commit(v Verdict) {
	prev := s.verdict.State
	s.verdict = v
	if prev == v.State {
		return
	}

	entry := s.log.WithFields(logging.Fields{"from": prev, "to": v.State})
	switch v.State {
	case StateRejectedSpoof:
		entry.Warn("Static presentation detected")
	case StateEvaluating:
		if prev == StateConfirmed && s.stale() {
			entry.Warn("Frame feed stalled, capture disabled")
			return
		}
		entry.Info("Liveness state changed")
	case StateConfirmed:
		entry.WithField("bpm", fmt.Sprintf("%.1f", s.estimate.BPM)).Info("Liveness confirmed")
	default:
		entry.Info("Liveness state changed")
	}
}

// Reset starts a fresh session with a new ID. Any in-flight Analyze result is discarded.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	old := s.id
	s.begin()
	s.log.WithField("previous", old).Info("Session reset")
	return nil
}

// Verdict returns the current verdict.
func (s *Session) Verdict() Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verdict
}

// Progress reports how full the analysis window is, in [0, 1].
func (s *Session) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress()
}

func (s *Session) progress() float64 {
	need := s.cfg.Gate.MinSamples
	if need <= 0 {
		return 1
	}
	p := float64(s.buffer.Len()) / float64(need)
	if p > 1 {
		return 1
	}
	return p
}

// BPM returns the heart rate from the latest analysis, if any.
func (s *Session) BPM() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimate.BPM, s.estimate.Valid
}

// Respiration returns the respiration rate in breaths per minute, if the
// estimator provides one.
func (s *Session) Respiration() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimate.RespirationRPM, s.estimate.RespirationValid
}

// Oxygen returns the oxygen-saturation forecast from the latest analysis. It
// is a trend indicator only and never gates capture.
func (s *Session) Oxygen() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimate.OxygenForecast, s.estimate.OxygenValid
}

// Snapshot returns the session status.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		SessionID:        s.id,
		Verdict:          s.verdict,
		Progress:         s.progress(),
		BPMValid:         s.estimate.Valid,
		RespirationValid: s.estimate.RespirationValid,
		OxygenValid:      s.estimate.OxygenValid,
		Samples:          s.buffer.Len(),
		Static:           s.motion.State().IsStatic,
		UsingFallbackROI: s.selector.UsingFallback(),
		Stale:            s.stale(),
	}
	if st.BPMValid {
		st.BPM = s.estimate.BPM
	}
	if st.RespirationValid {
		st.RespirationRPM = s.estimate.RespirationRPM
	}
	if st.OxygenValid {
		st.OxygenForecast = s.estimate.OxygenForecast
	}
	if latest, ok := s.buffer.Latest(); ok {
		st.UpdatedAt = latest.Timestamp
	}
	return st
}

// Capture returns the latest frame as JPEG while capture is enabled. A stale
// feed disables capture before the next analysis tick notices.
func (s *Session) Capture() (*Still, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.stale() {
		s.commit(s.gate.Stall())
	}
	v, f, id, bpm := s.verdict, s.latest, s.id, s.estimate.BPM
	s.mu.Unlock()

	if !v.CaptureEnabled || f == nil {
		return nil, ErrCaptureDisabled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image(), &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode capture: %w", err)
	}

	return &Still{
		SessionID:  id,
		CapturedAt: f.Timestamp,
		JPEG:       buf.Bytes(),
		Verdict:    v,
		BPM:        bpm,
	}, nil
}

// Run pushes frames from the channel and analyzes on a ticker until ctx is
// cancelled, the channel is closed or Close is called. A closed channel gets
// one final analysis, disables capture and returns ErrStreamEnded.
func (s *Session) Run(ctx context.Context, frames <-chan *frame.Frame) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.runDone != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	done := make(chan struct{})
	s.cancelRun, s.runDone = cancel, done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancelRun, s.runDone = nil, nil
		s.mu.Unlock()
		close(done)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case f, ok := <-frames:
				if !ok {
					return ErrStreamEnded
				}
				if err := s.PushFrame(f); err != nil {
					if errors.Is(err, ErrClosed) {
						return err
					}
					s.logger().Debugf("Dropping frame: %v", err)
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.AnalyzeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if _, err := s.Analyze(); err != nil {
					return err
				}
			}
		}
	})

	err := g.Wait()
	switch {
	case s.isClosed():
		return ErrClosed
	case errors.Is(err, ErrStreamEnded):
		if _, err := s.Analyze(); err != nil {
			return err
		}
		s.mu.Lock()
		s.ended = true
		s.commit(s.gate.Stall())
		s.mu.Unlock()
		return ErrStreamEnded
	default:
		return err
	}
}

// Close stops Run, if active, and makes every further call return ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancelRun, s.runDone
	s.log.Info("Session closed")
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) logger() *logrus.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}
