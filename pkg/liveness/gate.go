package liveness

import (
	"time"

	"github.com/MrCodeEU/pulsegate/pkg/pulse"
)

// State is the decision gate state.
type State string

const (
	StateInitializing     State = "initializing"       // collecting the first analysis window
	StateEvaluating       State = "evaluating"         // window full, no in-band pulse yet
	StateConfirmed        State = "confirmed"          // live subject, capture allowed
	StateRejectedSpoof    State = "rejected_spoof"     // no motion between frames
	StateRejectedNoSignal State = "rejected_no_signal" // no pulse for longer than the timeout
)

// Message returns the host-facing instruction for the state.
func (s State) Message() string {
	switch s {
	case StateInitializing:
		return "Hold still and look at the camera while the pulse signal is collected."
	case StateEvaluating:
		return "Analyzing pulse signal..."
	case StateConfirmed:
		return "Live subject confirmed. You may capture."
	case StateRejectedSpoof:
		return "No movement detected. Please ensure you are not using a static photo."
	case StateRejectedNoSignal:
		return "Unable to find a pulse. Improve lighting and keep your face in view."
	default:
		return ""
	}
}

// Verdict is the gate's decision for the host.
type Verdict struct {
	State              State  `json:"state"`
	SpoofDetected      bool   `json:"spoof_detected"`
	HeartRateConfirmed bool   `json:"heart_rate_confirmed"`
	CaptureEnabled     bool   `json:"capture_enabled"`
	Message            string `json:"message"`
}

func verdictFor(s State) Verdict {
	v := Verdict{
		State:              s,
		SpoofDetected:      s == StateRejectedSpoof,
		HeartRateConfirmed: s == StateConfirmed,
		Message:            s.Message(),
	}
	v.CaptureEnabled = !v.SpoofDetected && v.HeartRateConfirmed
	return v
}

// GateConfig holds the decision bounds.
type GateConfig struct {
	MinSamples      int
	MinBPM          float64
	MaxBPM          float64
	NoSignalTimeout time.Duration
}

// Input is everything the gate looks at on an evaluation tick.
type Input struct {
	Now      time.Time // frame time of the newest sample
	Samples  int
	Static   bool
	Estimate pulse.Estimate
}

// Gate is the liveness decision state machine. Gate is not safe for concurrent use.
type Gate struct {
	cfg          GateConfig
	state        State
	failingSince time.Time
}

// NewGate creates a gate in the Initializing state.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{cfg: cfg, state: StateInitializing}
}

// State returns the current state.
func (g *Gate) State() State {
	return g.state
}

// Verdict returns the verdict for the current state.
func (g *Gate) Verdict() Verdict {
	return verdictFor(g.state)
}

// Spoof moves the gate to RejectedSpoof. It is called from the frame path as
// soon as the motion detector flags a static subject.
func (g *Gate) Spoof() Verdict {
	g.state = StateRejectedSpoof
	g.failingSince = time.Time{}
	return g.Verdict()
}

// Stall withdraws a confirmation when the frame feed stops. The next Update
// with fresh frames decides again.
func (g *Gate) Stall() Verdict {
	if g.state == StateConfirmed {
		g.state = StateEvaluating
	}
	return g.Verdict()
}

// Update runs one evaluation tick.
func (g *Gate) Update(in Input) Verdict {
	switch {
	case in.Static:
		return g.Spoof()

	case in.Samples < g.cfg.MinSamples:
		g.state = StateInitializing
		g.failingSince = time.Time{}

	case g.inBand(in.Estimate):
		g.state = StateConfirmed
		g.failingSince = time.Time{}

	default:
		if g.failingSince.IsZero() {
			g.failingSince = in.Now
		}
		if in.Now.Sub(g.failingSince) > g.cfg.NoSignalTimeout {
			g.state = StateRejectedNoSignal
		} else {
			g.state = StateEvaluating
		}
	}
	return g.Verdict()
}

func (g *Gate) inBand(est pulse.Estimate) bool {
	return est.Valid && est.BPM >= g.cfg.MinBPM && est.BPM <= g.cfg.MaxBPM
}

// Reset returns the gate to Initializing.
func (g *Gate) Reset() {
	g.state = StateInitializing
	g.failingSince = time.Time{}
}
