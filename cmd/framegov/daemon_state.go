package main

import (
	"fmt"
	"time"
)

// Phase is the lifecycle phase of the controller for the current file.
//
// Exactly one phase is active at a time. Each phase owns at most one timer:
// Armed the one-shot calibration delay, Calibrating the 1s sampler and
// SteadyState the sample_interval sampler.
type Phase int

const (
	PhaseIdle        Phase = iota // no video loaded
	PhaseArmed                    // video loaded, waiting for the settle delay
	PhaseCalibrating              // collecting the initial per-second drop samples
	PhaseSteady                   // periodic adjustment
	PhaseDisabled                 // manually toggled off
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseArmed:
		return "armed"
	case PhaseCalibrating:
		return "calibrating"
	case PhaseSteady:
		return "steady"
	case PhaseDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// TimerKind identifies one of the controller's timers.
type TimerKind int

const (
	TimerCalibrationDelay TimerKind = iota
	TimerCalibration
	TimerSteady

	timerKindCount
)

func (k TimerKind) String() string {
	switch k {
	case TimerCalibrationDelay:
		return "calibration_delay"
	case TimerCalibration:
		return "calibration"
	case TimerSteady:
		return "steady"
	default:
		return fmt.Sprintf("timer(%d)", int(k))
	}
}

// periodic reports whether timers of this kind repeat.
func (k TimerKind) periodic() bool {
	return k == TimerCalibration || k == TimerSteady
}

// TimerID identifies one started timer. Zero means "no timer".
type TimerID uint64

// DaemonState is the top-level, daemon-owned state container.
//
// Only the daemon goroutine touches it, through Reduce. Other goroutines get
// copies via StateSnapshot.
type DaemonState struct {
	Session SessionState

	// Timers holds the id of the active timer for each kind (0 = not running).
	// A TimerFired event whose id does not match is stale and ignored.
	Timers      [timerKindCount]TimerID
	NextTimerID TimerID
}

// SessionState is the per-file controller state. It is replaced wholesale when a
// video is loaded and cleared at end-file; nothing in it survives across files.
type SessionState struct {
	ID       string
	LoadedAt time.Time
	Phase    Phase

	NativeFPS        int
	NativeFPSKnown   bool
	CurrentTargetFPS int

	// LastDropCount is the cumulative drop counter at the previous accepted
	// observation. DropBaselineKnown is false until the first successful read.
	LastDropCount     int64
	DropBaselineKnown bool

	CalibrationSamples []int64
	SteadySamples      SampleWindow

	// LastFilteredRate is the most recent trimmed-mean drop rate.
	LastFilteredRate  float64
	LastFilteredKnown bool

	// Initialized is set once calibration has completed for this file.
	Initialized bool

	// DisableRequested records a toggle received mid-calibration; the session
	// lands in PhaseDisabled instead of PhaseSteady when calibration completes.
	DisableRequested bool
}

// NewDaemonState returns an idle state sized for cfg.
func NewDaemonState(cfg ControllerConfig) *DaemonState {
	return &DaemonState{
		Session: idleSession(cfg),
	}
}

func idleSession(cfg ControllerConfig) SessionState {
	return SessionState{
		Phase:         PhaseIdle,
		SteadySamples: NewSampleWindow(cfg.SampleCount),
	}
}

// newVideoSession starts a fresh session for a just-loaded video.
func newVideoSession(id string, nativeFPS int, nativeKnown bool, cfg ControllerConfig, now time.Time) SessionState {
	return SessionState{
		ID:                 id,
		LoadedAt:           now,
		Phase:              PhaseArmed,
		NativeFPS:          nativeFPS,
		NativeFPSKnown:     nativeKnown,
		CurrentTargetFPS:   nativeFPS,
		CalibrationSamples: make([]int64, 0, cfg.InitialSampleCount),
		SteadySamples:      NewSampleWindow(cfg.SampleCount),
	}
}

// ActivePeriodicTimers counts running periodic timers. The reducer keeps this at
// most one.
func (s *DaemonState) ActivePeriodicTimers() int {
	n := 0
	for k := TimerKind(0); k < timerKindCount; k++ {
		if k.periodic() && s.Timers[k] != 0 {
			n++
		}
	}
	return n
}

// StateSnapshot is a read-only, JSON-friendly copy of the controller state.
type StateSnapshot struct {
	SessionID string    `json:"session_id,omitempty"`
	Phase     string    `json:"phase"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`

	Initialized    bool `json:"initialized"`
	DisablePending bool `json:"disable_pending"`

	NativeFPS      int  `json:"native_fps"`
	NativeFPSKnown bool `json:"native_fps_known"`
	TargetFPS      int  `json:"target_fps"`

	LastDropCount      int64     `json:"last_drop_count"`
	CalibrationSamples []int64   `json:"calibration_samples"`
	SteadySamples      []float64 `json:"steady_samples"`

	FilteredDropRate  float64 `json:"filtered_drop_rate"`
	FilteredRateKnown bool    `json:"filtered_rate_known"`

	ActiveTimers []string  `json:"active_timers"`
	At           time.Time `json:"at"`
}

// Snapshot copies the state for consumers outside the daemon goroutine.
func (s *DaemonState) Snapshot(now time.Time) StateSnapshot {
	sess := s.Session
	cal := make([]int64, len(sess.CalibrationSamples))
	copy(cal, sess.CalibrationSamples)

	var timers []string
	for k := TimerKind(0); k < timerKindCount; k++ {
		if s.Timers[k] != 0 {
			timers = append(timers, k.String())
		}
	}

	return StateSnapshot{
		SessionID:          sess.ID,
		Phase:              sess.Phase.String(),
		LoadedAt:           sess.LoadedAt,
		Initialized:        sess.Initialized,
		DisablePending:     sess.DisableRequested,
		NativeFPS:          sess.NativeFPS,
		NativeFPSKnown:     sess.NativeFPSKnown,
		TargetFPS:          sess.CurrentTargetFPS,
		LastDropCount:      sess.LastDropCount,
		CalibrationSamples: cal,
		SteadySamples:      sess.SteadySamples.Values(),
		FilteredDropRate:   sess.LastFilteredRate,
		FilteredRateKnown:  sess.LastFilteredKnown,
		ActiveTimers:       timers,
		At:                 now,
	}
}
