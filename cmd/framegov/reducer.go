package main

import (
	"fmt"
	"log/slog"
	"time"
)

// This file implements the controller as a pure reducer:
//
//   - Reduce() consumes one Event and returns the next state, the Commands the
//     daemon loop must execute and the StateBroadcasts for telemetry consumers.
//   - Player queries are Commands too; their answers come back as Events
//     (MediaProbed, TelemetrySampled), so nothing here performs I/O.
//   - Timers are owned here: every start/cancel is a Command and every tick is a
//     TimerFired event checked against the id recorded in DaemonState.Timers.

// ReduceResult is the output of Reduce(): next state plus side effects.
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce is the pure reducer.
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not read the clock; event timestamps come from TimedEvent or the event itself
func Reduce(s *DaemonState, e Event, cfg ControllerConfig) ReduceResult {
	if s == nil {
		s = NewDaemonState(cfg)
	}

	var now time.Time
	if te, ok := e.(TimedEvent); ok {
		now = te.At
		e = te.Event
	}

	r := &reduction{s: s, cfg: cfg, now: now}

	switch ev := e.(type) {
	case FileLoaded:
		// The player is asked what was loaded; the session starts on MediaProbed.
		r.emit(CmdProbeMedia{})

	case MediaProbed:
		if !ev.At.IsZero() {
			r.now = ev.At
		}
		r.mediaProbed(ev)

	case EndFile:
		r.endFile(ev)

	case TimerFired:
		r.timerFired(ev)

	case TelemetrySampled:
		if !ev.At.IsZero() {
			r.now = ev.At
		}
		r.telemetrySampled(ev)

	case ResetRequested:
		r.reset(ev)

	case ToggleRequested:
		r.toggle(ev)

	case DiagnosticRequested:
		r.diagnostic(ev)

	case RequestStateSnapshot:
		r.emit(CmdPublishStateSnapshot{Reply: ev.Reply, Snapshot: s.Snapshot(r.now)})

	case PlayerCommandFailed:
		// Logged by the effects layer. Player failures never change controller state.
		_ = ev

	default:
		// Unknown event type: no-op.
	}

	return ReduceResult{
		State:      s,
		Commands:   r.cmds,
		Broadcasts: r.bcasts,
	}
}

// reduction accumulates the side effects of a single Reduce call.
type reduction struct {
	s   *DaemonState
	cfg ControllerConfig
	now time.Time

	cmds   []Command
	bcasts []StateBroadcast
}

func (r *reduction) emit(cmds ...Command) {
	r.cmds = append(r.cmds, cmds...)
}

func (r *reduction) broadcast(b StateBroadcast) {
	r.bcasts = append(r.bcasts, b)
}

func (r *reduction) log(level slog.Level, msg string, attrs ...any) {
	if id := r.s.Session.ID; id != "" {
		attrs = append(attrs, "session", id)
	}
	r.emit(CmdLog{Level: level, Msg: msg, Attrs: attrs})
}

func (r *reduction) notify(text string, d time.Duration) {
	r.emit(CmdShowMessage{Text: text, Duration: d})
}

// ==============================
// Timers
// ==============================

// startTimer starts a timer of the given kind, replacing any running timer of
// that kind. Starting a periodic timer cancels the other periodic timer first,
// within the same reduction, so two periodic timers never run together.
func (r *reduction) startTimer(kind TimerKind, interval time.Duration) {
	if kind.periodic() {
		for k := TimerKind(0); k < timerKindCount; k++ {
			if k != kind && k.periodic() {
				r.cancelTimer(k)
			}
		}
	}

	r.s.NextTimerID++
	id := r.s.NextTimerID
	r.s.Timers[kind] = id
	r.emit(CmdStartTimer{
		Timer:    kind,
		ID:       id,
		Interval: interval,
		Periodic: kind.periodic(),
	})
}

func (r *reduction) cancelTimer(kind TimerKind) {
	if r.s.Timers[kind] == 0 {
		return
	}
	r.s.Timers[kind] = 0
	r.emit(CmdCancelTimer{Timer: kind})
}

func (r *reduction) cancelAllTimers() {
	for k := TimerKind(0); k < timerKindCount; k++ {
		r.cancelTimer(k)
	}
}

func (r *reduction) setPhase(p Phase) {
	from := r.s.Session.Phase
	if from == p {
		return
	}
	r.s.Session.Phase = p
	r.broadcast(BroadcastPhaseChanged{
		SessionID: r.s.Session.ID,
		From:      from,
		To:        p,
		At:        r.now,
	})
}

func (r *reduction) stale(kind TimerKind, msg string, attrs ...any) {
	attrs = append(attrs, "timer", kind.String(), "phase", r.s.Session.Phase.String())
	r.log(slog.LevelWarn, msg, attrs...)
	r.broadcast(BroadcastStaleTimer{Timer: kind, At: r.now})
}

func (r *reduction) skipped(reason string, purpose SamplePurpose) {
	r.log(slog.LevelDebug, "sample skipped", "reason", reason, "purpose", purpose.String())
	r.broadcast(BroadcastSampleSkipped{Reason: reason, At: r.now})
}

// ==============================
// Lifecycle
// ==============================

func (r *reduction) mediaProbed(ev MediaProbed) {
	if !ev.IsVideo {
		r.log(slog.LevelDebug, "ignoring non-video file")
		return
	}

	r.cancelAllTimers()

	native := nativeFPSFromProbe(ev.FPS, ev.FPSKnown)
	prev := r.s.Session.Phase

	r.s.Session = newVideoSession(ev.SessionID, native, ev.FPSKnown, r.cfg, r.now)

	// The filter chain and display override outlive the file in mpv; start
	// every session at native rate.
	r.emit(CmdClearRateFilter{}, CmdClearDisplayFPS{})

	if !ev.FPSKnown {
		r.log(slog.LevelDebug, "frame rate unavailable, using fallback", "native_fps", native)
	}
	r.log(slog.LevelInfo, "video loaded",
		"native_fps", native,
		"initial_delay", r.cfg.InitialDelay.String(),
	)

	r.broadcast(BroadcastSessionStarted{SessionID: ev.SessionID, NativeFPS: native, At: r.now})
	r.broadcast(BroadcastPhaseChanged{SessionID: ev.SessionID, From: prev, To: PhaseArmed, At: r.now})

	r.startTimer(TimerCalibrationDelay, r.cfg.InitialDelay)
}

func (r *reduction) endFile(ev EndFile) {
	sess := r.s.Session
	if sess.Phase == PhaseIdle {
		return
	}

	r.cancelAllTimers()
	r.log(slog.LevelInfo, "playback ended",
		"reason", ev.Reason,
		"target_fps", sess.CurrentTargetFPS,
	)

	r.setPhase(PhaseIdle)
	r.s.Session = idleSession(r.cfg)
}

func (r *reduction) timerFired(ev TimerFired) {
	if ev.Timer < 0 || ev.Timer >= timerKindCount {
		r.log(slog.LevelWarn, "unknown timer kind", "timer", ev.Timer.String())
		return
	}
	if ev.ID == 0 || r.s.Timers[ev.Timer] != ev.ID {
		r.stale(ev.Timer, "ignoring stale timer event", "id", uint64(ev.ID))
		return
	}

	switch ev.Timer {
	case TimerCalibrationDelay:
		r.s.Timers[TimerCalibrationDelay] = 0
		if r.s.Session.Phase != PhaseArmed {
			r.stale(ev.Timer, "calibration delay fired outside armed phase")
			return
		}
		r.beginCalibration()

	case TimerCalibration:
		if r.s.Session.Phase != PhaseCalibrating {
			r.cancelTimer(TimerCalibration)
			r.stale(ev.Timer, "calibration tick outside calibration phase")
			return
		}
		r.emit(CmdSampleTelemetry{Purpose: SampleCalibration, TimerID: ev.ID})

	case TimerSteady:
		if r.s.Session.Phase != PhaseSteady {
			r.cancelTimer(TimerSteady)
			r.stale(ev.Timer, "steady tick outside steady phase")
			return
		}
		r.emit(CmdSampleTelemetry{Purpose: SampleSteady, TimerID: ev.ID})
	}
}

// beginCalibration moves Armed -> Calibrating: the drop counter is snapshotted
// and the 1s sampler started.
func (r *reduction) beginCalibration() {
	sess := &r.s.Session
	sess.CalibrationSamples = sess.CalibrationSamples[:0]
	sess.DropBaselineKnown = false

	r.setPhase(PhaseCalibrating)
	r.log(slog.LevelInfo, "calibration started",
		"samples", r.cfg.InitialSampleCount,
		"native_fps", sess.NativeFPS,
	)

	r.emit(CmdSampleTelemetry{Purpose: SampleBaseline})
	r.startTimer(TimerCalibration, calibrationTickInterval)
}

// ==============================
// Sampling
// ==============================

func (r *reduction) telemetrySampled(ev TelemetrySampled) {
	switch ev.Purpose {
	case SampleBaseline:
		if r.s.Session.Phase != PhaseCalibrating {
			r.log(slog.LevelDebug, "discarding baseline for ended calibration")
			return
		}
		if !ev.DropCountKnown {
			r.log(slog.LevelDebug, "drop counter unavailable, baseline deferred")
			return
		}
		r.s.Session.LastDropCount = ev.DropCount
		r.s.Session.DropBaselineKnown = true

	case SampleCalibration:
		if r.s.Session.Phase != PhaseCalibrating || r.s.Timers[TimerCalibration] != ev.TimerID {
			r.stale(TimerCalibration, "calibration sample for inactive timer", "id", uint64(ev.TimerID))
			return
		}
		r.calibrationSample(ev)

	case SampleSteady:
		if r.s.Session.Phase != PhaseSteady || r.s.Timers[TimerSteady] != ev.TimerID {
			r.stale(TimerSteady, "steady sample for inactive timer", "id", uint64(ev.TimerID))
			return
		}
		r.steadySample(ev)
	}
}

// dropsSinceLast returns the counter delta since the last accepted observation
// and advances the baseline. ok is false when no sample can be taken.
func (r *reduction) dropsSinceLast(ev TelemetrySampled) (int64, bool) {
	sess := &r.s.Session
	if !ev.DropCountKnown {
		r.skipped(skipReasonUnavailable, ev.Purpose)
		return 0, false
	}
	if !sess.DropBaselineKnown {
		sess.LastDropCount = ev.DropCount
		sess.DropBaselineKnown = true
		r.skipped(skipReasonBaseline, ev.Purpose)
		return 0, false
	}

	delta := ev.DropCount - sess.LastDropCount
	if delta < 0 {
		// Counter reset by the player (e.g. on seek into a new stream).
		r.log(slog.LevelDebug, "drop counter went backwards",
			"last", sess.LastDropCount,
			"current", ev.DropCount,
		)
		delta = 0
	}
	sess.LastDropCount = ev.DropCount
	return delta, true
}

func (r *reduction) calibrationSample(ev TelemetrySampled) {
	if ev.Paused {
		r.skipped(skipReasonPaused, ev.Purpose)
		return
	}
	drops, ok := r.dropsSinceLast(ev)
	if !ok {
		return
	}

	sess := &r.s.Session
	sess.CalibrationSamples = append(sess.CalibrationSamples, drops)
	n := len(sess.CalibrationSamples)

	r.notify(fmt.Sprintf("Calibrating frame rate: %d/%d", n, r.cfg.InitialSampleCount), progressMessageDuration)
	r.broadcast(BroadcastDropRateSampled{
		SessionID: sess.ID,
		Phase:     PhaseCalibrating,
		Rate:      float64(drops) / calibrationTickInterval.Seconds(),
		At:        r.now,
	})

	if n >= r.cfg.InitialSampleCount {
		r.finishCalibration()
	}
}

// finishCalibration computes the initial target from the calibration samples
// and hands over to steady state (or Disabled when a toggle arrived meanwhile).
func (r *reduction) finishCalibration() {
	sess := &r.s.Session

	avg := meanInt64(sess.CalibrationSamples)
	effective := float64(sess.NativeFPS) - avg
	target := clampTarget(SnapToStep(effective, r.cfg.FPSStep, r.cfg.MinFPS), r.cfg.MinFPS, sess.NativeFPS)

	r.log(slog.LevelInfo, "calibration complete",
		"avg_drop_rate", avg,
		"effective_fps", effective,
		"target_fps", target,
	)

	r.applyTarget(target)
	r.cancelTimer(TimerCalibration)
	sess.Initialized = true

	if sess.DisableRequested {
		sess.DisableRequested = false
		r.setPhase(PhaseDisabled)
		r.log(slog.LevelInfo, "adaptive adjustment disabled after calibration")
		return
	}

	r.setPhase(PhaseSteady)
	r.startTimer(TimerSteady, r.cfg.SampleInterval)
}

func (r *reduction) steadySample(ev TelemetrySampled) {
	// A paused tick leaves LastDropCount untouched, so the next accepted window
	// spans the pause.
	if ev.Paused {
		r.skipped(skipReasonPaused, ev.Purpose)
		return
	}
	drops, ok := r.dropsSinceLast(ev)
	if !ok {
		return
	}

	sess := &r.s.Session
	rate := float64(drops) / r.cfg.SampleInterval.Seconds()
	sess.SteadySamples.Push(rate)

	if sess.SteadySamples.Len() < minTrimmedSamples {
		r.broadcast(BroadcastDropRateSampled{
			SessionID: sess.ID,
			Phase:     PhaseSteady,
			Rate:      rate,
			At:        r.now,
		})
		return
	}

	filtered := sess.SteadySamples.TrimmedMean()
	sess.LastFilteredRate = filtered
	sess.LastFilteredKnown = true

	r.broadcast(BroadcastDropRateSampled{
		SessionID:     sess.ID,
		Phase:         PhaseSteady,
		Rate:          rate,
		Filtered:      filtered,
		FilteredKnown: true,
		At:            r.now,
	})

	current := sess.CurrentTargetFPS
	next := current
	if filtered > r.cfg.DropThreshold {
		next = current - r.cfg.FPSStep
	} else if filtered == 0 {
		next = min(current+r.cfg.FPSStep, sess.NativeFPS)
	}
	next = clampTarget(next, r.cfg.MinFPS, sess.NativeFPS)

	if (next < r.cfg.WarningThreshold && sess.NativeFPS > r.cfg.WarningThreshold) || filtered > r.cfg.DropThreshold {
		r.notify(fmt.Sprintf("Low performance: %d fps (%.1f drops/s)", next, filtered), warningMessageDuration)
		r.log(slog.LevelWarn, "low playback performance",
			"target_fps", next,
			"filtered_drop_rate", filtered,
		)
		r.broadcast(BroadcastPerformanceWarning{
			SessionID: sess.ID,
			TargetFPS: next,
			Filtered:  filtered,
			At:        r.now,
		})
	}

	if next != current {
		r.applyTarget(next)
	}
}

// ==============================
// Filter applier
// ==============================

// applyTarget makes target the enforced rate. It is a no-op when target is
// already enforced.
func (r *reduction) applyTarget(target int) {
	sess := &r.s.Session
	from := sess.CurrentTargetFPS
	if target == from {
		return
	}
	sess.CurrentTargetFPS = target

	if target >= sess.NativeFPS {
		r.emit(CmdClearRateFilter{}, CmdClearDisplayFPS{})
		r.notify(fmt.Sprintf("Native frame rate: %d fps", sess.NativeFPS), statusMessageDuration)
	} else {
		r.emit(CmdSetRateFilter{FPS: target}, CmdSetDisplayFPS{FPS: target})
		r.notify(fmt.Sprintf("Frame rate limited to %d fps", target), statusMessageDuration)
	}

	r.log(slog.LevelInfo, "target fps changed",
		"from", from,
		"to", target,
		"native_fps", sess.NativeFPS,
	)
	r.broadcast(BroadcastTargetChanged{
		SessionID: sess.ID,
		From:      from,
		To:        target,
		NativeFPS: sess.NativeFPS,
		At:        r.now,
	})
}

// ==============================
// Manual commands
// ==============================

func (r *reduction) reset(ev ResetRequested) {
	sess := &r.s.Session
	if sess.Phase == PhaseIdle {
		r.notify("No active video", statusMessageDuration)
		return
	}

	sess.CalibrationSamples = sess.CalibrationSamples[:0]
	sess.SteadySamples.Reset()
	sess.LastFilteredRate = 0
	sess.LastFilteredKnown = false

	r.applyTarget(sess.NativeFPS)
	r.notify("Frame rate history cleared", statusMessageDuration)
	r.log(slog.LevelInfo, "controller reset", "origin", ev.Origin, "phase", sess.Phase.String())
}

func (r *reduction) toggle(ev ToggleRequested) {
	sess := &r.s.Session

	switch sess.Phase {
	case PhaseSteady:
		r.cancelTimer(TimerSteady)
		r.setPhase(PhaseDisabled)
		r.notify("Adaptive frame rate: off", statusMessageDuration)
		r.log(slog.LevelInfo, "adaptive adjustment disabled", "origin", ev.Origin)

	case PhaseCalibrating:
		if sess.DisableRequested {
			r.notify("Adaptive frame rate not ready", statusMessageDuration)
			return
		}
		// Calibration keeps running; it lands in Disabled when done.
		sess.DisableRequested = true
		r.notify("Adaptive frame rate: off after calibration", statusMessageDuration)
		r.log(slog.LevelInfo, "disable requested during calibration", "origin", ev.Origin)

	case PhaseDisabled:
		if !sess.Initialized {
			r.notify("Adaptive frame rate not ready", statusMessageDuration)
			return
		}
		// The counter kept moving while disabled; the first tick re-baselines.
		sess.DropBaselineKnown = false
		r.setPhase(PhaseSteady)
		r.startTimer(TimerSteady, r.cfg.SampleInterval)
		r.notify("Adaptive frame rate: on", statusMessageDuration)
		r.log(slog.LevelInfo, "adaptive adjustment enabled", "origin", ev.Origin)

	default:
		r.notify("Adaptive frame rate not ready", statusMessageDuration)
	}
}

func (r *reduction) diagnostic(ev DiagnosticRequested) {
	sess := r.s.Session

	filtered := "n/a"
	if sess.LastFilteredKnown {
		filtered = fmt.Sprintf("%.2f", sess.LastFilteredRate)
	}
	text := fmt.Sprintf("framegov: %s, initialized=%v, target %d/%d fps, calibration %d/%d, window %d/%d, filtered %s drops/s",
		sess.Phase, sess.Initialized,
		sess.CurrentTargetFPS, sess.NativeFPS,
		len(sess.CalibrationSamples), r.cfg.InitialSampleCount,
		sess.SteadySamples.Len(), sess.SteadySamples.Cap(),
		filtered,
	)

	r.notify(text, warningMessageDuration)
	r.log(slog.LevelInfo, "diagnostic",
		"origin", ev.Origin,
		"phase", sess.Phase.String(),
		"initialized", sess.Initialized,
		"target_fps", sess.CurrentTargetFPS,
		"native_fps", sess.NativeFPS,
		"calibration_samples", len(sess.CalibrationSamples),
		"steady_samples", sess.SteadySamples.Len(),
		"filtered_drop_rate", filtered,
	)
}
