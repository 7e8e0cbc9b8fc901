package main

import "time"

// StateBroadcast is an externally visible state change emitted by the reducer.
// The broadcaster fans these out to websocket clients and metrics.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastSessionStarted is emitted when a video session begins.
type BroadcastSessionStarted struct {
	SessionID string
	NativeFPS int
	At        time.Time
}

func (BroadcastSessionStarted) broadcastMarker() {}

// BroadcastPhaseChanged is emitted on every lifecycle transition.
type BroadcastPhaseChanged struct {
	SessionID string
	From      Phase
	To        Phase
	At        time.Time
}

func (BroadcastPhaseChanged) broadcastMarker() {}

// BroadcastTargetChanged is emitted whenever the enforced target fps changes.
type BroadcastTargetChanged struct {
	SessionID string
	From      int
	To        int
	NativeFPS int
	At        time.Time
}

func (BroadcastTargetChanged) broadcastMarker() {}

// BroadcastDropRateSampled is emitted for each accepted telemetry sample.
// Rate is drops per second over the sample's window.
type BroadcastDropRateSampled struct {
	SessionID     string
	Phase         Phase
	Rate          float64
	Filtered      float64
	FilteredKnown bool
	At            time.Time
}

func (BroadcastDropRateSampled) broadcastMarker() {}

// BroadcastSampleSkipped is emitted when a tick produced no sample.
type BroadcastSampleSkipped struct {
	Reason string
	At     time.Time
}

func (BroadcastSampleSkipped) broadcastMarker() {}

// BroadcastPerformanceWarning mirrors the OSD low-performance warning.
type BroadcastPerformanceWarning struct {
	SessionID string
	TargetFPS int
	Filtered  float64
	At        time.Time
}

func (BroadcastPerformanceWarning) broadcastMarker() {}

// BroadcastStaleTimer is emitted when a timer event arrives for a timer that
// is no longer active.
type BroadcastStaleTimer struct {
	Timer TimerKind
	At    time.Time
}

func (BroadcastStaleTimer) broadcastMarker() {}

// Sample skip reasons
const (
	skipReasonPaused      = "paused"
	skipReasonUnavailable = "telemetry_unavailable"
	skipReasonBaseline    = "baseline"
)
