package main

import (
	"fmt"
	"log/slog"
	"time"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop:
// player queries and mutations, timer management, logging.
type Command interface {
	commandMarker()
	String() string
}

// CmdProbeMedia asks the player whether the loaded file is a real video and
// what its frame rate is. Answered with MediaProbed.
type CmdProbeMedia struct{}

func (CmdProbeMedia) commandMarker() {}
func (CmdProbeMedia) String() string { return "CmdProbeMedia()" }

// CmdSampleTelemetry reads the pause flag and drop counter. Answered with
// TelemetrySampled.
type CmdSampleTelemetry struct {
	Purpose SamplePurpose
	TimerID TimerID
}

func (CmdSampleTelemetry) commandMarker() {}
func (c CmdSampleTelemetry) String() string {
	return fmt.Sprintf("CmdSampleTelemetry(purpose=%s, timer=%d)", c.Purpose, c.TimerID)
}

// CmdSetRateFilter installs (or replaces) the frame-rate-limiting filter.
type CmdSetRateFilter struct {
	FPS int
}

func (CmdSetRateFilter) commandMarker() {}
func (c CmdSetRateFilter) String() string {
	return fmt.Sprintf("CmdSetRateFilter(fps=%d)", c.FPS)
}

// CmdClearRateFilter removes the frame-rate-limiting filter if present.
type CmdClearRateFilter struct{}

func (CmdClearRateFilter) commandMarker() {}
func (CmdClearRateFilter) String() string { return "CmdClearRateFilter()" }

// CmdSetDisplayFPS overrides the display rate the player's video sync assumes.
type CmdSetDisplayFPS struct {
	FPS int
}

func (CmdSetDisplayFPS) commandMarker() {}
func (c CmdSetDisplayFPS) String() string {
	return fmt.Sprintf("CmdSetDisplayFPS(fps=%d)", c.FPS)
}

// CmdClearDisplayFPS drops the display rate override so video sync follows
// the real display again.
type CmdClearDisplayFPS struct{}

func (CmdClearDisplayFPS) commandMarker() {}
func (CmdClearDisplayFPS) String() string { return "CmdClearDisplayFPS()" }

// CmdShowMessage shows a transient OSD message.
type CmdShowMessage struct {
	Text     string
	Duration time.Duration
}

func (CmdShowMessage) commandMarker() {}
func (c CmdShowMessage) String() string {
	return fmt.Sprintf("CmdShowMessage(text=%q, duration=%s)", c.Text, c.Duration)
}

// CmdLog writes a log record.
type CmdLog struct {
	Level slog.Level
	Msg   string
	Attrs []any
}

func (CmdLog) commandMarker() {}
func (c CmdLog) String() string {
	return fmt.Sprintf("CmdLog(level=%s, msg=%q)", c.Level, c.Msg)
}

// CmdStartTimer starts a timer. Starting a kind that is already running
// replaces it.
type CmdStartTimer struct {
	Timer    TimerKind
	ID       TimerID
	Interval time.Duration
	Periodic bool
}

func (CmdStartTimer) commandMarker() {}
func (c CmdStartTimer) String() string {
	return fmt.Sprintf("CmdStartTimer(timer=%s, id=%d, interval=%s, periodic=%v)", c.Timer, c.ID, c.Interval, c.Periodic)
}

// CmdCancelTimer stops a timer; no further TimerFired events are produced for it.
type CmdCancelTimer struct {
	Timer TimerKind
}

func (CmdCancelTimer) commandMarker() {}
func (c CmdCancelTimer) String() string {
	return fmt.Sprintf("CmdCancelTimer(timer=%s)", c.Timer)
}

// CmdPublishStateSnapshot delivers a reducer-produced snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }
