package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ==============================
// Events
// ==============================

// Event is the input to the reducer.
//
// Events arrive from mpv (file lifecycle, script messages), from the scheduler
// (timer ticks), from the control socket, and from the effects layer
// (observations of player state).
type Event interface {
	eventMarker()
}

// TimedEvent wraps an externally produced event with the time the daemon
// received it. Payload types stay free of timestamps.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// FileLoaded is mpv's "file-loaded" event.
type FileLoaded struct{}

func (FileLoaded) eventMarker() {}

// EndFile is mpv's "end-file" event.
type EndFile struct {
	Reason string `json:"reason,omitempty"`
}

func (EndFile) eventMarker() {}

// MediaProbed reports what the player said about a just-loaded file.
type MediaProbed struct {
	SessionID string
	IsVideo   bool
	FPS       float64
	FPSKnown  bool
	At        time.Time
}

func (MediaProbed) eventMarker() {}

// TimerFired is delivered by the scheduler each time a timer elapses.
type TimerFired struct {
	Timer TimerKind
	ID    TimerID
}

func (TimerFired) eventMarker() {}

// SamplePurpose says which phase asked for a telemetry read.
type SamplePurpose int

const (
	SampleBaseline SamplePurpose = iota
	SampleCalibration
	SampleSteady
)

func (p SamplePurpose) String() string {
	switch p {
	case SampleBaseline:
		return "baseline"
	case SampleCalibration:
		return "calibration"
	case SampleSteady:
		return "steady"
	default:
		return fmt.Sprintf("purpose(%d)", int(p))
	}
}

// TelemetrySampled carries one read of the pause flag and the cumulative
// dropped-frame counter. DropCountKnown is false when the player could not
// report the counter.
type TelemetrySampled struct {
	Purpose        SamplePurpose
	TimerID        TimerID
	Paused         bool
	DropCount      int64
	DropCountKnown bool
	At             time.Time
}

func (TelemetrySampled) eventMarker() {}

// PlayerCommandFailed is emitted when executing a Command against the player fails.
type PlayerCommandFailed struct {
	Command Command
	Err     error
	At      time.Time
}

func (PlayerCommandFailed) eventMarker() {}

// RequestStateSnapshot asks the daemon for a copy of its state. The reply is
// delivered by the effects layer so the reducer stays free of channel sends.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ==============================
// Manual commands
// ==============================

// ResetRequested clears sample history and returns to the native rate.
type ResetRequested struct {
	Origin string `json:"origin,omitempty"`
}

func (ResetRequested) eventMarker() {}

// ToggleRequested switches steady-state adjustment off or back on.
type ToggleRequested struct {
	Origin string `json:"origin,omitempty"`
}

func (ToggleRequested) eventMarker() {}

// DiagnosticRequested shows the controller state on the OSD and in the log.
type DiagnosticRequested struct {
	Origin string `json:"origin,omitempty"`
}

func (DiagnosticRequested) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// EventEnvelope wraps control events for the IPC wire format.
// Only manual commands travel over IPC; everything else is produced in-process.
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	envelopeReset      = "reset"
	envelopeToggle     = "toggle"
	envelopeDiagnostic = "diagnostic"
	envelopeStatus     = "status"
)

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case envelopeReset:
		var e ResetRequested
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ResetRequested: %w", err)
		}
		return e, nil

	case envelopeToggle:
		var e ToggleRequested
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ToggleRequested: %w", err)
		}
		return e, nil

	case envelopeDiagnostic:
		var e DiagnosticRequested
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal DiagnosticRequested: %w", err)
		}
		return e, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// unmarshalData tolerates a missing data field.
func unmarshalData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// MarshalEvent serializes a control Event into a JSON envelope.
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	var payload any
	switch e := e.(type) {
	case ResetRequested:
		env.Type = envelopeReset
		payload = e
	case ToggleRequested:
		env.Type = envelopeToggle
		payload = e
	case DiagnosticRequested:
		env.Type = envelopeDiagnostic
		payload = e
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	env.Data = data

	return json.Marshal(env)
}
