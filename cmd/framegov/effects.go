package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// runEffect executes a single reducer-emitted Command against the player, the
// scheduler or the logger, and emits observation Events via onEvent.
//
// Design rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly; it only emits Events to be reduced by the daemon loop.
// - The daemon loop is responsible for sequencing: Reduce -> Commands -> runEffect -> Events -> Reduce.
func runEffect(
	player Player,
	sched Scheduler,
	cmd Command,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		// No place to report observations/errors; nothing sensible to do.
		return
	}

	now := time.Now()

	// Commands that need no player.
	switch c := cmd.(type) {
	case CmdLog:
		logger.Log(context.Background(), c.Level, c.Msg, c.Attrs...)
		return

	case CmdStartTimer:
		if sched == nil {
			logger.Error("timer requested without a scheduler", "timer", c.Timer.String())
			return
		}
		sched.Start(c.Timer, c.ID, c.Interval, c.Periodic)
		return

	case CmdCancelTimer:
		if sched != nil {
			sched.Cancel(c.Timer)
		}
		return

	case CmdPublishStateSnapshot:
		// Deliver reducer-produced snapshot to the requester.
		// This keeps the reducer pure by moving the channel send into the effects layer.
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		// Never block the effects worker indefinitely.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}
		return
	}

	if player == nil {
		onEvent(PlayerCommandFailed{
			Command: cmd,
			Err:     errNoPlayer{},
			At:      now,
		})
		return
	}

	switch c := cmd.(type) {
	case CmdProbeMedia:
		onEvent(probeMedia(player, logger, now))

	case CmdSampleTelemetry:
		onEvent(sampleTelemetry(player, c, logger, now))

	case CmdSetRateFilter:
		if err := player.SetRateFilter(c.FPS); err != nil {
			logger.Error("mpv SetRateFilter failed", "error", err, "fps", c.FPS)
			onEvent(PlayerCommandFailed{Command: cmd, Err: err, At: now})
		}

	case CmdClearRateFilter:
		if err := player.ClearRateFilter(); err != nil {
			logger.Error("mpv ClearRateFilter failed", "error", err)
			onEvent(PlayerCommandFailed{Command: cmd, Err: err, At: now})
		}

	case CmdSetDisplayFPS:
		if err := player.SetDisplayFPS(c.FPS); err != nil {
			logger.Error("mpv SetDisplayFPS failed", "error", err, "fps", c.FPS)
			onEvent(PlayerCommandFailed{Command: cmd, Err: err, At: now})
		}

	case CmdClearDisplayFPS:
		if err := player.ClearDisplayFPS(); err != nil {
			logger.Error("mpv ClearDisplayFPS failed", "error", err)
			onEvent(PlayerCommandFailed{Command: cmd, Err: err, At: now})
		}

	case CmdShowMessage:
		if err := player.ShowText(c.Text, c.Duration); err != nil {
			logger.Debug("mpv ShowText failed", "error", err)
			onEvent(PlayerCommandFailed{Command: cmd, Err: err, At: now})
		}

	default:
		// Unknown command: record failure so reducer can react (if desired).
		logger.Warn("unknown command type", "command", cmd.String())
		onEvent(PlayerCommandFailed{
			Command: cmd,
			Err:     errUnknownCommand{cmd: cmd},
			At:      now,
		})
	}
}

// probeMedia answers CmdProbeMedia. A missing video track counts as
// non-video; a missing frame rate is left to the reducer's fallback.
func probeMedia(player Player, logger *slog.Logger, now time.Time) MediaProbed {
	ev := MediaProbed{SessionID: uuid.NewString(), At: now}

	image, err := player.CurrentTrackIsImage()
	switch {
	case errors.Is(err, ErrPropertyUnavailable):
		return ev
	case err != nil:
		logger.Warn("mpv track query failed", "error", err)
		return ev
	case image:
		return ev
	}
	ev.IsVideo = true

	fps, err := player.ContainerFPS()
	if err != nil {
		logger.Debug("mpv frame rate unavailable", "error", err)
		return ev
	}
	ev.FPS = fps
	ev.FPSKnown = true
	return ev
}

// sampleTelemetry answers CmdSampleTelemetry. Failures degrade to "not paused"
// and "counter unknown"; the reducer skips the tick.
func sampleTelemetry(player Player, c CmdSampleTelemetry, logger *slog.Logger, now time.Time) TelemetrySampled {
	ev := TelemetrySampled{Purpose: c.Purpose, TimerID: c.TimerID, At: now}

	if c.Purpose != SampleBaseline {
		paused, err := player.Paused()
		if err != nil {
			logger.Debug("mpv pause state unavailable", "error", err)
		}
		ev.Paused = paused
	}

	count, err := player.DroppedFrameCount()
	if err != nil {
		logger.Debug("mpv drop counter unavailable", "error", err)
		return ev
	}
	ev.DropCount = count
	ev.DropCountKnown = true
	return ev
}

// errNoPlayer indicates the daemon was asked to execute a command without a player.
type errNoPlayer struct{}

func (errNoPlayer) Error() string { return "no player connection" }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
