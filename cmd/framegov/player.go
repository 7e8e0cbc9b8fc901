package main

import (
	"errors"
	"time"
)

// Player defines the player capabilities the controller consumes.
// This allows for mocking in tests.
type Player interface {
	// CurrentTrackIsImage reports whether the selected video track is a still
	// image or embedded album art. ErrPropertyUnavailable means there is no
	// video track at all.
	CurrentTrackIsImage() (bool, error)

	// ContainerFPS returns the file's frame rate as reported by the container
	// (or the decoder's estimate when the container has none).
	ContainerFPS() (float64, error)

	// DroppedFrameCount returns the cumulative dropped-frame counter.
	DroppedFrameCount() (int64, error)

	Paused() (bool, error)

	// Filter and display timing
	SetRateFilter(fps int) error
	ClearRateFilter() error
	SetDisplayFPS(fps int) error
	ClearDisplayFPS() error

	ShowText(text string, d time.Duration) error

	Close() error
}

// ErrPropertyUnavailable is returned when the player has no value for a
// property right now (no file, no video track, counter not running yet).
var ErrPropertyUnavailable = errors.New("property unavailable")
