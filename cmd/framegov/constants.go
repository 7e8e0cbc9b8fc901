package main

import "time"

// Controller tuning defaults
const (
	defaultInitialSampleCount = 10              // Calibration samples (one per second)
	defaultSampleInterval     = 5 * time.Second // Steady-state sampling period
	defaultSampleCount        = 5               // Steady-state window size for the trimmed mean
	defaultFPSStep            = 5               // Target fps granularity
	defaultMinFPS             = 25              // Never limit below this rate
	defaultWarningThreshold   = 30              // Warn when the target falls below this rate
	defaultInitialDelay       = 5 * time.Second // Settle time after file load before calibrating
	defaultDropThreshold      = 1.0             // Drops/sec considered significant

	// fallbackNativeFPS is used when the player cannot report a frame rate.
	fallbackNativeFPS = 60

	// calibrationTickInterval is the fixed cadence of calibration sampling.
	calibrationTickInterval = time.Second

	// minTrimmedSamples is the smallest window the trimmed mean is defined for.
	minTrimmedSamples = 3
)

// mpv IPC defaults
const (
	defaultMPVSocketPath    = "/tmp/mpv.sock"
	defaultMPVTimeoutMS     = 1000 // Timeout for a single IPC request/response (ms)
	defaultMPVRetryAttempts = 10   // Connection attempts before giving up
	defaultMPVRetryBaseMS   = 250  // Fibonacci backoff base (ms)

	// rateFilterLabel is the vf label used so the filter can be replaced or removed
	// without disturbing other filters in the chain.
	rateFilterLabel = "framegov"
)

// OSD message durations
const (
	progressMessageDuration = 1 * time.Second
	statusMessageDuration   = 2 * time.Second
	warningMessageDuration  = 3 * time.Second
)

// Default script-message names bound in mpv's input.conf
const (
	defaultResetCommand      = "framegov-reset"
	defaultToggleCommand     = "framegov-toggle"
	defaultDiagnosticCommand = "framegov-diagnostic"
)
