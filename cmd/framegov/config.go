package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the framegov daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume a
// well-formed config. The config file is the primary configuration surface;
// flags exist for small overrides.
type Config struct {
	// mpv JSON IPC connection
	MPV MPVConfig `yaml:"mpv"`

	// Adaptive controller tunables
	Controller ControllerFileConfig `yaml:"controller"`

	// script-message names bound in mpv's input.conf
	Commands CommandsConfig `yaml:"commands"`

	// Control socket used by framegov-ctl
	IPC IPCConfig `yaml:"ipc"`

	// Telemetry websocket, metrics and health endpoints
	HTTP HTTPConfig `yaml:"http"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type MPVConfig struct {
	SocketPath    string `yaml:"socket_path"`
	TimeoutMS     int    `yaml:"timeout_ms"`
	RetryAttempts int    `yaml:"retry_attempts"`
	RetryBaseMS   int    `yaml:"retry_base_ms"`
}

// ControllerFileConfig is the user-facing controller configuration as represented
// in YAML. Durations are given in seconds.
type ControllerFileConfig struct {
	InitialSampleCount int     `yaml:"initial_sample_count"`
	SampleIntervalSec  float64 `yaml:"sample_interval_sec"`
	SampleCount        int     `yaml:"sample_count"`
	FPSStep            int     `yaml:"fps_step"`
	MinFPS             int     `yaml:"min_fps"`
	WarningThreshold   int     `yaml:"warning_threshold"`
	InitialDelaySec    float64 `yaml:"initial_delay_sec"`
	DropThreshold      float64 `yaml:"drop_threshold"`
}

type CommandsConfig struct {
	Reset      string `yaml:"reset"`
	Toggle     string `yaml:"toggle"`
	Diagnostic string `yaml:"diagnostic"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// HTTPConfig configures the telemetry server. Port 0 disables it.
type HTTPConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ControllerConfig is the immutable tuning used by the reducer.
type ControllerConfig struct {
	InitialSampleCount int
	SampleInterval     time.Duration
	SampleCount        int
	FPSStep            int
	MinFPS             int
	WarningThreshold   int
	InitialDelay       time.Duration
	DropThreshold      float64
}

// DefaultControllerConfig returns the built-in controller tuning.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		InitialSampleCount: defaultInitialSampleCount,
		SampleInterval:     defaultSampleInterval,
		SampleCount:        defaultSampleCount,
		FPSStep:            defaultFPSStep,
		MinFPS:             defaultMinFPS,
		WarningThreshold:   defaultWarningThreshold,
		InitialDelay:       defaultInitialDelay,
		DropThreshold:      defaultDropThreshold,
	}
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults and current CLI defaults.
func DefaultConfig() Config {
	return Config{
		MPV: MPVConfig{
			SocketPath:    defaultMPVSocketPath,
			TimeoutMS:     defaultMPVTimeoutMS,
			RetryAttempts: defaultMPVRetryAttempts,
			RetryBaseMS:   defaultMPVRetryBaseMS,
		},
		Controller: ControllerFileConfig{
			InitialSampleCount: defaultInitialSampleCount,
			SampleIntervalSec:  defaultSampleInterval.Seconds(),
			SampleCount:        defaultSampleCount,
			FPSStep:            defaultFPSStep,
			MinFPS:             defaultMinFPS,
			WarningThreshold:   defaultWarningThreshold,
			InitialDelaySec:    defaultInitialDelay.Seconds(),
			DropThreshold:      defaultDropThreshold,
		},
		Commands: CommandsConfig{
			Reset:      defaultResetCommand,
			Toggle:     defaultToggleCommand,
			Diagnostic: defaultDiagnosticCommand,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/framegov.sock",
		},
		HTTP: HTTPConfig{
			Address: "127.0.0.1",
			Port:    3011,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
// Unknown fields are rejected via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file: defaults only.
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries flag values that override the loaded config. Each
// override is applied only when its pointer is non-nil; main.go decides which
// flags exist.
type FlagOverrides struct {
	MPVSocketPath *string
	MPVTimeoutMS  *int

	InitialSampleCount *int
	SampleIntervalSec  *float64
	SampleCount        *int
	FPSStep            *int
	MinFPS             *int
	WarningThreshold   *int
	InitialDelaySec    *float64
	DropThreshold      *float64

	IPCSocketPath *string
	HTTPAddress   *string
	HTTPPort      *int

	LogLevel *string
}

// Apply merges the overrides into cfg. A non-nil pointer is applied even if it
// holds a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.MPVSocketPath != nil {
		cfg.MPV.SocketPath = *o.MPVSocketPath
	}
	if o.MPVTimeoutMS != nil {
		cfg.MPV.TimeoutMS = *o.MPVTimeoutMS
	}

	if o.InitialSampleCount != nil {
		cfg.Controller.InitialSampleCount = *o.InitialSampleCount
	}
	if o.SampleIntervalSec != nil {
		cfg.Controller.SampleIntervalSec = *o.SampleIntervalSec
	}
	if o.SampleCount != nil {
		cfg.Controller.SampleCount = *o.SampleCount
	}
	if o.FPSStep != nil {
		cfg.Controller.FPSStep = *o.FPSStep
	}
	if o.MinFPS != nil {
		cfg.Controller.MinFPS = *o.MinFPS
	}
	if o.WarningThreshold != nil {
		cfg.Controller.WarningThreshold = *o.WarningThreshold
	}
	if o.InitialDelaySec != nil {
		cfg.Controller.InitialDelaySec = *o.InitialDelaySec
	}
	if o.DropThreshold != nil {
		cfg.Controller.DropThreshold = *o.DropThreshold
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPAddress != nil {
		cfg.HTTP.Address = *o.HTTPAddress
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// mpv
	if c.MPV.SocketPath == "" {
		return errors.New("mpv.socket_path must not be empty")
	}
	if c.MPV.TimeoutMS <= 0 {
		return errors.New("mpv.timeout_ms must be > 0")
	}
	if c.MPV.RetryAttempts < 0 {
		return errors.New("mpv.retry_attempts must be >= 0")
	}
	if c.MPV.RetryBaseMS <= 0 {
		return errors.New("mpv.retry_base_ms must be > 0")
	}

	// Controller
	ctl := c.Controller
	if ctl.InitialSampleCount <= 0 {
		return errors.New("controller.initial_sample_count must be > 0")
	}
	// Checked after conversion: sub-nanosecond values truncate to zero.
	if !(ctl.SampleIntervalSec > 0 && ctl.SampleIntervalSec <= maxDurationSec) ||
		secondsToDuration(ctl.SampleIntervalSec) <= 0 {
		return errors.New("controller.sample_interval_sec must be > 0")
	}
	if ctl.SampleCount < minTrimmedSamples {
		return fmt.Errorf("controller.sample_count must be >= %d", minTrimmedSamples)
	}
	if ctl.FPSStep <= 0 {
		return errors.New("controller.fps_step must be > 0")
	}
	if ctl.MinFPS <= 0 {
		return errors.New("controller.min_fps must be > 0")
	}
	if !(ctl.InitialDelaySec >= 0) || ctl.InitialDelaySec > maxDurationSec {
		return errors.New("controller.initial_delay_sec must be >= 0")
	}
	if !(ctl.DropThreshold >= 0) {
		return errors.New("controller.drop_threshold must be >= 0")
	}

	// Commands
	if c.Commands.Reset == "" || c.Commands.Toggle == "" || c.Commands.Diagnostic == "" {
		return errors.New("commands.reset, commands.toggle and commands.diagnostic must not be empty")
	}
	if c.Commands.Reset == c.Commands.Toggle ||
		c.Commands.Reset == c.Commands.Diagnostic ||
		c.Commands.Toggle == c.Commands.Diagnostic {
		return errors.New("commands must have distinct names")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if ExpandPath(c.IPC.SocketPath) == ExpandPath(c.MPV.SocketPath) {
		return errors.New("ipc.socket_path must differ from mpv.socket_path")
	}

	// HTTP
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ToControllerConfig converts the file config into the reducer's tuning.
func (c *Config) ToControllerConfig() ControllerConfig {
	ctl := c.Controller
	return ControllerConfig{
		InitialSampleCount: ctl.InitialSampleCount,
		SampleInterval:     secondsToDuration(ctl.SampleIntervalSec),
		SampleCount:        ctl.SampleCount,
		FPSStep:            ctl.FPSStep,
		MinFPS:             ctl.MinFPS,
		WarningThreshold:   ctl.WarningThreshold,
		InitialDelay:       secondsToDuration(ctl.InitialDelaySec),
		DropThreshold:      ctl.DropThreshold,
	}
}

// maxDurationSec is the longest interval a time.Duration can hold.
const maxDurationSec = float64(math.MaxInt64 / int64(time.Second))

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
