package main

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "framegov.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.ToControllerConfig(); got != DefaultControllerConfig() {
		t.Fatalf("default controller config mismatch:\n got %+v\nwant %+v", got, DefaultControllerConfig())
	}
}

func TestLoadConfigFile_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
mpv:
  socket_path: /run/user/1000/mpv.sock
controller:
  sample_interval_sec: 2.5
  min_fps: 20
commands:
  toggle: afr-toggle
http:
  port: 0
`)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.MPV.SocketPath != "/run/user/1000/mpv.sock" {
		t.Fatalf("unexpected mpv socket %q", cfg.MPV.SocketPath)
	}
	if cfg.MPV.TimeoutMS != defaultMPVTimeoutMS {
		t.Fatalf("expected default timeout to survive, got %d", cfg.MPV.TimeoutMS)
	}
	if cfg.Commands.Toggle != "afr-toggle" || cfg.Commands.Reset != defaultResetCommand {
		t.Fatalf("unexpected commands %+v", cfg.Commands)
	}
	if cfg.HTTP.Port != 0 {
		t.Fatalf("expected http disabled, got port %d", cfg.HTTP.Port)
	}

	ctl := cfg.ToControllerConfig()
	if ctl.SampleInterval != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s sample interval, got %s", ctl.SampleInterval)
	}
	if ctl.MinFPS != 20 || ctl.FPSStep != defaultFPSStep {
		t.Fatalf("unexpected controller config %+v", ctl)
	}
}

func TestLoadConfigFile_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
controller:
  sample_intervall_sec: 5
`)
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadConfigFile_RejectsTrailingDocument(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: debug\n---\nlogging:\n  level: info\n")
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatalf("expected error for multiple documents")
	}
}

func TestLoadConfigFile_MissingFile(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := LoadConfigFile(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	socket := "/tmp/other-mpv.sock"
	step := 10
	delay := 0.0
	port := 0

	FlagOverrides{
		MPVSocketPath:   &socket,
		FPSStep:         &step,
		InitialDelaySec: &delay,
		HTTPPort:        &port,
	}.Apply(&cfg)

	if cfg.MPV.SocketPath != socket || cfg.Controller.FPSStep != 10 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	// Zero values are applied when the flag was given.
	if cfg.Controller.InitialDelaySec != 0 || cfg.HTTP.Port != 0 {
		t.Fatalf("zero-value overrides not applied: %+v", cfg)
	}
	if cfg.Controller.MinFPS != defaultMinFPS {
		t.Fatalf("untouched field changed: %d", cfg.Controller.MinFPS)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfig_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty mpv socket", func(c *Config) { c.MPV.SocketPath = "" }, "mpv.socket_path"},
		{"zero timeout", func(c *Config) { c.MPV.TimeoutMS = 0 }, "mpv.timeout_ms"},
		{"no calibration samples", func(c *Config) { c.Controller.InitialSampleCount = 0 }, "initial_sample_count"},
		{"zero interval", func(c *Config) { c.Controller.SampleIntervalSec = 0 }, "sample_interval_sec"},
		{"sub-nanosecond interval", func(c *Config) { c.Controller.SampleIntervalSec = 1e-12 }, "sample_interval_sec"},
		{"NaN interval", func(c *Config) { c.Controller.SampleIntervalSec = math.NaN() }, "sample_interval_sec"},
		{"interval overflows", func(c *Config) { c.Controller.SampleIntervalSec = 1e12 }, "sample_interval_sec"},
		{"window too small", func(c *Config) { c.Controller.SampleCount = 2 }, "sample_count must be >= 3"},
		{"zero step", func(c *Config) { c.Controller.FPSStep = 0 }, "fps_step"},
		{"zero min fps", func(c *Config) { c.Controller.MinFPS = 0 }, "min_fps"},
		{"negative delay", func(c *Config) { c.Controller.InitialDelaySec = -1 }, "initial_delay_sec"},
		{"negative threshold", func(c *Config) { c.Controller.DropThreshold = -0.5 }, "drop_threshold"},
		{"empty command", func(c *Config) { c.Commands.Diagnostic = "" }, "must not be empty"},
		{"duplicate command", func(c *Config) { c.Commands.Toggle = c.Commands.Reset }, "distinct"},
		{"ipc equals mpv", func(c *Config) { c.IPC.SocketPath = c.MPV.SocketPath }, "must differ"},
		{"port out of range", func(c *Config) { c.HTTP.Port = 70000 }, "http.port"},
		{"empty log level", func(c *Config) { c.Logging.Level = "" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	if got := ExpandPath("~/mpv.sock"); got != filepath.Join(home, "mpv.sock") {
		t.Fatalf("ExpandPath(~/mpv.sock) = %q", got)
	}
	if got := ExpandPath("/tmp/mpv.sock"); got != "/tmp/mpv.sock" {
		t.Fatalf("absolute path changed: %q", got)
	}
	if got := ExpandPath("~other/x"); got != "~other/x" {
		t.Fatalf("~user paths must be left alone: %q", got)
	}
}

func TestLoadConfigFile_EmptyFileYieldsDefaults(t *testing.T) {
	path := writeConfig(t, "# nothing configured\n")
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}
