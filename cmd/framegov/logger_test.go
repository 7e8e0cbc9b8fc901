package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"error":   LogLevelError,
		"WARN":    LogLevelWarn,
		"warning": LogLevelWarn,
		" info ":  LogLevelInfo,
		"debug":   LogLevelDebug,
	} {
		got, err := parseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("parseLogLevel(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	if _, err := parseLogLevel("trace"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestSetupLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(LogLevelWarn, &buf)

	logger.Info("quiet")
	logger.Warn("loud", "target_fps", 45)

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Fatalf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, "msg=loud") || !strings.Contains(out, "target_fps=45") {
		t.Fatalf("warn record missing: %s", out)
	}
}
