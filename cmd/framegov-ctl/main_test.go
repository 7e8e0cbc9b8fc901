package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeDaemon answers one request per connection and records the envelopes.
func fakeDaemon(t *testing.T, reply func(envelope) response) (string, <-chan envelope) {
	t.Helper()

	dir, err := os.MkdirTemp("", "fgctl")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "ctl.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	got := make(chan envelope, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			sc := bufio.NewScanner(conn)
			if sc.Scan() {
				var env envelope
				_ = json.Unmarshal(sc.Bytes(), &env)
				got <- env
				_ = json.NewEncoder(conn).Encode(reply(env))
			}
			conn.Close()
		}
	}()
	return path, got
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCtl_SendsCommandEnvelopes(t *testing.T) {
	path, got := fakeDaemon(t, func(envelope) response { return response{Status: "ok"} })

	for _, name := range []string{"reset", "toggle", "diagnostic"} {
		out, err := run(t, "--socket", path, name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if strings.TrimSpace(out) != "ok" {
			t.Fatalf("%s: unexpected output %q", name, out)
		}

		env := <-got
		if env.Type != name {
			t.Fatalf("expected envelope type %q, got %q", name, env.Type)
		}
		var data originData
		if err := json.Unmarshal(env.Data, &data); err != nil || data.Origin != origin {
			t.Fatalf("expected origin %q, got %s (%v)", origin, env.Data, err)
		}
	}
}

func TestCtl_StatusPrintsState(t *testing.T) {
	path, _ := fakeDaemon(t, func(env envelope) response {
		return response{Status: "ok", State: json.RawMessage(`{"phase":"steady","target_fps":45}`)}
	})

	out, err := run(t, "-s", path, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, `"phase": "steady"`) || !strings.Contains(out, `"target_fps": 45`) {
		t.Fatalf("unexpected status output:\n%s", out)
	}
}

func TestCtl_DaemonErrorIsReturned(t *testing.T) {
	path, _ := fakeDaemon(t, func(envelope) response {
		return response{Status: "error", Error: "event queue full"}
	})

	if _, err := run(t, "--socket", path, "reset"); err == nil || !strings.Contains(err.Error(), "event queue full") {
		t.Fatalf("expected daemon error, got %v", err)
	}
}

func TestCtl_RejectsExtraArgs(t *testing.T) {
	if _, err := run(t, "toggle", "now"); err == nil {
		t.Fatalf("expected argument error")
	}
}
