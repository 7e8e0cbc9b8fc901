//go:build linux

package main

import (
	"os"
	"testing"
	"time"
)

func TestIPC_RejectsOtherUser(t *testing.T) {
	events := make(chan Event, 1)
	path := startIPCServerFor(t, events, os.Getuid()+1)

	if err := SendIPCEvent(path, ToggleRequested{Origin: "ctl"}); err == nil {
		t.Fatalf("expected connection from another uid to be refused")
	}

	select {
	case ev := <-events:
		t.Fatalf("rejected connection forwarded %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPeerCredentials_UnixSocket(t *testing.T) {
	events := make(chan Event, 1)
	path := startIPCServer(t, events)

	// The server only forwards after reading our own uid over SO_PEERCRED.
	if err := SendIPCEvent(path, ResetRequested{Origin: "ctl"}); err != nil {
		t.Fatalf("SendIPCEvent: %v", err)
	}
	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for forwarded event")
	}
}
