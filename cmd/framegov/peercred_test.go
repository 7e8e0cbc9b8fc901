package main

import (
	"errors"
	"testing"
)

func TestCheckPeerUID(t *testing.T) {
	tests := []struct {
		name    string
		cred    peerCred
		allowed int
		wantErr bool
	}{
		{"same user", peerCred{PID: 10, UID: 1000}, 1000, false},
		{"root", peerCred{PID: 10, UID: 0}, 0, false},
		{"other user", peerCred{PID: 10, UID: 1001}, 1000, true},
		{"root connecting to user daemon", peerCred{PID: 10, UID: 0}, 1000, true},
		{"no uid available", peerCred{PID: 10, UID: 0}, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkPeerUID(tt.cred, tt.allowed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkPeerUID(%+v, %d) = %v, wantErr %v", tt.cred, tt.allowed, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errPeerNotPermitted) {
				t.Fatalf("expected errPeerNotPermitted, got %v", err)
			}
		})
	}
}
