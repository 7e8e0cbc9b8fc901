package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// Control IPC - Unix Domain Socket Interface
// ============================================================================
// Lets framegov-ctl (or scripts) drive the controller without going through
// mpv key bindings.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "reset"|"toggle"|"diagnostic"|"status", "data": {...}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
//   - "status" replies carry the controller snapshot in "state".
// ============================================================================

// ipcSnapshotTimeout bounds a status round-trip through the daemon loop.
const ipcSnapshotTimeout = 2 * time.Second

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string         `json:"status"`          // "ok" or "error"
	Error  string         `json:"error,omitempty"` // error message if status == "error"
	State  *StateSnapshot `json:"state,omitempty"` // set for "status" requests
}

// runIPCServer starts the Unix domain socket server.
// Connections from any user other than allowedUID are refused.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, allowedUID int, events chan<- Event, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// Only the owning user may drive the controller.
	if err := os.Chmod(socketPath, 0600); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, allowedUID, events, logger)
	}
}

// handleIPCConnection handles a single IPC connection
func handleIPCConnection(ctx context.Context, conn net.Conn, allowedUID int, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	if err := authorizePeer(conn, allowedUID, logger); err != nil {
		logger.Warn("IPC connection rejected", "error", err)
		_ = json.NewEncoder(conn).Encode(IPCResponse{Status: "error", Error: err.Error()})
		return
	}

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	reply := func(resp IPCResponse) {
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
		}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		var env EventEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			reply(IPCResponse{Status: "error", Error: fmt.Sprintf("parse envelope: %v", err)})
			continue
		}

		if env.Type == envelopeStatus {
			snap, err := requestSnapshot(ctx, events, ipcSnapshotTimeout)
			if err != nil {
				reply(IPCResponse{Status: "error", Error: fmt.Sprintf("status: %v", err)})
				continue
			}
			reply(IPCResponse{Status: "ok", State: &snap})
			continue
		}

		// Payload events only; the daemon assigns timestamps via TimedEvent.
		ev, err := UnmarshalEvent(line)
		if err != nil {
			reply(IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)})
			continue
		}

		select {
		case events <- ev:
			reply(IPCResponse{Status: "ok"})
		default:
			reply(IPCResponse{Status: "error", Error: "event queue full"})
		}
	}

	logger.Debug("IPC connection closed")
}

// ============================================================================
// IPC client helpers
// ============================================================================

// SendIPCEvent sends a control event to the daemon and waits for the reply.
func SendIPCEvent(socketPath string, ev Event) error {
	data, err := MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = roundTripIPC(socketPath, data)
	return err
}

// SendIPCStatus asks the daemon for its current state.
func SendIPCStatus(socketPath string) (StateSnapshot, error) {
	data, err := json.Marshal(EventEnvelope{Type: envelopeStatus})
	if err != nil {
		return StateSnapshot{}, fmt.Errorf("marshal status request: %w", err)
	}
	resp, err := roundTripIPC(socketPath, data)
	if err != nil {
		return StateSnapshot{}, err
	}
	if resp.State == nil {
		return StateSnapshot{}, errors.New("ipc error: status reply without state")
	}
	return *resp.State, nil
}

func roundTripIPC(socketPath string, line []byte) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(line))); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}
