package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// ============================================================================
// framegov-ctl - Command-line IPC Client
// ============================================================================
// Sends manual commands to the framegov daemon over its control socket.
//
// Usage:
//   framegov-ctl reset
//   framegov-ctl toggle
//   framegov-ctl diagnostic
//   framegov-ctl status
//
// Options:
//   --socket PATH    Unix domain socket path (default: /tmp/framegov.sock)
// ============================================================================

const (
	defaultSocketPath = "/tmp/framegov.sock"
	dialTimeout       = 2 * time.Second
	origin            = "framegov-ctl"
)

var version = "dev"

// envelope is the daemon's line-delimited request format (duplicated from the
// daemon package for a standalone binary).
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type originData struct {
	Origin string `json:"origin,omitempty"`
}

// response represents the daemon's reply. State is kept raw so status output
// shows every field the daemon sends.
type response struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

func main() {
	cobra.CheckErr(newRootCmd(os.Stdout).Execute())
}

func newRootCmd(out io.Writer) *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:           "framegov-ctl",
		Short:         "Control the framegov daemon via its IPC socket",
		Version:       version,
		SilenceUsage:  true,
		Long: `framegov-ctl sends manual commands to a running framegov daemon.
The same commands are available inside mpv through script-message key bindings.`,
	}
	cmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", defaultSocketPath, "Unix domain socket path")
	cmd.SetOut(out)
	cmd.SetVersionTemplate("{{ .Version }}\n")

	simple := func(use, short, typ string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := send(socketPath, typ, originData{Origin: origin}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			},
		}
	}

	cmd.AddCommand(
		simple("reset", "Clear frame rate history and return to the native rate", "reset"),
		simple("toggle", "Switch adaptive frame rate adjustment off or on", "toggle"),
		simple("diagnostic", "Show the controller state on mpv's OSD and in the daemon log", "diagnostic"),
		newStatusCmd(&socketPath),
	)
	return cmd
}

func newStatusCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Print the controller state as JSON",
		Aliases: []string{"state"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := send(*socketPath, "status", nil)
			if err != nil {
				return err
			}
			var state any
			if err := json.Unmarshal(resp.State, &state); err != nil {
				return fmt.Errorf("decode state: %w", err)
			}
			pretty, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
			return nil
		},
	}
}

// send writes one request and waits for the daemon's reply.
func send(socketPath, typ string, data any) (response, error) {
	env := envelope{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return response{}, fmt.Errorf("marshal %s: %w", typ, err)
		}
		env.Data = raw
	}
	line, err := json.Marshal(env)
	if err != nil {
		return response{}, fmt.Errorf("marshal envelope: %w", err)
	}

	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return response{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * dialTimeout))

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return response{}, fmt.Errorf("send %s: %w", typ, err)
	}

	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}
