package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// peerCred identifies the process on the other end of a control connection.
type peerCred struct {
	PID int32
	UID uint32
	GID uint32
}

var errPeerCredUnsupported = errors.New("peer credentials not supported on this platform")

// errPeerNotPermitted is returned for control connections from another user.
var errPeerNotPermitted = errors.New("peer not permitted")

// checkPeerUID reports whether cred belongs to allowedUID.
func checkPeerUID(cred peerCred, allowedUID int) error {
	if allowedUID < 0 || int64(cred.UID) != int64(allowedUID) {
		return fmt.Errorf("%w: uid %d (pid %d)", errPeerNotPermitted, cred.UID, cred.PID)
	}
	return nil
}

// authorizePeer admits conn only when its owner is allowedUID. Platforms
// without SO_PEERCRED fall back to the socket file mode.
func authorizePeer(conn net.Conn, allowedUID int, logger *slog.Logger) error {
	cred, err := peerCredentials(conn)
	if errors.Is(err, errPeerCredUnsupported) {
		logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr(), "peer_error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read peer credentials: %w", err)
	}

	logger.Debug("IPC connection", "pid", cred.PID, "uid", cred.UID, "gid", cred.GID)
	return checkPeerUID(cred, allowedUID)
}
