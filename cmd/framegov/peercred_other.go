//go:build !linux

package main

import "net"

func peerCredentials(conn net.Conn) (peerCred, error) {
	return peerCred{}, errPeerCredUnsupported
}
