//go:build linux

// Package protect marks outbound sockets so the host's routing policy can
// exclude them from the tunnel — the proxy dial socket, the DNS relay's
// upstream socket, and the public-IP probe socket all need this, or the
// gateway would loop its own traffic back through the TUN device.
package protect

import (
	"syscall"
)

// Control returns a net.Dialer.Control function that applies SO_MARK to
// every socket it dials, or nil if mark is zero (protection disabled).
func Control(mark uint32) func(network, address string, c syscall.RawConn) error {
	if mark == 0 {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_MARK, int(mark))
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
