//go:build !linux

package protect

import "syscall"

// Control is a no-op on non-Linux platforms: SO_MARK is a Linux-specific
// fwmark facility with no portable equivalent here.
func Control(mark uint32) func(network, address string, c syscall.RawConn) error {
	return nil
}
