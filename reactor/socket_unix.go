//go:build !windows

package reactor

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl sets SO_REUSEADDR and SO_REUSEPORT before bind, the
// POSIX half of spec.md §4.5's "set address-reuse before bind" invariant,
// grounded on golang.org/x/sys/unix (already a dependency of the
// tinyrange-cc pack member for its own socket setup).
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		// SO_REUSEPORT is not available on every POSIX target (notably
		// older illumos); a failure here is not fatal to bind.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
