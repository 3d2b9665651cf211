//go:build windows

package reactor

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// reuseAddrControl sets SO_REUSEADDR before bind, the Windows half of
// spec.md §4.5's invariant. Windows has no direct SO_REUSEPORT equivalent;
// SO_REUSEADDR alone is sufficient to let the SD multicast socket share its
// bind address with other multicast listeners on the same host (the S6
// scenario: "a peer offer on the same host is received").
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
