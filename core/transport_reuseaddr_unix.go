//go:build unix

package core

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl sets SO_REUSEADDR and, where the platform defines it,
// SO_REUSEPORT on the listening socket before bind, so tests and
// orchestrators that restart a node against the same listen address don't
// have to wait out the kernel's TIME_WAIT teardown.
func reuseAddrControl(_ string, _ string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			ctrlErr = err
			return
		}
		// SO_REUSEPORT lets multiple sockets on the same machine bind the same
		// address for local multi-instance testing; ignore platforms where the
		// kernel rejects it rather than fail the listen.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
