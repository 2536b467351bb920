//go:build !unix

package core

import "syscall"

// reuseAddrControl is a no-op on platforms without SO_REUSEADDR/SO_REUSEPORT
// support in golang.org/x/sys/unix.
func reuseAddrControl(_ string, _ string, _ syscall.RawConn) error {
	return nil
}
