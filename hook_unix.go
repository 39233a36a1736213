//go:build darwin || freebsd || linux

package sockfd

import "golang.org/x/sys/unix"

// Syscalls on the close and unblock paths, replaceable in tests.
var (
	closeFunc       = unix.Close
	setNonblockFunc = unix.SetNonblock
	setLingerFunc   = unix.SetsockoptLinger
	fdFlagsFunc     = func(fd int) (int, error) { return unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0) }
	socketTypeFunc  = func(fd int) (int, error) { return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE) }
	disconnectFunc  = disconnect // disconnect_linux.go, disconnect_darwin.go, disconnect_freebsd.go
	shutdownFunc    = unix.Shutdown
)

const errEWOULDBLOCK = unix.EWOULDBLOCK

const (
	sockoptRcvTimeo = unix.SO_RCVTIMEO
	sockoptSndTimeo = unix.SO_SNDTIMEO
)
