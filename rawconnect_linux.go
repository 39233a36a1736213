//go:build linux && !386 && !s390x

package sockfd

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func rawConnect(fd int, sa unsafe.Pointer, salen uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_CONNECT, uintptr(fd), uintptr(sa), salen)
	if errno != 0 {
		return errno
	}
	return nil
}
