package sockfd

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// disconnect dissolves the socket's association by connecting it to AF_UNSPEC,
// which resets a TCP connection. Older kernels reject this; they get shutdown instead.
func disconnect(fd int) error {
	sa := unix.RawSockaddrAny{Addr: unix.RawSockaddr{Family: unix.AF_UNSPEC}}
	if err := rawConnect(fd, unsafe.Pointer(&sa), unix.SizeofSockaddrAny); err == nil {
		return nil
	}
	return unix.Shutdown(fd, unix.SHUT_RDWR)
}
