package sockfd

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// sysSocket holds syscall.ForkLock so the descriptor cannot leak into a child
// process between socket and the close-on-exec fcntl.
func sysSocket(family, sotype, proto int) (int, error) {
	syscall.ForkLock.RLock()
	fd, err := unix.Socket(family, sotype, proto)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, err
	}
	// Suppress SIGPIPE on writes to a reset connection, like Go's net package.
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
