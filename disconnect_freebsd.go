package sockfd

import "golang.org/x/sys/unix"

// disconnect shuts the socket down in both directions. This may send FIN rather than RST.
func disconnect(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_RDWR)
}
