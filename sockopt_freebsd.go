package sockfd

import "golang.org/x/sys/unix"

const tfoDialerSockoptName = "TCP_FASTOPEN"

func setTFODialer(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_FASTOPEN, 1)
}
