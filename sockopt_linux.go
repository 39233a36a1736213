package sockfd

import "golang.org/x/sys/unix"

const tfoDialerSockoptName = "TCP_FASTOPEN_CONNECT"

func setTFODialer(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_FASTOPEN_CONNECT, 1)
}
