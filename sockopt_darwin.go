package sockfd

import "golang.org/x/sys/unix"

const tcpFastopenForceEnable = 0x218

const tfoDialerSockoptName = "TCP_FASTOPEN_FORCE_ENABLE"

// setTFODialer disables the Darwin kernel's brutal TFO backoff mechanism.
func setTFODialer(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, tcpFastopenForceEnable, 1)
}
