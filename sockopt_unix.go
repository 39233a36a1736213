//go:build darwin || freebsd || linux

package sockfd

import (
	"time"

	"golang.org/x/sys/unix"
)

func boolint(b bool) int {
	if b {
		return 1
	}
	return 0
}

func setIPv6Only(fd int, family int, ipv6only bool) error {
	if family == unix.AF_INET6 {
		// Allow both IP versions even if the OS default
		// is otherwise. Note that some operating systems
		// never admit this option.
		return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, boolint(ipv6only))
	}
	return nil
}

// setTimeoutSockopt sets SO_RCVTIMEO or SO_SNDTIMEO. NoTimeout clears the option.
func setTimeoutSockopt(fd, opt int, d time.Duration) error {
	var tv unix.Timeval
	if d != NoTimeout {
		tv = unix.NsecToTimeval(d.Nanoseconds())
		if tv.Sec == 0 && tv.Usec == 0 {
			// A zero timeval means no timeout.
			tv.Usec = 1
		}
	}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, opt, &tv); err != nil {
		name := "setsockopt(SO_RCVTIMEO)"
		if opt == sockoptSndTimeo {
			name = "setsockopt(SO_SNDTIMEO)"
		}
		return wrapSyscallError(name, err)
	}
	return nil
}

// setLinger sets SO_LINGER. A negative sec turns lingering off.
func setLinger(fd, sec int) error {
	l := unix.Linger{Onoff: int32(boolint(sec >= 0)), Linger: int32(max(sec, 0))}
	return unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &l)
}
