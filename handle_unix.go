//go:build darwin || freebsd || linux

package sockfd

import (
	"errors"

	"golang.org/x/sys/unix"
)

// NewHandle adopts an existing descriptor.
//
// If ownsHandle is false, closing the handle releases its resources without closing fd,
// and unblock attempts are no-ops. Adopted sockets are marked exposed, since they may
// carry configuration this package did not make.
func NewHandle(fd int, ownsHandle bool) (*Handle, error) {
	if fd < 0 {
		return nil, unix.EBADF
	}

	fl, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return nil, wrapSyscallError("fcntl", err)
	}

	var family int
	sotype, err := socketTypeFunc(fd)
	switch {
	case err == nil:
		family = socketFamily(fd)
	case errors.Is(err, unix.ENOTSOCK):
		sotype = 0
	default:
		return nil, wrapSyscallError("getsockopt", err)
	}

	h := newHandle(fd, family, sotype, ownsHandle, fl&unix.O_NONBLOCK != 0)
	if sotype != 0 {
		h.setFlag(FlagIsSocket|FlagExposed, true)
	}
	if family == unix.AF_INET6 {
		if v6only, err := unix.GetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY); err == nil && v6only == 0 {
			h.setFlag(FlagDualMode, true)
		}
	}
	return h, nil
}

// socketFamily returns the address family of the socket, or 0 if it cannot be determined.
func socketFamily(fd int) int {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0
	}
	switch sa.(type) {
	case *unix.SockaddrInet4:
		return unix.AF_INET
	case *unix.SockaddrInet6:
		return unix.AF_INET6
	case *unix.SockaddrUnix:
		return unix.AF_UNIX
	}
	return 0
}
