//go:build darwin || freebsd || linux

package sockfd

import (
	"context"
	"io"
	"net/netip"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ignoringEINTRIO makes an IO call and repeats it if it returns an
// EINTR error.
func ignoringEINTRIO(fn func(fd int, p []byte) (int, error), fd int, p []byte) (int, error) {
	for {
		n, err := fn(fd, p)
		if err != unix.EINTR {
			return n, err
		}
	}
}

func (h *Handle) eofError(n int) error {
	if n == 0 && h.sotype != unix.SOCK_DGRAM && h.sotype != unix.SOCK_RAW {
		return io.EOF
	}
	return nil
}

// Read implements io.Reader. See ReadContext.
func (h *Handle) Read(b []byte) (int, error) {
	return h.ReadContext(context.Background(), b)
}

// ReadContext reads from the descriptor.
//
// If the handle is in non-blocking mode, ReadContext returns EAGAIN when no data is
// available. Otherwise it waits up to the receive timeout, returning os.ErrDeadlineExceeded
// when the timeout expires. ctx is only observed once the descriptor is non-blocking at the
// OS level.
func (h *Handle) ReadContext(ctx context.Context, b []byte) (int, error) {
	if err := h.acquire(); err != nil {
		return 0, err
	}
	defer h.release()

	if len(b) == 0 {
		return 0, nil
	}

	if h.IsNonBlocking() || h.IsUnderlyingBlocking() {
		n, err := ignoringEINTRIO(unix.Read, h.fd, b)
		if (n <= 0 || err != nil) && h.Closed() {
			// Woken by the close protocol.
			return 0, ErrClosed
		}
		if err != nil {
			if err == unix.EAGAIN && !h.IsNonBlocking() {
				// SO_RCVTIMEO expired.
				return 0, os.ErrDeadlineExceeded
			}
			return 0, wrapSyscallError("read", err)
		}
		return n, h.eofError(n)
	}

	var (
		n    int
		rerr error
	)
	if err := h.ReadinessContext().RawRead(ctx, h.ReceiveTimeout(), func(fd int) bool {
		n, rerr = ignoringEINTRIO(unix.Read, fd, b)
		return rerr != unix.EAGAIN
	}); err != nil {
		return 0, err
	}
	if (n <= 0 || rerr != nil) && h.Closed() {
		return 0, ErrClosed
	}
	if rerr != nil {
		return 0, wrapSyscallError("read", rerr)
	}
	return n, h.eofError(n)
}

// Write implements io.Writer. See WriteContext.
func (h *Handle) Write(b []byte) (int, error) {
	return h.WriteContext(context.Background(), b)
}

// WriteContext writes b to the descriptor.
//
// In blocking mode, WriteContext waits until all of b is written or the send timeout
// expires. In non-blocking mode, it writes what it can and returns EAGAIN if that is
// less than len(b).
func (h *Handle) WriteContext(ctx context.Context, b []byte) (int, error) {
	if err := h.acquire(); err != nil {
		return 0, err
	}
	defer h.release()

	var (
		nn   int
		werr error
	)
	write := func(fd int) bool {
		for {
			n, err := ignoringEINTRIO(unix.Write, fd, b[nn:])
			if n > 0 {
				nn += n
			}
			if nn == len(b) {
				werr = nil
				return true
			}
			if err != nil {
				werr = err
				return err != unix.EAGAIN
			}
			if n == 0 {
				werr = io.ErrUnexpectedEOF
				return true
			}
		}
	}

	if h.IsNonBlocking() || h.IsUnderlyingBlocking() {
		write(h.fd)
		if werr != nil && h.Closed() {
			return nn, ErrClosed
		}
		if werr == unix.EAGAIN && !h.IsNonBlocking() {
			// SO_SNDTIMEO expired.
			return nn, os.ErrDeadlineExceeded
		}
		return nn, wrapSyscallError("write", werr)
	}

	if err := h.ReadinessContext().RawWrite(ctx, h.SendTimeout(), write); err != nil {
		return nn, err
	}
	return nn, wrapSyscallError("write", werr)
}

// Bind assigns a local address to the socket.
func (h *Handle) Bind(addr netip.AddrPort) error {
	if err := h.acquire(); err != nil {
		return err
	}
	defer h.release()

	sa, err := unixSockaddrFromAddrPort(addr, h.family)
	if err != nil {
		return err
	}
	return wrapSyscallError("bind", unix.Bind(h.fd, sa))
}

// Connect connects the socket to addr.
//
// In non-blocking mode, Connect returns EINPROGRESS if the connection could not be
// established immediately. Otherwise it waits for the connection to complete, up to the
// send timeout. The outcome is recorded in FlagLastConnectFailed.
func (h *Handle) Connect(ctx context.Context, addr netip.AddrPort) error {
	if err := h.acquire(); err != nil {
		return err
	}
	defer h.release()

	sa, err := unixSockaddrFromAddrPort(addr, h.family)
	if err != nil {
		return err
	}

	err = h.connect(ctx, sa)
	h.setFlag(FlagLastConnectFailed, err != nil && !(h.IsNonBlocking() && err == errConnectInProgress))
	return err
}

var errConnectInProgress = os.NewSyscallError("connect", unix.EINPROGRESS)

func (h *Handle) connect(ctx context.Context, sa unix.Sockaddr) error {
	start := time.Now()
	osBlocking := h.IsUnderlyingBlocking()

	switch err := unix.Connect(h.fd, sa); err {
	case nil:
		return nil
	case unix.EINPROGRESS:
		if osBlocking {
			// SO_SNDTIMEO expired.
			return os.ErrDeadlineExceeded
		}
	case unix.EALREADY, unix.EINTR:
		// A blocking connect interrupted by a signal continues in the background.
	default:
		return wrapSyscallError("connect", err)
	}

	if h.IsNonBlocking() {
		return errConnectInProgress
	}

	timeout := h.SendTimeout()
	if timeout != NoTimeout {
		if timeout -= time.Since(start); timeout <= 0 {
			return os.ErrDeadlineExceeded
		}
	}

	var (
		started bool
		cerr    error
	)
	if err := h.ReadinessContext().RawWrite(ctx, timeout, func(fd int) bool {
		if !started {
			started = true
			return false
		}
		nerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			cerr = wrapSyscallError("getsockopt", err)
			return true
		}
		switch e := unix.Errno(nerr); e {
		case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
			return false
		case 0:
			// Spurious wakeups leave the socket unconnected.
			_, err = unix.Getpeername(fd)
			return err == nil
		default:
			cerr = wrapSyscallError("connect", e)
			return true
		}
	}); err != nil {
		return err
	}
	return cerr
}

// Shutdown shuts down part of a full-duplex connection. how is one of
// unix.SHUT_RD, unix.SHUT_WR, or unix.SHUT_RDWR. Shutting down the send direction is
// recorded as if by MarkShutdownSend.
func (h *Handle) Shutdown(how int) error {
	if err := h.acquire(); err != nil {
		return err
	}
	defer h.release()

	if err := unix.Shutdown(h.fd, how); err != nil {
		return wrapSyscallError("shutdown", err)
	}
	if how == unix.SHUT_WR || how == unix.SHUT_RDWR {
		h.MarkShutdownSend()
	}
	return nil
}

// SetLinger sets the behavior of a graceful close on a connection which still has data
// waiting to be sent or to be acknowledged.
//
// If sec < 0 (the default), close returns immediately and the operating system finishes
// sending the data in the background. If sec >= 0, close blocks for up to sec seconds
// while data is sent; sec == 0 discards unsent data and resets the connection.
func (h *Handle) SetLinger(sec int) error {
	if err := h.acquire(); err != nil {
		return err
	}
	defer h.release()

	return wrapSyscallError("setsockopt(SO_LINGER)", setLinger(h.fd, sec))
}

// LocalAddr returns the address the socket is bound to.
func (h *Handle) LocalAddr() (netip.AddrPort, error) {
	if err := h.acquire(); err != nil {
		return netip.AddrPort{}, err
	}
	defer h.release()

	sa, err := unix.Getsockname(h.fd)
	if err != nil {
		return netip.AddrPort{}, wrapSyscallError("getsockname", err)
	}
	return addrPortFromUnixSockaddr(sa), nil
}
