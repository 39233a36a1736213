// Package sockfd owns native socket descriptors for their whole lifetime.
//
// A [Handle] wraps one descriptor. It tracks the mode the caller asked for separately
// from the mode the descriptor is actually in: once a descriptor has been switched to
// non-blocking mode it stays there, and "blocking" operations are emulated by waiting
// on readiness notifications from package netpoll.
//
// Closing a handle runs a bounded protocol that honors the requested close semantics
// (graceful FIN or abortive RST) without ever hanging: a graceful close that would
// block with a linger timeout on a non-blocking socket is retried once in blocking
// mode, and abortive closes force a zero linger timeout first. Before closing a handle
// that still has operations in flight, sockfd disconnects or shuts down the socket so
// those operations return promptly.
//
// This package supports Linux, macOS, and FreeBSD. On other platforms, [Socket] and
// [NewHandle] return [ErrPlatformUnsupported].
package sockfd

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/containerd/errdefs"
)

var (
	ErrPlatformUnsupported = errors.New("sockfd does not support this platform")

	// ErrClosed is returned when a handle is used after its close protocol has started.
	ErrClosed = errors.New("use of closed socket handle")

	// ErrInvalidTimeout is returned for timeouts that are neither NoTimeout nor positive.
	ErrInvalidTimeout = fmt.Errorf("timeout must be NoTimeout or positive: %w", errdefs.ErrInvalidArgument)
)

// NoTimeout disables a receive or send timeout.
const NoTimeout time.Duration = -1

// Config holds the options applied to a socket right after it is created.
// The zero value creates a blocking socket with no timeouts.
type Config struct {
	// NonBlocking switches the descriptor to non-blocking mode and makes operations
	// return EAGAIN instead of waiting.
	NonBlocking bool

	// ReceiveTimeout and SendTimeout bound emulated blocking operations.
	// Zero means NoTimeout.
	ReceiveTimeout time.Duration
	SendTimeout    time.Duration

	// DualMode clears IPV6_V6ONLY on AF_INET6 sockets.
	DualMode bool

	// FastOpen enables TCP Fast Open on stream sockets before connect.
	FastOpen bool

	// PreferInlineCompletions is recorded on the handle for operation implementations.
	PreferInlineCompletions bool

	// Control is called with the raw descriptor after the options above have been applied.
	// The handle is marked as exposed, as the descriptor may have been configured in ways
	// this package does not track.
	Control func(fd uintptr) error
}

// Socket creates a socket with the given family, type, and protocol.
// The descriptor is created with close-on-exec set.
func Socket(family, sotype, proto int) (*Handle, error) {
	var c Config
	return c.Socket(family, sotype, proto)
}

// Socket creates a socket and applies c to it.
// On error, the descriptor is closed before returning.
func (c *Config) Socket(family, sotype, proto int) (*Handle, error) {
	fd, err := sysSocket(family, sotype, proto) // socket_freebsd+linux.go, socket_darwin.go, sockfd_stub.go
	if err != nil {
		return nil, wrapSyscallError("socket", err)
	}

	h := newHandle(fd, family, sotype, true, false)
	h.flags.Or(uint32(FlagIsSocket))

	if err = c.apply(h); err != nil {
		h.CloseWithResult(true)
		return nil, err
	}
	return h, nil
}

func (c *Config) apply(h *Handle) error {
	if c.DualMode {
		if err := setIPv6Only(h.fd, h.family, false); err != nil {
			return os.NewSyscallError("setsockopt(IPV6_V6ONLY)", err)
		}
		if h.family == syscall.AF_INET6 {
			h.setFlag(FlagDualMode, true)
		}
	}

	if c.FastOpen && h.sotype == syscall.SOCK_STREAM {
		if err := setTFODialer(uintptr(h.fd)); err != nil {
			return wrapSyscallError("setsockopt("+tfoDialerSockoptName+")", err)
		}
		h.setFlag(FlagFastOpen, true)
	}

	h.setFlag(FlagPreferInlineCompletions, c.PreferInlineCompletions)

	for _, t := range []struct {
		d   time.Duration
		set func(time.Duration) error
	}{
		{c.ReceiveTimeout, h.SetReceiveTimeout},
		{c.SendTimeout, h.SetSendTimeout},
	} {
		if t.d == 0 {
			continue
		}
		if err := t.set(t.d); err != nil {
			return err
		}
	}

	if c.NonBlocking {
		if err := h.SetNonBlocking(true); err != nil {
			return err
		}
	}

	if c.Control != nil {
		if err := c.Control(h.Fd()); err != nil {
			return err
		}
	}
	return nil
}

// wrapSyscallError takes an error and a syscall name. If the error is
// a syscall.Errno, it wraps it in a os.SyscallError using the syscall name.
func wrapSyscallError(name string, err error) error {
	if _, ok := err.(syscall.Errno); ok {
		err = os.NewSyscallError(name, err)
	}
	return err
}
