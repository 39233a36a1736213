package sockfd

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/database64128/sockfd-go/netpoll"
)

// ReadinessContext binds a descriptor to the process-wide readiness notifier and
// tracks the descriptor's actual OS-level blocking mode.
//
// Constructing a ReadinessContext has no side effects. The descriptor is registered
// with the notifier on the first wait.
type ReadinessContext struct {
	fd int

	// modeMu serializes the blocking to non-blocking transition.
	modeMu      sync.Mutex
	nonBlocking atomic.Bool

	regMu   sync.Mutex
	desc    *netpoll.Desc
	aborted bool
}

func newReadinessContext(fd int, nonBlocking bool) *ReadinessContext {
	rc := &ReadinessContext{fd: fd}
	rc.nonBlocking.Store(nonBlocking)
	return rc
}

// IsUnderlyingBlocking reports whether the descriptor is in blocking mode at the OS level.
func (rc *ReadinessContext) IsUnderlyingBlocking() bool {
	return !rc.nonBlocking.Load()
}

// SetNonBlocking puts the descriptor into non-blocking mode at the OS level.
// The transition is one-way: nothing in this package switches it back while the
// descriptor is in use.
func (rc *ReadinessContext) SetNonBlocking() error {
	if rc.nonBlocking.Load() {
		return nil
	}
	rc.modeMu.Lock()
	defer rc.modeMu.Unlock()
	if rc.nonBlocking.Load() {
		return nil
	}
	if err := setNonblockFunc(rc.fd, true); err != nil {
		return wrapSyscallError("fcntl", err)
	}
	rc.nonBlocking.Store(true)
	return nil
}

// register returns the notifier registration, creating it on first use.
func (rc *ReadinessContext) register() (*netpoll.Desc, error) {
	rc.regMu.Lock()
	defer rc.regMu.Unlock()
	if rc.aborted {
		return nil, ErrClosed
	}
	if rc.desc != nil {
		return rc.desc, nil
	}
	if err := rc.SetNonBlocking(); err != nil {
		return nil, err
	}
	p, err := netpoll.Default()
	if err != nil {
		return nil, err
	}
	d, err := p.Register(rc.fd)
	if err != nil {
		return nil, err
	}
	rc.desc = d
	return d, nil
}

// RawRead calls f until it reports done, waiting for the descriptor to become readable
// whenever f reports not done. timeout bounds the whole call; NoTimeout waits forever.
//
// It returns os.ErrDeadlineExceeded on timeout, ctx.Err() when ctx is done, and
// ErrClosed once the context has been aborted.
func (rc *ReadinessContext) RawRead(ctx context.Context, timeout time.Duration, f func(fd int) (done bool)) error {
	return rc.raw(ctx, netpoll.ModeRead, timeout, f)
}

// RawWrite is like RawRead, but waits for the descriptor to become writable.
func (rc *ReadinessContext) RawWrite(ctx context.Context, timeout time.Duration, f func(fd int) (done bool)) error {
	return rc.raw(ctx, netpoll.ModeWrite, timeout, f)
}

func (rc *ReadinessContext) raw(ctx context.Context, mode netpoll.Mode, timeout time.Duration, f func(fd int) bool) error {
	d, err := rc.register()
	if err != nil {
		return err
	}

	var deadline time.Time
	if timeout != NoTimeout {
		deadline = time.Now().Add(timeout)
	}

	for {
		seq := d.Seq(mode)
		if f(rc.fd) {
			return nil
		}
		if err := d.Wait(ctx, mode, seq, deadline); err != nil {
			if errors.Is(err, netpoll.ErrClosing) {
				return ErrClosed
			}
			return err
		}
	}
}

// Abort deregisters the descriptor from the notifier and wakes every waiter with
// ErrClosed. Once Abort returns, no further readiness notification is delivered.
func (rc *ReadinessContext) Abort() error {
	rc.regMu.Lock()
	defer rc.regMu.Unlock()
	rc.aborted = true
	if rc.desc == nil {
		return nil
	}
	return rc.desc.Close()
}
