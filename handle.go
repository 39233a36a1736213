package sockfd

import (
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/containerd/log"
)

const (
	stateOpen uint32 = iota
	stateClosing
	stateClosed
)

// Handle owns one native socket descriptor.
//
// Flags and timeouts may be read concurrently. Mutators must not race with each
// other on the same handle; only the readiness context is safe to create from any
// goroutine. Close, Abort, and CloseWithResult may be called from any goroutine,
// and only the first call runs the close protocol.
type Handle struct {
	fd         int
	family     int
	sotype     int
	ownsHandle bool

	flags atomic.Uint32

	// nbMu guards nonBlocking, the one flag whose setter issues a syscall.
	nbMu        sync.Mutex
	nonBlocking bool

	// createdNonBlocking is the OS mode at construction, used until the
	// readiness context exists.
	createdNonBlocking bool

	receiveTimeout  atomic.Int64
	sendTimeout     atomic.Int64
	hasShutdownSend atomic.Bool

	readiness atomic.Pointer[ReadinessContext]

	state atomic.Uint32
	refs  atomic.Int32

	// Written by dispose while it holds a reference, so before destroy can run.
	abortive   atomic.Bool
	closeStart time.Time

	destroyed atomic.Bool
	done      chan struct{} // closed by destroy
	result    Result        // valid once done is closed
}

func newHandle(fd, family, sotype int, ownsHandle, nonBlocking bool) *Handle {
	h := &Handle{
		fd:                 fd,
		family:             family,
		sotype:             sotype,
		ownsHandle:         ownsHandle,
		createdNonBlocking: nonBlocking,
		done:               make(chan struct{}),
	}
	h.receiveTimeout.Store(int64(NoTimeout))
	h.sendTimeout.Store(int64(NoTimeout))
	if ownsHandle {
		liveHandles.Inc()
		runtime.SetFinalizer(h, (*Handle).finalize)
	}
	return h
}

// OwnsHandle reports whether closing h closes the descriptor.
func (h *Handle) OwnsHandle() bool {
	return h.ownsHandle
}

// Family returns the address family, or 0 if unknown.
func (h *Handle) Family() int {
	return h.family
}

// Type returns the socket type, or 0 if the descriptor is not a socket.
func (h *Handle) Type() int {
	return h.sotype
}

// Fd returns the raw descriptor. The handle is marked as exposed: the caller may
// configure the descriptor in ways this package does not track.
func (h *Handle) Fd() uintptr {
	h.setFlag(FlagExposed, true)
	return uintptr(h.fd)
}

// Flags returns the current flag set.
func (h *Handle) Flags() Flag {
	return Flag(h.flags.Load())
}

// HasFlag reports whether every flag in f is set.
func (h *Handle) HasFlag(f Flag) bool {
	return Flag(h.flags.Load())&f == f
}

func (h *Handle) setFlag(f Flag, v bool) {
	if v {
		h.flags.Or(uint32(f))
	} else {
		h.flags.And(^uint32(f))
	}
}

// SetPreferInlineCompletions records whether operation implementations should
// complete readiness-driven work inline.
func (h *Handle) SetPreferInlineCompletions(v bool) {
	h.setFlag(FlagPreferInlineCompletions, v)
}

// IsNonBlocking reports the mode the caller asked for.
func (h *Handle) IsNonBlocking() bool {
	h.nbMu.Lock()
	defer h.nbMu.Unlock()
	return h.nonBlocking
}

// SetNonBlocking records the requested mode.
//
// Switching to non-blocking puts the descriptor into non-blocking mode at the OS level
// if it is not already. Switching back to blocking issues no syscall: the descriptor
// stays non-blocking and blocking operations wait on readiness notifications instead.
func (h *Handle) SetNonBlocking(nonBlocking bool) error {
	if h.state.Load() != stateOpen {
		return ErrClosed
	}
	h.nbMu.Lock()
	defer h.nbMu.Unlock()
	if nonBlocking {
		if err := h.ReadinessContext().SetNonBlocking(); err != nil {
			return err
		}
	}
	h.nonBlocking = nonBlocking
	return nil
}

// IsUnderlyingBlocking reports whether the descriptor is in blocking mode at the OS level.
func (h *Handle) IsUnderlyingBlocking() bool {
	if rc := h.readiness.Load(); rc != nil {
		return rc.IsUnderlyingBlocking()
	}
	return !h.createdNonBlocking
}

// ReadinessContext returns the handle's readiness context, creating it on first use.
// Concurrent first calls all return the same instance.
func (h *Handle) ReadinessContext() *ReadinessContext {
	if rc := h.readiness.Load(); rc != nil {
		return rc
	}
	candidate := newReadinessContext(h.fd, h.createdNonBlocking)
	if h.readiness.CompareAndSwap(nil, candidate) {
		return candidate
	}
	return h.readiness.Load()
}

// ReceiveTimeout returns the receive timeout, or NoTimeout.
func (h *Handle) ReceiveTimeout() time.Duration {
	return time.Duration(h.receiveTimeout.Load())
}

// SendTimeout returns the send timeout, or NoTimeout.
func (h *Handle) SendTimeout() time.Duration {
	return time.Duration(h.sendTimeout.Load())
}

// SetReceiveTimeout sets the timeout for blocking receives. d must be NoTimeout or positive.
//
// While the descriptor is still blocking at the OS level, the timeout is also applied
// as SO_RCVTIMEO.
func (h *Handle) SetReceiveTimeout(d time.Duration) error {
	return h.setTimeout(&h.receiveTimeout, sockoptRcvTimeo, d)
}

// SetSendTimeout sets the timeout for blocking sends. d must be NoTimeout or positive.
//
// While the descriptor is still blocking at the OS level, the timeout is also applied
// as SO_SNDTIMEO.
func (h *Handle) SetSendTimeout(d time.Duration) error {
	return h.setTimeout(&h.sendTimeout, sockoptSndTimeo, d)
}

func (h *Handle) setTimeout(v *atomic.Int64, opt int, d time.Duration) error {
	if d != NoTimeout && d <= 0 {
		return ErrInvalidTimeout
	}
	if h.state.Load() != stateOpen {
		return ErrClosed
	}
	if h.HasFlag(FlagIsSocket) && h.IsUnderlyingBlocking() {
		if err := setTimeoutSockopt(h.fd, opt, d); err != nil {
			return err
		}
	}
	v.Store(int64(d))
	return nil
}

// MarkShutdownSend records that the caller gracefully shut down the send direction.
// An unblock attempt then shuts the socket down instead of forcing a disconnect,
// preserving the FIN the peer may already be waiting for.
func (h *Handle) MarkShutdownSend() {
	h.hasShutdownSend.Store(true)
}

// HasShutdownSend reports whether the send direction was shut down.
func (h *Handle) HasShutdownSend() bool {
	return h.hasShutdownSend.Load()
}

// Closed reports whether the close protocol has started.
func (h *Handle) Closed() bool {
	return h.state.Load() != stateOpen
}

// acquire pins the descriptor for an in-flight operation.
func (h *Handle) acquire() error {
	h.refs.Add(1)
	if h.state.Load() != stateOpen {
		h.release()
		return ErrClosed
	}
	return nil
}

// release unpins the descriptor. The last release after disposal started closes it.
func (h *Handle) release() {
	if h.refs.Add(-1) == 0 && h.state.Load() != stateOpen {
		h.destroy()
	}
}

// Close disposes the handle gracefully.
// It returns ErrClosed if the handle was already closed.
func (h *Handle) Close() error {
	r, ok := h.dispose(false)
	if !ok {
		return ErrClosed
	}
	return r.Err()
}

// Abort disposes the handle with an abortive close, resetting the connection.
// It returns ErrClosed if the handle was already closed.
func (h *Handle) Abort() error {
	r, ok := h.dispose(true)
	if !ok {
		return ErrClosed
	}
	return r.Err()
}

// CloseWithResult disposes the handle and returns the classified outcome of the close
// protocol. Calls after the first return an EBADF result without touching the descriptor.
//
// If operations are still in flight once disposal gives up waiting, the result is
// marked Deferred and the descriptor is closed when the last of them returns.
func (h *Handle) CloseWithResult(abortive bool) Result {
	r, ok := h.dispose(abortive)
	if !ok {
		return Result{Op: "close", Code: CodeOther, Errno: syscall.EBADF}
	}
	return r
}

func (h *Handle) finalize() {
	h.dispose(true)
}

// drainTimeout bounds how long disposal waits for operations it unblocked to return.
var drainTimeout = time.Second

// dispose runs the disposal sequence once. ok is false for every call but the first.
//
// Operations still in flight are unblocked at most once. If they do not return within
// drainTimeout, or nothing could unblock them, the descriptor is closed by the last of
// them and the returned result is marked Deferred.
func (h *Handle) dispose(abortive bool) (r Result, ok bool) {
	// The pin keeps in-flight operations from destroying the descriptor before
	// disposal has settled the close semantics.
	h.refs.Add(1)
	if !h.state.CompareAndSwap(stateOpen, stateClosing) {
		h.release()
		return Result{}, false
	}
	runtime.SetFinalizer(h, nil)
	h.closeStart = time.Now()

	if rc := h.readiness.Load(); rc != nil {
		if err := rc.Abort(); err != nil {
			log.L.WithError(err).WithField("fd", h.fd).Debug("sockfd: failed to deregister descriptor")
		}
	}

	var canceled bool
	if h.ownsHandle && h.refs.Load() > 1 {
		canceled = h.tryUnblock(abortive)
	}
	if canceled && !h.hasShutdownSend.Load() {
		abortive = true
	}
	h.abortive.Store(abortive)
	h.release()

	if canceled {
		t := time.NewTimer(drainTimeout)
		defer t.Stop()
		select {
		case <-h.done:
		case <-t.C:
		}
	}

	select {
	case <-h.done:
		return h.result, true
	default:
		log.L.WithFields(log.Fields{
			"fd":       h.fd,
			"abortive": abortive,
			"refs":     h.refs.Load(),
		}).Debug("sockfd: close deferred to the last in-flight operation")
		return Result{Op: "close", Code: CodeSuccess, Deferred: true}, true
	}
}

// destroy runs the close protocol once no operation holds the descriptor.
func (h *Handle) destroy() {
	if !h.destroyed.CompareAndSwap(false, true) {
		return
	}
	abortive := h.abortive.Load()

	var r Result
	if h.ownsHandle {
		r = h.closeDescriptor(abortive) // close_unix.go, sockfd_stub.go
		observeClose(abortive, r, time.Since(h.closeStart))
		liveHandles.Dec()
	} else {
		r = Result{Op: "close", Code: CodeSuccess}
	}
	h.result = r
	h.state.Store(stateClosed)
	close(h.done)

	log.L.WithFields(log.Fields{
		"fd":       h.fd,
		"abortive": abortive,
		"result":   r.Code,
		"remapped": r.Remapped,
	}).Debug("sockfd: closed handle")
}

// TryUnblock makes operations blocked on the descriptor in other goroutines return
// promptly, by forcing a disconnect on connected stream sockets or shutting down
// everything else. It is best-effort and reports whether an unblocking call was made.
//
// Nothing is done for descriptors the handle does not own, once disposal has started, and,
// unless abortive is true, for descriptors without close-on-exec, which may be shared
// with other processes.
func (h *Handle) TryUnblock(abortive bool) bool {
	if h.state.Load() != stateOpen {
		return false
	}
	return h.tryUnblock(abortive) // unblock_unix.go, sockfd_stub.go
}
