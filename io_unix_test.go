//go:build darwin || freebsd || linux

package sockfd

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"os"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/poll"
)

func listenLoopback(t *testing.T) (*net.TCPListener, netip.AddrPort) {
	t.Helper()
	ln, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	assert.NilError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).AddrPort()
}

// connectedPair returns a connected handle configured by prepare and the accepted peer.
func connectedPair(t *testing.T, prepare func(h *Handle)) (*Handle, net.Conn) {
	t.Helper()
	ln, addr := listenLoopback(t)
	h := newTCPHandle(t, Config{})
	if prepare != nil {
		prepare(h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NilError(t, h.Connect(ctx, addr))
	assert.Check(t, !h.HasFlag(FlagLastConnectFailed))

	peer, err := ln.Accept()
	assert.NilError(t, err)
	t.Cleanup(func() { peer.Close() })
	return h, peer
}

// emulateBlocking leaves the descriptor non-blocking at the OS level while the handle
// reports blocking mode.
func emulateBlocking(t *testing.T) func(h *Handle) {
	return func(h *Handle) {
		assert.NilError(t, h.SetNonBlocking(true))
		assert.NilError(t, h.SetNonBlocking(false))
	}
}

func TestReadWrite(t *testing.T) {
	for _, c := range []struct {
		name    string
		prepare func(t *testing.T) func(h *Handle)
	}{
		{"Blocking", func(*testing.T) func(h *Handle) { return nil }},
		{"EmulatedBlocking", emulateBlocking},
	} {
		t.Run(c.name, func(t *testing.T) {
			h, peer := connectedPair(t, c.prepare(t))

			n, err := h.Write([]byte("ping"))
			assert.NilError(t, err)
			assert.Check(t, is.Equal(n, 4))

			buf := make([]byte, 4)
			_, err = io.ReadFull(peer, buf)
			assert.NilError(t, err)
			assert.Check(t, is.Equal(string(buf), "ping"))

			go peer.Write([]byte("pong"))
			n, err = io.ReadFull(h, buf)
			assert.NilError(t, err)
			assert.Check(t, is.Equal(string(buf[:n]), "pong"))

			assert.NilError(t, peer.Close())
			_, err = h.Read(buf)
			assert.Check(t, is.ErrorIs(err, io.EOF))
		})
	}
}

func TestReadTimeout(t *testing.T) {
	for _, c := range []struct {
		name    string
		prepare func(t *testing.T) func(h *Handle)
	}{
		{"Blocking", func(*testing.T) func(h *Handle) { return nil }},
		{"EmulatedBlocking", emulateBlocking},
	} {
		t.Run(c.name, func(t *testing.T) {
			h, _ := connectedPair(t, c.prepare(t))
			assert.NilError(t, h.SetReceiveTimeout(50*time.Millisecond))

			start := time.Now()
			_, err := h.Read(make([]byte, 1))
			assert.Check(t, is.ErrorIs(err, os.ErrDeadlineExceeded))
			assert.Check(t, time.Since(start) >= 40*time.Millisecond)
		})
	}
}

func TestReadNonBlocking(t *testing.T) {
	h, _ := connectedPair(t, func(h *Handle) {})
	assert.NilError(t, h.SetNonBlocking(true))

	_, err := h.Read(make([]byte, 1))
	assert.Check(t, is.ErrorIs(err, unix.EAGAIN))
}

func TestReadContextCanceled(t *testing.T) {
	h, _ := connectedPair(t, emulateBlocking(t))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := h.ReadContext(ctx, make([]byte, 1))
	assert.Check(t, is.ErrorIs(err, context.Canceled))
	assert.Check(t, !h.Closed())
}

func TestCloseUnblocksRead(t *testing.T) {
	for _, c := range []struct {
		name    string
		prepare func(t *testing.T) func(h *Handle)
	}{
		{"Blocking", func(*testing.T) func(h *Handle) { return nil }},
		{"EmulatedBlocking", emulateBlocking},
	} {
		t.Run(c.name, func(t *testing.T) {
			h, _ := connectedPair(t, c.prepare(t))

			errc := make(chan error, 1)
			go func() {
				_, err := h.Read(make([]byte, 1))
				errc <- err
			}()
			poll.WaitOn(t, func(poll.LogT) poll.Result {
				if h.refs.Load() > 0 {
					return poll.Success()
				}
				return poll.Continue("read not in flight")
			}, poll.WithTimeout(5*time.Second), poll.WithDelay(time.Millisecond))
			// Give the reader time to enter the syscall.
			time.Sleep(20 * time.Millisecond)

			done := make(chan error, 1)
			go func() { done <- h.Close() }()

			select {
			case err := <-errc:
				assert.Check(t, is.ErrorIs(err, ErrClosed))
			case <-time.After(5 * time.Second):
				t.Fatal("Read did not return after Close")
			}
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("Close did not return")
			}
			assert.Check(t, h.Closed())
		})
	}
}

func TestAbortResetsPeer(t *testing.T) {
	h, peer := connectedPair(t, nil)
	assert.NilError(t, h.Abort())

	assert.NilError(t, peer.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := peer.Read(make([]byte, 1))
	assert.Check(t, is.ErrorIs(err, syscall.ECONNRESET))
}

func TestGracefulCloseSendsFIN(t *testing.T) {
	h, peer := connectedPair(t, nil)
	_, err := h.Write([]byte("bye"))
	assert.NilError(t, err)
	assert.NilError(t, h.Close())

	assert.NilError(t, peer.SetReadDeadline(time.Now().Add(5*time.Second)))
	b, err := io.ReadAll(peer)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(b), "bye"))
}

func TestShutdownMarksSend(t *testing.T) {
	h, peer := connectedPair(t, nil)
	assert.NilError(t, h.Shutdown(unix.SHUT_WR))
	assert.Check(t, h.HasShutdownSend())

	assert.NilError(t, peer.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := peer.Read(make([]byte, 1))
	assert.Check(t, is.ErrorIs(err, io.EOF))
}

func TestConnectRefused(t *testing.T) {
	ln, addr := listenLoopback(t)
	ln.Close()

	for _, c := range []struct {
		name    string
		prepare func(t *testing.T) func(h *Handle)
	}{
		{"Blocking", func(*testing.T) func(h *Handle) { return nil }},
		{"EmulatedBlocking", emulateBlocking},
	} {
		t.Run(c.name, func(t *testing.T) {
			h := newTCPHandle(t, Config{})
			if prepare := c.prepare(t); prepare != nil {
				prepare(h)
			}
			err := h.Connect(context.Background(), addr)
			assert.Check(t, is.ErrorIs(err, unix.ECONNREFUSED))
			assert.Check(t, h.HasFlag(FlagLastConnectFailed))
		})
	}
}

func TestConnectNonBlocking(t *testing.T) {
	ln, addr := listenLoopback(t)
	h := newTCPHandle(t, Config{NonBlocking: true})

	err := h.Connect(context.Background(), addr)
	if err != nil {
		assert.Check(t, is.ErrorIs(err, unix.EINPROGRESS))
	}
	assert.Check(t, !h.HasFlag(FlagLastConnectFailed))

	peer, err := ln.Accept()
	assert.NilError(t, err)
	peer.Close()
}

func TestBindLocalAddr(t *testing.T) {
	h := newTCPHandle(t, Config{})
	assert.NilError(t, h.Bind(netip.MustParseAddrPort("127.0.0.1:0")))

	addr, err := h.LocalAddr()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(addr.Addr(), netip.MustParseAddr("127.0.0.1")))
	assert.Check(t, addr.Port() != 0)
}

func TestBindWrongFamily(t *testing.T) {
	h := newTCPHandle(t, Config{})
	var addrErr *net.AddrError
	assert.Check(t, errors.As(h.Bind(netip.MustParseAddrPort("[::1]:0")), &addrErr))
}

func TestOperationsAfterClose(t *testing.T) {
	h := newTCPHandle(t, Config{})
	assert.NilError(t, h.Close())

	_, err := h.Read(make([]byte, 1))
	assert.Check(t, is.ErrorIs(err, ErrClosed))
	_, err = h.Write([]byte{1})
	assert.Check(t, is.ErrorIs(err, ErrClosed))
	assert.Check(t, is.ErrorIs(h.Connect(context.Background(), netip.MustParseAddrPort("127.0.0.1:1")), ErrClosed))
	assert.Check(t, is.ErrorIs(h.Shutdown(unix.SHUT_RDWR), ErrClosed))
	assert.Check(t, is.ErrorIs(h.SetLinger(0), ErrClosed))
}

func TestCloseWithReadThatCannotBeUnblocked(t *testing.T) {
	for _, c := range []struct {
		name     string
		abortive bool
		pair     func(t *testing.T) (r, w int)
		// wake makes the blocked read return.
		wake    func(w int)
		wantErr error
	}{
		{
			name: "SocketWithoutCloexec",
			pair: func(t *testing.T) (int, int) {
				fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
				assert.NilError(t, err)
				t.Cleanup(func() { unix.Close(fds[1]) })
				return fds[0], fds[1]
			},
			wake: func(w int) { unix.Write(w, []byte{'x'}) },
		},
		{
			name:     "Pipe",
			abortive: true,
			pair: func(t *testing.T) (int, int) {
				var p [2]int
				assert.NilError(t, unix.Pipe(p[:]))
				unix.CloseOnExec(p[0])
				unix.CloseOnExec(p[1])
				return p[0], p[1]
			},
			wake:    func(w int) { unix.Close(w) },
			wantErr: ErrClosed,
		},
	} {
		t.Run(c.name, func(t *testing.T) {
			r, w := c.pair(t)

			h, err := NewHandle(r, true)
			assert.NilError(t, err)

			errc := make(chan error, 1)
			go func() {
				_, err := h.Read(make([]byte, 1))
				errc <- err
			}()
			poll.WaitOn(t, func(poll.LogT) poll.Result {
				if h.refs.Load() > 0 {
					return poll.Success()
				}
				return poll.Continue("read not in flight")
			}, poll.WithTimeout(5*time.Second), poll.WithDelay(time.Millisecond))
			time.Sleep(20 * time.Millisecond)

			done := make(chan Result, 1)
			go func() { done <- h.CloseWithResult(c.abortive) }()
			select {
			case res := <-done:
				assert.Check(t, res.Deferred)
				assert.NilError(t, res.Err())
			case <-time.After(5 * time.Second):
				t.Fatal("close blocked on an in-flight read")
			}
			assert.Check(t, is.Equal(h.state.Load(), stateClosing))

			c.wake(w)
			select {
			case err := <-errc:
				if c.wantErr != nil {
					assert.Check(t, is.ErrorIs(err, c.wantErr))
				} else {
					assert.NilError(t, err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("read did not return")
			}
			poll.WaitOn(t, func(poll.LogT) poll.Result {
				if h.state.Load() == stateClosed {
					return poll.Success()
				}
				return poll.Continue("descriptor not closed")
			}, poll.WithTimeout(5*time.Second), poll.WithDelay(time.Millisecond))
		})
	}
}

func TestConnectTimeoutBlocking(t *testing.T) {
	h := newTCPHandle(t, Config{SendTimeout: 200 * time.Millisecond})

	// TEST-NET-1 is not routed; the SYN goes unanswered where a default route exists.
	start := time.Now()
	err := h.Connect(context.Background(), netip.MustParseAddrPort("192.0.2.1:9"))
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Skipf("connect did not time out: %v", err)
	}
	assert.Check(t, time.Since(start) < 350*time.Millisecond, "took %v", time.Since(start))
	assert.Check(t, h.IsUnderlyingBlocking())
	assert.Check(t, h.HasFlag(FlagLastConnectFailed))
}
