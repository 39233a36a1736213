//go:build darwin || freebsd || linux

package sockfd

import (
	"strconv"
	"testing"

	"golang.org/x/sys/unix"
)

// fakeFd is never a real descriptor: every syscall on it goes through fakeSyscalls.
const fakeFd = 1 << 20

// fakeSyscalls replaces the close and unblock path syscalls and records every call.
// The close protocol runs on the caller's goroutine, so no locking is needed.
type fakeSyscalls struct {
	calls []string

	closeErrs     []error
	nonblockErr   error
	lingerErr     error
	fdFlags       int
	fdFlagsErr    error
	sotype        int
	sotypeErr     error
	disconnectErr error
	shutdownErr   error

	// onUnblock runs after a disconnect or shutdown call.
	onUnblock func()
}

func (f *fakeSyscalls) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeSyscalls) Calls() []string {
	return f.calls
}

func (f *fakeSyscalls) install(t *testing.T) {
	t.Helper()
	oldClose, oldNonblock, oldLinger := closeFunc, setNonblockFunc, setLingerFunc
	oldFdFlags, oldSotype, oldDisconnect, oldShutdown := fdFlagsFunc, socketTypeFunc, disconnectFunc, shutdownFunc
	t.Cleanup(func() {
		closeFunc, setNonblockFunc, setLingerFunc = oldClose, oldNonblock, oldLinger
		fdFlagsFunc, socketTypeFunc, disconnectFunc, shutdownFunc = oldFdFlags, oldSotype, oldDisconnect, oldShutdown
	})

	closeFunc = func(fd int) error {
		f.record("close")
		if len(f.closeErrs) == 0 {
			return nil
		}
		err := f.closeErrs[0]
		f.closeErrs = f.closeErrs[1:]
		return err
	}
	setNonblockFunc = func(fd int, nonblocking bool) error {
		f.record("setnonblock(" + strconv.FormatBool(nonblocking) + ")")
		return f.nonblockErr
	}
	setLingerFunc = func(fd, level, opt int, l *unix.Linger) error {
		if level != unix.SOL_SOCKET || opt != unix.SO_LINGER || l.Onoff != 1 || l.Linger != 0 {
			f.record("linger(unexpected)")
		} else {
			f.record("linger")
		}
		return f.lingerErr
	}
	fdFlagsFunc = func(fd int) (int, error) {
		f.record("getfd")
		return f.fdFlags, f.fdFlagsErr
	}
	socketTypeFunc = func(fd int) (int, error) {
		f.record("sotype")
		return f.sotype, f.sotypeErr
	}
	disconnectFunc = func(fd int) error {
		f.record("disconnect")
		if f.onUnblock != nil {
			f.onUnblock()
		}
		return f.disconnectErr
	}
	shutdownFunc = func(fd, how int) error {
		if how != unix.SHUT_RDWR {
			f.record("shutdown(unexpected)")
		} else {
			f.record("shutdown")
		}
		if f.onUnblock != nil {
			f.onUnblock()
		}
		return f.shutdownErr
	}
}

// newFakeHandle returns a handle on fakeFd. Install fakeSyscalls before closing it.
func newFakeHandle(sotype int, ownsHandle bool) *Handle {
	h := newHandle(fakeFd, unix.AF_INET, sotype, ownsHandle, false)
	if sotype != 0 {
		h.setFlag(FlagIsSocket, true)
	}
	return h
}
