//go:build darwin || freebsd || linux

package sockfd

import "golang.org/x/sys/unix"

// abortiveLinger makes close send RST and discard unsent data.
var abortiveLinger = unix.Linger{Onoff: 1, Linger: 0}

// closeDescriptor closes the descriptor, honoring the requested close semantics
// without blocking indefinitely. Each branch issues a fixed number of syscalls,
// and close is never retried on a descriptor it already released.
func (h *Handle) closeDescriptor(abortive bool) Result {
	if !h.HasFlag(FlagIsSocket) {
		return classifyClose(closeFunc(h.fd))
	}

	if !abortive {
		r := classifyClose(closeFunc(h.fd))
		if r.Code != CodeWouldBlock {
			return r
		}

		// close would block: the socket is non-blocking and has a linger timeout.
		// Honor the timeout by closing again in blocking mode.
		if err := setNonblockFunc(h.fd, false); err == nil {
			return classifyClose(closeFunc(h.fd))
		}
	}

	r := classify("setsockopt(SO_LINGER)", setLingerFunc(h.fd, unix.SOL_SOCKET, unix.SO_LINGER, &abortiveLinger))
	if !r.Code.optionDidNotApply() {
		// Closing with the previous linger setting could block.
		return r
	}
	return classifyClose(closeFunc(h.fd))
}
