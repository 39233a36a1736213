//go:build darwin || freebsd || linux

package sockfd

import (
	"github.com/containerd/log"
	"golang.org/x/sys/unix"
)

func (h *Handle) tryUnblock(abortive bool) bool {
	if !h.ownsHandle {
		return false
	}

	if !abortive {
		flags, err := fdFlagsFunc(h.fd)
		if err != nil || flags&unix.FD_CLOEXEC == 0 {
			return false
		}
	}

	sotype, err := socketTypeFunc(h.fd)
	if err != nil {
		log.L.WithError(err).WithField("fd", h.fd).Debug("sockfd: unblock: getsockopt(SO_TYPE) failed")
		return false
	}

	l := log.L.WithFields(log.Fields{"fd": h.fd, "abortive": abortive})
	if sotype == unix.SOCK_STREAM && !h.hasShutdownSend.Load() {
		if err = disconnectFunc(h.fd); err != nil {
			l.WithError(err).Debug("sockfd: unblock: disconnect failed")
		} else {
			h.setFlag(FlagDisconnected, true)
		}
		observeUnblock(unblockDisconnect)
		return true
	}

	if err = shutdownFunc(h.fd, unix.SHUT_RDWR); err != nil {
		l.WithError(err).Debug("sockfd: unblock: shutdown failed")
	}
	observeUnblock(unblockShutdown)
	return true
}
