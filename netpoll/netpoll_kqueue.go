//go:build darwin || freebsd

package netpoll

import (
	"os"

	"golang.org/x/sys/unix"
)

type kqueueBackend struct {
	kq  int
	raw []unix.Kevent_t
}

func newBackend() (backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(kq)
	return &kqueueBackend{kq: kq}, nil
}

func (b *kqueueBackend) add(fd int) error {
	var changes [2]unix.Kevent_t
	unix.SetKevent(&changes[0], fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR)
	unix.SetKevent(&changes[1], fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_CLEAR)
	if _, err := unix.Kevent(b.kq, changes[:], nil, nil); err != nil {
		return os.NewSyscallError("kevent", err)
	}
	return nil
}

func (b *kqueueBackend) del(fd int) error {
	var changes [2]unix.Kevent_t
	unix.SetKevent(&changes[0], fd, unix.EVFILT_READ, unix.EV_DELETE)
	unix.SetKevent(&changes[1], fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	switch _, err := unix.Kevent(b.kq, changes[:], nil, nil); err {
	case nil, unix.ENOENT, unix.EBADF:
		return nil
	default:
		return os.NewSyscallError("kevent", err)
	}
}

func (b *kqueueBackend) wait(events []event) (int, error) {
	if len(b.raw) < len(events) {
		b.raw = make([]unix.Kevent_t, len(events))
	}
	n, err := unix.Kevent(b.kq, nil, b.raw[:len(events)], nil)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("kevent", err)
	}
	for i, ev := range b.raw[:n] {
		failed := ev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0
		events[i] = event{
			fd:    int(ev.Ident),
			read:  failed || ev.Filter == unix.EVFILT_READ,
			write: failed || ev.Filter == unix.EVFILT_WRITE,
		}
	}
	return n, nil
}
