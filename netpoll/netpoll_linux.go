package netpoll

import (
	"os"

	"golang.org/x/sys/unix"
)

type epollBackend struct {
	epfd int
	raw  []unix.EpollEvent
}

func newBackend() (backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epollBackend{epfd: epfd}, nil
}

func (b *epollBackend) add(fd int) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

func (b *epollBackend) del(fd int) error {
	switch err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil); err {
	case nil, unix.ENOENT, unix.EBADF:
		return nil
	default:
		return os.NewSyscallError("epoll_ctl", err)
	}
}

func (b *epollBackend) wait(events []event) (int, error) {
	if len(b.raw) < len(events) {
		b.raw = make([]unix.EpollEvent, len(events))
	}
	n, err := unix.EpollWait(b.epfd, b.raw[:len(events)], -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}
	for i, ev := range b.raw[:n] {
		failed := ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
		events[i] = event{
			fd:    int(ev.Fd),
			read:  failed || ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLPRI) != 0,
			write: failed || ev.Events&unix.EPOLLOUT != 0,
		}
	}
	return n, nil
}
