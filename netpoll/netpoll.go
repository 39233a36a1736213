// Package netpoll is a process-wide readiness notifier for raw socket descriptors.
//
// Descriptors are registered edge-triggered for both directions. Every edge bumps a
// per-direction sequence number and wakes the goroutines parked on that direction.
// Callers snapshot the sequence number before attempting a non-blocking syscall and
// pass it to [Desc.Wait] after EAGAIN, so an edge that fires between the attempt and
// the wait is never lost.
package netpoll

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/containerd/log"
	"github.com/eapache/queue"
)

var (
	// ErrClosing is returned by [Desc.Wait] once the descriptor has been deregistered.
	ErrClosing = errors.New("netpoll: descriptor is being closed")

	ErrPlatformUnsupported = errors.New("netpoll: platform is not supported")
)

// Mode selects the readiness direction.
type Mode uint8

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return "unknown"
	}
}

// event is one readiness notification decoded by a backend.
type event struct {
	fd    int
	read  bool
	write bool
}

type backend interface {
	add(fd int) error
	del(fd int) error
	// wait blocks until at least one event is available.
	wait(events []event) (int, error)
}

// Poller dispatches readiness events from the platform multiplexer to registered descriptors.
type Poller struct {
	be backend

	mu    sync.RWMutex
	descs map[int]*Desc
}

var (
	defaultOnce   sync.Once
	defaultPoller *Poller
	defaultErr    error
)

// Default returns the process-wide poller, starting it on first use.
func Default() (*Poller, error) {
	defaultOnce.Do(func() {
		defaultPoller, defaultErr = newPoller()
	})
	return defaultPoller, defaultErr
}

func newPoller() (*Poller, error) {
	be, err := newBackend() // netpoll_linux.go, netpoll_kqueue.go, netpoll_stub.go
	if err != nil {
		return nil, err
	}
	p := &Poller{
		be:    be,
		descs: make(map[int]*Desc),
	}
	go p.run()
	return p, nil
}

func (p *Poller) run() {
	const maxEvents = 128
	events := make([]event, maxEvents)
	for {
		n, err := p.be.wait(events)
		if err != nil {
			log.L.WithError(err).Error("netpoll: wait failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}
		for _, ev := range events[:n] {
			p.mu.RLock()
			d := p.descs[ev.fd]
			p.mu.RUnlock()
			if d == nil {
				continue
			}
			if ev.read {
				d.notify(ModeRead)
			}
			if ev.write {
				d.notify(ModeWrite)
			}
		}
	}
}

// Register starts watching fd. The descriptor must already be in non-blocking mode.
func (p *Poller) Register(fd int) (*Desc, error) {
	d := &Desc{fd: fd, p: p}
	for i := range d.waiters {
		d.waiters[i] = queue.New()
	}

	p.mu.Lock()
	p.descs[fd] = d
	p.mu.Unlock()

	if err := p.be.add(fd); err != nil {
		p.mu.Lock()
		if p.descs[fd] == d {
			delete(p.descs, fd)
		}
		p.mu.Unlock()
		return nil, err
	}
	return d, nil
}

// Desc is the registration of one descriptor with a [Poller].
type Desc struct {
	fd int
	p  *Poller

	mu      sync.Mutex
	closed  bool
	seq     [2]uint64
	waiters [2]*queue.Queue // of chan struct{}
}

// Seq returns the current readiness sequence number for mode.
func (d *Desc) Seq(mode Mode) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq[mode]
}

// Wait parks the caller until the sequence number for mode moves past seq,
// the deadline passes, ctx is done, or the descriptor is closed.
// A zero deadline means no deadline.
func (d *Desc) Wait(ctx context.Context, mode Mode, seq uint64, deadline time.Time) error {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		dur := time.Until(deadline)
		if dur <= 0 {
			return os.ErrDeadlineExceeded
		}
		t := time.NewTimer(dur)
		defer t.Stop()
		timeout = t.C
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosing
	}
	if d.seq[mode] != seq {
		d.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	d.waiters[mode].Add(ch)
	d.mu.Unlock()

	select {
	case <-ch:
	case <-timeout:
		d.abandon(mode, ch)
		return os.ErrDeadlineExceeded
	case <-ctx.Done():
		d.abandon(mode, ch)
		return ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosing
	}
	return nil
}

// abandon removes ch from the waiters of mode, unless an edge or Close already woke it.
func (d *Desc) abandon(mode Mode, ch chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.waiters[mode]
	for n := q.Length(); n > 0; n-- {
		w := q.Remove().(chan struct{})
		if w != ch {
			q.Add(w)
		}
	}
}

// waiting returns the number of goroutines parked on mode.
func (d *Desc) waiting(mode Mode) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waiters[mode].Length()
}

func (d *Desc) notify(mode Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.seq[mode]++
	wakeAll(d.waiters[mode])
}

func wakeAll(q *queue.Queue) {
	for q.Length() > 0 {
		close(q.Remove().(chan struct{}))
	}
}

// Close deregisters the descriptor and aborts every parked waiter with [ErrClosing].
// Once Close returns no further readiness notification is delivered for the descriptor.
// Close must be called before the descriptor itself is closed.
func (d *Desc) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, q := range d.waiters {
		wakeAll(q)
	}
	d.mu.Unlock()

	d.p.mu.Lock()
	if d.p.descs[d.fd] == d {
		delete(d.p.descs, d.fd)
	}
	d.p.mu.Unlock()

	return d.p.be.del(d.fd)
}

// Closed reports whether Close has been called.
func (d *Desc) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
