//go:build !darwin && !freebsd && !linux

package sockfd

import (
	"context"
	"net/netip"
	"syscall"
	"time"
)

const errEWOULDBLOCK = syscall.EAGAIN

const (
	sockoptRcvTimeo = 0
	sockoptSndTimeo = 1
)

const tfoDialerSockoptName = "TCP_FASTOPEN"

func setNonblockFunc(_ int, _ bool) error {
	return ErrPlatformUnsupported
}

func sysSocket(_, _, _ int) (int, error) {
	return -1, ErrPlatformUnsupported
}

// NewHandle adopts an existing descriptor.
// It always returns ErrPlatformUnsupported on this platform.
func NewHandle(_ int, _ bool) (*Handle, error) {
	return nil, ErrPlatformUnsupported
}

func (h *Handle) closeDescriptor(_ bool) Result {
	return Result{Op: "close", Code: CodeOther, cause: ErrPlatformUnsupported}
}

func (h *Handle) tryUnblock(_ bool) bool {
	return false
}

func setTimeoutSockopt(_, _ int, _ time.Duration) error {
	return ErrPlatformUnsupported
}

func setIPv6Only(_, _ int, _ bool) error {
	return ErrPlatformUnsupported
}

func setTFODialer(_ uintptr) error {
	return ErrPlatformUnsupported
}

func (h *Handle) Read(_ []byte) (int, error) {
	return 0, ErrPlatformUnsupported
}

func (h *Handle) ReadContext(_ context.Context, _ []byte) (int, error) {
	return 0, ErrPlatformUnsupported
}

func (h *Handle) Write(_ []byte) (int, error) {
	return 0, ErrPlatformUnsupported
}

func (h *Handle) WriteContext(_ context.Context, _ []byte) (int, error) {
	return 0, ErrPlatformUnsupported
}

func (h *Handle) Bind(_ netip.AddrPort) error {
	return ErrPlatformUnsupported
}

func (h *Handle) Connect(_ context.Context, _ netip.AddrPort) error {
	return ErrPlatformUnsupported
}

func (h *Handle) Shutdown(_ int) error {
	return ErrPlatformUnsupported
}

func (h *Handle) SetLinger(_ int) error {
	return ErrPlatformUnsupported
}

func (h *Handle) LocalAddr() (netip.AddrPort, error) {
	return netip.AddrPort{}, ErrPlatformUnsupported
}
