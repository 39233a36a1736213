//go:build !darwin && !freebsd && !linux

package netpoll

func newBackend() (backend, error) {
	return nil, ErrPlatformUnsupported
}
