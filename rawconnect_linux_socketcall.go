//go:build linux && (386 || s390x)

package sockfd

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// rawConnect is unavailable without socketcall(2) plumbing. Callers fall back to shutdown.
func rawConnect(_ int, _ unsafe.Pointer, _ uintptr) error {
	return unix.ENOSYS
}
