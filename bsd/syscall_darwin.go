// Package bsd wraps Darwin socket syscalls missing from golang.org/x/sys/unix.
package bsd

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Do the interface allocations only once for common
// Errno values.
var (
	errEAGAIN error = syscall.EAGAIN
	errEINVAL error = syscall.EINVAL
	errENOENT error = syscall.ENOENT
)

// errnoErr returns common boxed Errno values, to prevent
// allocations at runtime.
func errnoErr(e syscall.Errno) error {
	switch e {
	case 0:
		return nil
	case unix.EAGAIN:
		return errEAGAIN
	case unix.EINVAL:
		return errEINVAL
	case unix.ENOENT:
		return errENOENT
	}
	return e
}

const (
	SAE_ASSOCID_ANY = 0
	SAE_CONNID_ANY  = 0
)

// Disconnectx disconnects the given association and connection of socket s.
// Pass SAE_ASSOCID_ANY and SAE_CONNID_ANY to disconnect everything.
func Disconnectx(s int, associd, connid uint) error {
	_, _, e1 := unix.Syscall(unix.SYS_DISCONNECTX, uintptr(s), uintptr(associd), uintptr(connid))
	return errnoErr(e1)
}
