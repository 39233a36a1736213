package sockfd

import (
	"errors"
	"os"
	"syscall"
)

// Code is the classified outcome of a close-path syscall.
type Code uint8

const (
	CodeSuccess Code = iota
	CodeWouldBlock
	CodeConnectionReset
	CodeInvalidArgument
	CodeProtocolOptionNotSupported
	CodeNotASocket
	CodeOther
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeWouldBlock:
		return "would_block"
	case CodeConnectionReset:
		return "connection_reset"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeProtocolOptionNotSupported:
		return "protocol_option_not_supported"
	case CodeNotASocket:
		return "not_a_socket"
	default:
		return "other"
	}
}

// optionDidNotApply reports whether c means a socket option could not be applied,
// which leaves the descriptor safe to close anyway.
func (c Code) optionDidNotApply() bool {
	switch c {
	case CodeSuccess, CodeInvalidArgument, CodeProtocolOptionNotSupported, CodeNotASocket:
		return true
	default:
		return false
	}
}

// Result is the classified outcome of one syscall on the close path.
type Result struct {
	// Op names the syscall, e.g. "close" or "setsockopt(SO_LINGER)".
	Op string

	Code Code

	// Errno is the raw error number. It is zero for CodeSuccess.
	Errno syscall.Errno

	// Remapped is true when close reported ECONNRESET and the result was turned into success.
	Remapped bool

	// Deferred is true when operations were still in flight at disposal. The descriptor
	// is closed by the last of them, and Code is CodeSuccess.
	Deferred bool

	cause error
}

// Err returns nil on success and an *os.SyscallError otherwise.
func (r Result) Err() error {
	if r.Code == CodeSuccess {
		return nil
	}
	if r.cause != nil {
		return os.NewSyscallError(r.Op, r.cause)
	}
	return os.NewSyscallError(r.Op, r.Errno)
}

func (r Result) String() string {
	if r.Code == CodeSuccess {
		return r.Op + ": " + r.Code.String()
	}
	return r.Err().Error()
}

// classify maps the error returned by the syscall named op.
func classify(op string, err error) Result {
	if err == nil {
		return Result{Op: op, Code: CodeSuccess}
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return Result{Op: op, Code: CodeOther, cause: err}
	}
	r := Result{Op: op, Errno: errno}
	switch errno {
	case 0:
		r.Code = CodeSuccess
	case syscall.EAGAIN:
		r.Code = CodeWouldBlock
	case syscall.ECONNRESET:
		r.Code = CodeConnectionReset
	case syscall.EINVAL:
		r.Code = CodeInvalidArgument
	case syscall.ENOPROTOOPT:
		r.Code = CodeProtocolOptionNotSupported
	case syscall.ENOTSOCK:
		r.Code = CodeNotASocket
	default:
		if errno == errEWOULDBLOCK {
			r.Code = CodeWouldBlock
		} else {
			r.Code = CodeOther
		}
	}
	return r
}

// classifyClose maps the error returned by close(2).
//
// Some platforms (FreeBSD, macOS) return ECONNRESET from close when the peer reset the
// connection with unread data pending. The descriptor is released regardless, so the
// result is success.
func classifyClose(err error) Result {
	r := classify("close", err)
	if r.Code == CodeConnectionReset {
		return Result{Op: r.Op, Code: CodeSuccess, Remapped: true}
	}
	return r
}
