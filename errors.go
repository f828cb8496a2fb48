package fleece

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// ErrorCode classifies every error returned by this package.
type ErrorCode int

const (
	NoError ErrorCode = iota
	MemoryError
	OutOfRange
	InvalidData
	EncodeError
	JSONError
	UnknownValue
	InternalError
	NotFound
	SharedKeysStateError
	POSIXError
	Unsupported
)

var errorCodeNames = [...]string{
	NoError:              "no error",
	MemoryError:          "memory error",
	OutOfRange:           "out of range",
	InvalidData:          "invalid data",
	EncodeError:          "encode error",
	JSONError:            "JSON parse error",
	UnknownValue:         "unknown value",
	InternalError:        "internal error",
	NotFound:             "not found",
	SharedKeysStateError: "shared keys state error",
	POSIXError:           "POSIX error",
	Unsupported:          "unsupported operation",
}

func (c ErrorCode) String() string {
	if c >= 0 && int(c) < len(errorCodeNames) {
		return errorCodeNames[c]
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Sentinels for errors.Is; any *Error with the same code matches.
var (
	ErrMemory          = &Error{Code: MemoryError}
	ErrOutOfRange      = &Error{Code: OutOfRange}
	ErrInvalidData     = &Error{Code: InvalidData}
	ErrEncode          = &Error{Code: EncodeError}
	ErrJSON            = &Error{Code: JSONError}
	ErrUnknownValue    = &Error{Code: UnknownValue}
	ErrInternal        = &Error{Code: InternalError}
	ErrNotFound        = &Error{Code: NotFound}
	ErrSharedKeysState = &Error{Code: SharedKeysStateError}
	ErrPOSIX           = &Error{Code: POSIXError}
	ErrUnsupported     = &Error{Code: Unsupported}
)

// Error is the error type returned by this package. Format errors carry the
// offending Data and the offset into it.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
	Data []byte
	Off  int
}

func errorf(code ErrorCode, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Off: -1}
}

func wrapErrorf(code ErrorCode, err error, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err, Off: -1}
}

func dataErrf(data []byte, off int, format string, args ...any) error {
	return &Error{Code: InvalidData, Msg: fmt.Sprintf(format, args...), Data: data, Off: off}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Err == nil && t.Code == e.Code
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	} else {
		msg = e.Code.String() + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Data == nil {
		return msg
	}

	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		return fmt.Sprintf("%s: at %d: (%d) %x", msg, e.Off, n, e.Data)
	}
	p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
	return fmt.Sprintf("%s: at %d: (%d) %x...%x", msg, e.Off, n, p, s)
}

// CodeOf classifies err. Errors not produced by this package map to
// POSIXError when they originate from the OS, and to InternalError otherwise.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return NoError
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var errno syscall.Errno
	var pathErr *fs.PathError
	var sysErr *os.SyscallError
	if errors.As(err, &errno) || errors.As(err, &pathErr) || errors.As(err, &sysErr) {
		return POSIXError
	}
	return InternalError
}
