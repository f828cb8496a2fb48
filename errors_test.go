package fleece

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"syscall"
	"testing"
)

func TestError_Message(t *testing.T) {
	t.Run("small data", func(t *testing.T) {
		err := dataErrf([]byte{0xAA, 0xBB}, 1, "oops")
		s := err.Error()
		if !strings.Contains(s, "invalid data: oops") || !strings.Contains(s, "(2) aabb") || !strings.Contains(s, "at 1") {
			t.Fatalf("err.Error() = %q, wanted message with code, oops, (2) aabb and offset", s)
		}
	})

	t.Run("large data includes prefix+suffix", func(t *testing.T) {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}
		s := dataErrf(data, 0, "oops").Error()
		if !strings.Contains(s, "(200)") || !strings.Contains(s, "...") {
			t.Fatalf("err.Error() = %q, wanted message with (200) and ...", s)
		}
	})

	t.Run("wrapped", func(t *testing.T) {
		inner := errors.New("inner")
		err := wrapErrorf(POSIXError, inner, "reading %s", "x")
		eq(t, err.Error(), "POSIX error: reading x: inner")
		eq(t, errors.Is(err, inner), true)
	})

	eq(t, (&Error{Code: NotFound}).Error(), "not found")
	eq(t, ErrorCode(99).String(), "ErrorCode(99)")
}

func TestError_Is(t *testing.T) {
	err := errorf(OutOfRange, "index %d", 5)
	eq(t, errors.Is(err, ErrOutOfRange), true)
	eq(t, errors.Is(err, ErrNotFound), false)
	eq(t, errors.Is(fmt.Errorf("ctx: %w", err), ErrOutOfRange), true)

	// Only bare sentinels match by code.
	eq(t, errors.Is(err, errorf(OutOfRange, "other")), false)
}

func TestCodeOf(t *testing.T) {
	eq(t, CodeOf(nil), NoError)
	eq(t, CodeOf(ErrJSON), JSONError)
	eq(t, CodeOf(fmt.Errorf("wrapped: %w", ErrEncode)), EncodeError)
	eq(t, CodeOf(syscall.ENOENT), POSIXError)
	eq(t, CodeOf(&fs.PathError{Op: "open", Path: "x", Err: syscall.ENOENT}), POSIXError)
	eq(t, CodeOf(os.NewSyscallError("mmap", syscall.EINVAL)), POSIXError)
	eq(t, CodeOf(errors.New("plain")), InternalError)
}
