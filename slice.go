package fleece

import (
	"bytes"
	"slices"
	"sync/atomic"
	"unsafe"
)

// Slice is a borrowed, read-only view of bytes owned by something else
// (usually a Doc's buffer). It keeps heap memory alive like any Go slice;
// views of a file-mapped Doc are handed out as copies. Callers must not
// modify it.
type Slice []byte

func (s Slice) Len() int {
	return len(s)
}

// String returns the bytes as a string without copying.
func (s Slice) String() string {
	if len(s) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(s), len(s))
}

func (s Slice) Compare(o Slice) int {
	return bytes.Compare(s, o)
}

func (s Slice) Equal(o Slice) bool {
	return bytes.Equal(s, o)
}

// Clone returns an owned copy.
func (s Slice) Clone() []byte {
	if s == nil {
		return nil
	}
	return slices.Clone([]byte(s))
}

// Sub returns the n bytes starting at off, or false if that range is not
// within s.
func (s Slice) Sub(off, n int) (Slice, bool) {
	if off < 0 || n < 0 || off > len(s) || n > len(s)-off {
		return nil, false
	}
	return s[off : off+n : off+n], true
}

// AllocSlice is a reference-counted owning buffer. The last Release runs the
// release hook, if any. A file-mapped buffer has none: its mapping is closed
// once the AllocSlice itself is garbage, so Values that still refer to it
// stay readable.
type AllocSlice struct {
	data    []byte
	refs    atomic.Int32
	release func([]byte) error
	mapped  bool
}

// NewAllocSlice takes ownership of b with a reference count of 1.
func NewAllocSlice(b []byte) *AllocSlice {
	a := &AllocSlice{data: b}
	a.refs.Store(1)
	return a
}

// CopyAllocSlice copies b into a new AllocSlice.
func CopyAllocSlice(b []byte) *AllocSlice {
	return NewAllocSlice(slices.Clone(b))
}

func newReleasableAllocSlice(b []byte, release func([]byte) error) *AllocSlice {
	a := NewAllocSlice(b)
	a.release = release
	return a
}

// Bytes returns the buffer, or a copy of it for a file mapping.
func (a *AllocSlice) Bytes() Slice {
	if a.mapped {
		return Slice(slices.Clone(a.data))
	}
	return Slice(a.data)
}

func (a *AllocSlice) Len() int {
	return len(a.data)
}

func (a *AllocSlice) RefCount() int {
	return int(a.refs.Load())
}

func (a *AllocSlice) IsReleased() bool {
	return a.refs.Load() <= 0
}

func (a *AllocSlice) Retain() *AllocSlice {
	if a.refs.Add(1) <= 1 {
		panic("fleece: AllocSlice retained after release")
	}
	return a
}

// Release drops one reference. The last Release runs the release hook and
// returns its error.
func (a *AllocSlice) Release() error {
	n := a.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		return errorf(InternalError, "AllocSlice released too many times")
	}
	if a.release != nil {
		data := a.data
		a.data = nil
		if err := a.release(data); err != nil {
			return wrapErrorf(POSIXError, err, "releasing buffer")
		}
	}
	return nil
}
