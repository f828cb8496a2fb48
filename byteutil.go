package fleece

import (
	"encoding/binary"
	"io"
)

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

// bytesBuilder is the output buffer of Encoder and JSONEncoder.
type bytesBuilder struct {
	Buf []byte
}

var _ io.Writer = (*bytesBuilder)(nil)

func (bb *bytesBuilder) Len() int {
	return len(bb.Buf)
}

func (bb *bytesBuilder) Reset() {
	bb.Buf = bb.Buf[:0]
}

func (bb *bytesBuilder) Grow(n int) (off int) {
	off, bb.Buf = grow(bb.Buf, n)
	return
}

func (bb *bytesBuilder) Trim(off int) {
	bb.Buf = bb.Buf[:off]
}

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	off := bb.Grow(len(b))
	copy(bb.Buf[off:], b)
	return len(b), nil
}

func (bb *bytesBuilder) WriteString(s string) (int, error) {
	off := bb.Grow(len(s))
	copy(bb.Buf[off:], s)
	return len(s), nil
}

func (bb *bytesBuilder) WriteByte(v byte) error {
	off := bb.Grow(1)
	bb.Buf[off] = v
	return nil
}

// PadToEven appends a zero byte if the length is odd, and returns the new
// length. Every Value starts at an even offset.
func (bb *bytesBuilder) PadToEven() int {
	if len(bb.Buf)&1 != 0 {
		bb.WriteByte(0)
	}
	return len(bb.Buf)
}

func appendUvarint(buf []byte, v uint64) []byte {
	off, buf := grow(buf, binary.MaxVarintLen64)
	off += binary.PutUvarint(buf[off:], v)
	return buf[:off]
}

func sizeOfUvarint(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// readUvarint32 decodes a varint at off without reading past end. Returns
// n == 0 on malformed or truncated input.
func readUvarint32(data []byte, off, end int) (v uint32, n int) {
	if off < 0 || off >= end || end > len(data) {
		return 0, 0
	}
	limit := end
	if limit-off > binary.MaxVarintLen32 {
		limit = off + binary.MaxVarintLen32
	}
	x, n := binary.Uvarint(data[off:limit])
	if n <= 0 || x > 0xFFFF_FFFF {
		return 0, 0
	}
	return uint32(x), n
}

// appendIntOfLength appends the shortest little-endian encoding of n that
// preserves its value when sign-extended (or zero-extended if unsigned).
func appendIntOfLength(buf []byte, n uint64, unsigned bool) ([]byte, int) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], n)
	size := 8
	if unsigned {
		for size > 1 && b[size-1] == 0 {
			size--
		}
	} else if int64(n) >= 0 {
		for size > 1 && b[size-1] == 0 && b[size-2]&0x80 == 0 {
			size--
		}
	} else {
		for size > 1 && b[size-1] == 0xFF && b[size-2]&0x80 != 0 {
			size--
		}
	}
	return append(buf, b[:size]...), size
}

// readIntOfLength decodes a little-endian integer of 1..8 bytes.
func readIntOfLength(b []byte, unsigned bool) uint64 {
	var w [8]byte
	copy(w[:], b)
	if !unsigned && len(b) < 8 && b[len(b)-1]&0x80 != 0 {
		for i := len(b); i < 8; i++ {
			w[i] = 0xFF
		}
	}
	return binary.LittleEndian.Uint64(w[:])
}
