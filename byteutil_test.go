package fleece

import (
	"math"
	"testing"
)

func TestBytesBuilder_Basics(t *testing.T) {
	var bb bytesBuilder
	off := bb.Grow(3)
	copy(bb.Buf[off:], []byte{1, 2, 3})
	eq(t, bb.PadToEven(), 4)
	eq(t, bb.PadToEven(), 4)
	bb.WriteString("ab")
	bb.WriteByte(7)
	deepEqual(t, bb.Buf, []byte{1, 2, 3, 0, 'a', 'b', 7})

	bb.Trim(2)
	bb.Write([]byte{9, 8})
	deepEqual(t, bb.Buf, []byte{1, 2, 9, 8})
	eq(t, bb.Len(), 4)

	bb.Reset()
	eq(t, bb.Len(), 0)
}

func TestEnsureCapacity(t *testing.T) {
	buf := ensureCapacity([]byte{1, 2}, 5)
	if cap(buf) < 16 {
		t.Fatalf("cap = %d, wanted >= 16", cap(buf))
	}
	deepEqual(t, buf, []byte{1, 2})

	buf = ensureCapacity(buf, 100)
	if cap(buf) < 100 {
		t.Fatalf("cap = %d, wanted >= 100", cap(buf))
	}
}

func TestUvarint(t *testing.T) {
	for _, v := range []uint64{0, 1, 0x7F, 0x80, 2047, 0x3FFF, 0x4000, 0xFFFF_FFFF} {
		buf := appendUvarint([]byte{0xEE}, v)
		eq(t, len(buf)-1, sizeOfUvarint(v))
		got, n := readUvarint32(buf, 1, len(buf))
		eq(t, uint64(got), v)
		eq(t, n, sizeOfUvarint(v))
	}

	_, n := readUvarint32([]byte{0x80, 0x80}, 0, 2)
	eq(t, n, 0)
	_, n = readUvarint32([]byte{0x80, 0x01}, 0, 1)
	eq(t, n, 0)
	_, n = readUvarint32(appendUvarint(nil, 1<<40), 0, 6)
	eq(t, n, 0)
}

func TestIntOfLength(t *testing.T) {
	tests := []struct {
		v        int64
		wantSize int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{-128, 1},
		{-129, 2},
		{5000, 2},
		{1 << 31, 5},
		{math.MaxInt64, 8},
		{math.MinInt64, 8},
	}
	for _, tt := range tests {
		buf, size := appendIntOfLength(nil, uint64(tt.v), false)
		eq(t, size, tt.wantSize)
		eq(t, int64(readIntOfLength(buf, false)), tt.v)
	}

	buf, size := appendIntOfLength(nil, 0xFF, true)
	eq(t, size, 1)
	eq(t, readIntOfLength(buf, true), uint64(0xFF))
	eq(t, int64(readIntOfLength(buf, false)), int64(-1))

	buf, size = appendIntOfLength(nil, math.MaxUint64, true)
	eq(t, size, 8)
	eq(t, readIntOfLength(buf, true), uint64(math.MaxUint64))
}
