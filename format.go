package fleece

import "encoding/binary"

// Cell layout. The high nibble of the first byte of every value is its tag:
//
//	0000iiii iiiiiiii       small int (12-bit, signed)
//	0001uccc iiiiiiii...    int (u = unsigned, ccc = byte count - 1), LE bytes follow
//	0010ss-- --------...    float (ss: 00 = 32-bit, 10 = 64-bit), LE bytes follow
//	0011ss-- --------       special (ss: 00 null, 01 false, 10 true, 11 undefined)
//	0100cccc ssssssss...    string (cccc = byte count, 15 means a varint count follows)
//	0101cccc dddddddd...    binary data (same as string)
//	0110wccc cccccccc...    array (11-bit count, 2047 means a varint remainder follows;
//	                        w = items are 4 bytes wide instead of 2)
//	0111wccc cccccccc...    dict (same as array, count is the number of pairs)
//	1xoooooo oooooooo       pointer (BE offset back, in 2-byte units; x = external;
//	                        30 offset bits when the pointer sits in a wide collection)
const (
	tagShortInt     byte = 0
	tagInt          byte = 1
	tagFloat        byte = 2
	tagSpecial      byte = 3
	tagString       byte = 4
	tagBinary       byte = 5
	tagArray        byte = 6
	tagDict         byte = 7
	tagPointerFirst byte = 8
)

const (
	specialNull      byte = 0x00
	specialFalse     byte = 0x04
	specialTrue      byte = 0x08
	specialUndefined byte = 0x0C
)

const (
	narrow = 2
	wide   = 4

	longCollectionCount = 0x07FF
	maxNarrowOffset     = 0x7FFE
	maxWideOffset       = 0x7FFF_FFFE
)

func width(isWide bool) int {
	if isWide {
		return wide
	}
	return narrow
}

func isPointerByte(b byte) bool {
	return b&0x80 != 0
}

// pointerOffset decodes the byte distance of the pointer at off. external
// reports the extern flag, set on pointers from a delta into its base.
func pointerOffset(data []byte, off int, isWide bool) (dist int, external bool) {
	if isWide {
		w := binary.BigEndian.Uint32(data[off:])
		return int(w&0x3FFF_FFFF) << 1, w&0x4000_0000 != 0
	}
	w := binary.BigEndian.Uint16(data[off:])
	return int(w&0x3FFF) << 1, w&0x4000 != 0
}

func putPointer(b []byte, dist int, isWide, external bool) {
	if isWide {
		w := uint32(dist>>1) | 0x8000_0000
		if external {
			w |= 0x4000_0000
		}
		binary.BigEndian.PutUint32(b, w)
	} else {
		w := uint16(dist>>1) | 0x8000
		if external {
			w |= 0x4000
		}
		binary.BigEndian.PutUint16(b, w)
	}
}

// resolve follows pointers starting at off. The first hop uses the width of
// the containing collection; pointers reached through a pointer are always
// wide. An extern pointer lands in the base scope, as if the base preceded
// this data in memory. Returns nil for pointers that lead nowhere.
func (s *scope) resolve(off int, isWide bool) (*scope, int) {
	for isPointerByte(s.data[off]) {
		dist, external := pointerOffset(s.data, off, isWide)
		if dist == 0 {
			return nil, -1
		}
		off -= dist
		if external != (off < 0) {
			return nil, -1
		}
		for off < 0 {
			s = s.base
			if s == nil {
				return nil, -1
			}
			off += len(s.data)
		}
		isWide = true
	}
	return s, off
}

// valueAt returns the value at off, following pointers.
func (s *scope) valueAt(off int, isWide bool) Value {
	ts, target := s.resolve(off, isWide)
	if ts == nil {
		return Value{}
	}
	return encodedValue(ts, target)
}

// findRoot locates the root value, which is stored in the last 2 bytes. It
// returns the scope the root lives in (the base's, if the root pointer is
// extern) and the range the root value must lie within.
func findRoot(s *scope) (rs *scope, root, start, limit int, err error) {
	data := s.data
	n := len(data)
	if n < narrow || n%narrow != 0 {
		return nil, -1, 0, 0, dataErrf(data, 0, "data too short or odd length")
	}
	root = n - narrow
	if !isPointerByte(data[root]) {
		if n != narrow {
			return nil, -1, 0, 0, dataErrf(data, root, "inline root value must be the only value")
		}
		return s, root, 0, n, nil
	}
	rs, root, start, limit, ok := carefulDeref(s, root, false, 0, root)
	if !ok {
		return nil, -1, 0, 0, dataErrf(data, n-narrow, "invalid root pointer")
	}
	return rs, root, start, limit, nil
}

// carefulDeref is resolve for untrusted data: every hop must land inside
// [start, end) and each further hop must stay before the pointer it came from.
// An extern hop moves to the base scope, where the whole base is in range.
// The returned range is what the target value must lie within.
func carefulDeref(s *scope, off int, isWide bool, start, end int) (ts *scope, target, tstart, limit int, ok bool) {
	for {
		data := s.data
		if off < start || off+width(isWide) > len(data) {
			return nil, 0, 0, 0, false
		}
		if !isPointerByte(data[off]) {
			return s, off, start, end, true
		}
		dist, external := pointerOffset(data, off, isWide)
		if dist == 0 {
			return nil, 0, 0, 0, false
		}
		dst := off - dist
		if external {
			if dst >= 0 {
				return nil, 0, 0, 0, false
			}
			for dst < 0 {
				s = s.base
				if s == nil {
					return nil, 0, 0, 0, false
				}
				dst += len(s.data)
			}
			start, end = 0, len(s.data)
		} else {
			if dst < start || dst >= end {
				return nil, 0, 0, 0, false
			}
			end = off
		}
		if dst&1 != 0 {
			return nil, 0, 0, 0, false
		}
		off = dst
		isWide = true
	}
}

// cellSize returns the size of the value at off, excluding collection items,
// or -1 if it would extend past end.
func cellSize(data []byte, off, end int) int {
	if off+narrow > end {
		return -1
	}
	b := data[off]
	var size int
	switch b >> 4 {
	case tagShortInt, tagSpecial:
		size = 2
	case tagFloat:
		if b&0x08 != 0 {
			size = 10
		} else {
			size = 6
		}
	case tagInt:
		size = 2 + int(b&0x07)
	case tagString, tagBinary:
		start, count, ok := stringBounds(data, off, end)
		if !ok {
			return -1
		}
		size = start + count - off
	case tagArray, tagDict:
		first, _, _, ok := collectionHeader(data, off, end)
		if !ok {
			return -1
		}
		size = first - off
	default:
		size = 2
	}
	if off+size > end {
		return -1
	}
	return size
}

// stringBounds decodes the header of a string or data value.
func stringBounds(data []byte, off, end int) (start, count int, ok bool) {
	count = int(data[off] & 0x0F)
	start = off + 1
	if count == 0x0F {
		c, n := readUvarint32(data, start, end)
		if n == 0 {
			return 0, 0, false
		}
		count = int(c)
		start += n
	}
	if start+count > end || start+count < start {
		return 0, 0, false
	}
	return start, count, true
}

// collectionHeader decodes the header of an array or dict.
func collectionHeader(data []byte, off, end int) (first, count int, isWide, ok bool) {
	b0, b1 := data[off], data[off+1]
	count = int(b0&0x07)<<8 | int(b1)
	isWide = b0&0x08 != 0
	first = off + 2
	if count == longCollectionCount {
		extra, n := readUvarint32(data, first, end)
		if n == 0 {
			return 0, 0, false, false
		}
		count += int(extra)
		first += n + n&1
	}
	return first, count, isWide, true
}

// validate checks the value at off and, recursively, everything it refers to.
// Nothing reachable from it may start before start or extend past end.
func validate(s *scope, off, start, end int) bool {
	data := s.data
	size := cellSize(data, off, end)
	if size < 0 {
		return false
	}
	t := data[off] >> 4
	if t != tagArray && t != tagDict {
		return true
	}
	first, count, isWide, _ := collectionHeader(data, off, end)
	if count == 0 {
		return true
	}
	itemCount := count
	if t == tagDict {
		itemCount *= 2
	}
	w := width(isWide)
	if itemCount > (end-first)/w {
		return false
	}
	item := first
	for range itemCount {
		next := item + w
		if isPointerByte(data[item]) {
			ts, target, tstart, limit, ok := carefulDeref(s, item, isWide, start, item)
			if !ok || !validate(ts, target, tstart, limit) {
				return false
			}
		} else {
			if !validate(s, item, start, next) {
				return false
			}
		}
		item = next
	}
	return true
}
