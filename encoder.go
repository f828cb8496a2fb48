package fleece

import (
	"bytes"
	"encoding/binary"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Writer is the forward-only write API shared by Encoder and JSONEncoder.
// Values are written in final document order; there is no way to go back.
type Writer interface {
	WriteNull() error
	WriteUndefined() error
	WriteBool(b bool) error
	WriteInt(i int64) error
	WriteUint(u uint64) error
	WriteFloat(f float32) error
	WriteDouble(f float64) error
	WriteString(s string) error
	WriteData(b []byte) error
	BeginArray(reserve int) error
	EndArray() error
	BeginDict(reserve int) error
	WriteKey(key string) error
	EndDict() error
	WriteValue(v Value) error
}

var (
	_ Writer = (*Encoder)(nil)
	_ Writer = (*JSONEncoder)(nil)
)

// maxSharedCellSize bounds the values considered for sharing.
const maxSharedCellSize = 64

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithSharedKeys makes dict keys use (and extend) the given scope.
func WithSharedKeys(sk *SharedKeys) EncoderOption {
	return func(e *Encoder) { e.sk = sk }
}

// WithValueSharing turns the Encoder into the sharing variant: strings, data
// and out-of-line numbers that were already written are emitted as pointers to
// the earlier copy instead of being written again.
func WithValueSharing(enabled bool) EncoderOption {
	return func(e *Encoder) { e.sharing = enabled }
}

// WithReserve preallocates the output buffer.
func WithReserve(n int) EncoderOption {
	return func(e *Encoder) { e.out.Buf = ensureCapacity(e.out.Buf, n) }
}

// WithUniqueStrings makes repeated strings (but no other values) get written
// once and pointed to afterwards.
func WithUniqueStrings(enabled bool) EncoderOption {
	return func(e *Encoder) { e.uniqueStrings = enabled }
}

// WithBase makes the output an addition to base: values written with
// WriteValue that live in base are pointed to with extern pointers instead of
// being copied. The result must be opened with NewDocOnBase. Unless
// WithSharedKeys says otherwise, keys use base's SharedKeys.
func WithBase(base *Doc) EncoderOption {
	return func(e *Encoder) {
		if base == nil {
			e.base, e.baseLen = nil, 0
			return
		}
		e.base = base
		e.baseLen = len(base.s.data)
	}
}

func withHash(fn func([]byte) uint64) EncoderOption {
	return func(e *Encoder) { e.hash = fn }
}

// Encoder writes the binary format. An Encoder produces one document per
// Finish and is not safe for concurrent use. After Finish, every write method
// fails with InternalError until Reset is called.
//
// Values written into a dict must alternate WriteKey / value. Containers
// record their items until End*, then write them after the already-written
// children, so every pointer in the output points backwards.
type Encoder struct {
	out   bytesBuilder
	stack []*collection
	items *collection
	depth int

	sk            *SharedKeys
	sharing       bool
	uniqueStrings bool
	hash          func([]byte) uint64
	shared        map[uint64][]uint32

	base      *Doc
	baseLen   int
	reuseBase bool

	writingKey   bool
	blockedOnKey bool
	finished     bool
	err          error

	scratch []byte
}

// collection holds the items of an open array or dict; the bottom of the
// stack holds the root value.
type collection struct {
	tag   byte
	wide  bool
	items []item
	keys  []sortKey
}

// item is a pending 2- or 4-byte cell. Pointers hold the position of their
// target until the collection is written out. Positions count from the start
// of the base, so output position p is baseLen+p and anything below baseLen is
// in the base.
type item struct {
	cell   [4]byte
	ptr    bool
	target uint32
}

type sortKey struct {
	str    string
	code   int
	shared bool
}

func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{hash: xxhash.Sum64}
	for _, opt := range opts {
		opt(e)
	}
	if e.base != nil && e.sk == nil {
		e.sk = e.base.s.sk
	}
	e.resetStack()
	return e
}

func (e *Encoder) resetStack() {
	if len(e.stack) == 0 {
		e.stack = append(e.stack, &collection{})
	}
	e.depth = 1
	e.items = e.stack[0]
	e.items.reset(tagSpecial)
}

func (c *collection) reset(tag byte) {
	c.tag = tag
	c.wide = false
	c.items = c.items[:0]
	c.keys = c.keys[:0]
}

// Reset discards everything written and makes the encoder usable again.
func (e *Encoder) Reset() {
	e.out.Reset()
	e.writingKey, e.blockedOnKey = false, false
	e.finished = false
	e.err = nil
	clear(e.shared)
	if e.reuseBase {
		e.addBaseStrings(e.base.Root())
	}
	e.resetStack()
}

// Base returns the document the output extends, or nil.
func (e *Encoder) Base() *Doc {
	return e.base
}

// ReuseBaseStrings lets strings written from now on point at an equal string
// in the base instead of being written again. It also turns on
// WithUniqueStrings. Does nothing without a base.
func (e *Encoder) ReuseBaseStrings() {
	if e.base == nil || e.reuseBase {
		return
	}
	e.reuseBase, e.uniqueStrings = true, true
	e.addBaseStrings(e.base.Root())
}

func (e *Encoder) addBaseStrings(v Value) {
	if v.IsMutable() || v.s != e.base.s {
		return
	}
	switch v.Type() {
	case TypeString:
		data, off := v.s.data, int(v.off)
		size := cellSize(data, off, len(data))
		if size <= narrow || size > maxSharedCellSize || off+size > len(data) {
			return
		}
		size += size & 1
		e.remember(e.hash(data[off:off+size]), off)
	case TypeArray:
		for _, item := range v.AsArray().All() {
			e.addBaseStrings(item)
		}
	case TypeDict:
		for _, item := range v.AsDict().All() {
			e.addBaseStrings(item)
		}
	}
}

func (e *Encoder) remember(h uint64, pos int) {
	if e.shared == nil {
		e.shared = make(map[uint64][]uint32)
	}
	e.shared[h] = append(e.shared[h], uint32(pos))
}

// written returns up to n bytes starting at pos, which may lie in the base.
func (e *Encoder) written(pos, n int) []byte {
	if pos < e.baseLen {
		data := e.base.s.data
		return data[pos:min(pos+n, len(data))]
	}
	pos -= e.baseLen
	return e.out.Buf[pos:min(pos+n, len(e.out.Buf))]
}

// SharedKeys returns the key scope the encoder writes against.
func (e *Encoder) SharedKeys() *SharedKeys {
	return e.sk
}

// Err returns the first error encountered.
func (e *Encoder) Err() error {
	return e.err
}

// BytesWritten returns the size of the output so far.
func (e *Encoder) BytesWritten() int {
	return e.out.Len()
}

func (e *Encoder) fail(err error) error {
	if e.err == nil {
		e.err = err
	}
	return e.err
}

func (e *Encoder) check() error {
	if e.err != nil {
		return e.err
	}
	if e.finished {
		return e.fail(errorf(InternalError, "encoder already finished"))
	}
	return nil
}

// nextWritePos pads the output and returns where the next cell goes,
// counting from the start of the base.
func (e *Encoder) nextWritePos() int {
	return e.baseLen + e.out.PadToEven()
}

// placeItem appends an empty cell to the current collection.
func (e *Encoder) placeItem() (*item, error) {
	if e.blockedOnKey {
		return nil, e.fail(errorf(EncodeError, "need a key before this value"))
	}
	if e.writingKey {
		e.writingKey = false
	} else if e.items.tag == tagDict {
		e.blockedOnKey, e.writingKey = true, true
	}
	e.items.items = append(e.items.items, item{})
	return &e.items.items[len(e.items.items)-1], nil
}

func (e *Encoder) placeInline(b0, b1 byte) error {
	if err := e.check(); err != nil {
		return err
	}
	it, err := e.placeItem()
	if err != nil {
		return err
	}
	it.cell[0], it.cell[1] = b0, b1
	return nil
}

func (e *Encoder) writePointer(pos int) error {
	it, err := e.placeItem()
	if err != nil {
		return err
	}
	it.ptr = true
	it.target = uint32(pos)
	return nil
}

// writeOutOfLine writes a cell to the output and places a pointer to it. With
// value sharing on, a previously written identical cell is reused instead.
func (e *Encoder) writeOutOfLine(cell []byte) error {
	if err := e.check(); err != nil {
		return err
	}
	var h uint64
	share := len(cell) <= maxSharedCellSize && (e.sharing || e.uniqueStrings && cell[0]>>4 == tagString)
	if share {
		h = e.hash(cell)
		for _, pos := range e.shared[h] {
			p := int(pos)
			if !bytes.Equal(e.written(p, len(cell)), cell) {
				continue
			}
			// Reuse only if it doesn't force a narrow collection to go wide.
			if e.items.wide || e.nextWritePos()-p <= maxNarrowOffset-32 {
				return e.writePointer(p)
			}
		}
	}

	pos := e.nextWritePos()
	if pos > maxWideOffset {
		return e.fail(errorf(MemoryError, "encoded data too large"))
	}
	if err := e.writePointer(pos); err != nil {
		return err
	}
	e.out.Write(cell)
	if share {
		e.remember(h, pos)
	}
	return nil
}

func (e *Encoder) writeSpecial(special byte) error {
	return e.placeInline(tagSpecial<<4|special, 0)
}

func (e *Encoder) WriteNull() error      { return e.writeSpecial(specialNull) }
func (e *Encoder) WriteUndefined() error { return e.writeSpecial(specialUndefined) }

func (e *Encoder) WriteBool(b bool) error {
	if b {
		return e.writeSpecial(specialTrue)
	}
	return e.writeSpecial(specialFalse)
}

func (e *Encoder) WriteInt(i int64) error {
	if i >= -2048 && i < 2048 {
		return e.placeInline(byte(i>>8)&0x0F, byte(i))
	}
	return e.writeLongInt(uint64(i), false)
}

func (e *Encoder) WriteUint(u uint64) error {
	if u < 2048 {
		return e.placeInline(byte(u>>8)&0x0F, byte(u))
	}
	return e.writeLongInt(u, true)
}

func (e *Encoder) writeLongInt(n uint64, unsigned bool) error {
	cell := append(e.scratch[:0], 0)
	cell, size := appendIntOfLength(cell, n, unsigned)
	cell[0] = tagInt<<4 | byte(size-1)
	if unsigned {
		cell[0] |= 0x08
	}
	if len(cell)&1 != 0 {
		cell = append(cell, 0)
	}
	e.scratch = cell
	return e.writeOutOfLine(cell)
}

// WriteDouble writes f as a 32-bit float when that loses nothing. NaN is
// rejected.
func (e *Encoder) WriteDouble(f float64) error {
	if math.IsNaN(f) {
		return e.fail(errorf(InvalidData, "can't write NaN"))
	}
	if math.Abs(f) <= math.MaxFloat32 && f == float64(float32(f)) || math.IsInf(f, 0) {
		return e.writeFloat32(float32(f))
	}
	cell := append(e.scratch[:0], tagFloat<<4|0x08, 0)
	cell = binary.LittleEndian.AppendUint64(cell, math.Float64bits(f))
	e.scratch = cell
	return e.writeOutOfLine(cell)
}

func (e *Encoder) WriteFloat(f float32) error {
	if f != f {
		return e.fail(errorf(InvalidData, "can't write NaN"))
	}
	return e.writeFloat32(f)
}

func (e *Encoder) writeFloat32(f float32) error {
	cell := append(e.scratch[:0], tagFloat<<4, 0)
	cell = binary.LittleEndian.AppendUint32(cell, math.Float32bits(f))
	e.scratch = cell
	return e.writeOutOfLine(cell)
}

func (e *Encoder) WriteString(s string) error {
	return e.writeBytes(tagString, s)
}

func (e *Encoder) WriteData(b []byte) error {
	return e.writeBytes(tagBinary, string(b))
}

// writeBytes writes a string or data value; 0 and 1 byte payloads fit inline.
func (e *Encoder) writeBytes(tag byte, s string) error {
	if len(s) < narrow {
		var b1 byte
		if len(s) == 1 {
			b1 = s[0]
		}
		return e.placeInline(tag<<4|byte(len(s)), b1)
	}
	cell := e.scratch[:0]
	if len(s) < 0x0F {
		cell = append(cell, tag<<4|byte(len(s)))
	} else {
		cell = append(cell, tag<<4|0x0F)
		cell = appendUvarint(cell, uint64(len(s)))
	}
	cell = append(cell, s...)
	if len(cell)&1 != 0 {
		cell = append(cell, 0)
	}
	e.scratch = cell
	return e.writeOutOfLine(cell)
}

// WriteKey writes a dict key. Keys the SharedKeys scope accepts are written
// as their integer code.
func (e *Encoder) WriteKey(key string) error {
	if err := e.check(); err != nil {
		return err
	}
	if err := e.addingKey(); err != nil {
		return err
	}
	if e.sk != nil {
		if code, ok := e.sk.EncodeAndAdd(key); ok {
			e.items.keys = append(e.items.keys, sortKey{code: code, shared: true})
			return e.WriteInt(int64(code))
		}
	}
	e.items.keys = append(e.items.keys, sortKey{str: key})
	return e.WriteString(key)
}

func (e *Encoder) addingKey() error {
	if !e.blockedOnKey {
		if e.items.tag == tagDict {
			return e.fail(errorf(EncodeError, "need a value after a key"))
		}
		return e.fail(errorf(EncodeError, "not writing a dictionary"))
	}
	e.blockedOnKey = false
	return nil
}

func (e *Encoder) push(tag byte, reserve int) {
	if e.depth >= len(e.stack) {
		e.stack = append(e.stack, &collection{})
	}
	e.items = e.stack[e.depth]
	e.depth++
	e.items.reset(tag)
	if reserve > 0 {
		e.items.items = slices.Grow(e.items.items, reserve)
	}
}

func (e *Encoder) BeginArray(reserve int) error {
	if err := e.check(); err != nil {
		return err
	}
	if e.blockedOnKey {
		return e.fail(errorf(EncodeError, "need a key before this value"))
	}
	e.push(tagArray, reserve)
	e.writingKey, e.blockedOnKey = false, false
	return nil
}

func (e *Encoder) BeginDict(reserve int) error {
	if err := e.check(); err != nil {
		return err
	}
	if e.blockedOnKey {
		return e.fail(errorf(EncodeError, "need a key before this value"))
	}
	e.push(tagDict, 2*reserve)
	e.writingKey, e.blockedOnKey = true, true
	return nil
}

func (e *Encoder) EndArray() error {
	return e.endCollection(tagArray)
}

func (e *Encoder) EndDict() error {
	if err := e.check(); err != nil {
		return err
	}
	if e.items.tag == tagDict && !e.writingKey {
		return e.fail(errorf(EncodeError, "need a value after a key"))
	}
	return e.endCollection(tagDict)
}

func (e *Encoder) endCollection(tag byte) error {
	if err := e.check(); err != nil {
		return err
	}
	if e.items.tag != tag {
		if e.depth <= 1 {
			return e.fail(errorf(EncodeError, "not in a collection"))
		}
		return e.fail(errorf(EncodeError, "ending wrong type of collection"))
	}

	c := e.items
	e.depth--
	e.items = e.stack[e.depth-1]
	// The parent is an array, a dict expecting a value, or the root holder.
	e.writingKey, e.blockedOnKey = false, false

	n := len(c.items)
	count := n
	if tag == tagDict {
		count /= 2
	}
	if count == 0 {
		return e.placeInline(tag<<4, 0)
	}
	if tag == tagDict {
		sortDict(c)
	}

	header := append(e.scratch[:0], 0, 0)
	inlineCount := min(count, longCollectionCount)
	header[0] = tag<<4 | byte(inlineCount>>8)
	header[1] = byte(inlineCount)
	if count >= longCollectionCount {
		header = appendUvarint(header, uint64(count-longCollectionCount))
	}
	if len(header)&1 != 0 {
		header = append(header, 0)
	}
	e.scratch = header

	hdrPos := e.nextWritePos()
	if err := e.writePointer(hdrPos); err != nil {
		return err
	}
	e.out.Write(header)

	itemsPos := e.nextWritePos()
	checkPointerWidths(c, itemsPos)
	if c.wide {
		e.out.Buf[hdrPos-e.baseLen] |= 0x08
	}
	return e.writeItems(c, itemsPos)
}

// checkPointerWidths makes c wide if any pointer can't be expressed narrow.
func checkPointerWidths(c *collection, origin int) {
	if c.wide {
		return
	}
	for _, it := range c.items {
		if it.ptr && origin-int(it.target) > maxNarrowOffset {
			c.wide = true
			return
		}
		origin += narrow
	}
}

// writeItems converts pointer targets to backward offsets and writes the
// cells. Targets in the base get extern pointers.
func (e *Encoder) writeItems(c *collection, origin int) error {
	w := width(c.wide)
	off := e.out.Grow(w * len(c.items))
	if origin != e.baseLen+off {
		return e.fail(errorf(InternalError, "items written at %d, expected %d", e.baseLen+off, origin))
	}
	for _, it := range c.items {
		dst := e.out.Buf[off : off+w]
		if it.ptr {
			dist := origin - int(it.target)
			if dist <= 0 || dist > maxWideOffset {
				return e.fail(errorf(InternalError, "pointer offset %d out of range", dist))
			}
			putPointer(dst, dist, c.wide, int(it.target) < e.baseLen)
		} else {
			copy(dst, it.cell[:w])
		}
		origin += w
		off += w
	}
	return nil
}

// sortDict orders the key/value pairs: shared int keys first (ascending),
// then string keys bytewise.
func sortDict(c *collection) {
	n := len(c.keys)
	if n < 2 {
		return
	}
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	slices.SortFunc(perm, func(a, b int) int {
		return compareSortKeys(c.keys[a], c.keys[b])
	})
	old := slices.Clone(c.items)
	for i, j := range perm {
		c.items[2*i] = old[2*j]
		c.items[2*i+1] = old[2*j+1]
	}
}

func compareSortKeys(a, b sortKey) int {
	switch {
	case a.shared && b.shared:
		return a.code - b.code
	case a.shared:
		return -1
	case b.shared:
		return 1
	default:
		return bytes.Compare([]byte(a.str), []byte(b.str))
	}
}

// WriteValue copies v, including any mutable collections in it. Dict keys
// are re-encoded against this encoder's SharedKeys. A value that lives in the
// base is referenced rather than copied; collections only when the base uses
// the same SharedKeys.
func (e *Encoder) WriteValue(v Value) error {
	if e.base != nil && !v.IsMutable() && v.s == e.base.s {
		if t := v.Type(); t != TypeArray && t != TypeDict || e.sk == v.s.sk {
			return e.writeBaseValue(v)
		}
	}
	return writeValue(e, v, false)
}

// writeBaseValue copies v's cell if it fits in 2 bytes, and otherwise
// places a pointer to it.
func (e *Encoder) writeBaseValue(v Value) error {
	if err := e.check(); err != nil {
		return err
	}
	data, off := v.s.data, int(v.off)
	if size := cellSize(data, off, len(data)); size >= 0 && size <= narrow && !v.isNonEmptyCollection() {
		return e.placeInline(data[off], data[off+1])
	}
	return e.writePointer(off)
}

// Finish seals the encoder and returns the encoded document.
func (e *Encoder) Finish() ([]byte, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if e.depth > 1 {
		return nil, e.fail(errorf(EncodeError, "unclosed array/dict"))
	}
	root := e.items
	switch len(root.items) {
	case 0:
		return nil, e.fail(errorf(EncodeError, "nothing written"))
	case 1:
	default:
		return nil, e.fail(errorf(EncodeError, "top level must have only one value"))
	}

	origin := e.nextWritePos()
	checkPointerWidths(root, origin)
	if err := e.writeItems(root, origin); err != nil {
		return nil, err
	}
	if root.wide {
		// The trailer must be 2 bytes: point at the 4-byte root.
		off := e.out.Grow(narrow)
		putPointer(e.out.Buf[off:], wide, false, false)
	}
	root.items = root.items[:0]
	e.finished = true

	out := e.out.Buf
	e.out.Buf = nil
	return out, nil
}

// FinishDoc is Finish wrapped into a trusted Doc bound to the encoder's
// SharedKeys and base.
func (e *Encoder) FinishDoc() (*Doc, error) {
	data, err := e.Finish()
	if err != nil {
		return nil, err
	}
	if e.base != nil {
		return newDocOnBase(data, e.base, e.sk, Trusted)
	}
	return NewDoc(data, Trusted, e.sk)
}

// writeValue replays v into w, passing nested values back through
// w.WriteValue. With sortKeys, dict entries are written in key order
// regardless of how the dict iterates.
func writeValue(w Writer, v Value, sortKeys bool) error {
	switch v.Type() {
	case TypeUndefined:
		return w.WriteUndefined()
	case TypeNull:
		return w.WriteNull()
	case TypeBool:
		return w.WriteBool(v.AsBool())
	case TypeNumber:
		switch {
		case v.IsDouble():
			return w.WriteDouble(v.AsDouble())
		case v.isFloat():
			return w.WriteFloat(v.AsFloat())
		case v.tag() == tagInt && v.head()&0x08 != 0:
			return w.WriteUint(v.AsUnsigned())
		default:
			return w.WriteInt(v.AsInt())
		}
	case TypeString:
		return w.WriteString(v.AsString())
	case TypeData:
		return w.WriteData(v.AsData())
	case TypeArray:
		a := v.AsArray()
		if err := w.BeginArray(a.Count()); err != nil {
			return err
		}
		for _, item := range a.All() {
			if err := w.WriteValue(item); err != nil {
				return err
			}
		}
		return w.EndArray()
	case TypeDict:
		d := v.AsDict()
		if err := w.BeginDict(d.Count()); err != nil {
			return err
		}
		if sortKeys {
			keys := d.Keys()
			slices.Sort(keys)
			for _, k := range keys {
				if err := writeEntry(w, k, d.Get(k)); err != nil {
					return err
				}
			}
		} else {
			for k, item := range d.All() {
				if err := writeEntry(w, k, item); err != nil {
					return err
				}
			}
		}
		return w.EndDict()
	}
	return errorf(UnknownValue, "unknown value type %v", v.Type())
}

func writeEntry(w Writer, key string, v Value) error {
	if err := w.WriteKey(key); err != nil {
		return err
	}
	return w.WriteValue(v)
}
