package fleece

import (
	"iter"
	"slices"
)

// changeNotifier is the parent of a nested mutable collection.
type changeNotifier interface {
	markChanged()
}

// MutableArray is an editable overlay over an encoded Array. Creating one
// copies nothing: unchanged items are read from the source, replaced items live
// in a sparse patch map and appended ones in a tail. The first structural edit
// (Insert, Remove or a shrinking Resize) materializes the full item list.
//
// A MutableArray is not safe for concurrent use.
type MutableArray struct {
	source  Array
	patches map[int]Value
	tail    []Value

	items        []Value
	materialized bool

	parent  changeNotifier
	changed bool
}

// NewMutableArray returns a new, empty array.
func NewMutableArray() *MutableArray {
	return &MutableArray{materialized: true}
}

func newMutableArray(a Array) *MutableArray {
	return &MutableArray{source: a}
}

// AsValue returns m as a Value; the Value refers to m and sees later edits.
func (m *MutableArray) AsValue() Value {
	return Value{ma: m}
}

// Source returns the array this overlay was created from.
func (m *MutableArray) Source() Array {
	return m.source
}

// IsChanged reports whether m or any nested mutable collection registered in
// it has been modified.
func (m *MutableArray) IsChanged() bool {
	return m.changed
}

func (m *MutableArray) markChanged() {
	if m.changed {
		return
	}
	m.changed = true
	if m.parent != nil {
		m.parent.markChanged()
	}
}

func (m *MutableArray) adopt(v Value) {
	adoptChild(m, v)
}

func adoptChild(parent changeNotifier, v Value) {
	switch {
	case v.ma != nil && v.ma.parent == nil && v.ma != parent:
		v.ma.parent = parent
	case v.md != nil && v.md.parent == nil && v.md != parent:
		v.md.parent = parent
	}
}

func (m *MutableArray) Count() int {
	if m.materialized {
		return len(m.items)
	}
	return m.source.Count() + len(m.tail)
}

// Get returns the item at i, or undefined if i is out of range.
func (m *MutableArray) Get(i int) Value {
	if i < 0 {
		return Value{}
	}
	if m.materialized {
		if i >= len(m.items) {
			return Value{}
		}
		return m.items[i]
	}
	n := m.source.Count()
	if i < n {
		if v, ok := m.patches[i]; ok {
			return v
		}
		return m.source.Get(i)
	}
	if i-n < len(m.tail) {
		return m.tail[i-n]
	}
	return Value{}
}

// setSlot stores v at an existing index without marking m changed.
func (m *MutableArray) setSlot(i int, v Value) {
	if m.materialized {
		m.items[i] = v
		return
	}
	n := m.source.Count()
	if i >= n {
		m.tail[i-n] = v
		return
	}
	if m.patches == nil {
		m.patches = make(map[int]Value)
	}
	m.patches[i] = v
}

func (m *MutableArray) materialize() {
	if m.materialized {
		return
	}
	items := make([]Value, 0, m.Count())
	for i := range m.source.Count() {
		items = append(items, m.Get(i))
	}
	m.items = append(items, m.tail...)
	m.patches, m.tail = nil, nil
	m.materialized = true
}

// Set replaces the item at i.
func (m *MutableArray) Set(i int, v Value) error {
	if i < 0 || i >= m.Count() {
		return errorf(OutOfRange, "array index %d out of range [0, %d)", i, m.Count())
	}
	m.adopt(v)
	m.setSlot(i, v)
	m.markChanged()
	return nil
}

// Insert inserts v before index i; i == Count() appends.
func (m *MutableArray) Insert(i int, v Value) error {
	if i < 0 || i > m.Count() {
		return errorf(OutOfRange, "array insert index %d out of range [0, %d]", i, m.Count())
	}
	m.materialize()
	m.adopt(v)
	m.items = slices.Insert(m.items, i, v)
	m.markChanged()
	return nil
}

// Remove removes n items starting at i.
func (m *MutableArray) Remove(i, n int) error {
	if i < 0 || n < 0 || i+n > m.Count() {
		return errorf(OutOfRange, "can't remove %d items at %d from array of %d", n, i, m.Count())
	}
	if n == 0 {
		return nil
	}
	m.materialize()
	m.items = slices.Delete(m.items, i, i+n)
	m.markChanged()
	return nil
}

func (m *MutableArray) Append(v Value) {
	m.adopt(v)
	if m.materialized {
		m.items = append(m.items, v)
	} else {
		m.tail = append(m.tail, v)
	}
	m.markChanged()
}

// Resize truncates the array or pads it with nulls.
func (m *MutableArray) Resize(n int) error {
	if n < 0 {
		return errorf(OutOfRange, "negative array size %d", n)
	}
	c := m.Count()
	switch {
	case n < c:
		return m.Remove(n, c-n)
	case n > c:
		for range n - c {
			m.Append(NullValue())
		}
	}
	return nil
}

// GetMutableArray returns item i as a MutableArray registered in m, so that
// its edits show through m. Returns nil if item i is not an array.
func (m *MutableArray) GetMutableArray(i int) *MutableArray {
	v := m.Get(i)
	if v.ma != nil {
		return v.ma
	}
	if v.Type() != TypeArray {
		return nil
	}
	child := newMutableArray(v.AsArray())
	child.parent = m
	m.setSlot(i, child.AsValue())
	return child
}

// GetMutableDict is GetMutableArray for dict items.
func (m *MutableArray) GetMutableDict(i int) *MutableDict {
	v := m.Get(i)
	if v.md != nil {
		return v.md
	}
	if v.Type() != TypeDict {
		return nil
	}
	child := newMutableDict(v.AsDict())
	child.parent = m
	m.setSlot(i, child.AsValue())
	return child
}

func (m *MutableArray) All() iter.Seq2[int, Value] {
	return m.AsValue().AsArray().All()
}

// Encode writes m into a new buffer. Unless overridden by opts, dict keys are
// encoded against the SharedKeys of m's source.
func (m *MutableArray) Encode(opts ...EncoderOption) ([]byte, error) {
	return encodeMutable(m.AsValue(), opts)
}

func (m *MutableArray) EncodeDoc(opts ...EncoderOption) (*Doc, error) {
	return encodeMutableDoc(m.AsValue(), opts)
}

func encodeMutable(v Value, opts []EncoderOption) ([]byte, error) {
	enc := NewEncoder(append([]EncoderOption{WithSharedKeys(v.SharedKeys())}, opts...)...)
	if err := enc.WriteValue(v); err != nil {
		return nil, err
	}
	return enc.Finish()
}

func encodeMutableDoc(v Value, opts []EncoderOption) (*Doc, error) {
	enc := NewEncoder(append([]EncoderOption{WithSharedKeys(v.SharedKeys())}, opts...)...)
	if err := enc.WriteValue(v); err != nil {
		return nil, err
	}
	return enc.FinishDoc()
}

// MutableDict is an editable overlay over an encoded Dict. Overridden,
// removed and added keys are kept in a map; everything else is read from the
// source. Iteration yields the source's keys in their order, then added keys
// in insertion order.
//
// A MutableDict is not safe for concurrent use.
type MutableDict struct {
	source  Dict
	entries map[string]*dictSlot
	added   []string
	count   int

	parent  changeNotifier
	changed bool
}

type dictSlot struct {
	val     Value
	removed bool
}

// NewMutableDict returns a new, empty dict.
func NewMutableDict() *MutableDict {
	return &MutableDict{}
}

func newMutableDict(d Dict) *MutableDict {
	return &MutableDict{source: d, count: d.Count()}
}

// AsValue returns m as a Value; the Value refers to m and sees later edits.
func (m *MutableDict) AsValue() Value {
	return Value{md: m}
}

// Source returns the dict this overlay was created from.
func (m *MutableDict) Source() Dict {
	return m.source
}

// IsChanged reports whether m or any nested mutable collection registered in
// it has been modified.
func (m *MutableDict) IsChanged() bool {
	return m.changed
}

func (m *MutableDict) markChanged() {
	if m.changed {
		return
	}
	m.changed = true
	if m.parent != nil {
		m.parent.markChanged()
	}
}

func (m *MutableDict) adopt(v Value) {
	adoptChild(m, v)
}

func (m *MutableDict) Count() int {
	return m.count
}

// Get returns the value for key, or undefined.
func (m *MutableDict) Get(key string) Value {
	if slot, ok := m.entries[key]; ok {
		return slot.val
	}
	return m.source.Get(key)
}

// Set stores v under key. Setting an undefined Value removes the key.
func (m *MutableDict) Set(key string, v Value) {
	if !v.Exists() {
		m.Remove(key)
		return
	}
	m.set(key, v)
}

func (m *MutableDict) set(key string, v Value) {
	m.adopt(v)
	if slot, ok := m.entries[key]; ok {
		if slot.removed {
			slot.removed = false
			m.count++
		}
		slot.val = v
	} else {
		if !m.source.Get(key).Exists() {
			m.added = append(m.added, key)
			m.count++
		}
		m.setSlot(key, v)
	}
	m.markChanged()
}

func (m *MutableDict) setSlot(key string, v Value) {
	if m.entries == nil {
		m.entries = make(map[string]*dictSlot)
	}
	if slot, ok := m.entries[key]; ok {
		slot.val = v
	} else {
		m.entries[key] = &dictSlot{val: v}
	}
}

// Remove deletes key. Removing a missing key is an OutOfRange error.
func (m *MutableDict) Remove(key string) error {
	if !m.Get(key).Exists() {
		return errorf(OutOfRange, "no key %q in dict", key)
	}
	if slot, ok := m.entries[key]; ok {
		slot.val, slot.removed = Value{}, true
	} else {
		m.setSlot(key, Value{})
		m.entries[key].removed = true
	}
	m.count--
	m.markChanged()
	return nil
}

// RemoveAll deletes every key.
func (m *MutableDict) RemoveAll() {
	if m.count == 0 {
		return
	}
	for _, key := range m.Keys() {
		m.Remove(key)
	}
}

// GetMutableArray returns the value for key as a MutableArray registered in
// m, so that its edits show through m. Returns nil if it's not an array.
func (m *MutableDict) GetMutableArray(key string) *MutableArray {
	v := m.Get(key)
	if v.ma != nil {
		return v.ma
	}
	if v.Type() != TypeArray {
		return nil
	}
	child := newMutableArray(v.AsArray())
	child.parent = m
	m.setSlot(key, child.AsValue())
	return child
}

// GetMutableDict is GetMutableArray for dict values.
func (m *MutableDict) GetMutableDict(key string) *MutableDict {
	v := m.Get(key)
	if v.md != nil {
		return v.md
	}
	if v.Type() != TypeDict {
		return nil
	}
	child := newMutableDict(v.AsDict())
	child.parent = m
	m.setSlot(key, child.AsValue())
	return child
}

func (m *MutableDict) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for k, v := range m.source.All() {
			if slot, ok := m.entries[k]; ok {
				if slot.removed {
					continue
				}
				v = slot.val
			}
			if !yield(k, v) {
				return
			}
		}
		for _, k := range m.added {
			slot := m.entries[k]
			if slot.removed {
				continue
			}
			if !yield(k, slot.val) {
				return
			}
		}
	}
}

// Keys returns all keys in iteration order.
func (m *MutableDict) Keys() []string {
	keys := make([]string, 0, m.count)
	for k := range m.All() {
		keys = append(keys, k)
	}
	return keys
}

// Encode writes m into a new buffer. Unless overridden by opts, keys are
// encoded against the SharedKeys of m's source.
func (m *MutableDict) Encode(opts ...EncoderOption) ([]byte, error) {
	return encodeMutable(m.AsValue(), opts)
}

func (m *MutableDict) EncodeDoc(opts ...EncoderOption) (*Doc, error) {
	return encodeMutableDoc(m.AsValue(), opts)
}
