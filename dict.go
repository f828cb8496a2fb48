package fleece

import (
	"bytes"
	"iter"
	"sort"
	"strconv"
)

// Dict is a lazy view of a dictionary value. Encoded dicts keep their keys
// sorted (shared integer keys first, then strings bytewise), so lookups are
// binary searches. The zero Dict is empty.
type Dict struct {
	v     Value
	first uint32
	count uint32
	wide  bool
}

func newDict(v Value) Dict {
	data := v.s.data
	first, count, isWide, ok := collectionHeader(data, int(v.off), len(data))
	if !ok {
		return Dict{}
	}
	return Dict{v: v, first: uint32(first), count: uint32(count), wide: isWide}
}

// Value returns the dict as a Value (undefined for the zero Dict).
func (d Dict) Value() Value {
	return d.v
}

func (d Dict) Count() int {
	if d.v.md != nil {
		return d.v.md.Count()
	}
	return int(d.count)
}

func (d Dict) IsEmpty() bool {
	return d.Count() == 0
}

func (d Dict) sharedKeys() *SharedKeys {
	return d.v.SharedKeys()
}

func (d Dict) keyAt(i int) Value {
	pos := int(d.first) + 2*i*width(d.wide)
	return d.v.s.valueAt(pos, d.wide)
}

func (d Dict) valueAt(i int) Value {
	pos := int(d.first) + (2*i+1)*width(d.wide)
	return d.v.s.valueAt(pos, d.wide)
}

// Get returns the value for key, or undefined if there is none.
func (d Dict) Get(key string) Value {
	if d.v.md != nil {
		return d.v.md.Get(key)
	}
	if d.count == 0 {
		return Value{}
	}
	if sk := d.v.s.sk; sk != nil {
		if code, ok := sk.Encode(key); ok {
			if v := d.getShared(code); v.Exists() {
				return v
			}
		}
	}
	return d.getString(key)
}

// GetKey is Get with a DictKey, which caches the key's shared code.
func (d Dict) GetKey(k *DictKey) Value {
	if d.v.md != nil || d.count == 0 {
		return d.Get(k.str)
	}
	if sk := d.v.s.sk; sk != nil {
		if k.sk != sk {
			k.sk = sk
			k.code, k.hasCode = sk.Encode(k.str)
		}
		if k.hasCode {
			if v := d.getShared(k.code); v.Exists() {
				return v
			}
		}
	}
	return d.getString(k.str)
}

func (d Dict) getShared(code int) Value {
	n := int(d.count)
	i := sort.Search(n, func(i int) bool {
		k := d.keyAt(i)
		if !k.IsInteger() {
			return true // string keys sort after integer keys
		}
		return k.AsInt() >= int64(code)
	})
	if i < n {
		if k := d.keyAt(i); k.IsInteger() && k.AsInt() == int64(code) {
			return d.valueAt(i)
		}
	}
	return Value{}
}

func (d Dict) getString(key string) Value {
	n := int(d.count)
	target := []byte(key)
	i := sort.Search(n, func(i int) bool {
		k := d.keyAt(i)
		if k.IsInteger() {
			return false
		}
		return bytes.Compare(k.stringBytes(), target) >= 0
	})
	if i < n {
		if k := d.keyAt(i); k.Type() == TypeString && bytes.Equal(k.stringBytes(), target) {
			return d.valueAt(i)
		}
	}
	return Value{}
}

// keyString decodes an encoded key. Integer keys are resolved via the dict's
// SharedKeys; codes that can't be resolved render as decimal.
func (d Dict) keyString(k Value) string {
	if k.IsInteger() {
		code := int(k.AsInt())
		if sk := d.v.s.sk; sk != nil {
			if s, err := sk.Decode(code); err == nil {
				return s
			}
		}
		return strconv.Itoa(code)
	}
	return k.AsString()
}

// All yields key/value pairs. Encoded dicts yield them in key order, mutable
// ones in their own iteration order (see MutableDict.All).
func (d Dict) All() iter.Seq2[string, Value] {
	if d.v.md != nil {
		return d.v.md.All()
	}
	return func(yield func(string, Value) bool) {
		for i := range int(d.count) {
			if !yield(d.keyString(d.keyAt(i)), d.valueAt(i)) {
				return
			}
		}
	}
}

// Keys returns all keys in iteration order.
func (d Dict) Keys() []string {
	keys := make([]string, 0, d.Count())
	for k := range d.All() {
		keys = append(keys, k)
	}
	return keys
}

// AsMutable returns a mutable overlay of d. Nothing is copied; if d already is
// mutable, the same MutableDict is returned.
func (d Dict) AsMutable() *MutableDict {
	if d.v.md != nil {
		return d.v.md
	}
	return newMutableDict(d)
}

// MutableCopy returns a new MutableDict with d's entries. If deep is true,
// nested collections are copied as mutable too.
func (d Dict) MutableCopy(deep bool) *MutableDict {
	m := NewMutableDict()
	for k, v := range d.All() {
		if deep {
			v = mutableCopyOf(v)
		}
		m.set(k, v)
	}
	m.changed = false
	return m
}

// DictKey is a lookup key that remembers its shared-key code for the last
// SharedKeys it was used with. Not safe for concurrent use.
type DictKey struct {
	str     string
	sk      *SharedKeys
	code    int
	hasCode bool
}

func NewDictKey(key string) *DictKey {
	return &DictKey{str: key}
}

func (k *DictKey) String() string {
	return k.str
}
