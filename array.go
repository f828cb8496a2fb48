package fleece

import "iter"

// Array is a lazy view of an array value: items are decoded on access and
// iteration re-reads the encoded data. The zero Array is empty.
type Array struct {
	v     Value
	first uint32
	count uint32
	wide  bool
}

func newArray(v Value) Array {
	data := v.s.data
	first, count, isWide, ok := collectionHeader(data, int(v.off), len(data))
	if !ok {
		return Array{}
	}
	return Array{v: v, first: uint32(first), count: uint32(count), wide: isWide}
}

// Value returns the array as a Value (undefined for the zero Array).
func (a Array) Value() Value {
	return a.v
}

func (a Array) Count() int {
	if a.v.ma != nil {
		return a.v.ma.Count()
	}
	return int(a.count)
}

func (a Array) IsEmpty() bool {
	return a.Count() == 0
}

// Get returns the item at index i, or undefined if i is out of range.
func (a Array) Get(i int) Value {
	if a.v.ma != nil {
		return a.v.ma.Get(i)
	}
	if i < 0 || i >= int(a.count) {
		return Value{}
	}
	pos := int(a.first) + i*width(a.wide)
	return a.v.s.valueAt(pos, a.wide)
}

// All yields every item in order. The sequence can be ranged over repeatedly.
func (a Array) All() iter.Seq2[int, Value] {
	return func(yield func(int, Value) bool) {
		n := a.Count()
		for i := range n {
			if !yield(i, a.Get(i)) {
				return
			}
		}
	}
}

// AsMutable returns a mutable overlay of a. Nothing is copied; if a already is
// mutable, the same MutableArray is returned.
func (a Array) AsMutable() *MutableArray {
	if a.v.ma != nil {
		return a.v.ma
	}
	return newMutableArray(a)
}

// MutableCopy returns a new MutableArray with a's items. If deep is true,
// nested collections are copied as mutable too.
func (a Array) MutableCopy(deep bool) *MutableArray {
	m := NewMutableArray()
	m.items = make([]Value, 0, a.Count())
	for _, item := range a.All() {
		if deep {
			item = mutableCopyOf(item)
		}
		m.adopt(item)
		m.items = append(m.items, item)
	}
	return m
}

func mutableCopyOf(v Value) Value {
	switch v.Type() {
	case TypeArray:
		return v.AsArray().MutableCopy(true).AsValue()
	case TypeDict:
		return v.AsDict().MutableCopy(true).AsValue()
	default:
		return v
	}
}
