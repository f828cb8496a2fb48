package fleece

import (
	"bytes"
	"encoding/binary"
	"math"
	"slices"
	"strconv"
)

// Type is the dynamic type of a Value.
type Type int8

const (
	TypeUndefined Type = iota - 1
	TypeNull
	TypeBool
	TypeNumber
	TypeString
	TypeData
	TypeArray
	TypeDict
)

func (t Type) String() string {
	switch t {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeData:
		return "data"
	case TypeArray:
		return "array"
	case TypeDict:
		return "dict"
	default:
		return "Type(" + strconv.Itoa(int(t)) + ")"
	}
}

// scope is a region of encoded data plus the SharedKeys its dicts use. Every
// encoded Value points at its scope, which keeps the bytes alive. A mapped
// scope's bytes are not Go memory, so nothing that points into them may be
// handed out; see detached.
type scope struct {
	data   []byte
	sk     *SharedKeys
	alloc  *AllocSlice
	mapped bool
	base   *scope // data that extern pointers resolve into
}

// detached returns b as is for heap data, and a copy of b for mapped data.
func (s *scope) detached(b Slice) Slice {
	if s.mapped && b != nil {
		return Slice(slices.Clone([]byte(b)))
	}
	return b
}

// Value is a read-only, dynamically typed value. It is either a cell inside
// encoded data or a mutable collection (MutableArray or MutableDict).
//
// The zero Value is undefined: it is what lookups return when nothing is found,
// and every accessor returns the zero result for it. Accessors never fail on
// type mismatch; asking a string for AsInt returns 0.
type Value struct {
	s   *scope
	off uint32
	ma  *MutableArray
	md  *MutableDict
}

// Undefined is the zero Value.
var Undefined = Value{}

func encodedValue(s *scope, off int) Value {
	if off < 0 {
		return Value{}
	}
	return Value{s: s, off: uint32(off)}
}

func (v Value) isEncoded() bool {
	return v.s != nil
}

func (v Value) head() byte {
	return v.s.data[v.off]
}

func (v Value) tag() byte {
	return v.s.data[v.off] >> 4
}

func (v Value) isNonEmptyCollection() bool {
	switch v.tag() {
	case tagArray:
		return v.AsArray().Count() > 0
	case tagDict:
		return v.AsDict().Count() > 0
	}
	return false
}

// Exists is false for the zero Value, i.e. for lookup misses.
func (v Value) Exists() bool {
	return v.s != nil || v.ma != nil || v.md != nil
}

func (v Value) Type() Type {
	switch {
	case v.ma != nil:
		return TypeArray
	case v.md != nil:
		return TypeDict
	case v.s == nil:
		return TypeUndefined
	}
	switch v.tag() {
	case tagShortInt, tagInt, tagFloat:
		return TypeNumber
	case tagSpecial:
		switch v.head() & 0x0C {
		case specialNull:
			return TypeNull
		case specialUndefined:
			return TypeUndefined
		default:
			return TypeBool
		}
	case tagString:
		return TypeString
	case tagBinary:
		return TypeData
	case tagArray:
		return TypeArray
	case tagDict:
		return TypeDict
	default:
		return TypeUndefined
	}
}

func (v Value) IsNull() bool {
	return v.Type() == TypeNull
}

// IsMutable reports whether v is a MutableArray or MutableDict.
func (v Value) IsMutable() bool {
	return v.ma != nil || v.md != nil
}

func (v Value) IsInteger() bool {
	if !v.isEncoded() {
		return false
	}
	t := v.tag()
	return t == tagShortInt || t == tagInt
}

// IsUnsigned reports whether v is an integer written as unsigned. Small
// non-negative ints count as unsigned too.
func (v Value) IsUnsigned() bool {
	if !v.isEncoded() {
		return false
	}
	switch v.tag() {
	case tagInt:
		return v.head()&0x08 != 0
	case tagShortInt:
		return v.AsInt() >= 0
	default:
		return false
	}
}

func (v Value) IsDouble() bool {
	return v.isEncoded() && v.tag() == tagFloat && v.head()&0x08 != 0
}

func (v Value) isFloat() bool {
	return v.isEncoded() && v.tag() == tagFloat
}

func (v Value) AsBool() bool {
	switch {
	case v.ma != nil, v.md != nil:
		return true
	case v.s == nil:
		return false
	}
	switch v.tag() {
	case tagSpecial:
		return v.head()&0x0C == specialTrue
	case tagShortInt, tagInt:
		return v.AsInt() != 0
	case tagFloat:
		return v.AsDouble() != 0
	default:
		return true
	}
}

func (v Value) AsInt() int64 {
	if !v.isEncoded() {
		return 0
	}
	data := v.s.data
	off := int(v.off)
	switch v.tag() {
	case tagShortInt:
		i := int64(data[off]&0x0F)<<8 | int64(data[off+1])
		if i&0x0800 != 0 {
			i |= -0x1000
		}
		return i
	case tagInt:
		n := int(data[off]&0x07) + 1
		return int64(readIntOfLength(data[off+1:off+1+n], data[off]&0x08 != 0))
	case tagFloat:
		return int64(v.AsDouble())
	case tagSpecial:
		if data[off]&0x0C == specialTrue {
			return 1
		}
	}
	return 0
}

func (v Value) AsUnsigned() uint64 {
	return uint64(v.AsInt())
}

func (v Value) AsDouble() float64 {
	if !v.isEncoded() {
		return 0
	}
	data := v.s.data
	off := int(v.off)
	switch v.tag() {
	case tagFloat:
		if data[off]&0x08 != 0 {
			return math.Float64frombits(binary.LittleEndian.Uint64(data[off+2:]))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off+2:])))
	case tagInt:
		if data[off]&0x08 != 0 {
			return float64(v.AsUnsigned())
		}
		return float64(v.AsInt())
	case tagShortInt, tagSpecial:
		return float64(v.AsInt())
	}
	return 0
}

func (v Value) AsFloat() float32 {
	return float32(v.AsDouble())
}

// AsStringBytes returns the bytes of a string value, or nil. It doesn't copy,
// except for values of a file-mapped Doc.
func (v Value) AsStringBytes() Slice {
	if !v.isEncoded() || v.tag() != tagString {
		return nil
	}
	return v.s.detached(v.payload())
}

// AsString returns the string value. For heap-backed docs the result shares
// memory with the encoded data.
func (v Value) AsString() string {
	if !v.isEncoded() || v.tag() != tagString {
		return ""
	}
	if v.s.mapped {
		return string(v.payload())
	}
	return v.payload().String()
}

// AsData returns the bytes of a binary data value, or nil. Copies like
// AsStringBytes.
func (v Value) AsData() Slice {
	if !v.isEncoded() || v.tag() != tagBinary {
		return nil
	}
	return v.s.detached(v.payload())
}

// stringBytes is AsStringBytes without the copy, for lookups that don't
// retain the result.
func (v Value) stringBytes() Slice {
	if !v.isEncoded() || v.tag() != tagString {
		return nil
	}
	return v.payload()
}

func (v Value) payload() Slice {
	data := v.s.data
	start, count, ok := stringBounds(data, int(v.off), len(data))
	if !ok {
		return nil
	}
	return Slice(data[start : start+count : start+count])
}

func (v Value) AsArray() Array {
	if v.ma != nil {
		return Array{v: v}
	}
	if !v.isEncoded() || v.tag() != tagArray {
		return Array{}
	}
	return newArray(v)
}

func (v Value) AsDict() Dict {
	if v.md != nil {
		return Dict{v: v}
	}
	if !v.isEncoded() || v.tag() != tagDict {
		return Dict{}
	}
	return newDict(v)
}

// AsMutableArray returns the MutableArray v refers to, or nil.
func (v Value) AsMutableArray() *MutableArray {
	return v.ma
}

// AsMutableDict returns the MutableDict v refers to, or nil.
func (v Value) AsMutableDict() *MutableDict {
	return v.md
}

// SharedKeys returns the key scope used by dicts in v's data.
func (v Value) SharedKeys() *SharedKeys {
	switch {
	case v.s != nil:
		return v.s.sk
	case v.md != nil:
		return v.md.source.v.SharedKeys()
	case v.ma != nil:
		return v.ma.source.v.SharedKeys()
	}
	return nil
}

// IsEqual compares structurally. Numbers compare by value, so an int equals a
// double holding the same number.
func (v Value) IsEqual(o Value) bool {
	t := v.Type()
	if t != o.Type() {
		return false
	}
	switch t {
	case TypeUndefined, TypeNull:
		return true
	case TypeBool:
		return v.AsBool() == o.AsBool()
	case TypeNumber:
		if v.isFloat() || o.isFloat() {
			return v.AsDouble() == o.AsDouble()
		}
		if v.AsInt() != o.AsInt() {
			return false
		}
		// Same bits; differ only if one is a huge unsigned and the other negative.
		return v.AsInt() >= 0 || v.IsUnsigned() == o.IsUnsigned()
	case TypeString:
		return bytes.Equal(v.AsStringBytes(), o.AsStringBytes())
	case TypeData:
		return bytes.Equal(v.AsData(), o.AsData())
	case TypeArray:
		a, b := v.AsArray(), o.AsArray()
		n := a.Count()
		if n != b.Count() {
			return false
		}
		for i := range n {
			if !a.Get(i).IsEqual(b.Get(i)) {
				return false
			}
		}
		return true
	case TypeDict:
		a, b := v.AsDict(), o.AsDict()
		if a.Count() != b.Count() {
			return false
		}
		for k, av := range a.All() {
			if !av.IsEqual(b.Get(k)) {
				return false
			}
		}
		return true
	}
	return false
}

// ToJSON renders v as strict JSON.
func (v Value) ToJSON() string {
	enc := NewJSONEncoder()
	if err := enc.WriteValue(v); err != nil {
		return ""
	}
	return string(enc.Bytes())
}

// ToCanonicalJSON renders v as strict JSON with dict keys sorted, so equal
// values render identically.
func (v Value) ToCanonicalJSON() string {
	enc := NewJSONEncoder(WithCanonical(true))
	if err := enc.WriteValue(v); err != nil {
		return ""
	}
	return string(enc.Bytes())
}

// ToJSON5 renders v as JSON5, with identifier-like keys unquoted.
func (v Value) ToJSON5() string {
	enc := NewJSON5Encoder()
	if err := enc.WriteValue(v); err != nil {
		return ""
	}
	return string(enc.Bytes())
}

// String renders v as JSON5; undefined renders as "undefined".
func (v Value) String() string {
	if !v.Exists() {
		return "undefined"
	}
	return v.ToJSON5()
}
