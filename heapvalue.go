package fleece

import (
	"fmt"
	"math"
)

// Standalone scalars are tiny encoded buffers of their own, so they behave
// exactly like values read from a document.

var (
	nullValue  = Value{s: &scope{data: []byte{tagSpecial << 4, 0}}}
	falseValue = Value{s: &scope{data: []byte{tagSpecial<<4 | specialFalse, 0}}}
	trueValue  = Value{s: &scope{data: []byte{tagSpecial<<4 | specialTrue, 0}}}
)

func NullValue() Value {
	return nullValue
}

func BoolValue(b bool) Value {
	if b {
		return trueValue
	}
	return falseValue
}

func IntValue(i int64) Value {
	return scalarValue(func(e *Encoder) error { return e.WriteInt(i) })
}

func UintValue(u uint64) Value {
	return scalarValue(func(e *Encoder) error { return e.WriteUint(u) })
}

// FloatValue returns a number; NaN can't be encoded and yields null.
func FloatValue(f float64) Value {
	if math.IsNaN(f) {
		return nullValue
	}
	return scalarValue(func(e *Encoder) error { return e.WriteDouble(f) })
}

func StringValue(s string) Value {
	return scalarValue(func(e *Encoder) error { return e.WriteString(s) })
}

func DataValue(b []byte) Value {
	return scalarValue(func(e *Encoder) error { return e.WriteData(b) })
}

func scalarValue(write func(e *Encoder) error) Value {
	e := NewEncoder()
	if err := write(e); err != nil {
		panic(err) // unreachable for scalars other than NaN
	}
	data, err := e.Finish()
	if err != nil {
		panic(err)
	}
	s := &scope{data: data}
	return s.valueAt(len(data)-narrow, false)
}

// NewValue converts a Go value. It accepts nil, bool, all int, uint and float
// types, string, []byte, Value, Array, Dict, *Doc, *MutableArray,
// *MutableDict, []any and map[string]any; slices and maps become mutable
// collections, converted recursively.
func NewValue(x any) (Value, error) {
	switch x := x.(type) {
	case nil:
		return nullValue, nil
	case Value:
		return x, nil
	case Array:
		return x.Value(), nil
	case Dict:
		return x.Value(), nil
	case *Doc:
		return x.Root(), nil
	case *MutableArray:
		return x.AsValue(), nil
	case *MutableDict:
		return x.AsValue(), nil
	case bool:
		return BoolValue(x), nil
	case int:
		return IntValue(int64(x)), nil
	case int8:
		return IntValue(int64(x)), nil
	case int16:
		return IntValue(int64(x)), nil
	case int32:
		return IntValue(int64(x)), nil
	case int64:
		return IntValue(x), nil
	case uint:
		return UintValue(uint64(x)), nil
	case uint8:
		return UintValue(uint64(x)), nil
	case uint16:
		return UintValue(uint64(x)), nil
	case uint32:
		return UintValue(uint64(x)), nil
	case uint64:
		return UintValue(x), nil
	case float32:
		if x != x {
			return Value{}, errorf(InvalidData, "can't store NaN")
		}
		return scalarValue(func(e *Encoder) error { return e.WriteFloat(x) }), nil
	case float64:
		if math.IsNaN(x) {
			return Value{}, errorf(InvalidData, "can't store NaN")
		}
		return FloatValue(x), nil
	case string:
		return StringValue(x), nil
	case []byte:
		return DataValue(x), nil
	case []any:
		m := NewMutableArray()
		for _, item := range x {
			v, err := NewValue(item)
			if err != nil {
				return Value{}, err
			}
			m.Append(v)
		}
		m.changed = false
		return m.AsValue(), nil
	case map[string]any:
		m := NewMutableDict()
		for k, item := range x {
			v, err := NewValue(item)
			if err != nil {
				return Value{}, err
			}
			m.set(k, v)
		}
		m.changed = false
		return m.AsValue(), nil
	default:
		return Value{}, errorf(UnknownValue, "can't convert %T", x)
	}
}

// MustValue is NewValue that panics on error.
func MustValue(x any) Value {
	v, err := NewValue(x)
	if err != nil {
		panic(fmt.Errorf("fleece.MustValue: %w", err))
	}
	return v
}
