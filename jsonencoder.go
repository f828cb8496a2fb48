package fleece

import (
	"encoding/base64"
	"math"
	"strconv"

	"github.com/go-json-experiment/json/jsontext"
)

// JSONOption configures a JSONEncoder.
type JSONOption func(*JSONEncoder)

// WithCanonical makes WriteValue emit dict keys in sorted order.
func WithCanonical(enabled bool) JSONOption {
	return func(e *JSONEncoder) { e.canonical = enabled }
}

// JSONEncoder writes JSON or JSON5 text through the same API as Encoder.
// Binary data is written as a base64 string; undefined and non-finite
// numbers are written as null (JSON5 writes Infinity and -Infinity).
type JSONEncoder struct {
	out       []byte
	json5     bool
	canonical bool

	stack    []jsonLevel
	top      jsonLevel
	finished bool
	err      error
}

type jsonLevel struct {
	dict   bool
	count  int
	keyed  bool // in a dict, a key was written and its value is pending
	active bool
}

func NewJSONEncoder(opts ...JSONOption) *JSONEncoder {
	e := &JSONEncoder{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewJSON5Encoder writes JSON5: dict keys that are valid identifiers are left
// unquoted.
func NewJSON5Encoder(opts ...JSONOption) *JSONEncoder {
	e := NewJSONEncoder(opts...)
	e.json5 = true
	return e
}

// Bytes returns the text written so far.
func (e *JSONEncoder) Bytes() []byte {
	return e.out
}

func (e *JSONEncoder) Err() error {
	return e.err
}

func (e *JSONEncoder) Reset() {
	e.out = e.out[:0]
	e.stack = e.stack[:0]
	e.top = jsonLevel{}
	e.finished = false
	e.err = nil
}

// Finish returns the text; it fails if a collection is still open. After
// Finish every write fails until Reset.
func (e *JSONEncoder) Finish() ([]byte, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if len(e.stack) > 0 {
		return nil, e.fail(errorf(EncodeError, "unclosed array/dict"))
	}
	if e.top.count == 0 {
		return nil, e.fail(errorf(EncodeError, "nothing written"))
	}
	e.finished = true
	return e.out, nil
}

func (e *JSONEncoder) check() error {
	if e.err != nil {
		return e.err
	}
	if e.finished {
		return e.fail(errorf(InternalError, "encoder already finished"))
	}
	return nil
}

func (e *JSONEncoder) fail(err error) error {
	if e.err == nil {
		e.err = err
	}
	return e.err
}

// beginItem writes the separator that precedes a value.
func (e *JSONEncoder) beginItem() error {
	if err := e.check(); err != nil {
		return err
	}
	t := &e.top
	switch {
	case t.dict && !t.keyed:
		return e.fail(errorf(EncodeError, "need a key before this value"))
	case t.dict:
		t.keyed = false
	case !t.active && t.count > 0:
		return e.fail(errorf(EncodeError, "top level must have only one value"))
	case t.count > 0:
		e.out = append(e.out, ',')
	}
	t.count++
	return nil
}

func (e *JSONEncoder) writeRaw(s string) error {
	if err := e.beginItem(); err != nil {
		return err
	}
	e.out = append(e.out, s...)
	return nil
}

func (e *JSONEncoder) WriteNull() error      { return e.writeRaw("null") }
func (e *JSONEncoder) WriteUndefined() error { return e.writeRaw("null") }

func (e *JSONEncoder) WriteBool(b bool) error {
	if b {
		return e.writeRaw("true")
	}
	return e.writeRaw("false")
}

func (e *JSONEncoder) WriteInt(i int64) error {
	if err := e.beginItem(); err != nil {
		return err
	}
	e.out = strconv.AppendInt(e.out, i, 10)
	return nil
}

func (e *JSONEncoder) WriteUint(u uint64) error {
	if err := e.beginItem(); err != nil {
		return err
	}
	e.out = strconv.AppendUint(e.out, u, 10)
	return nil
}

func (e *JSONEncoder) WriteFloat(f float32) error {
	return e.writeFloat(float64(f), 32)
}

func (e *JSONEncoder) WriteDouble(f float64) error {
	return e.writeFloat(f, 64)
}

func (e *JSONEncoder) writeFloat(f float64, bits int) error {
	if err := e.beginItem(); err != nil {
		return err
	}
	switch {
	case math.IsInf(f, 0) && e.json5:
		if f < 0 {
			e.out = append(e.out, '-')
		}
		e.out = append(e.out, "Infinity"...)
	case math.IsInf(f, 0) || math.IsNaN(f):
		e.out = append(e.out, "null"...)
	default:
		e.out = appendJSONFloat(e.out, f, bits)
	}
	return nil
}

// appendJSONFloat formats like ES6 number-to-string: plain notation within
// [1e-6, 1e21), exponent notation outside.
func appendJSONFloat(dst []byte, f float64, bits int) []byte {
	if bits == 32 {
		f = float64(float32(f))
	}
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 {
		if bits == 64 && (abs < 1e-6 || abs >= 1e21) ||
			bits == 32 && (float32(abs) < 1e-6 || float32(abs) >= 1e21) {
			format = 'e'
		}
	}
	dst = strconv.AppendFloat(dst, f, format, -1, bits)
	if format == 'e' {
		// e-09 becomes e-9
		n := len(dst)
		if n >= 4 && dst[n-4] == 'e' && dst[n-3] == '-' && dst[n-2] == '0' {
			dst[n-2] = dst[n-1]
			dst = dst[:n-1]
		}
	}
	return dst
}

func (e *JSONEncoder) WriteString(s string) error {
	if err := e.beginItem(); err != nil {
		return err
	}
	e.out = appendJSONString(e.out, s)
	return nil
}

// appendJSONString quotes s. Invalid UTF-8 is replaced with U+FFFD.
func appendJSONString(dst []byte, s string) []byte {
	dst, _ = jsontext.AppendQuote(dst, s)
	return dst
}

func (e *JSONEncoder) WriteData(b []byte) error {
	if err := e.beginItem(); err != nil {
		return err
	}
	e.out = append(e.out, '"')
	e.out = base64.StdEncoding.AppendEncode(e.out, b)
	e.out = append(e.out, '"')
	return nil
}

func (e *JSONEncoder) push(dict bool, open byte) error {
	if err := e.beginItem(); err != nil {
		return err
	}
	e.stack = append(e.stack, e.top)
	e.top = jsonLevel{dict: dict, active: true}
	e.out = append(e.out, open)
	return nil
}

func (e *JSONEncoder) pop(dict bool, close byte) error {
	if err := e.check(); err != nil {
		return err
	}
	if !e.top.active || e.top.dict != dict {
		return e.fail(errorf(EncodeError, "ending wrong type of collection"))
	}
	if e.top.keyed {
		return e.fail(errorf(EncodeError, "need a value after a key"))
	}
	e.out = append(e.out, close)
	e.top = e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	return nil
}

func (e *JSONEncoder) BeginArray(reserve int) error { return e.push(false, '[') }
func (e *JSONEncoder) EndArray() error              { return e.pop(false, ']') }
func (e *JSONEncoder) BeginDict(reserve int) error  { return e.push(true, '{') }
func (e *JSONEncoder) EndDict() error               { return e.pop(true, '}') }

func (e *JSONEncoder) WriteKey(key string) error {
	if err := e.check(); err != nil {
		return err
	}
	t := &e.top
	if !t.dict {
		return e.fail(errorf(EncodeError, "not writing a dictionary"))
	}
	if t.keyed {
		return e.fail(errorf(EncodeError, "need a value after a key"))
	}
	if t.count > 0 {
		e.out = append(e.out, ',')
	}
	if e.json5 && isJSIdentifier(key) {
		e.out = append(e.out, key...)
	} else {
		e.out = appendJSONString(e.out, key)
	}
	e.out = append(e.out, ':')
	t.keyed = true
	return nil
}

// WriteValue writes v as text. Mutable collections are written with their
// current contents.
func (e *JSONEncoder) WriteValue(v Value) error {
	return writeValue(e, v, e.canonical)
}

func isJSIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == '$':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
