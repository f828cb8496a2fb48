package fleece

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/go-json-experiment/json/jsontext"
)

// ConvertJSON parses one JSON value from data and replays it into w.
// Duplicate keys and trailing garbage are JSONError.
func ConvertJSON(w Writer, data []byte) error {
	dec := jsontext.NewDecoder(bytes.NewReader(data))
	if err := convertJSONValue(w, dec); err != nil {
		return err
	}
	if _, err := dec.ReadToken(); err != io.EOF {
		if err == nil {
			return errorf(JSONError, "unexpected data after JSON value")
		}
		return jsonError(err)
	}
	return nil
}

func jsonError(err error) error {
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return wrapErrorf(JSONError, err, "invalid JSON")
}

func convertJSONValue(w Writer, dec *jsontext.Decoder) error {
	tok, err := dec.ReadToken()
	if err != nil {
		return jsonError(err)
	}
	switch tok.Kind() {
	case 'n':
		return w.WriteNull()
	case 't', 'f':
		return w.WriteBool(tok.Bool())
	case '"':
		return w.WriteString(tok.String())
	case '0':
		return writeJSONNumber(w, tok.String())
	case '[':
		if err := w.BeginArray(0); err != nil {
			return err
		}
		for dec.PeekKind() != ']' {
			if err := convertJSONValue(w, dec); err != nil {
				return err
			}
		}
		if _, err := dec.ReadToken(); err != nil {
			return jsonError(err)
		}
		return w.EndArray()
	case '{':
		if err := w.BeginDict(0); err != nil {
			return err
		}
		for dec.PeekKind() != '}' {
			key, err := dec.ReadToken()
			if err != nil {
				return jsonError(err)
			}
			if err := w.WriteKey(key.String()); err != nil {
				return err
			}
			if err := convertJSONValue(w, dec); err != nil {
				return err
			}
		}
		if _, err := dec.ReadToken(); err != nil {
			return jsonError(err)
		}
		return w.EndDict()
	default:
		return errorf(JSONError, "unexpected JSON token %v", tok.Kind())
	}
}

// writeJSONNumber writes integers that fit int64 or uint64 as integers and
// everything else as floating point.
func writeJSONNumber(w Writer, num string) error {
	if !strings.ContainsAny(num, ".eE") {
		if i, err := strconv.ParseInt(num, 10, 64); err == nil {
			return w.WriteInt(i)
		}
		if u, err := strconv.ParseUint(num, 10, 64); err == nil {
			return w.WriteUint(u)
		}
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return wrapErrorf(JSONError, err, "invalid number %q", num)
	}
	return w.WriteDouble(f)
}

// WriteJSON parses JSON and writes it as the next value.
func (e *Encoder) WriteJSON(data []byte) error {
	if err := ConvertJSON(e, data); err != nil {
		return e.fail(err)
	}
	return nil
}

// WriteJSON5 is WriteJSON for JSON5 input.
func (e *Encoder) WriteJSON5(data []byte) error {
	j, err := ConvertJSON5ToJSON(data)
	if err != nil {
		return e.fail(err)
	}
	return e.WriteJSON(j)
}

// FromJSON encodes JSON text into a new Doc, adding its keys to sk.
func FromJSON(data []byte, sk *SharedKeys) (*Doc, error) {
	enc := NewEncoder(WithSharedKeys(sk), WithReserve(len(data)))
	if err := enc.WriteJSON(data); err != nil {
		return nil, err
	}
	return enc.FinishDoc()
}

// FromJSON5 is FromJSON for JSON5 text.
func FromJSON5(data []byte, sk *SharedKeys) (*Doc, error) {
	j, err := ConvertJSON5ToJSON(data)
	if err != nil {
		return nil, err
	}
	return FromJSON(j, sk)
}
