package fleece

import (
	"strconv"
	"strings"
)

// KeyPath is a compiled lookup path such as `users[0].name` or
// `$.items[-1]`. A leading `$` is optional. Negative indexes count from the
// end of the array. A backslash makes the next character part of a key.
type KeyPath struct {
	src  string
	path Path
}

func NewKeyPath(s string) (*KeyPath, error) {
	p, err := parseKeyPath(s)
	if err != nil {
		return nil, err
	}
	return &KeyPath{src: s, path: p}, nil
}

func (kp *KeyPath) String() string {
	return kp.src
}

// Path returns the parsed components.
func (kp *KeyPath) Path() Path {
	return kp.path
}

// Eval looks the path up starting at root; misses yield undefined.
func (kp *KeyPath) Eval(root Value) Value {
	return kp.path.Eval(root)
}

// EvalKeyPath parses and evaluates s in one go.
func EvalKeyPath(root Value, s string) (Value, error) {
	kp, err := NewKeyPath(s)
	if err != nil {
		return Value{}, err
	}
	return kp.Eval(root), nil
}

func parseKeyPath(s string) (Path, error) {
	in := strings.TrimPrefix(s, "$")
	var path Path
	for i := 0; i < len(in); {
		if in[i] == '[' {
			end := strings.IndexByte(in[i:], ']')
			if end < 0 {
				return nil, errorf(InvalidData, "key path %q: missing ']'", s)
			}
			n, err := strconv.Atoi(in[i+1 : i+end])
			if err != nil {
				return nil, errorf(InvalidData, "key path %q: invalid index %q", s, in[i+1:i+end])
			}
			path = append(path, IndexComponent(n))
			i += end + 1
			continue
		}

		if in[i] == '.' {
			i++
		} else if len(path) > 0 {
			return nil, errorf(InvalidData, "key path %q: expected '.' or '[' at %d", s, i)
		}
		var key strings.Builder
		for i < len(in) && in[i] != '.' && in[i] != '[' {
			if in[i] == '\\' && i+1 < len(in) {
				i++
			}
			key.WriteByte(in[i])
			i++
		}
		if key.Len() == 0 {
			return nil, errorf(InvalidData, "key path %q: empty key", s)
		}
		path = append(path, KeyComponent(key.String()))
	}
	return path, nil
}
