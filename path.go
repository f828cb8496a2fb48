package fleece

import (
	"strconv"
	"strings"
)

// PathComponent is one step of a Path: a dict key or an array index.
type PathComponent struct {
	Key   string
	Index int
	IsKey bool
}

func KeyComponent(key string) PathComponent {
	return PathComponent{Key: key, IsKey: true}
}

func IndexComponent(i int) PathComponent {
	return PathComponent{Index: i}
}

// Path locates a value inside nested collections. The empty Path is the root.
type Path []PathComponent

func (p Path) append(c PathComponent) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = c
	return out
}

// String renders p in JavaScript syntax, e.g. `.users[2].name`.
// Keys that aren't identifiers are written as `["key"]`.
func (p Path) String() string {
	var buf strings.Builder
	for _, c := range p {
		switch {
		case !c.IsKey:
			buf.WriteByte('[')
			buf.WriteString(strconv.Itoa(c.Index))
			buf.WriteByte(']')
		case isJSIdentifier(c.Key):
			buf.WriteByte('.')
			buf.WriteString(c.Key)
		default:
			buf.WriteByte('[')
			buf.Write(appendJSONString(nil, c.Key))
			buf.WriteByte(']')
		}
	}
	return buf.String()
}

// JSONPointer renders p as an RFC 6901 JSON Pointer; the root is "".
func (p Path) JSONPointer() string {
	var buf strings.Builder
	for _, c := range p {
		buf.WriteByte('/')
		if c.IsKey {
			buf.WriteString(pointerEscaper.Replace(c.Key))
		} else {
			buf.WriteString(strconv.Itoa(c.Index))
		}
	}
	return buf.String()
}

var (
	pointerEscaper   = strings.NewReplacer("~", "~0", "/", "~1")
	pointerUnescaper = strings.NewReplacer("~1", "/", "~0", "~")
)

// ParseJSONPointer parses an RFC 6901 pointer. Tokens made of digits become
// index components; they still match dict keys when resolved against a dict.
func ParseJSONPointer(s string) (Path, error) {
	if s == "" {
		return Path{}, nil
	}
	if s[0] != '/' {
		return nil, errorf(InvalidData, "JSON pointer %q must start with '/'", s)
	}
	tokens := strings.Split(s[1:], "/")
	p := make(Path, 0, len(tokens))
	for _, tok := range tokens {
		if isArrayIndexToken(tok) {
			i, err := strconv.Atoi(tok)
			if err == nil {
				p = append(p, PathComponent{Key: tok, Index: i})
				continue
			}
		}
		p = append(p, KeyComponent(pointerUnescaper.Replace(tok)))
	}
	return p, nil
}

func isArrayIndexToken(tok string) bool {
	if tok == "" || len(tok) > 1 && tok[0] == '0' {
		return false
	}
	for i := 0; i < len(tok); i++ {
		if !isDigit(tok[i]) {
			return false
		}
	}
	return true
}

// dictKey is the key a component denotes when applied to a dict.
func (c PathComponent) dictKey() string {
	if c.IsKey || c.Key != "" {
		return c.Key
	}
	return strconv.Itoa(c.Index)
}

// arrayIndex is the index a component denotes when applied to an array.
func (c PathComponent) arrayIndex() (int, bool) {
	if !c.IsKey {
		return c.Index, true
	}
	i, err := strconv.Atoi(c.Key)
	return i, err == nil
}

// Eval follows p from root. Missing keys, out-of-range indexes and steps into
// scalars yield undefined.
func (p Path) Eval(root Value) Value {
	v := root
	for _, c := range p {
		v = evalComponent(v, c)
		if !v.Exists() {
			break
		}
	}
	return v
}

func evalComponent(v Value, c PathComponent) Value {
	switch v.Type() {
	case TypeDict:
		return v.AsDict().Get(c.dictKey())
	case TypeArray:
		i, ok := c.arrayIndex()
		if !ok {
			return Value{}
		}
		a := v.AsArray()
		if i < 0 {
			i += a.Count()
		}
		return a.Get(i)
	}
	return Value{}
}
