package fleece

import (
	"strconv"
	"unicode/utf8"
)

// ConvertJSON5ToJSON rewrites JSON5 text as strict JSON. It accepts comments,
// unquoted identifier keys, single-quoted strings, trailing commas, hex
// integers, leading '+' and bare leading or trailing decimal points.
// Infinity and NaN have no JSON form and are rejected.
func ConvertJSON5ToJSON(data []byte) ([]byte, error) {
	c := &json5Converter{in: data, out: make([]byte, 0, len(data)+len(data)/8)}
	if err := c.skipSpace(); err != nil {
		return nil, err
	}
	if err := c.value(0); err != nil {
		return nil, err
	}
	if err := c.skipSpace(); err != nil {
		return nil, err
	}
	if c.pos < len(c.in) {
		return nil, c.errorf("unexpected data after JSON5 value")
	}
	return c.out, nil
}

const maxJSON5Depth = 10000

type json5Converter struct {
	in  []byte
	pos int
	out []byte
}

func (c *json5Converter) errorf(msg string) error {
	e := errorf(JSONError, "%s at offset %d", msg, c.pos).(*Error)
	e.Data, e.Off = c.in, c.pos
	return e
}

func (c *json5Converter) peek() byte {
	if c.pos < len(c.in) {
		return c.in[c.pos]
	}
	return 0
}

func (c *json5Converter) skipSpace() error {
	for c.pos < len(c.in) {
		switch ch := c.in[c.pos]; {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' || ch == '\v':
			c.pos++
		case ch == '/' && c.pos+1 < len(c.in) && c.in[c.pos+1] == '/':
			for c.pos < len(c.in) && c.in[c.pos] != '\n' {
				c.pos++
			}
		case ch == '/' && c.pos+1 < len(c.in) && c.in[c.pos+1] == '*':
			end := -1
			for i := c.pos + 2; i+1 < len(c.in); i++ {
				if c.in[i] == '*' && c.in[i+1] == '/' {
					end = i + 2
					break
				}
			}
			if end < 0 {
				return c.errorf("unterminated comment")
			}
			c.pos = end
		case ch >= utf8.RuneSelf:
			r, n := utf8.DecodeRune(c.in[c.pos:])
			if r != '\u00A0' && r != '\uFEFF' && r != '\u2028' && r != '\u2029' {
				return nil
			}
			c.pos += n
		default:
			return nil
		}
	}
	return nil
}

func (c *json5Converter) value(depth int) error {
	if depth > maxJSON5Depth {
		return c.errorf("nesting too deep")
	}
	switch ch := c.peek(); {
	case ch == '{':
		return c.object(depth)
	case ch == '[':
		return c.array(depth)
	case ch == '"' || ch == '\'':
		return c.str()
	case ch == '-' || ch == '+' || ch == '.' || ch >= '0' && ch <= '9':
		return c.number()
	case isIdentStart(ch):
		id := c.ident()
		switch id {
		case "true", "false", "null":
			c.out = append(c.out, id...)
			return nil
		case "Infinity", "NaN":
			return c.errorf(id + " can't be represented")
		}
		return c.errorf("unexpected identifier " + strconv.Quote(id))
	case ch == 0 && c.pos >= len(c.in):
		return c.errorf("unexpected end of JSON5")
	default:
		return c.errorf("unexpected character " + strconv.QuoteRune(rune(ch)))
	}
}

func (c *json5Converter) object(depth int) error {
	c.pos++
	c.out = append(c.out, '{')
	first := true
	for {
		if err := c.skipSpace(); err != nil {
			return err
		}
		if c.peek() == '}' {
			c.pos++
			c.out = append(c.out, '}')
			return nil
		}
		if !first {
			c.out = append(c.out, ',')
		}
		first = false

		switch ch := c.peek(); {
		case ch == '"' || ch == '\'':
			if err := c.str(); err != nil {
				return err
			}
		case isIdentStart(ch):
			c.out = strconv.AppendQuote(c.out, c.ident())
		default:
			return c.errorf("expected a key")
		}
		if err := c.skipSpace(); err != nil {
			return err
		}
		if c.peek() != ':' {
			return c.errorf("expected ':'")
		}
		c.pos++
		c.out = append(c.out, ':')
		if err := c.skipSpace(); err != nil {
			return err
		}
		if err := c.value(depth + 1); err != nil {
			return err
		}
		if err := c.skipSpace(); err != nil {
			return err
		}
		switch c.peek() {
		case ',':
			c.pos++
		case '}':
		default:
			return c.errorf("expected ',' or '}'")
		}
	}
}

func (c *json5Converter) array(depth int) error {
	c.pos++
	c.out = append(c.out, '[')
	first := true
	for {
		if err := c.skipSpace(); err != nil {
			return err
		}
		if c.peek() == ']' {
			c.pos++
			c.out = append(c.out, ']')
			return nil
		}
		if !first {
			c.out = append(c.out, ',')
		}
		first = false
		if err := c.value(depth + 1); err != nil {
			return err
		}
		if err := c.skipSpace(); err != nil {
			return err
		}
		switch c.peek() {
		case ',':
			c.pos++
		case ']':
		default:
			return c.errorf("expected ',' or ']'")
		}
	}
}

// str converts a single- or double-quoted string to a double-quoted one.
func (c *json5Converter) str() error {
	quote := c.in[c.pos]
	c.pos++
	c.out = append(c.out, '"')
	for {
		if c.pos >= len(c.in) {
			return c.errorf("unterminated string")
		}
		ch := c.in[c.pos]
		switch {
		case ch == quote:
			c.pos++
			c.out = append(c.out, '"')
			return nil
		case ch == '"':
			c.out = append(c.out, '\\', '"')
			c.pos++
		case ch == '\n' || ch == '\r':
			return c.errorf("newline in string")
		case ch < 0x20:
			c.out = append(c.out, `\u00`...)
			c.out = append(c.out, "0123456789abcdef"[ch>>4], "0123456789abcdef"[ch&0xF])
			c.pos++
		case ch == '\\':
			if err := c.escape(); err != nil {
				return err
			}
		default:
			c.out = append(c.out, ch)
			c.pos++
		}
	}
}

func (c *json5Converter) escape() error {
	c.pos++
	if c.pos >= len(c.in) {
		return c.errorf("unterminated string")
	}
	ch := c.in[c.pos]
	c.pos++
	switch ch {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		c.out = append(c.out, '\\', ch)
	case '\'':
		c.out = append(c.out, '\'')
	case 'v':
		c.out = append(c.out, `\u000b`...)
	case '0':
		c.out = append(c.out, `\u0000`...)
	case '\n':
		// line continuation
	case '\r':
		if c.peek() == '\n' {
			c.pos++
		}
	case 'x':
		if c.pos+2 > len(c.in) || !isHex(c.in[c.pos]) || !isHex(c.in[c.pos+1]) {
			return c.errorf("invalid \\x escape")
		}
		c.out = append(c.out, `\u00`...)
		c.out = append(c.out, c.in[c.pos], c.in[c.pos+1])
		c.pos += 2
	case 'u':
		if c.pos+4 > len(c.in) {
			return c.errorf("invalid \\u escape")
		}
		for _, h := range c.in[c.pos : c.pos+4] {
			if !isHex(h) {
				return c.errorf("invalid \\u escape")
			}
		}
		c.out = append(c.out, '\\', 'u')
		c.out = append(c.out, c.in[c.pos:c.pos+4]...)
		c.pos += 4
	default:
		// Any other escaped character stands for itself.
		c.pos--
		_, n := utf8.DecodeRune(c.in[c.pos:])
		c.out = append(c.out, c.in[c.pos:c.pos+n]...)
		c.pos += n
	}
	return nil
}

func (c *json5Converter) number() error {
	start := c.pos
	neg := false
	switch c.peek() {
	case '+':
		c.pos++
	case '-':
		neg = true
		c.pos++
	}
	if isIdentStart(c.peek()) {
		id := c.ident()
		return c.errorf(id + " can't be represented")
	}

	if c.peek() == '0' && c.pos+1 < len(c.in) && (c.in[c.pos+1] == 'x' || c.in[c.pos+1] == 'X') {
		c.pos += 2
		hexStart := c.pos
		for c.pos < len(c.in) && isHex(c.in[c.pos]) {
			c.pos++
		}
		u, err := strconv.ParseUint(string(c.in[hexStart:c.pos]), 16, 64)
		if err != nil {
			c.pos = start
			return c.errorf("invalid hex number")
		}
		if neg {
			c.out = append(c.out, '-')
		}
		c.out = strconv.AppendUint(c.out, u, 10)
		return nil
	}

	if neg {
		c.out = append(c.out, '-')
	}
	intStart := c.pos
	for c.pos < len(c.in) && isDigit(c.in[c.pos]) {
		c.pos++
	}
	if c.pos == intStart {
		c.out = append(c.out, '0')
	} else {
		digits := c.in[intStart:c.pos]
		for len(digits) > 1 && digits[0] == '0' {
			digits = digits[1:]
		}
		c.out = append(c.out, digits...)
	}
	if c.peek() == '.' {
		c.pos++
		c.out = append(c.out, '.')
		fracStart := c.pos
		for c.pos < len(c.in) && isDigit(c.in[c.pos]) {
			c.pos++
		}
		if c.pos == fracStart {
			if c.pos == intStart+1 {
				c.pos = start
				return c.errorf("invalid number")
			}
			c.out = append(c.out, '0')
		} else {
			c.out = append(c.out, c.in[fracStart:c.pos]...)
		}
	} else if c.pos == intStart {
		c.pos = start
		return c.errorf("invalid number")
	}
	if ch := c.peek(); ch == 'e' || ch == 'E' {
		c.pos++
		c.out = append(c.out, 'e')
		if ch := c.peek(); ch == '+' || ch == '-' {
			c.out = append(c.out, ch)
			c.pos++
		}
		expStart := c.pos
		for c.pos < len(c.in) && isDigit(c.in[c.pos]) {
			c.pos++
		}
		if c.pos == expStart {
			return c.errorf("invalid exponent")
		}
		c.out = append(c.out, c.in[expStart:c.pos]...)
	}
	return nil
}

func (c *json5Converter) ident() string {
	start := c.pos
	for c.pos < len(c.in) && (isIdentStart(c.in[c.pos]) || isDigit(c.in[c.pos])) {
		c.pos++
	}
	return string(c.in[start:c.pos])
}

func isIdentStart(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_' || ch == '$'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isHex(ch byte) bool {
	return isDigit(ch) || ch >= 'a' && ch <= 'f' || ch >= 'A' && ch <= 'F'
}
