package fleece

import (
	"fmt"
	"slices"
	"strings"
)

// Dump returns an annotated listing of encoded data: one line per value with
// its offset, raw bytes and rendering, and one line per collection item.
// Pointers are shown as &offset. The data is validated first.
func Dump(data []byte) (string, error) {
	return dumpScope(&scope{data: data})
}

// dumpScope lists the cells of s. Pointers into a base are shown as &extern
// and the base itself isn't listed.
func dumpScope(s *scope) (string, error) {
	data := s.data
	root, err := rootOf(s, Untrusted)
	if err != nil {
		return "", err
	}
	d := dumper{s: s, data: data, seen: make(map[int]bool)}
	if root.s == s {
		d.collect(int(root.off))
	}

	offs := make([]int, 0, len(d.seen))
	for off := range d.seen {
		offs = append(offs, off)
	}
	slices.Sort(offs)

	var buf strings.Builder
	for _, off := range offs {
		d.dumpValue(&buf, off)
	}
	if len(data) > narrow {
		trailer := len(data) - narrow
		fmt.Fprintf(&buf, "%04x: %-12s %s (root)\n", trailer, hexBytes(data[trailer:]), d.ref(root))
	}
	return buf.String(), nil
}

// Dump returns the listing of the data v lives in. Mutable values are
// encoded first.
func (v Value) Dump() string {
	var data []byte
	switch {
	case v.IsMutable():
		b, err := encodeMutable(v, nil)
		if err != nil {
			return "<" + err.Error() + ">"
		}
		data = b
	case v.s != nil:
		s, err := dumpScope(v.s)
		if err != nil {
			return "<" + err.Error() + ">"
		}
		return s
	default:
		return "undefined\n"
	}
	s, err := Dump(data)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return s
}

type dumper struct {
	s    *scope
	data []byte
	seen map[int]bool
}

// ref renders a pointer target.
func (d *dumper) ref(v Value) string {
	if v.s != d.s {
		return "&extern"
	}
	return fmt.Sprintf("&%04x", int(v.off))
}

// collect records every out-of-line value of this scope reachable from off.
func (d *dumper) collect(off int) {
	if d.seen[off] {
		return
	}
	d.seen[off] = true
	t := d.data[off] >> 4
	if t != tagArray && t != tagDict {
		return
	}
	first, count, isWide, _ := collectionHeader(d.data, off, len(d.data))
	if t == tagDict {
		count *= 2
	}
	w := width(isWide)
	for i := range count {
		item := first + i*w
		if isPointerByte(d.data[item]) {
			if ts, target := d.s.resolve(item, isWide); ts == d.s {
				d.collect(target)
			}
		}
	}
}

func (d *dumper) dumpValue(buf *strings.Builder, off int) {
	size := cellSize(d.data, off, len(d.data))
	v := encodedValue(d.s, off)
	switch v.Type() {
	case TypeArray, TypeDict:
		first, count, isWide, _ := collectionHeader(d.data, off, len(d.data))
		kind := "Array"
		items := count
		if v.Type() == TypeDict {
			kind = "Dict"
			items *= 2
		}
		fmt.Fprintf(buf, "%04x: %-12s %s[%d]%s\n", off, hexBytes(d.data[off:off+size]), kind, count, wideSuffix(isWide))
		w := width(isWide)
		for i := range items {
			item := first + i*w
			cell := d.data[item : item+w]
			prefix := "  "
			if v.Type() == TypeDict && i%2 == 1 {
				prefix = "    "
			}
			if isPointerByte(cell[0]) {
				target := d.s.valueAt(item, isWide)
				fmt.Fprintf(buf, "%04x: %-12s %s%s %s\n", item, hexBytes(cell), prefix, d.ref(target), shortDesc(target))
			} else {
				fmt.Fprintf(buf, "%04x: %-12s %s%s\n", item, hexBytes(cell), prefix, shortDesc(encodedValue(d.s, item)))
			}
		}
	default:
		fmt.Fprintf(buf, "%04x: %-12s %s\n", off, hexBytes(d.data[off:off+size]), shortDesc(v))
	}
}

func wideSuffix(isWide bool) string {
	if isWide {
		return " (wide)"
	}
	return ""
}

// shortDesc renders scalars as JSON and collections by kind and count.
func shortDesc(v Value) string {
	switch v.Type() {
	case TypeArray:
		return fmt.Sprintf("Array[%d]", v.AsArray().Count())
	case TypeDict:
		return fmt.Sprintf("Dict[%d]", v.AsDict().Count())
	case TypeUndefined:
		return "undefined"
	}
	s := v.ToJSON()
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	return s
}

// hexBytes formats up to 4 bytes, eliding the rest.
func hexBytes(b []byte) string {
	const limit = 4
	var buf strings.Builder
	for i, c := range b {
		if i == limit {
			buf.WriteString("…")
			break
		}
		if i > 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprintf(&buf, "%02x", c)
	}
	return buf.String()
}
