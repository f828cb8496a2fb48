package fleece

import (
	"slices"
	"strings"
)

// OpKind is the kind of a PatchOp.
type OpKind uint8

const (
	OpAdd OpKind = iota
	OpRemove
	OpReplace
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	case OpReplace:
		return "replace"
	default:
		return "unknown"
	}
}

func parseOpKind(s string) (OpKind, bool) {
	switch s {
	case "add":
		return OpAdd, true
	case "remove":
		return OpRemove, true
	case "replace":
		return OpReplace, true
	}
	return 0, false
}

// PatchOp is one step of a Delta. Value is unset for removals.
type PatchOp struct {
	Op    OpKind
	Path  Path
	Value Value
}

// Delta is a sequence of patch operations, applied in order. Array indexes in
// each op refer to the array as left by the ops before it.
type Delta []PatchOp

// Diff computes a Delta that turns old into new. Diff(a, a) is empty.
//
// Dict changes are emitted as removes, then changed values (recursing into
// collections of the same kind), then adds. Array changes come from a longest
// common subsequence of the items; an item removed where another is inserted
// becomes a replace, or a nested diff if both are collections of one kind.
func Diff(old, new Value) Delta {
	var d Delta
	d.diff(nil, old, new)
	return d
}

func (d *Delta) add(op OpKind, path Path, v Value) {
	*d = append(*d, PatchOp{Op: op, Path: path, Value: v})
}

func (d *Delta) diff(path Path, a, b Value) {
	if a.IsEqual(b) {
		return
	}
	ta, tb := a.Type(), b.Type()
	switch {
	case ta == TypeDict && tb == TypeDict:
		d.diffDicts(path, a.AsDict(), b.AsDict())
	case ta == TypeArray && tb == TypeArray:
		d.diffArrays(path, a.AsArray(), b.AsArray())
	case !b.Exists():
		d.add(OpRemove, path, Value{})
	case !a.Exists() && len(path) > 0:
		d.add(OpAdd, path, b)
	default:
		d.add(OpReplace, path, b)
	}
}

func (d *Delta) diffDicts(path Path, a, b Dict) {
	for k := range a.All() {
		if !b.Get(k).Exists() {
			d.add(OpRemove, path.append(KeyComponent(k)), Value{})
		}
	}
	for k, av := range a.All() {
		if bv := b.Get(k); bv.Exists() {
			d.diff(path.append(KeyComponent(k)), av, bv)
		}
	}
	for k, bv := range b.All() {
		if !a.Get(k).Exists() {
			d.add(OpAdd, path.append(KeyComponent(k)), bv)
		}
	}
}

func (d *Delta) diffArrays(path Path, a, b Array) {
	av := collectItems(a)
	bv := collectItems(b)

	// Common prefix and suffix never need the quadratic table.
	pre := 0
	for pre < len(av) && pre < len(bv) && av[pre].IsEqual(bv[pre]) {
		pre++
	}
	suf := 0
	for suf < len(av)-pre && suf < len(bv)-pre && av[len(av)-1-suf].IsEqual(bv[len(bv)-1-suf]) {
		suf++
	}
	x, y := av[pre:len(av)-suf], bv[pre:len(bv)-suf]
	n, m := len(x), len(y)
	if n == 0 || m == 0 || n > maxLCSCells/m {
		d.diffRun(path, pre, x, y)
		return
	}

	// lcs[i*(m+1)+j] is the LCS length of x[i:] and y[j:].
	w := m + 1
	lcs := make([]int32, (n+1)*w)
	same := make([]bool, n*m)
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if x[i].IsEqual(y[j]) {
				same[i*m+j] = true
				lcs[i*w+j] = lcs[(i+1)*w+j+1] + 1
			} else {
				lcs[i*w+j] = max(lcs[(i+1)*w+j], lcs[i*w+j+1])
			}
		}
	}
	match := func(i, j int) bool { return i < n && j < m && same[i*m+j] }

	i, j, pos := 0, 0, pre
	for i < n || j < m {
		if match(i, j) {
			i, j, pos = i+1, j+1, pos+1
			continue
		}
		// Gather the run of removals and insertions up to the next match.
		i0, j0 := i, j
		for (i < n || j < m) && !match(i, j) {
			if i < n && (j == m || lcs[(i+1)*w+j] >= lcs[i*w+j+1]) {
				i++
			} else {
				j++
			}
		}
		pos = d.diffRun(path, pos, x[i0:i], y[j0:j])
	}
}

// maxLCSCells bounds the LCS table; larger edits are diffed position by
// position instead of minimally.
const maxLCSCells = 1 << 22

// diffRun replaces removed with inserted at pos: paired items are diffed,
// the rest removed or added. It returns the position after the run.
func (d *Delta) diffRun(path Path, pos int, removed, inserted []Value) int {
	paired := min(len(removed), len(inserted))
	for k := range paired {
		d.diff(path.append(IndexComponent(pos)), removed[k], inserted[k])
		pos++
	}
	for range removed[paired:] {
		d.add(OpRemove, path.append(IndexComponent(pos)), Value{})
	}
	for _, v := range inserted[paired:] {
		d.add(OpAdd, path.append(IndexComponent(pos)), v)
		pos++
	}
	return pos
}

func collectItems(a Array) []Value {
	items := make([]Value, 0, a.Count())
	for _, v := range a.All() {
		items = append(items, v)
	}
	return items
}

// Apply applies delta to a mutable deep copy of old and encodes the result
// with sk. old itself is not modified.
func Apply(old Value, delta Delta, sk *SharedKeys) (*Doc, error) {
	root := mutableCopyOf(old)
	for i, op := range delta {
		var err error
		root, err = applyOp(root, op)
		if err != nil {
			return nil, wrapErrorf(CodeOf(err), err, "delta op %d (%v %s)", i, op.Op, op.Path.JSONPointer())
		}
	}
	enc := NewEncoder(WithSharedKeys(sk))
	if err := enc.WriteValue(root); err != nil {
		return nil, err
	}
	return enc.FinishDoc()
}

func applyOp(root Value, op PatchOp) (Value, error) {
	v := mutableCopyOf(op.Value)
	if len(op.Path) == 0 {
		switch op.Op {
		case OpRemove:
			return Value{}, nil
		default:
			return v, nil
		}
	}
	if (op.Op == OpAdd || op.Op == OpReplace) && !op.Value.Exists() {
		return root, errorf(InvalidData, "missing value")
	}

	parent := root
	for _, c := range op.Path[:len(op.Path)-1] {
		child, err := mutableChild(parent, c)
		if err != nil {
			return root, err
		}
		parent = child
	}

	last := op.Path[len(op.Path)-1]
	switch {
	case parent.md != nil:
		md := parent.md
		key := last.dictKey()
		switch op.Op {
		case OpAdd:
			md.Set(key, v)
			return root, nil
		case OpReplace:
			if !md.Get(key).Exists() {
				return root, errorf(NotFound, "no key %q to replace", key)
			}
			md.Set(key, v)
			return root, nil
		default:
			return root, md.Remove(key)
		}
	case parent.ma != nil:
		ma := parent.ma
		idx, ok := last.arrayIndex()
		if !ok {
			if last.Key != "-" || op.Op != OpAdd {
				return root, errorf(InvalidData, "%q is not an array index", last.Key)
			}
			idx = ma.Count()
		}
		switch op.Op {
		case OpAdd:
			return root, ma.Insert(idx, v)
		case OpReplace:
			return root, ma.Set(idx, v)
		default:
			return root, ma.Remove(idx, 1)
		}
	default:
		return root, errorf(NotFound, "parent is %v, not a collection", parent.Type())
	}
}

// mutableChild returns the collection at c inside parent as a mutable value.
func mutableChild(parent Value, c PathComponent) (Value, error) {
	switch {
	case parent.md != nil:
		key := c.dictKey()
		if child := parent.md.GetMutableDict(key); child != nil {
			return child.AsValue(), nil
		}
		if child := parent.md.GetMutableArray(key); child != nil {
			return child.AsValue(), nil
		}
		return Value{}, errorf(NotFound, "no collection at key %q", key)
	case parent.ma != nil:
		i, ok := c.arrayIndex()
		if !ok {
			return Value{}, errorf(InvalidData, "%q is not an array index", c.Key)
		}
		if child := parent.ma.GetMutableDict(i); child != nil {
			return child.AsValue(), nil
		}
		if child := parent.ma.GetMutableArray(i); child != nil {
			return child.AsValue(), nil
		}
		return Value{}, errorf(NotFound, "no collection at index %d", i)
	}
	return Value{}, errorf(NotFound, "%v is not a collection", parent.Type())
}

// JSON renders the delta as a JSON Patch (RFC 6902) document. JSON has no
// binary type, so Data values become base64 strings and read back as strings.
func (d Delta) JSON() ([]byte, error) {
	enc := NewJSONEncoder()
	d.write(enc)
	return enc.Finish()
}

func (d Delta) write(w Writer) error {
	w.BeginArray(len(d))
	for _, op := range d {
		w.BeginDict(3)
		w.WriteKey("op")
		w.WriteString(op.Op.String())
		w.WriteKey("path")
		w.WriteString(op.Path.JSONPointer())
		if op.Op != OpRemove {
			w.WriteKey("value")
			w.WriteValue(op.Value)
		}
		w.EndDict()
	}
	return w.EndArray()
}

func (d Delta) String() string {
	j, err := d.JSON()
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return string(j)
}

// ParseDelta parses a JSON Patch document made of add, remove and replace
// operations.
func ParseDelta(data []byte) (Delta, error) {
	doc, err := FromJSON(data, nil)
	if err != nil {
		return nil, err
	}
	arr := doc.Root().AsArray()
	if doc.Root().Type() != TypeArray {
		return nil, errorf(JSONError, "delta must be an array")
	}
	d := make(Delta, 0, arr.Count())
	for i, item := range arr.All() {
		dict := item.AsDict()
		opName := dict.Get("op").AsString()
		kind, ok := parseOpKind(opName)
		if !ok {
			return nil, errorf(Unsupported, "delta op %d: unsupported op %q", i, opName)
		}
		pv := dict.Get("path")
		if pv.Type() != TypeString {
			return nil, errorf(JSONError, "delta op %d: missing path", i)
		}
		path, err := ParseJSONPointer(strings.Clone(pv.AsString()))
		if err != nil {
			return nil, err
		}
		op := PatchOp{Op: kind, Path: path, Value: dict.Get("value")}
		if kind != OpRemove && !op.Value.Exists() {
			return nil, errorf(JSONError, "delta op %d: missing value", i)
		}
		d = append(d, op)
	}
	return d, nil
}

// ApplyJSON is Apply with a delta in JSON Patch form.
func ApplyJSON(old Value, deltaJSON []byte, sk *SharedKeys) (*Doc, error) {
	d, err := ParseDelta(deltaJSON)
	if err != nil {
		return nil, err
	}
	return Apply(old, d, sk)
}

// Paths returns the JSON pointers the delta touches, for logging.
func (d Delta) Paths() []string {
	paths := make([]string, 0, len(d))
	for _, op := range d {
		paths = append(paths, op.Path.JSONPointer())
	}
	return slices.Compact(paths)
}
