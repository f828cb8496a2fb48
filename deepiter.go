package fleece

// DeepIterator walks a value and everything nested in it, depth-first in
// pre-order: the root comes first, then each container's children, each
// followed by its own descendants. Dicts are walked in their iteration order.
//
//	for it := NewDeepIterator(root); it.Next(); {
//		fmt.Println(it.JSONPointer(), it.Value())
//	}
//
// A DeepIterator is single-use.
type DeepIterator struct {
	root    Value
	stack   []deepFrame
	path    Path
	value   Value
	started bool
	skip    bool
}

type deepFrame struct {
	container Value
	keys      []string
	vals      []Value
	arr       Array
	next      int
	count     int
	isDict    bool
}

func NewDeepIterator(root Value) *DeepIterator {
	return &DeepIterator{root: root}
}

// Next advances to the next value and reports whether there is one.
func (it *DeepIterator) Next() bool {
	if !it.started {
		it.started = true
		it.value = it.root
		return it.value.Exists()
	}
	if !it.value.Exists() {
		return false
	}
	if !it.skip {
		it.descend(it.value)
	}
	it.skip = false

	for len(it.stack) > 0 {
		f := &it.stack[len(it.stack)-1]
		if f.next < f.count {
			i := f.next
			f.next++
			if f.isDict {
				it.value = f.vals[i]
				it.path[len(it.path)-1] = KeyComponent(f.keys[i])
			} else {
				it.value = f.arr.Get(i)
				it.path[len(it.path)-1] = IndexComponent(i)
			}
			return true
		}
		it.stack = it.stack[:len(it.stack)-1]
		it.path = it.path[:len(it.path)-1]
	}
	it.value = Value{}
	return false
}

func (it *DeepIterator) descend(v Value) {
	var f deepFrame
	switch v.Type() {
	case TypeArray:
		f.arr = v.AsArray()
		f.count = f.arr.Count()
	case TypeDict:
		d := v.AsDict()
		f.isDict = true
		f.keys = make([]string, 0, d.Count())
		f.vals = make([]Value, 0, d.Count())
		for k, val := range d.All() {
			f.keys = append(f.keys, k)
			f.vals = append(f.vals, val)
		}
		f.count = len(f.keys)
	default:
		return
	}
	if f.count == 0 {
		return
	}
	f.container = v
	it.stack = append(it.stack, f)
	it.path = append(it.path, PathComponent{})
}

// SkipChildren makes the next call to Next skip the current value's
// descendants.
func (it *DeepIterator) SkipChildren() {
	it.skip = true
}

// PruneCurrentSubtree is SkipChildren.
func (it *DeepIterator) PruneCurrentSubtree() {
	it.SkipChildren()
}

// Value returns the current value.
func (it *DeepIterator) Value() Value {
	return it.value
}

// Parent returns the container of the current value, or undefined at the root.
func (it *DeepIterator) Parent() Value {
	if len(it.stack) == 0 {
		return Value{}
	}
	return it.stack[len(it.stack)-1].container
}

// Path returns the path from the root to the current value.
func (it *DeepIterator) Path() Path {
	return append(Path(nil), it.path...)
}

// Depth is the length of Path: 0 at the root.
func (it *DeepIterator) Depth() int {
	return len(it.path)
}

// Key returns the current value's key in its parent dict, or "".
func (it *DeepIterator) Key() string {
	if n := len(it.path); n > 0 && it.path[n-1].IsKey {
		return it.path[n-1].Key
	}
	return ""
}

// Index returns the current value's index in its parent array, or -1.
func (it *DeepIterator) Index() int {
	if n := len(it.path); n > 0 && !it.path[n-1].IsKey {
		return it.path[n-1].Index
	}
	return -1
}

// PathString returns Path in JavaScript syntax.
func (it *DeepIterator) PathString() string {
	return it.path.String()
}

// JSONPointer returns Path as an RFC 6901 pointer.
func (it *DeepIterator) JSONPointer() string {
	return it.path.JSONPointer()
}
