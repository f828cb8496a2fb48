package fleece

import (
	"strings"
	"testing"
)

func TestDeepIterator_Walk(t *testing.T) {
	root := must(FromJSON([]byte(`{"a":[1,{"b":2}],"c":{},"d":"x"}`), nil)).Root()

	var lines []string
	for it := NewDeepIterator(root); it.Next(); {
		lines = append(lines, it.JSONPointer()+" "+it.Value().ToJSON())
	}
	deepEqual(t, lines, []string{
		` {"a":[1,{"b":2}],"c":{},"d":"x"}`,
		`/a [1,{"b":2}]`,
		`/a/0 1`,
		`/a/1 {"b":2}`,
		`/a/1/b 2`,
		`/c {}`,
		`/d "x"`,
	})
}

func TestDeepIterator_Accessors(t *testing.T) {
	root := must(FromJSON([]byte(`{"list":[{"k":true}]}`), nil)).Root()
	it := NewDeepIterator(root)

	eq(t, it.Next(), true)
	eq(t, it.Depth(), 0)
	eq(t, it.Parent().Exists(), false)
	eq(t, it.Key(), "")
	eq(t, it.Index(), -1)

	eq(t, it.Next(), true)
	eq(t, it.Key(), "list")
	eq(t, it.Parent().IsEqual(root), true)

	eq(t, it.Next(), true)
	eq(t, it.Index(), 0)
	eq(t, it.Depth(), 2)

	eq(t, it.Next(), true)
	eq(t, it.PathString(), ".list[0].k")
	eq(t, it.Value().AsBool(), true)
	path := it.Path()

	eq(t, it.Next(), false)
	eq(t, it.Next(), false)
	eq(t, path.JSONPointer(), "/list/0/k")
}

func TestDeepIterator_SkipChildren(t *testing.T) {
	root := must(FromJSON([]byte(`{"skip":{"x":[1,2]},"keep":[3]}`), nil)).Root()
	var ptrs []string
	for it := NewDeepIterator(root); it.Next(); {
		ptrs = append(ptrs, it.JSONPointer())
		if it.Key() == "skip" {
			it.SkipChildren()
		}
	}
	eq(t, strings.Join(ptrs, " "), " /keep /keep/0 /skip")

	it := NewDeepIterator(root)
	it.Next()
	it.PruneCurrentSubtree()
	eq(t, it.Next(), false)
}

func TestDeepIterator_Scalars(t *testing.T) {
	it := NewDeepIterator(IntValue(5))
	eq(t, it.Next(), true)
	eq(t, it.Value().AsInt(), int64(5))
	eq(t, it.Next(), false)

	eq(t, NewDeepIterator(Undefined).Next(), false)
}

func TestDeepIterator_Mutable(t *testing.T) {
	m := must(FromJSON([]byte(`{"a":1}`), nil)).AsDict().AsMutable()
	m.Set("b", MustValue([]any{true}))
	var n int
	for it := NewDeepIterator(m.AsValue()); it.Next(); {
		n++
	}
	eq(t, n, 4)
}
