package fleece

import (
	"testing"
)

func TestMutableDict_Overlay(t *testing.T) {
	doc := must(FromJSON([]byte(`{"a":1,"b":2,"c":3}`), nil))
	m := doc.AsDict().AsMutable()
	eq(t, m.IsChanged(), false)
	eq(t, m.Count(), 3)
	eq(t, m.Source().Count(), 3)

	m.Set("b", StringValue("two"))
	m.Set("d", BoolValue(true))
	ensure(m.Remove("a"))
	eq(t, m.IsChanged(), true)
	eq(t, m.Count(), 3)
	deepEqual(t, m.Keys(), []string{"b", "c", "d"})
	eq(t, m.Get("a").Exists(), false)
	eq(t, m.Get("b").AsString(), "two")

	// The source is untouched.
	eq(t, doc.Root().ToJSON(), `{"a":1,"b":2,"c":3}`)

	isCode(t, m.Remove("a"), OutOfRange)
	isCode(t, m.Remove("zzz"), OutOfRange)

	m.Set("a", IntValue(10))
	eq(t, m.Count(), 4)
	m.Set("d", Undefined)
	eq(t, m.Count(), 3)
	eq(t, m.AsValue().ToCanonicalJSON(), `{"a":10,"b":"two","c":3}`)

	out := must(m.EncodeDoc())
	eq(t, out.Root().ToCanonicalJSON(), `{"a":10,"b":"two","c":3}`)
	eq(t, out.AsDict().AsMutable().IsChanged(), false)
}

func TestMutableDict_RemoveAll(t *testing.T) {
	m := must(FromJSON([]byte(`{"a":1,"b":2}`), nil)).AsDict().AsMutable()
	m.Set("c", NullValue())
	m.RemoveAll()
	eq(t, m.Count(), 0)
	eq(t, len(m.Keys()), 0)
	eq(t, m.AsValue().ToJSON(), `{}`)
}

func TestMutableDict_Nested(t *testing.T) {
	sk := NewSharedKeys()
	doc := must(FromJSON([]byte(`{"user":{"name":"x","tags":["a"]},"n":1}`), sk))
	root := doc.AsDict().AsMutable()

	user := root.GetMutableDict("user")
	eq(t, user == root.GetMutableDict("user"), true)
	eq(t, root.IsChanged(), false)
	eq(t, root.GetMutableDict("n") == nil, true)
	eq(t, root.GetMutableArray("missing") == nil, true)

	tags := user.GetMutableArray("tags")
	tags.Append(StringValue("b"))
	eq(t, tags.IsChanged(), true)
	eq(t, user.IsChanged(), true)
	eq(t, root.IsChanged(), true)

	eq(t, must(EvalKeyPath(root.AsValue(), "user.tags[1]")).AsString(), "b")

	data := must(root.Encode())
	out := must(NewDoc(data, Untrusted, sk))
	eq(t, out.Root().ToCanonicalJSON(), `{"n":1,"user":{"name":"x","tags":["a","b"]}}`)
	eq(t, doc.Root().ToCanonicalJSON(), `{"n":1,"user":{"name":"x","tags":["a"]}}`)
}

func TestMutableDict_AdoptsAddedChildren(t *testing.T) {
	root := NewMutableDict()
	child := NewMutableArray()
	root.Set("list", child.AsValue())
	root.changed = false

	child.Append(IntValue(1))
	eq(t, root.IsChanged(), true)
}

func TestMutableArray_Overlay(t *testing.T) {
	doc := must(FromJSON([]byte(`[1,2,3]`), nil))
	m := doc.AsArray().AsMutable()
	eq(t, m.Count(), 3)

	ensure(m.Set(1, StringValue("two")))
	m.Append(IntValue(4))
	eq(t, m.Count(), 4)
	eq(t, m.AsValue().ToJSON(), `[1,"two",3,4]`)
	eq(t, doc.Root().ToJSON(), `[1,2,3]`)

	ensure(m.Insert(0, IntValue(0)))
	eq(t, m.AsValue().ToJSON(), `[0,1,"two",3,4]`)
	ensure(m.Insert(5, IntValue(5)))
	ensure(m.Remove(1, 2))
	eq(t, m.AsValue().ToJSON(), `[0,3,4,5]`)
	ensure(m.Remove(4, 0))

	isCode(t, m.Set(4, NullValue()), OutOfRange)
	isCode(t, m.Set(-1, NullValue()), OutOfRange)
	isCode(t, m.Insert(5, NullValue()), OutOfRange)
	isCode(t, m.Remove(3, 2), OutOfRange)
	isCode(t, m.Resize(-1), OutOfRange)
	eq(t, m.Get(4).Exists(), false)
	eq(t, m.Get(-1).Exists(), false)
}

func TestMutableArray_Resize(t *testing.T) {
	m := must(FromJSON([]byte(`[1,2]`), nil)).AsArray().AsMutable()
	ensure(m.Resize(4))
	eq(t, m.AsValue().ToJSON(), `[1,2,null,null]`)
	ensure(m.Resize(1))
	eq(t, m.AsValue().ToJSON(), `[1]`)
	ensure(m.Resize(1))
	eq(t, m.Count(), 1)
}

func TestMutableArray_NestedDict(t *testing.T) {
	doc := must(FromJSON([]byte(`[{"k":1},[2]]`), nil))
	m := doc.AsArray().AsMutable()
	d := m.GetMutableDict(0)
	eq(t, m.GetMutableDict(1) == nil, true)
	eq(t, m.GetMutableArray(0) == nil, true)
	d.Set("k", IntValue(2))
	eq(t, m.IsChanged(), true)

	inner := m.GetMutableArray(1)
	ensure(inner.Set(0, IntValue(3)))
	eq(t, must(m.EncodeDoc()).Root().ToJSON(), `[{"k":2},[3]]`)
}

func TestMutableCopy(t *testing.T) {
	doc := must(FromJSON([]byte(`{"a":[1,{"b":2}]}`), nil))

	shallow := doc.AsDict().MutableCopy(false)
	eq(t, shallow.Get("a").IsMutable(), false)

	deep := doc.AsDict().MutableCopy(true)
	a := deep.Get("a")
	eq(t, a.IsMutable(), true)
	eq(t, a.AsArray().Get(1).IsMutable(), true)
	a.AsMutableArray().GetMutableDict(1).Set("b", IntValue(3))
	eq(t, deep.AsValue().ToJSON(), `{"a":[1,{"b":3}]}`)
	eq(t, doc.Root().ToJSON(), `{"a":[1,{"b":2}]}`)

	arr := doc.AsDict().Get("a").AsArray().MutableCopy(true)
	eq(t, arr.Count(), 2)
	eq(t, arr.Get(1).IsMutable(), true)
}
