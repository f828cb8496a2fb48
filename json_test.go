package fleece

import (
	"math"
	"strings"
	"testing"
)

func TestConvertJSON_Errors(t *testing.T) {
	for _, in := range []string{
		``,
		`{`,
		`[1,]`,
		`{"a":1,"a":2}`,
		`1 2`,
		`nul`,
		`{"a" 1}`,
		"\"\xff\"",
	} {
		_, err := FromJSON([]byte(in), nil)
		if CodeOf(err) != JSONError {
			t.Errorf("FromJSON(%q) err = %v, wanted JSONError", in, err)
		}
	}
}

func TestConvertJSON_Numbers(t *testing.T) {
	tests := []struct {
		in, out string
		typ     string
	}{
		{`0`, `0`, "int"},
		{`-0`, `0`, "int"},
		{`9223372036854775807`, `9223372036854775807`, "int"},
		{`9223372036854775808`, `9223372036854775808`, "uint"},
		{`0.5`, `0.5`, "float"},
		{`0.1`, `0.1`, "double"},
		{`1E3`, `1000`, "float"},
		{`1e-7`, `1e-7`, "double"},
		{`1.5e300`, `1.5e+300`, "double"},
	}
	for _, tt := range tests {
		v := must(FromJSON([]byte(tt.in), nil)).Root()
		eq(t, v.ToJSON(), tt.out)
		switch tt.typ {
		case "int":
			eq(t, v.IsInteger(), true)
		case "uint":
			eq(t, v.IsInteger(), true)
			eq(t, v.IsUnsigned(), true)
		case "float":
			eq(t, v.IsInteger(), false)
			eq(t, v.IsDouble(), false)
		case "double":
			eq(t, v.IsDouble(), true)
		}
	}
}

func TestJSONEncoder_Basics(t *testing.T) {
	e := NewJSONEncoder()
	e.BeginDict(3)
	e.WriteKey("data")
	e.WriteData([]byte("hi"))
	e.WriteKey("inf")
	e.WriteDouble(math.Inf(1))
	e.WriteKey("list")
	e.BeginArray(3)
	e.WriteUndefined()
	e.WriteFloat(0.25)
	e.WriteString("q\"\n")
	e.EndArray()
	e.EndDict()
	eq(t, string(must(e.Finish())), `{"data":"aGk=","inf":null,"list":[null,0.25,"q\"\n"]}`)

	e.Reset()
	_, err := e.Finish()
	isCode(t, err, EncodeError)
}

func TestJSONEncoder_Errors(t *testing.T) {
	e := NewJSONEncoder()
	e.WriteInt(1)
	isCode(t, e.WriteInt(2), EncodeError)

	e = NewJSONEncoder()
	e.BeginDict(0)
	isCode(t, e.WriteNull(), EncodeError)
	isCode(t, e.Err(), EncodeError)

	e = NewJSONEncoder()
	e.BeginArray(0)
	isCode(t, e.WriteKey("x"), EncodeError)

	e = NewJSONEncoder()
	e.BeginArray(0)
	_, err := e.Finish()
	isCode(t, err, EncodeError)
}

func TestJSONEncoder_FinishSeals(t *testing.T) {
	e := NewJSONEncoder()
	e.WriteInt(1)
	eq(t, string(must(e.Finish())), "1")

	isCode(t, e.WriteInt(2), InternalError)
	isCode(t, e.WriteKey("k"), InternalError)
	isCode(t, e.EndArray(), InternalError)
	_, err := e.Finish()
	isCode(t, err, InternalError)

	e.Reset()
	e.BeginArray(1)
	e.WriteString("again")
	e.EndArray()
	eq(t, string(must(e.Finish())), `["again"]`)
}

func TestJSON5Encoder(t *testing.T) {
	v := must(FromJSON([]byte(`{"ok":1,"_x$":2,"9a":3,"":4,"has space":5}`), nil)).Root()
	e := NewJSON5Encoder(WithCanonical(true))
	ensure(e.WriteValue(v))
	eq(t, string(e.Bytes()), `{"":4,"9a":3,_x$:2,"has space":5,ok:1}`)

	e = NewJSON5Encoder()
	e.BeginArray(2)
	e.WriteDouble(math.Inf(1))
	e.WriteDouble(math.Inf(-1))
	e.EndArray()
	eq(t, string(must(e.Finish())), `[Infinity,-Infinity]`)
}

func TestJSONEncoder_FloatFormatting(t *testing.T) {
	tests := []struct {
		f    float64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{-2.5, "-2.5"},
		{0.000001, "0.000001"},
		{1e-7, "1e-7"},
		{123456789012345680000, "123456789012345680000"},
		{1e21, "1e+21"},
	}
	for _, tt := range tests {
		e := NewJSONEncoder()
		e.WriteDouble(tt.f)
		eq(t, string(must(e.Finish())), tt.want)
	}
}

func TestConvertJSON5(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{`{a:1}`, `{"a":1}`},
		{`{'a':'it\'s'}`, `{"a":"it's"}`},
		{`[1,2,]`, `[1,2]`},
		{`{a:1,}`, `{"a":1}`},
		{"// c\n[/* x */1]", `[1]`},
		{`0x1F`, `31`},
		{`-0xff`, `-255`},
		{`+5`, `5`},
		{`.5`, `0.5`},
		{`5.`, `5.0`},
		{`007`, `7`},
		{`'say "hi"'`, `"say \"hi\""`},
		{`'\x41\v'`, `"\u0041\u000b"`},
		{"'a\\\nb'", `"ab"`},
		{`{$id:null}`, `{"$id":null}`},
	}
	for _, tt := range tests {
		got, err := ConvertJSON5ToJSON([]byte(tt.in))
		if err != nil {
			t.Errorf("ConvertJSON5ToJSON(%q) failed: %v", tt.in, err)
			continue
		}
		eq(t, string(got), tt.out)
	}
}

func TestConvertJSON5_Errors(t *testing.T) {
	for _, in := range []string{
		``,
		`Infinity`,
		`-Infinity`,
		`NaN`,
		`{a 1}`,
		`[1 2]`,
		`'unterminated`,
		"'new\nline'",
		`/* open`,
		`.`,
		`1e`,
		`foo`,
		`[1] x`,
		strings.Repeat("[", maxJSON5Depth+2),
	} {
		_, err := ConvertJSON5ToJSON([]byte(in))
		if CodeOf(err) != JSONError {
			t.Errorf("ConvertJSON5ToJSON(%q) err = %v, wanted JSONError", in, err)
		}
	}
}

func TestFromJSON5(t *testing.T) {
	doc := must(FromJSON5([]byte(`{name:'x', list:[1,2,],}`), nil))
	eq(t, doc.Root().ToJSON5(), `{list:[1,2],name:"x"}`)

	e := NewEncoder()
	isCode(t, e.WriteJSON5([]byte(`{`)), JSONError)
	isCode(t, e.Err(), JSONError)
}
