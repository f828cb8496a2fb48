package fleece

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestValidate_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"odd length", []byte{0x00, 0x01, 0x02}},
		{"zero pointer", []byte{0x80, 0x00}},
		{"pointer before start", []byte{0x80, 0x05}},
		{"truncated string", []byte{0x45, 0x68, 0x65, 0x6c, 0x80, 0x02}},
		{"external pointer", []byte{0xc0, 0x01}},
		{"inline root with extra data", []byte{0x00, 0x01, 0x00, 0x01}},
		{"array count past end", []byte{0x60, 0x05, 0x80, 0x01}},
		{"item pointer to itself", []byte{0x60, 0x01, 0x80, 0x00, 0x80, 0x02}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isCode(t, Validate(tt.data), InvalidData)
			_, err := NewDoc(tt.data, Untrusted, nil)
			isCode(t, err, InvalidData)
		})
	}
}

func TestValidate_Good(t *testing.T) {
	for _, hex := range [][]byte{
		{0x00, 0x2a},
		{0x30, 0x00},
		{0x60, 0x00},
		{0x60, 0x02, 0x00, 0x01, 0x00, 0x02, 0x80, 0x03},
		{0x70, 0x01, 0x41, 0x61, 0x00, 0x01, 0x80, 0x03},
	} {
		ensure(Validate(hex))
	}
}

func TestDoc_Trusted(t *testing.T) {
	data := must(FromJSON([]byte(`{"k":[1,2]}`), nil)).Data().Clone()
	doc := must(NewDoc(data, Trusted, nil))
	eq(t, doc.Root().ToJSON(), `{"k":[1,2]}`)

	_, err := NewDoc([]byte{0}, Trusted, nil)
	isCode(t, err, InvalidData)
}

func TestDoc_FileRoundTrip(t *testing.T) {
	sk := NewSharedKeys()
	src := must(FromJSON([]byte(`{"name":"file","items":[1,2,3]}`), sk))

	path := filepath.Join(t.TempDir(), "doc.fleece")
	ensure(src.WriteFile(path))
	ensure(src.WriteFile(path))

	entries := must(os.ReadDir(filepath.Dir(path)))
	eq(t, len(entries), 1)

	doc := must(OpenFile(path, FileOptions{SharedKeys: sk, Prefault: true}))
	eq(t, doc.Root().ToCanonicalJSON(), `{"items":[1,2,3],"name":"file"}`)
	eq(t, doc.SharedKeys(), sk)
	eq(t, doc.Data().Equal(src.Data()), true)

	doc.Retain()
	ensure(doc.Release())
	eq(t, doc.AsDict().Get("name").AsString(), "file")
	ensure(doc.Release())
	eq(t, doc.Root().Exists(), false)
	isCode(t, doc.Release(), InternalError)
}

func TestDoc_MappedValuesOutliveRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.fleece")
	ensure(must(FromJSON([]byte(`{"name":"mapped","blob":[1,2]}`), nil)).WriteFile(path))

	doc := must(OpenFile(path, FileOptions{}))
	name := doc.AsDict().Get("name")
	s := name.AsString()
	b := name.AsStringBytes()
	data := doc.Data()
	ensure(doc.Release())
	eq(t, doc.Root().Exists(), false)

	runtime.GC()
	runtime.GC()
	eq(t, name.AsString(), "mapped")
	eq(t, s, "mapped")
	eq(t, b.String(), "mapped")
	eq(t, must(NewDoc(data.Clone(), Untrusted, nil)).AsDict().Get("name").AsString(), "mapped")
}

type lineWriter chan string

func (w lineWriter) Write(p []byte) (int, error) {
	w <- string(p)
	return len(p), nil
}

func TestDoc_MappedFileUnmapsWhenUnreachable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.fleece")
	ensure(must(FromJSON([]byte(`{"name":"mapped"}`), nil)).WriteFile(path))

	logs := make(lineWriter, 16)
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	func() {
		doc := must(OpenFile(path, FileOptions{Logger: logger}))
		eq(t, doc.AsDict().Get("name").AsString(), "mapped")
		ensure(doc.Release())
	}()

	deadline := time.After(5 * time.Second)
	for {
		runtime.GC()
		select {
		case line := <-logs:
			if !strings.Contains(line, "fleece: unmapped") {
				t.Fatalf("** got log %q, wanted unmap", line)
			}
			return
		case <-deadline:
			t.Fatalf("** mapping not closed after the doc became unreachable")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDoc_OnBase(t *testing.T) {
	base := must(FromJSON([]byte(`[1,2,3]`), nil))
	eq(t, len(base.Data()), 10)

	doc := must(NewDocOnBase([]byte{0xC0, 0x05}, base, Untrusted))
	eq(t, doc.Root().ToJSON(), `[1,2,3]`)

	tests := []struct {
		name string
		data []byte
	}{
		{"extern past base start", []byte{0xC0, 0x32}},
		{"extern flag on internal pointer", []byte{0x00, 0x01, 0xC0, 0x01}},
		{"internal pointer before data", []byte{0x80, 0x02}},
		{"extern to base trailer", []byte{0xC0, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDocOnBase(tt.data, base, Untrusted)
			isCode(t, err, InvalidData)
		})
	}

	_, err := NewDocOnBase([]byte{0xC0, 0x32}, base, Trusted)
	isCode(t, err, InvalidData)
	_, err = NewDocOnBase([]byte{0xC0, 0x05}, nil, Untrusted)
	isCode(t, err, InvalidData)
}

func TestDoc_OpenFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenFile(filepath.Join(dir, "missing"), FileOptions{})
	isCode(t, err, POSIXError)

	bad := filepath.Join(dir, "bad")
	ensure(os.WriteFile(bad, []byte{0x80, 0x00}, 0o644))
	_, err = OpenFile(bad, FileOptions{})
	isCode(t, err, InvalidData)
}

func TestDoc_Release(t *testing.T) {
	doc := must(FromJSON([]byte(`[1]`), nil))
	eq(t, doc.AllocedData().RefCount(), 1)
	ensure(doc.Release())
	eq(t, doc.Root().Exists(), false)

	var nilDoc *Doc
	eq(t, nilDoc.Root().Exists(), false)
}
