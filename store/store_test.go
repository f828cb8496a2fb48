package store

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/andreyvit/fleece"
)

func TestStore_PutGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ensure(s.PutJSON("u1", []byte(`{"name":"Alice","age":30,"tags":["a","b"]}`)))
		doc := must(s.Get("u1"))
		eq(t, doc.Root().ToCanonicalJSON(), `{"age":30,"name":"Alice","tags":["a","b"]}`)
		eq(t, doc.AsDict().Get("name").AsString(), "Alice")

		_, err := s.Get("missing")
		eq(t, IsNotFound(err), true)
		eq(t, fleece.CodeOf(err), fleece.NotFound)

		if n := must(s.Size()); n <= 0 {
			t.Fatalf("** Size() = %d, wanted > 0", n)
		}
	})
}

func TestStore_PutValue(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		md := fleece.NewMutableDict()
		md.Set("x", fleece.IntValue(1))
		md.Set("y", fleece.StringValue("why"))
		ensure(s.Put("v", md.AsValue()))
		eq(t, must(s.Get("v")).Root().ToJSON(), `{"x":1,"y":"why"}`)

		ensure(s.Put("n", fleece.IntValue(42)))
		eq(t, must(s.Get("n")).Root().AsInt(), int64(42))

		if err := s.Put("u", fleece.Undefined); !errors.Is(err, fleece.ErrInvalidData) {
			t.Fatalf("Put(undefined) = %v, wanted InvalidData", err)
		}
	})
}

func TestStore_SharedKeysAreUsed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ensure(s.PutJSON("a", []byte(`{"name":"x","email":"y"}`)))
		deepEqual(t, s.SharedKeys().Keys(), []string{"name", "email"})

		ensure(s.PutJSON("b", []byte(`{"name":"z","phone":"w"}`)))
		deepEqual(t, s.SharedKeys().Keys(), []string{"name", "email", "phone"})

		doc := must(s.Get("b"))
		eq(t, doc.SharedKeys(), s.SharedKeys())
		eq(t, doc.AsDict().Get("phone").AsString(), "w")
	})
}

func TestStore_SharedKeysPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s := must(Open(path, Options{IsTesting: true, Logger: testLogger(t)}))
	ensure(s.PutJSON("a", []byte(`{"alpha":1,"beta":2}`)))
	ensure(s.Close())

	s = must(Open(path, Options{IsTesting: true, Logger: testLogger(t)}))
	defer s.Close()
	deepEqual(t, s.SharedKeys().Keys(), []string{"alpha", "beta"})
	eq(t, must(s.Get("a")).Root().ToJSON(), `{"alpha":1,"beta":2}`)
}

func TestStore_FailedWriteRevertsSharedKeys(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ensure(s.PutJSON("a", []byte(`{"one":1}`)))
		eq(t, s.SharedKeys().Count(), 1)

		boom := errors.New("boom")
		_, err := s.Update("a", func(d *fleece.MutableDict) error {
			d.Set("two", fleece.IntValue(2))
			return boom
		})
		eq(t, err, boom)

		err = s.write(func(tx storageTx) error {
			if err := s.put(tx, "b", fleece.MustValue(map[string]any{"three": 3})); err != nil {
				return err
			}
			eq(t, s.SharedKeys().Count(), 2)
			return boom
		})
		eq(t, err, boom)
		eq(t, s.SharedKeys().Count(), 1)
		_, err = s.Get("b")
		eq(t, IsNotFound(err), true)
	})
}

func TestStore_Update(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ensure(s.PutJSON("u", []byte(`{"name":"Alice","visits":1,"old":true}`)))

		delta := must(s.Update("u", func(d *fleece.MutableDict) error {
			d.Set("visits", fleece.IntValue(d.Get("visits").AsInt()+1))
			return d.Remove("old")
		}))
		eq(t, delta.String(), `[{"op":"remove","path":"/old"},{"op":"replace","path":"/visits","value":2}]`)
		eq(t, must(s.Get("u")).Root().ToCanonicalJSON(), `{"name":"Alice","visits":2}`)

		delta = must(s.Update("u", func(d *fleece.MutableDict) error { return nil }))
		eq(t, len(delta), 0)

		delta = must(s.Update("fresh", func(d *fleece.MutableDict) error {
			d.Set("k", fleece.BoolValue(true))
			return nil
		}))
		eq(t, delta.String(), `[{"op":"add","path":"/k","value":true}]`)
		eq(t, must(s.Get("fresh")).Root().ToJSON(), `{"k":true}`)
	})
}

func TestStore_UpdateNonDict(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ensure(s.PutJSON("arr", []byte(`[1,2]`)))
		_, err := s.Update("arr", func(d *fleece.MutableDict) error { return nil })
		eq(t, fleece.CodeOf(err), fleece.InvalidData)
	})
}

func TestStore_Delete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ensure(s.PutJSON("a", []byte(`1`)))
		ensure(s.Delete("a"))
		_, err := s.Get("a")
		eq(t, IsNotFound(err), true)
		eq(t, IsNotFound(s.Delete("a")), true)
	})
}

func TestStore_Clear(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ensure(s.PutJSON("a", []byte(`{"k":1}`)))
		ensure(s.PutJSON("b", []byte(`{"k":2}`)))
		ensure(s.Clear())
		eq(t, must(s.Count()), 0)
		deepEqual(t, s.SharedKeys().Keys(), []string{"k"})

		ensure(s.PutJSON("c", []byte(`{"k":3}`)))
		eq(t, must(s.Get("c")).AsDict().Get("k").AsInt(), int64(3))
	})
}

func TestStore_Scan(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ensure(s.PutJSON("user:2", []byte(`{"n":2}`)))
		ensure(s.PutJSON("user:1", []byte(`{"n":1}`)))
		ensure(s.PutJSON("post:1", []byte(`{"n":3}`)))
		ensure(s.PutJSON("user:3", []byte(`{"n":4}`)))

		var ids []string
		var ns []int64
		for id, doc := range s.Scan("user:") {
			ids = append(ids, id)
			ns = append(ns, doc.AsDict().Get("n").AsInt())
		}
		deepEqual(t, ids, []string{"user:1", "user:2", "user:3"})
		deepEqual(t, ns, []int64{1, 2, 4})

		ids = nil
		for id := range s.Scan("") {
			ids = append(ids, id)
			if len(ids) == 2 {
				break
			}
		}
		deepEqual(t, ids, []string{"post:1", "user:1"})

		eq(t, must(s.Count()), 4)
	})
}

func TestStore_ScanSkipsCorruptRecords(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	s := must(OpenMemory(Options{Logger: logger}))
	defer s.Close()

	ensure(s.PutJSON("a", []byte(`1`)))
	ensure(s.PutJSON("c", []byte(`3`)))
	ensure(s.write(func(tx storageTx) error {
		return tx.Bucket(docsBucket).Put([]byte("b"), []byte{0xc1, 0x00})
	}))
	for id, rec := range map[string]*record{
		"b-negative": {Compression: CompressionLZ4, Size: -1, Data: []byte{1, 2, 3}},
		"b-huge":     {Compression: CompressionLZ4, Size: 1 << 30, Data: []byte{1, 2, 3}},
		"b-zstd":     {Compression: CompressionZstd, Size: -5, Data: []byte{1, 2, 3}},
	} {
		raw := must(encodeRecord(rec))
		ensure(s.write(func(tx storageTx) error {
			return tx.Bucket(docsBucket).Put([]byte(id), raw)
		}))
	}

	var ids []string
	for id := range s.Scan("") {
		ids = append(ids, id)
	}
	deepEqual(t, ids, []string{"a", "c"})
	if !strings.Contains(logBuf.String(), "id=b") {
		t.Fatalf("log = %q, wanted a warning about b", logBuf.String())
	}

	_, err := s.Get("b")
	eq(t, fleece.CodeOf(err), fleece.InvalidData)
	_, err = s.Get("b-negative")
	eq(t, fleece.CodeOf(err), fleece.InvalidData)
	eq(t, errors.Is(err, errBadSize), true)
}

func TestStore_RecordWithUnknownSharedKeys(t *testing.T) {
	s := must(OpenMemory(Options{}))
	defer s.Close()

	raw := must(encodeRecord(&record{SharedKeyCount: 5, Size: 2, Data: []byte{0x00, 0x01}}))
	ensure(s.write(func(tx storageTx) error {
		return tx.Bucket(docsBucket).Put([]byte("x"), raw)
	}))
	_, err := s.Get("x")
	eq(t, fleece.CodeOf(err), fleece.SharedKeysStateError)
}

func TestStore_Compression(t *testing.T) {
	big := `{"text":"` + strings.Repeat("lorem ipsum dolor sit amet ", 40) + `"}`
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			s := must(OpenMemory(Options{Compression: c}))
			defer s.Close()
			ensure(s.PutJSON("big", []byte(big)))
			ensure(s.PutJSON("small", []byte(`{"text":"hi"}`)))

			var rec *record
			ensure(s.read(func(tx storageTx) error {
				var err error
				rec, err = decodeRecord(tx.Bucket(docsBucket).Get([]byte("big")))
				return err
			}))
			eq(t, rec.Compression, c)
			if c != CompressionNone && len(rec.Data) >= rec.Size {
				t.Fatalf("stored %d bytes for %d, wanted compression", len(rec.Data), rec.Size)
			}

			eq(t, must(s.Get("big")).Root().ToJSON(), big)
			eq(t, must(s.Get("small")).AsDict().Get("text").AsString(), "hi")
		})
	}
}

func TestCompress_SkipsSmallAndIncompressible(t *testing.T) {
	small := []byte("short")
	out, c := must2(compress(small, CompressionZstd))
	eq(t, c, CompressionNone)
	deepEqual(t, out, small)

	noise := make([]byte, 256)
	x := uint32(2463534242)
	for i := range noise {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		noise[i] = byte(x)
	}
	_, c = must2(compress(noise, CompressionLZ4))
	eq(t, c, CompressionNone)
}

func TestDecompress_SizeMismatch(t *testing.T) {
	data := bytes.Repeat([]byte("abcd"), 64)
	out, c := must2(compress(data, CompressionZstd))
	eq(t, c, CompressionZstd)
	_, err := decompress(out, c, len(data)+1)
	eq(t, err, errSizeMismatch)

	got := must(decompress(out, c, len(data)))
	deepEqual(t, got, data)
}

func TestDecompress_RejectsBadSizes(t *testing.T) {
	data := bytes.Repeat([]byte("abcd"), 64)
	for _, c := range []Compression{CompressionLZ4, CompressionZstd} {
		out, used := must2(compress(data, c))
		eq(t, used, c)
		for _, size := range []int{-1, -1 << 20} {
			_, err := decompress(out, c, size)
			eq(t, err, errBadSize)
		}
	}
	_, err := decompress([]byte{1}, CompressionLZ4, 1<<20)
	eq(t, err, errBadSize)
}

func TestRecord_RoundTrip(t *testing.T) {
	in := &record{Compression: CompressionLZ4, SharedKeyCount: 7, Size: 100, Data: []byte{1, 2, 3}}
	raw := must(encodeRecord(in))
	out := must(decodeRecord(raw))
	deepEqual(t, out, in)

	raw[len(raw)-1] = 9
	eq(t, out.Data[2], byte(3))
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := must(OpenMemory(Options{}))
	defer s.Close()
	ensure(s.PutJSON("a", []byte(`{"v":1}`)))

	done := make(chan error)
	for range 4 {
		go func() {
			for range 50 {
				doc, err := s.Get("a")
				if err == nil && doc.AsDict().Get("v").AsInt() < 1 {
					err = errors.New("bad value")
				}
				if err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}
	for i := range 20 {
		_ = must(s.Update("a", func(d *fleece.MutableDict) error {
			d.Set("v", fleece.IntValue(int64(i+2)))
			return nil
		}))
	}
	for range 4 {
		ensure(<-done)
	}
}

func TestStore_ClosedMemory(t *testing.T) {
	s := must(OpenMemory(Options{}))
	ensure(s.Close())
	_, err := s.Get("a")
	eq(t, err, errStorageClosed)
}

func forEachBackend(t *testing.T, f func(t *testing.T, s *Store)) {
	t.Run("mem", func(t *testing.T) {
		s := must(OpenMemory(Options{Logger: testLogger(t), Verbose: true}))
		defer s.Close()
		f(t, s)
	})
	t.Run("bolt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.db")
		s := must(Open(path, Options{IsTesting: true, Logger: testLogger(t), Verbose: true}))
		defer s.Close()
		f(t, s)
	})
}

type testWriter struct{ t testing.TB }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func testLogger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func eq[T comparable](t testing.TB, a, e T) {
	if a != e {
		t.Helper()
		t.Fatalf("** got %v, wanted %v", a, e)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func must2[T1, T2 any](v1 T1, v2 T2, err error) (T1, T2) {
	if err != nil {
		panic(err)
	}
	return v1, v2
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
