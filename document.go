package fleece

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/andreyvit/fleece/mmap"
)

// Trust says whether data gets validated before use.
type Trust int

const (
	// Untrusted data is fully validated: every pointer and every container
	// item is checked to stay inside the buffer.
	Untrusted Trust = iota

	// Trusted data is used as-is. Use only for data this process produced.
	Trusted
)

// Doc owns an encoded buffer together with the SharedKeys its dicts were
// encoded against. Values obtained from a Doc keep the buffer alive, including
// the mapping of a file-mapped doc.
type Doc struct {
	s    *scope
	root Value
	base *Doc
}

// NewDoc wraps data, which the caller must not modify afterwards.
func NewDoc(data []byte, trust Trust, sk *SharedKeys) (*Doc, error) {
	return NewDocFromAllocSlice(NewAllocSlice(data), trust, sk)
}

// NewDocFromAllocSlice makes a Doc that takes over one reference to a.
func NewDocFromAllocSlice(a *AllocSlice, trust Trust, sk *SharedKeys) (*Doc, error) {
	s := &scope{data: a.data, sk: sk, alloc: a, mapped: a.mapped}
	root, err := rootOf(s, trust)
	if err != nil {
		return nil, err
	}
	return &Doc{s: s, root: root}, nil
}

// NewDocOnBase opens data produced by an Encoder created WithBase(base). Its
// extern pointers resolve into base, which the new Doc keeps reachable; dicts
// use base's SharedKeys.
func NewDocOnBase(data []byte, base *Doc, trust Trust) (*Doc, error) {
	if base == nil {
		return nil, errorf(InvalidData, "base document is missing or released")
	}
	return newDocOnBase(data, base, base.s.sk, trust)
}

func newDocOnBase(data []byte, base *Doc, sk *SharedKeys, trust Trust) (*Doc, error) {
	if !base.Root().Exists() {
		return nil, errorf(InvalidData, "base document is missing or released")
	}
	s := &scope{data: data, sk: sk, alloc: NewAllocSlice(data), base: base.s}
	root, err := rootOf(s, trust)
	if err != nil {
		return nil, err
	}
	return &Doc{s: s, root: root, base: base}, nil
}

// Base returns the doc this one was opened on, or nil.
func (d *Doc) Base() *Doc {
	if d == nil {
		return nil
	}
	return d.base
}

func rootOf(s *scope, trust Trust) (Value, error) {
	data := s.data
	if trust == Trusted {
		if len(data) < narrow {
			return Value{}, dataErrf(data, 0, "data too short")
		}
		v := s.valueAt(len(data)-narrow, false)
		if !v.Exists() {
			return Value{}, dataErrf(data, len(data)-narrow, "invalid root pointer")
		}
		return v, nil
	}
	rs, root, start, limit, err := findRoot(s)
	if err != nil {
		return Value{}, err
	}
	if !validate(rs, root, start, limit) {
		return Value{}, dataErrf(rs.data, root, "invalid data")
	}
	return encodedValue(rs, root), nil
}

// decodeRoot validates data and returns its root value.
func decodeRoot(data []byte, sk *SharedKeys) (Value, error) {
	return rootOf(&scope{data: data, sk: sk}, Untrusted)
}

// Validate reports whether data is a well-formed encoded value.
func Validate(data []byte) error {
	_, err := decodeRoot(data, nil)
	return err
}

// FileOptions configure OpenFile.
type FileOptions struct {
	SharedKeys *SharedKeys
	Trust      Trust

	// Prefault loads the whole file into memory upfront.
	Prefault bool

	// Logger receives unmap failures; defaults to slog.Default().
	Logger *slog.Logger
}

// OpenFile maps an encoded file into memory read-only. After the Doc's final
// Release, Root reports undefined, but Values read earlier keep working: the
// file is unmapped when the garbage collector finds nothing refers to it.
// Strings and byte slices read from such a Doc are copies.
func OpenFile(path string, opt FileOptions) (*Doc, error) {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	flags := mmap.RandomAccess
	if opt.Prefault {
		flags |= mmap.Prefault
	}
	m, err := mmap.MapFile(path, flags)
	if err != nil {
		return nil, wrapErrorf(POSIXError, err, "mapping %s", path)
	}
	a := NewAllocSlice(m.Bytes())
	a.mapped = true
	runtime.AddCleanup(a, unmapFile, mappedFile{m, path, logger})

	doc, err := NewDocFromAllocSlice(a, opt.Trust, opt.SharedKeys)
	if err != nil {
		a.Release()
		return nil, err
	}
	return doc, nil
}

// mappedFile must not refer to the AllocSlice, or the cleanup never runs.
type mappedFile struct {
	m      *mmap.Mapping
	path   string
	logger *slog.Logger
}

func unmapFile(f mappedFile) {
	ctx := context.Background()
	if err := f.m.Close(); err != nil {
		f.logger.LogAttrs(ctx, slog.LevelWarn, "fleece: unmap failed", slog.String("path", f.path), slog.Any("err", err))
		return
	}
	f.logger.LogAttrs(ctx, slog.LevelDebug, "fleece: unmapped", slog.String("path", f.path))
}

// WriteFile durably writes the doc's data to path, replacing it atomically.
func (d *Doc) WriteFile(path string) error {
	return writeFileDurably(path, d.s.data)
}

func writeFileDurably(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return wrapErrorf(POSIXError, err, "writing %s", path)
	}
	tmp := f.Name()
	ok := false
	defer func() {
		if !ok {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return wrapErrorf(POSIXError, err, "writing %s", path)
	}
	if err := mmap.Fdatasync(f); err != nil {
		return wrapErrorf(POSIXError, err, "syncing %s", path)
	}
	if err := f.Close(); err != nil {
		return wrapErrorf(POSIXError, err, "writing %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return wrapErrorf(POSIXError, err, "renaming %s", path)
	}
	ok = true
	return nil
}

// Root returns the root value, or undefined once the doc has been released.
func (d *Doc) Root() Value {
	if d == nil || d.s.alloc != nil && d.s.alloc.IsReleased() {
		return Value{}
	}
	return d.root
}

func (d *Doc) AsDict() Dict {
	return d.Root().AsDict()
}

func (d *Doc) AsArray() Array {
	return d.Root().AsArray()
}

func (d *Doc) SharedKeys() *SharedKeys {
	return d.s.sk
}

// Data returns the encoded bytes, copied for a file-mapped doc.
func (d *Doc) Data() Slice {
	return d.s.detached(Slice(d.s.data))
}

func (d *Doc) AllocedData() *AllocSlice {
	return d.s.alloc
}

// Retain adds a reference; every Retain needs a matching Release.
func (d *Doc) Retain() *Doc {
	d.s.alloc.Retain()
	return d
}

// Release drops a reference. After the final Release, Root reports undefined.
func (d *Doc) Release() error {
	return d.s.alloc.Release()
}
