// Package mmap maps files into memory read-only.
package mmap

import (
	"errors"
	"fmt"
	"os"
)

type Options uint

const (
	// RandomAccess is a hint that read-ahead won't help. Maps to MADV_RANDOM
	// on Unix.
	RandomAccess Options = 1 << iota

	// Prefault loads the entire file into memory upfront. Maps to
	// MAP_POPULATE on Linux, ignored elsewhere.
	Prefault
)

func (o Options) Has(v Options) bool {
	return o&v != 0
}

var (
	ErrEmpty    = errors.New("mmap: can't map an empty file")
	ErrTooLarge = errors.New("mmap: file too large")
)

// Mmap maps the first size bytes of f.
func Mmap(f *os.File, size int64, opt Options) ([]byte, error) {
	if size <= 0 {
		return nil, ErrEmpty
	}
	if uint64(size) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	return mmap(f, int(size), opt)
}

// Munmap unmaps memory returned by Mmap.
func Munmap(b []byte) error {
	return munmap(b)
}

// Mapping is a whole file mapped into memory.
type Mapping struct {
	f    *os.File
	data []byte
}

// MapFile maps the entire file at path.
func MapFile(path string, opt Options) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	data, err := Mmap(f, st.Size(), opt)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Mapping{f: f, data: data}, nil
}

// Bytes returns the mapped memory. It becomes invalid after Close.
func (m *Mapping) Bytes() []byte {
	return m.data
}

func (m *Mapping) Len() int {
	return len(m.data)
}

// Close unmaps the memory and closes the file. Calling Close twice is a no-op.
func (m *Mapping) Close() error {
	if m.data == nil {
		return nil
	}
	err := Munmap(m.data)
	m.data = nil
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
