package store

import (
	"errors"
	"maps"
	"slices"
	"sync"
)

var (
	errStorageClosed = errors.New("storage closed")
	errTxReadOnly    = errors.New("tx not writable")
)

// memStorage keeps every bucket in memory. Committed buckets are never
// modified: a write tx copies a bucket the first time it touches it, and Commit
// swaps the whole bucket table, so a read tx keeps the snapshot it started with.
type memStorage struct {
	writer  sync.Mutex // held by the active write tx
	mu      sync.RWMutex
	buckets map[string]*memBucket
	closed  bool
}

func newMemStorage() storage {
	return &memStorage{buckets: make(map[string]*memBucket)}
}

func (s *memStorage) snapshot() (map[string]*memBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStorageClosed
	}
	return s.buckets, nil
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	if writable {
		s.writer.Lock()
	}
	buckets, err := s.snapshot()
	if err != nil {
		if writable {
			s.writer.Unlock()
		}
		return nil, err
	}
	tx := &memTx{s: s, writable: writable, buckets: buckets}
	if writable {
		tx.buckets = maps.Clone(buckets)
		tx.owned = make(map[*memBucket]bool)
	}
	return tx, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	return nil
}

type memTx struct {
	s        *memStorage
	writable bool
	done     bool
	buckets  map[string]*memBucket
	owned    map[*memBucket]bool // copies made by this tx, safe to modify
}

func (tx *memTx) finish() {
	if tx.done {
		return
	}
	tx.done = true
	if tx.writable {
		tx.s.writer.Unlock()
	}
}

func (tx *memTx) mustBeOpen() {
	if tx.done {
		panic("tx is closed")
	}
}

func (tx *memTx) Bucket(name string) storageBucket {
	tx.mustBeOpen()
	if tx.buckets[name] == nil {
		return nil
	}
	return &memBucketHandle{tx: tx, name: name}
}

func (tx *memTx) CreateBucket(name string) (storageBucket, error) {
	tx.mustBeOpen()
	if !tx.writable {
		return nil, errTxReadOnly
	}
	if tx.buckets[name] == nil {
		b := &memBucket{values: make(map[string][]byte), sorted: true}
		tx.buckets[name] = b
		tx.owned[b] = true
	}
	return &memBucketHandle{tx: tx, name: name}, nil
}

func (tx *memTx) DeleteBucket(name string) error {
	tx.mustBeOpen()
	if !tx.writable {
		return errTxReadOnly
	}
	if tx.buckets[name] == nil {
		return errBucketNotFound
	}
	delete(tx.buckets, name)
	return nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return nil
	}
	if !tx.writable {
		return errTxReadOnly
	}
	defer tx.finish()
	for b := range tx.owned {
		b.sortKeys()
	}

	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.s.closed {
		return errStorageClosed
	}
	tx.s.buckets = tx.buckets
	return nil
}

func (tx *memTx) Rollback() error {
	tx.finish()
	return nil
}

func (tx *memTx) Size() int64 {
	var n int64
	for _, b := range tx.buckets {
		for k, v := range b.values {
			n += int64(len(k) + len(v))
		}
	}
	return n
}

// memBucket holds values by key plus a sorted key list for cursors. keys is
// stale while sorted is false; committed buckets are always sorted.
type memBucket struct {
	values map[string][]byte
	keys   []string
	sorted bool
}

func (b *memBucket) clone() *memBucket {
	return &memBucket{values: maps.Clone(b.values), keys: slices.Clone(b.keys), sorted: b.sorted}
}

func (b *memBucket) sortKeys() {
	if !b.sorted {
		b.keys = slices.Sorted(maps.Keys(b.values))
		b.sorted = true
	}
}

// memBucketHandle looks its bucket up by name on every call, since the tx
// replaces a bucket with a private copy on its first write.
type memBucketHandle struct {
	tx   *memTx
	name string
}

func (h *memBucketHandle) bucket() *memBucket {
	return h.tx.buckets[h.name]
}

func (h *memBucketHandle) writable() (*memBucket, error) {
	if !h.tx.writable {
		return nil, errTxReadOnly
	}
	b := h.tx.buckets[h.name]
	if !h.tx.owned[b] {
		b = b.clone()
		h.tx.buckets[h.name] = b
		h.tx.owned[b] = true
	}
	return b, nil
}

func (h *memBucketHandle) Get(key []byte) []byte {
	return h.bucket().values[string(key)]
}

// Put stores a copy of value. Stored slices are replaced, never written to,
// so a bucket copy may share them with the committed version.
func (h *memBucketHandle) Put(key, value []byte) error {
	b, err := h.writable()
	if err != nil {
		return err
	}
	k := string(key)
	if _, ok := b.values[k]; !ok {
		b.sorted = false
	}
	b.values[k] = slices.Clone(value)
	return nil
}

func (h *memBucketHandle) Delete(key []byte) error {
	b, err := h.writable()
	if err != nil {
		return err
	}
	k := string(key)
	if _, ok := b.values[k]; ok {
		delete(b.values, k)
		b.sorted = false
	}
	return nil
}

func (h *memBucketHandle) Cursor() storageCursor {
	b := h.bucket()
	b.sortKeys()
	return &memCursor{b: b, pos: -1}
}

func (h *memBucketHandle) KeyCount() int { return len(h.bucket().values) }

type memCursor struct {
	b   *memBucket
	pos int
}

func (c *memCursor) First() ([]byte, []byte) {
	c.pos = 0
	return c.at()
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	c.pos, _ = slices.BinarySearch(c.b.keys, string(seek))
	return c.at()
}

func (c *memCursor) Next() ([]byte, []byte) {
	c.pos++
	return c.at()
}

func (c *memCursor) at() ([]byte, []byte) {
	if c.pos < 0 || c.pos >= len(c.b.keys) {
		return nil, nil
	}
	k := c.b.keys[c.pos]
	return []byte(k), c.b.values[k]
}
