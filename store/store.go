// Package store keeps Fleece documents in a Bolt database, keyed by string
// IDs. All documents share one persistent SharedKeys scope, so common dict
// keys take two bytes in every document.
//
// # Buckets
//
// docs: id → record (msgpack envelope around the possibly compressed
// Fleece bytes, plus the SharedKeys count the doc was encoded with).
//
// meta: "sharedkeys" → SharedKeys state data (a Fleece array of strings).
//
// New shared keys assigned while encoding a document are saved in the same
// transaction as the document. If the transaction fails, the scope is
// reverted to its previous count, so no document ever references an unsaved
// key.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/andreyvit/fleece"
)

const (
	docsBucket       = "docs"
	metaBucket       = "meta"
	sharedKeysMetaID = "sharedkeys"
)

type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Compression applies to documents written from now on; existing records
	// keep whatever they were written with.
	Compression Compression

	// IsTesting trades durability for speed.
	IsTesting bool

	MmapSize int
	Verbose  bool
}

// Store is safe for concurrent use. Writes are serialized.
type Store struct {
	st      storage
	sk      *fleece.SharedKeys
	logger  *slog.Logger
	comp    Compression
	verbose bool

	writeMu sync.Mutex
}

// Open opens (creating if needed) a Bolt database at path.
func Open(path string, opt Options) (*Store, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	s, err := open(newBoltStorage(bdb), opt)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory returns a transient store that lives in memory.
func OpenMemory(opt Options) (*Store, error) {
	return open(newMemStorage(), opt)
}

func open(st storage, opt Options) (*Store, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	s := &Store{
		st:      st,
		sk:      fleece.NewSharedKeys(),
		logger:  opt.Logger,
		comp:    opt.Compression,
		verbose: opt.Verbose,
	}

	err := s.write(func(tx storageTx) error {
		if _, err := tx.CreateBucket(docsBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucket(metaBucket)
		if err != nil {
			return err
		}
		if state := meta.Get([]byte(sharedKeysMetaID)); state != nil {
			if err := s.sk.LoadStateData(state); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening: %w", err)
	}
	if s.verbose {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "store: opened", slog.Int("shared_keys", s.sk.Count()))
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.st.Close()
}

// SharedKeys returns the store's key scope. Docs returned by Get decode their
// keys with it.
func (s *Store) SharedKeys() *fleece.SharedKeys {
	return s.sk
}

func (s *Store) read(f func(tx storageTx) error) error {
	tx, err := s.st.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

// write runs f in a write transaction and commits it. New shared keys are
// saved along with f's changes; if anything fails they are forgotten.
func (s *Store) write(f func(tx storageTx) error) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.st.BeginTx(true)
	if err != nil {
		return err
	}
	keyCount := s.sk.Count()
	defer func() {
		if err != nil {
			tx.Rollback()
			if rerr := s.sk.RevertToCount(keyCount); rerr != nil {
				s.logger.LogAttrs(context.Background(), slog.LevelError, "store: reverting shared keys failed", slog.Any("err", rerr))
			}
		}
	}()

	if err = f(tx); err != nil {
		return err
	}
	if n := s.sk.Count(); n > keyCount {
		meta := tx.Bucket(metaBucket)
		if err = meta.Put([]byte(sharedKeysMetaID), s.sk.StateData()); err != nil {
			return err
		}
		if s.verbose {
			s.logger.LogAttrs(context.Background(), slog.LevelDebug, "store: new shared keys", slog.Int("before", keyCount), slog.Int("after", n))
		}
	}
	return tx.Commit()
}

func notFound(id string) error {
	return &fleece.Error{Code: fleece.NotFound, Msg: fmt.Sprintf("document %q not found", id), Off: -1}
}

// IsNotFound reports whether err says a document doesn't exist.
func IsNotFound(err error) bool {
	return errors.Is(err, fleece.ErrNotFound)
}

// Put stores v under id, replacing any previous document.
func (s *Store) Put(id string, v fleece.Value) error {
	return s.write(func(tx storageTx) error {
		return s.put(tx, id, v)
	})
}

// PutJSON stores a document given as JSON text.
func (s *Store) PutJSON(id string, json []byte) error {
	return s.write(func(tx storageTx) error {
		enc := fleece.NewEncoder(fleece.WithSharedKeys(s.sk), fleece.WithReserve(len(json)))
		if err := enc.WriteJSON(json); err != nil {
			return err
		}
		data, err := enc.Finish()
		if err != nil {
			return err
		}
		return s.putEncoded(tx, id, data)
	})
}

func (s *Store) put(tx storageTx, id string, v fleece.Value) error {
	if !v.Exists() {
		return &fleece.Error{Code: fleece.InvalidData, Msg: "can't store an undefined value", Off: -1}
	}
	enc := fleece.NewEncoder(fleece.WithSharedKeys(s.sk))
	if err := enc.WriteValue(v); err != nil {
		return err
	}
	data, err := enc.Finish()
	if err != nil {
		return err
	}
	return s.putEncoded(tx, id, data)
}

func (s *Store) putEncoded(tx storageTx, id string, data []byte) error {
	payload, comp, err := compress(data, s.comp)
	if err != nil {
		return err
	}
	raw, err := encodeRecord(&record{
		Compression:    comp,
		SharedKeyCount: s.sk.Count(),
		Size:           len(data),
		Data:           payload,
	})
	if err != nil {
		return err
	}
	if s.verbose {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "store: put", slog.String("id", id), slog.Int("size", len(data)), slog.Int("stored", len(raw)), slog.String("compression", comp.String()))
	}
	return tx.Bucket(docsBucket).Put([]byte(id), raw)
}

// Get returns the document stored under id. A missing document is a
// NotFound error.
func (s *Store) Get(id string) (*fleece.Doc, error) {
	var doc *fleece.Doc
	err := s.read(func(tx storageTx) error {
		var err error
		doc, err = s.get(tx, id)
		return err
	})
	return doc, err
}

func (s *Store) get(tx storageTx, id string) (*fleece.Doc, error) {
	raw := tx.Bucket(docsBucket).Get(unsafeBytesFromString(id))
	if raw == nil {
		return nil, notFound(id)
	}
	return s.decode(id, raw)
}

func (s *Store) decode(id string, raw []byte) (*fleece.Doc, error) {
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, &fleece.Error{Code: fleece.InvalidData, Msg: fmt.Sprintf("document %q: bad record", id), Err: err, Off: -1}
	}
	if rec.SharedKeyCount > s.sk.Count() {
		return nil, &fleece.Error{Code: fleece.SharedKeysStateError, Msg: fmt.Sprintf("document %q uses %d shared keys, store has %d", id, rec.SharedKeyCount, s.sk.Count()), Off: -1}
	}
	data, err := decompress(rec.Data, rec.Compression, rec.Size)
	if err != nil {
		return nil, &fleece.Error{Code: fleece.InvalidData, Msg: fmt.Sprintf("document %q: decompressing", id), Err: err, Off: -1}
	}
	return fleece.NewDoc(data, fleece.Untrusted, s.sk)
}

// Delete removes a document. A missing document is a NotFound error.
func (s *Store) Delete(id string) error {
	return s.write(func(tx storageTx) error {
		b := tx.Bucket(docsBucket)
		if b.Get([]byte(id)) == nil {
			return notFound(id)
		}
		return b.Delete([]byte(id))
	})
}

// Clear removes every document. The shared keys stay, since other copies of
// the data may still reference them.
func (s *Store) Clear() error {
	return s.write(func(tx storageTx) error {
		if err := tx.DeleteBucket(docsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(docsBucket)
		return err
	})
}

// Update edits the dict stored under id in place and returns what changed. A
// missing document starts out as an empty dict. If f makes no changes,
// nothing is written and the delta is empty; if f fails, nothing is written.
func (s *Store) Update(id string, f func(d *fleece.MutableDict) error) (fleece.Delta, error) {
	var delta fleece.Delta
	err := s.write(func(tx storageTx) error {
		old, err := s.get(tx, id)
		var oldRoot fleece.Value
		var md *fleece.MutableDict
		switch {
		case err == nil:
			oldRoot = old.Root()
			if oldRoot.Type() != fleece.TypeDict {
				return &fleece.Error{Code: fleece.InvalidData, Msg: fmt.Sprintf("document %q is %v, not a dict", id, oldRoot.Type()), Off: -1}
			}
			md = oldRoot.AsDict().AsMutable()
		case IsNotFound(err):
			oldRoot = fleece.NewMutableDict().AsValue()
			md = fleece.NewMutableDict()
		default:
			return err
		}

		if err := f(md); err != nil {
			return err
		}
		if !md.IsChanged() {
			return nil
		}
		delta = fleece.Diff(oldRoot, md.AsValue())
		if len(delta) == 0 {
			return nil
		}
		if s.verbose {
			s.logger.LogAttrs(context.Background(), slog.LevelDebug, "store: update", slog.String("id", id), slog.Int("ops", len(delta)), slog.String("paths", strings.Join(delta.Paths(), ",")))
		}
		return s.put(tx, id, md.AsValue())
	})
	if err != nil {
		return nil, err
	}
	return delta, nil
}

// Scan yields the documents whose IDs start with prefix, in ID order. The
// iteration runs inside a read transaction; don't write to the store from
// the loop body. Records that fail to decode are logged and skipped.
func (s *Store) Scan(prefix string) iter.Seq2[string, *fleece.Doc] {
	return func(yield func(string, *fleece.Doc) bool) {
		err := s.read(func(tx storageTx) error {
			c := tx.Bucket(docsBucket).Cursor()
			var k, v []byte
			if prefix == "" {
				k, v = c.First()
			} else {
				k, v = c.Seek(unsafeBytesFromString(prefix))
			}
			for ; k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
				id := string(k)
				doc, err := s.decode(id, v)
				if err != nil {
					s.logger.LogAttrs(context.Background(), slog.LevelWarn, "store: skipping undecodable document", slog.String("id", id), slog.Any("err", err))
					continue
				}
				if !yield(id, doc) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			s.logger.LogAttrs(context.Background(), slog.LevelError, "store: scan failed", slog.String("prefix", prefix), slog.Any("err", err))
		}
	}
}

// Count returns the number of stored documents.
func (s *Store) Count() (int, error) {
	var n int
	err := s.read(func(tx storageTx) error {
		n = tx.Bucket(docsBucket).KeyCount()
		return nil
	})
	return n, err
}

// Size returns the database size in bytes, where the backend knows it.
func (s *Store) Size() (int64, error) {
	var n int64
	err := s.read(func(tx storageTx) error {
		n = tx.Size()
		return nil
	})
	return n, err
}
