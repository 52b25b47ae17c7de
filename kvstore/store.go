// Package kvstore wraps a single *pebble.DB with prefix-scoped, named stores
// so the ledger's several keyed maps (UTXOs, asset registry, API cache
// entries, ...) can share one database directory while never colliding on
// keys. One node can host multiple ledgers side by side by varying the
// top-level prefix.
package kvstore

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble/v2"
)

// Store is a namespaced view over a shared pebble database. All keys passed
// to its methods are relative to the store's prefix.
type Store struct {
	db     *pebble.DB
	prefix []byte
}

// New returns a Store scoped to prefix within db. prefix should end in a
// separator (":", "/") so distinct stores never share a key namespace.
func New(db *pebble.DB, prefix string) *Store {
	return &Store{db: db, prefix: []byte(prefix)}
}

func (s *Store) key(k []byte) []byte {
	full := make([]byte, 0, len(s.prefix)+len(k))
	full = append(full, s.prefix...)
	full = append(full, k...)
	return full
}

// Get returns the stored value, or ok=false if the key is absent.
func (s *Store) Get(k []byte) (value []byte, ok bool, err error) {
	v, closer, err := s.db.Get(s.key(k))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Has reports whether a key exists, without copying its value.
func (s *Store) Has(k []byte) (bool, error) {
	_, closer, err := s.db.Get(s.key(k))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// Set writes a single key outside of any batch. Prefer Batch for multi-key
// commits so writes stay atomic.
func (s *Store) Set(k, v []byte) error {
	return s.db.Set(s.key(k), v, pebble.NoSync)
}

// Delete removes a single key outside of any batch.
func (s *Store) Delete(k []byte) error {
	return s.db.Delete(s.key(k), pebble.NoSync)
}

// NewBatch returns a batch scoped to this store's prefix.
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s, pb: s.db.NewBatch()}
}

// NewIndexedBatch returns a batch whose writes are visible to reads issued
// against the same batch before it is committed (needed when a block
// pipeline must read back tentative writes made earlier in the same batch).
func (s *Store) NewIndexedBatch() *Batch {
	return &Batch{store: s, pb: s.db.NewIndexedBatch()}
}

// DB returns the underlying pebble database. Callers that need to mutate
// several stores atomically (a block touches utxo, asset, and cache stores
// in one commit) open a single batch here and wrap it per store with
// WithBatch instead of using each store's own NewBatch.
func (s *Store) DB() *pebble.DB { return s.db }

// WithBatch wraps an already-open pebble batch for this store's namespace,
// so several stores can share one atomic commit.
func (s *Store) WithBatch(pb *pebble.Batch) *Batch {
	return &Batch{store: s, pb: pb}
}

// Iterate calls fn for every key in [lower, upper) relative to the store's
// prefix, in ascending key order. Iteration stops early if fn returns an
// error, which is then returned to the caller.
func (s *Store) Iterate(lower, upper []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: s.key(lower),
		UpperBound: s.key(upper),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()[len(s.prefix):]
		if err := fn(key, iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Batch buffers writes against a single Store for atomic commit.
type Batch struct {
	store *Store
	pb    *pebble.Batch
}

func (b *Batch) Set(k, v []byte) error {
	return b.pb.Set(b.store.key(k), v, nil)
}

func (b *Batch) Delete(k []byte) error {
	return b.pb.Delete(b.store.key(k), nil)
}

// Get reads a key through the batch, seeing any writes already staged in it
// and falling back to the underlying database. Only valid on indexed batches.
func (b *Batch) Get(k []byte) (value []byte, ok bool, err error) {
	v, closer, err := b.pb.Get(b.store.key(k))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Commit flushes the batch to the database.
func (b *Batch) Commit() error {
	return b.pb.Commit(pebble.NoSync)
}

// Close discards the batch without committing it.
func (b *Batch) Close() error {
	return b.pb.Close()
}

// PutUint64 and GetUint64 are watermark helpers shared by every store that
// tracks a monotonic frontier (serial id allocators, cache watermarks).
func PutUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func GetUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
