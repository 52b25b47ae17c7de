// Package customdata is an opaque key-value store where each key's first
// write fixes a blake2b-256 commitment, and later writes must either match
// it (a blinded reveal) or simply overwrite it outright when no blind is
// supplied.
package customdata

import (
	"github.com/cockroachdb/pebble/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/shadowfi-network/ledgercore/kvstore"
)

// kvHashDomain separates this package's hashing from txn's transaction-hash
// and asset-code-prefix domains.
var kvHashDomain = []byte("ledgercore/custom-data-commitment/v1")

// KVHash is the blake2b-256 commitment recorded alongside a key's data.
type KVHash [32]byte

// Hash computes the domain-separated commitment over bytes, optionally
// preceded by a blind.
func Hash(blind, data []byte) KVHash {
	h, _ := blake2b.New256(kvHashDomain)
	h.Write(blind)
	h.Write(data)
	var out KVHash
	copy(out[:], h.Sum(nil))
	return out
}

// errBadCommitment is returned when a blinded store_custom_data call's
// recomputed hash does not match the key's existing commitment.
type errBadCommitment struct{}

func (errBadCommitment) Error() string { return "custom data commitment mismatch" }

// ErrBadCommitment is the sentinel returned by Store on a commitment
// mismatch.
var ErrBadCommitment error = errBadCommitment{}

// record is the on-disk shape of one key's stored data and commitment.
type record struct {
	Data []byte
	Hash KVHash
}

// Store is the custom-data key-value store, namespaced under its own
// pebble prefix like every other store in this module.
type Store struct {
	kv *kvstore.Store
}

// New opens a Store namespaced under ledgerPrefix.
func New(db *pebble.DB, ledgerPrefix string) *Store {
	return &Store{kv: kvstore.New(db, ledgerPrefix+"custom_data:")}
}

// Get returns the data and commitment hash stored at key, if any.
func (s *Store) Get(key []byte) ([]byte, KVHash, bool, error) {
	data, ok, err := s.kv.Get(key)
	if err != nil || !ok {
		return nil, KVHash{}, ok, err
	}
	rec, err := unmarshal(data)
	if err != nil {
		return nil, KVHash{}, false, err
	}
	return rec.Data, rec.Hash, true, nil
}

// Store writes data at key. With a nil blind, it unconditionally records
// hash(data) as the new commitment. With a non-nil blind, it recomputes
// hash(blind || data) and requires it to match the key's existing
// commitment (if any existed); a mismatch returns ErrBadCommitment and
// leaves the key untouched.
func (s *Store) Store(key, data, blind []byte) error {
	if blind == nil {
		return s.put(key, data, Hash(nil, data))
	}
	h := Hash(blind, data)
	_, existing, ok, err := s.Get(key)
	if err != nil {
		return err
	}
	if ok && existing != h {
		return ErrBadCommitment
	}
	return s.put(key, data, h)
}

func (s *Store) put(key, data []byte, h KVHash) error {
	encoded, err := marshal(record{Data: data, Hash: h})
	if err != nil {
		return err
	}
	return s.kv.Set(key, encoded)
}
