package state

import (
	"github.com/cockroachdb/pebble/v2"

	"github.com/shadowfi-network/ledgercore/kvstore"
	"github.com/shadowfi-network/ledgercore/sid"
	"github.com/shadowfi-network/ledgercore/txn"
)

// State is the committed ledger: live UTXOs, spent UTXOs, the asset
// registry, and issuance watermarks. Reads never take a lock here; callers
// that need a consistent multi-store snapshot (the block pipeline, the
// repair pass) hold their own lock around a sequence of State calls.
type State struct {
	db *pebble.DB

	live     *kvstore.Store // TxoSID -> OutputRecord
	spent    *kvstore.Store // TxoSID -> SpentRecord
	assets   *kvstore.Store // storage asset code -> AssetRecord
	issuance *kvstore.Store // storage asset code -> IssuanceRecord
	rawIndex *kvstore.Store // raw asset code -> storage asset code
}

// New opens a State over db, namespacing its five stores under the given
// ledger prefix so multiple ledgers can share one pebble database.
func New(db *pebble.DB, ledgerPrefix string) *State {
	return &State{
		db:       db,
		live:     kvstore.New(db, ledgerPrefix+"utxo_live:"),
		spent:    kvstore.New(db, ledgerPrefix+"utxo_spent:"),
		assets:   kvstore.New(db, ledgerPrefix+"assets:"),
		issuance: kvstore.New(db, ledgerPrefix+"issuance_max:"),
		rawIndex: kvstore.New(db, ledgerPrefix+"asset_raw_index:"),
	}
}

// ResolveStorageCode returns the storage code a raw asset code was
// registered under, so issuance and lookups can use the same code identity
// the asset's DefineAsset op established: the raw/prefixed choice is fixed
// at an asset's own define time, not re-derived later.
func (s *State) ResolveStorageCode(raw [16]byte) ([16]byte, bool, error) {
	data, ok, err := s.rawIndex.Get(codeKey(raw))
	if err != nil || !ok {
		return [16]byte{}, ok, err
	}
	var out [16]byte
	copy(out[:], data)
	return out, true, nil
}

// NewBatch opens one atomic pebble batch shared across every store this
// package and the apicache package write into for a single block.
func (s *State) NewBatch() *pebble.Batch { return s.db.NewIndexedBatch() }

// LiveOutput returns a live (unspent) UTXO.
func (s *State) LiveOutput(id sid.TxoSID) (txn.Output, bool, error) {
	data, ok, err := s.live.Get(sidKey(id))
	if err != nil || !ok {
		return txn.Output{}, ok, err
	}
	var rec OutputRecord
	if err := unmarshal(data, &rec); err != nil {
		return txn.Output{}, false, err
	}
	return rec.toOutput(), true, nil
}

// SpentOutput returns a previously-consumed UTXO together with the
// transaction that consumed it.
func (s *State) SpentOutput(id sid.TxoSID) (SpentRecord, bool, error) {
	data, ok, err := s.spent.Get(sidKey(id))
	if err != nil || !ok {
		return SpentRecord{}, ok, err
	}
	var rec SpentRecord
	if err := unmarshal(data, &rec); err != nil {
		return SpentRecord{}, false, err
	}
	return rec, true, nil
}

// Asset returns the registry entry for a storage-encoded asset code.
func (s *State) Asset(storageCode [16]byte) (AssetRecord, bool, error) {
	data, ok, err := s.assets.Get(codeKey(storageCode))
	if err != nil || !ok {
		return AssetRecord{}, ok, err
	}
	var rec AssetRecord
	if err := unmarshal(data, &rec); err != nil {
		return AssetRecord{}, false, err
	}
	return rec, true, nil
}

// Issuance returns the issuance watermark for a storage-encoded asset code.
func (s *State) Issuance(storageCode [16]byte) (IssuanceRecord, bool, error) {
	data, ok, err := s.issuance.Get(codeKey(storageCode))
	if err != nil || !ok {
		return IssuanceRecord{}, ok, err
	}
	var rec IssuanceRecord
	if err := unmarshal(data, &rec); err != nil {
		return IssuanceRecord{}, false, err
	}
	return rec, true, nil
}

// PutOutput stages a new live UTXO into pb.
func (s *State) PutOutput(pb *pebble.Batch, id sid.TxoSID, o txn.Output) error {
	data, err := marshal(toRecord(o))
	if err != nil {
		return err
	}
	return s.live.WithBatch(pb).Set(sidKey(id), data)
}

// ConsumeOutput moves a UTXO from live to spent within pb: it stages a
// delete from the live store and a write to the spent store. Callers must
// have already confirmed the output is live before calling this.
func (s *State) ConsumeOutput(pb *pebble.Batch, id sid.TxoSID, o txn.Output, spentBy sid.TxnSID, inputSeq uint64) error {
	if err := s.live.WithBatch(pb).Delete(sidKey(id)); err != nil {
		return err
	}
	data, err := marshal(SpentRecord{Output: toRecord(o), SpentBy: spentBy, SpentSeq: inputSeq})
	if err != nil {
		return err
	}
	return s.spent.WithBatch(pb).Set(sidKey(id), data)
}

// PutAsset stages a new asset registry entry into pb, plus the raw-code
// redirect future issuances and memo updates resolve through. Callers must
// have already confirmed the storage code is not already registered.
func (s *State) PutAsset(pb *pebble.Batch, storageCode [16]byte, d txn.AssetDefinition, defineHeight uint64) error {
	data, err := marshal(toAssetRecord(d, defineHeight))
	if err != nil {
		return err
	}
	if err := s.assets.WithBatch(pb).Set(codeKey(storageCode), data); err != nil {
		return err
	}
	return s.rawIndex.WithBatch(pb).Set(codeKey(d.Code), storageCode[:])
}

// PatchAssetMemo stages an in-place memo rewrite of an existing, updatable
// asset registry entry into pb. The entry is read through pb, so an asset
// staged earlier in the same batch is found.
func (s *State) PatchAssetMemo(pb *pebble.Batch, storageCode [16]byte, newMemo string) error {
	data, ok, err := s.assets.WithBatch(pb).Get(codeKey(storageCode))
	if err != nil {
		return err
	}
	if !ok {
		return errAssetNotFound
	}
	var rec AssetRecord
	if err := unmarshal(data, &rec); err != nil {
		return err
	}
	rec.Memo = newMemo
	data, err := marshal(rec)
	if err != nil {
		return err
	}
	return s.assets.WithBatch(pb).Set(codeKey(storageCode), data)
}

// PutIssuance stages an updated issuance watermark into pb.
func (s *State) PutIssuance(pb *pebble.Batch, storageCode [16]byte, rec IssuanceRecord) error {
	data, err := marshal(rec)
	if err != nil {
		return err
	}
	return s.issuance.WithBatch(pb).Set(codeKey(storageCode), data)
}

var errAssetNotFound = &notFoundError{"asset not registered"}

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }
