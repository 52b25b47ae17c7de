// Package txlog is the ledger's durable, append-only ground truth: one
// record per committed transaction and one per committed block. It is
// never rebuilt and never pruned (outside of a configured history-trimming
// mode); the derived, rebuildable secondary indexes live in apicache and
// are reconstructed FROM this log, never the other way around.
package txlog

import (
	"github.com/cockroachdb/pebble/v2"

	"github.com/shadowfi-network/ledgercore/kvstore"
	"github.com/shadowfi-network/ledgercore/state"
	"github.com/shadowfi-network/ledgercore/txn"
)

// CommittedTxnRecord is everything the cache repair pass needs to rebuild
// every derived index entry for one committed transaction, without
// re-running the effect builder.
type CommittedTxnRecord struct {
	Hash    [32]byte `json:"hash"`
	HashHex string   `json:"hashHex"`
	SeqID   uint64   `json:"seqId"` // the transaction's own anti-replay fence, not its serial id
	TxnSid  uint64   `json:"txnSid"`

	TxoStart uint64               `json:"txoStart"`
	Outputs  []state.OutputRecord `json:"outputs"` // emission order; TxoSID of Outputs[k] is TxoStart+k

	AssetDefs    []StoredAssetDef `json:"assetDefs"`
	MemoUpdates  []txn.MemoUpdate `json:"memoUpdates"`
	MintEntries  []MintEntry      `json:"mintEntries,omitempty"`
	IssuanceRefs []IssuanceRef    `json:"issuanceRefs,omitempty"`

	RelatedAddresses  [][33]byte `json:"relatedAddresses"`
	TransferredAssets [][16]byte `json:"transferredAssets"`

	// ConsumedInputs names every output this transaction spent (absolute or
	// self-consumed), so the owned-utxo index can drop them from their prior
	// owner's live set.
	ConsumedInputs []ConsumedInputRef `json:"consumedInputs,omitempty"`
}

// ConsumedInputRef names one output spent by a committed transaction and
// the owner it was spent from.
type ConsumedInputRef struct {
	Owner  [33]byte `json:"owner"`
	TxoSid uint64   `json:"txoSid"`
}

// IssuanceRef attributes one entry of Outputs to the issuer/code that
// issued it, for the issuances/token_code_issuances cache lists.
type IssuanceRef struct {
	Issuer [33]byte `json:"issuer"`
	Code   [16]byte `json:"code"`
	Index  int      `json:"index"`
}

// StoredAssetDef pairs a newly-defined asset's storage code with its
// registry record, mirroring created_assets[issuer][code].
type StoredAssetDef struct {
	StorageCode [16]byte          `json:"storageCode"`
	Record      state.AssetRecord `json:"record"`
}

// MintEntry is one coinbase_oper_hist[address][height] entry, emitted by
// MintFra/FraDistribution staking operations.
type MintEntry struct {
	Address [33]byte      `json:"address"`
	Height  uint64        `json:"height"`
	Code    [16]byte      `json:"code"`
	Amount  uint64        `json:"amount"`
}

// BlockRecord is the committed span of one finalized block.
type BlockRecord struct {
	Height   uint64 `json:"height"`
	TxnStart uint64 `json:"txnStart"`
	TxnCount uint64 `json:"txnCount"`
	TxoStart uint64 `json:"txoStart"`
	TxoCount uint64 `json:"txoCount"`
}

// Log is the append-only transaction/block log plus the ground-truth
// output-to-owning-transaction index that the cache repair pass consults
// when it has to rebuild an entry from scratch.
type Log struct {
	db        *pebble.DB
	txns      *kvstore.Store // TxnSID -> CommittedTxnRecord
	blocks    *kvstore.Store // BlockHeight -> BlockRecord
	txoOwner  *kvstore.Store // TxoSID -> TxnSID
}

// New opens a Log namespaced under ledgerPrefix.
func New(db *pebble.DB, ledgerPrefix string) *Log {
	return &Log{
		db:       db,
		txns:     kvstore.New(db, ledgerPrefix+"txlog_txns:"),
		blocks:   kvstore.New(db, ledgerPrefix+"txlog_blocks:"),
		txoOwner: kvstore.New(db, ledgerPrefix+"txlog_txo_owner:"),
	}
}

// PutTxn stages a committed transaction's record into pb, keyed by the
// TxnSID it was just assigned, and indexes each of its outputs' TxoSIDs
// back to that TxnSID.
func (l *Log) PutTxn(pb *pebble.Batch, txnSid uint64, rec CommittedTxnRecord) error {
	data, err := marshalJSON(rec)
	if err != nil {
		return err
	}
	if err := l.txns.WithBatch(pb).Set(kvstore.PutUint64(txnSid), data); err != nil {
		return err
	}
	for k := range rec.Outputs {
		txoSid := rec.TxoStart + uint64(k)
		if err := l.txoOwner.WithBatch(pb).Set(kvstore.PutUint64(txoSid), kvstore.PutUint64(txnSid)); err != nil {
			return err
		}
	}
	return nil
}

// GetTxn returns the committed record for a TxnSID.
func (l *Log) GetTxn(txnSid uint64) (CommittedTxnRecord, bool, error) {
	data, ok, err := l.txns.Get(kvstore.PutUint64(txnSid))
	if err != nil || !ok {
		return CommittedTxnRecord{}, ok, err
	}
	var rec CommittedTxnRecord
	if err := unmarshalJSON(data, &rec); err != nil {
		return CommittedTxnRecord{}, false, err
	}
	return rec, true, nil
}

// OwnerOf returns the TxnSID that produced a given TxoSID.
func (l *Log) OwnerOf(txoSid uint64) (uint64, bool, error) {
	data, ok, err := l.txoOwner.Get(kvstore.PutUint64(txoSid))
	if err != nil || !ok {
		return 0, ok, err
	}
	return kvstore.GetUint64(data), true, nil
}

// PutBlock stages a committed block's span record into pb.
func (l *Log) PutBlock(pb *pebble.Batch, height uint64, rec BlockRecord) error {
	data, err := marshalJSON(rec)
	if err != nil {
		return err
	}
	return l.blocks.WithBatch(pb).Set(kvstore.PutUint64(height), data)
}

// GetBlock returns the committed span record for a block height.
func (l *Log) GetBlock(height uint64) (BlockRecord, bool, error) {
	data, ok, err := l.blocks.Get(kvstore.PutUint64(height))
	if err != nil || !ok {
		return BlockRecord{}, ok, err
	}
	var rec BlockRecord
	if err := unmarshalJSON(data, &rec); err != nil {
		return BlockRecord{}, false, err
	}
	return rec, true, nil
}

// NewBatch opens a fresh atomic batch on the shared database.
func (l *Log) NewBatch() *pebble.Batch { return l.db.NewIndexedBatch() }
