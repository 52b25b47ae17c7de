// Package state holds the ledger's persistent, committed-only truth: live
// and spent UTXOs, the asset registry, and per-asset issuance watermarks.
// Every write passes through a shared pebble batch handed in by the block
// pipeline (block.Pipeline); nothing in this package ever opens its own
// batch, so a block's writes across every store here commit atomically.
package state

import (
	"encoding/hex"
	"encoding/json"

	"github.com/shadowfi-network/ledgercore/address"
	"github.com/shadowfi-network/ledgercore/kvstore"
	"github.com/shadowfi-network/ledgercore/sid"
	"github.com/shadowfi-network/ledgercore/txn"
)

// OutputRecord is the on-disk JSON shape of a live or spent UTXO.
type OutputRecord struct {
	AssetType          [16]byte `json:"assetType"`
	Amount             uint64   `json:"amount"`
	AmountConfidential bool     `json:"amountConfidential"`
	TypeConfidential   bool     `json:"typeConfidential"`
	Owner              [33]byte `json:"owner"`
	MemoBlob           []byte   `json:"memoBlob,omitempty"`
	Commitment         [32]byte `json:"commitment"`
}

func toRecord(o txn.Output) OutputRecord {
	r := OutputRecord{
		AssetType:          o.AssetType,
		Amount:             o.Amount,
		AmountConfidential: o.AmountConfidential,
		TypeConfidential:   o.TypeConfidential,
		Owner:              o.Owner.Bytes(),
		Commitment:         o.Commitment,
	}
	if o.Memo != nil {
		r.MemoBlob = o.Memo.Blob
	}
	return r
}

func (r OutputRecord) toOutput() txn.Output {
	o := txn.Output{
		AssetType:          r.AssetType,
		Amount:             r.Amount,
		AmountConfidential: r.AmountConfidential,
		TypeConfidential:   r.TypeConfidential,
		Owner:              address.PublicKey(r.Owner),
		Commitment:         r.Commitment,
	}
	if r.MemoBlob != nil {
		o.Memo = &txn.OwnerMemo{Blob: r.MemoBlob}
	}
	return o
}

// SpentRecord is a consumed UTXO, kept forever alongside the id of the
// transaction that consumed it.
type SpentRecord struct {
	Output   OutputRecord `json:"output"`
	SpentBy  sid.TxnSID   `json:"spentBy"`
	SpentSeq uint64       `json:"spentInputSeq"` // position among the txn's own inputs, for diagnostics
}

// AssetRecord is the write-once (except Memo when Updatable) asset registry
// entry, keyed by storage code (raw or domain-prefixed per
// txn.StorageCode).
type AssetRecord struct {
	Code          [16]byte `json:"code"`
	Issuer        [33]byte `json:"issuer"`
	Memo          string   `json:"memo"`
	Updatable     bool     `json:"updatable"`
	MaxUnits      *uint64  `json:"maxUnits,omitempty"`
	TracingPolicy []byte   `json:"tracingPolicy,omitempty"`
	DefineHeight  uint64   `json:"defineHeight"`
}

// ToOutputRecord converts an Output to its on-disk shape, for callers (the
// block pipeline) that need to stage a txlog record without going through
// this package's own Put path.
func ToOutputRecord(o txn.Output) OutputRecord { return toRecord(o) }

// ToAssetRecord converts an AssetDefinition to its on-disk shape, for the
// same reason as ToOutputRecord.
func ToAssetRecord(d txn.AssetDefinition, defineHeight uint64) AssetRecord {
	return toAssetRecord(d, defineHeight)
}

func toAssetRecord(d txn.AssetDefinition, defineHeight uint64) AssetRecord {
	return AssetRecord{
		Code:          d.Code,
		Issuer:        d.Issuer.Bytes(),
		Memo:          d.Memo,
		Updatable:     d.Updatable,
		MaxUnits:      d.MaxUnits,
		TracingPolicy: d.TracingPolicy,
		DefineHeight:  defineHeight,
	}
}

// IssuanceRecord is the monotonic issuance watermark for one asset code:
// the highest sequence number claimed so far and the cumulative units
// issued under it.
type IssuanceRecord struct {
	SeqMax     uint64 `json:"seqMax"`
	UnitsTotal uint64 `json:"unitsTotal"`
}

func codeKey(code [16]byte) []byte {
	return []byte(hex.EncodeToString(code[:]))
}

func sidKey(s sid.TxoSID) []byte {
	return kvstore.PutUint64(uint64(s))
}

func marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
