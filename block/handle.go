package block

import (
	"github.com/shadowfi-network/ledgercore/address"
	"github.com/shadowfi-network/ledgercore/sid"
	"github.com/shadowfi-network/ledgercore/state"
	"github.com/shadowfi-network/ledgercore/txn"
)

// Handle is the block-scoped scratch overlay: everything a pending block
// has tentatively decided, kept entirely off committed state until
// FinishBlock succeeds. A discarded or lost Handle leaves no trace.
type Handle struct {
	height sid.BlockHeight

	consumed        map[uint64]bool                    // TxoSID tentatively consumed this block
	definedRaw      map[[16]byte][16]byte               // raw code -> storage code, defined this block
	assetDefs       map[[16]byte]txn.AssetDefinition    // storage code -> def, for assets defined this block
	issuance        map[[16]byte]state.IssuanceRecord   // storage code -> overlay issuance watermark
	memoOverride    map[[16]byte]string                 // storage code -> pending memo rewrite
	assetRegistered map[[16]byte]bool                   // storage code -> true if an asset def is pending at that code

	applied []appliedTxn
}

type appliedTxn struct {
	eff       *txn.TxnEffect
	tempID    int
	numOutput int // len(eff.NewOutputs), cached for emission-order accounting

	// resolvedAbsolute holds the committed output behind each of eff's
	// AbsoluteInputs, keyed by TxoSID, resolved once at ApplyTransaction
	// time so FinishBlock never has to look them up again.
	resolvedAbsolute map[uint64]txn.Output
	// mixedAssets holds the asset types of eff.MixedTransfers, resolved
	// against committed state at ApplyTransaction time since the effect
	// builder alone cannot see them (see txn.TxnEffect.MixedTransfers).
	mixedAssets []txn.AssetTypeCode
}

func newHandle(height sid.BlockHeight) *Handle {
	return &Handle{
		height:          height,
		consumed:        make(map[uint64]bool),
		definedRaw:      make(map[[16]byte][16]byte),
		assetDefs:       make(map[[16]byte]txn.AssetDefinition),
		issuance:        make(map[[16]byte]state.IssuanceRecord),
		memoOverride:    make(map[[16]byte]string),
		assetRegistered: make(map[[16]byte]bool),
	}
}

// addressBytes is a small conversion helper kept alongside Handle; its
// caller is pipeline.go, which uses it to build txlog records.
func addressBytes(pk address.PublicKey) [33]byte {
	var out [33]byte
	copy(out[:], pk.Bytes())
	return out
}

// Height returns the height this block will commit at.
func (h *Handle) Height() sid.BlockHeight { return h.height }
