package txn

import (
	"encoding/hex"
	"math"

	"github.com/shadowfi-network/ledgercore/address"
	"github.com/shadowfi-network/ledgercore/ledgererr"
)

// TxnEffect is the pure, validated, to-be-applied view of a transaction:
// every proposed mutation it requires, with no shared state touched yet.
type TxnEffect struct {
	AbsoluteInputs   []AbsoluteRef
	RelativeConsumed []int // indices into NewOutputs consumed by a later op in this same transaction
	NewOutputs       []Output
	AssetDefs        []AssetDefinition
	IssuanceSeqMax   map[AssetTypeCode]uint64 // highest seqnum claimed per code in this txn
	IssuedUnits      map[AssetTypeCode]uint64 // total units claimed issued per code in this txn
	MemoUpdates      []MemoUpdate
	RequiredSigners  []address.PublicKey
	// IssuedOutputs and MintOutputs record provenance of entries in
	// NewOutputs: which index came from an IssueAsset op (for
	// issuances/token_code_issuances) versus a staking mint (for
	// coinbase_oper_hist). Transfer outputs appear in NewOutputs but in
	// neither list.
	IssuedOutputs []IssuedOutputRef
	MintOutputs   []MintOutputRef
	// MixedTransfers holds every non-confidential transfer that mixes an
	// absolute input with anything else (or is entirely absolute-input):
	// its balance cannot be checked without resolving the absolute
	// input's real amount and type against committed state, so
	// block.Pipeline.ApplyTransaction re-validates these directly; the
	// effect builder only validates purely relative-input transfers
	// itself (see checkBalance).
	MixedTransfers []MixedTransfer
	// RelatedAddresses is the operation classifier's address set, computed
	// directly during the same walk since apply_transaction never receives
	// the original Transaction, only its TxnEffect.
	RelatedAddresses []address.PublicKey
	// LocalTransferredAssets holds the non-confidential asset codes this
	// transaction's transfers touch that are knowable without consulting
	// committed state: the asset types of relative-consumed inputs. A
	// transfer with an absolute input contributes its asset type only once
	// block.Pipeline resolves that input against the UTXO store.
	LocalTransferredAssets []AssetTypeCode
	Body                   []byte
	Hash                   [32]byte
	HashHex                string
	SeqID                  uint64
}

// IssuedOutputRef attributes one NewOutputs entry to the IssueAsset
// operation that produced it.
type IssuedOutputRef struct {
	Index  int
	Code   AssetTypeCode
	Issuer address.PublicKey
}

// MintOutputRef attributes one NewOutputs entry to a MintFra/
// FraDistribution staking operation.
type MintOutputRef struct {
	Index   int
	Address address.PublicKey
	Height  uint64
	Code    AssetTypeCode
}

// MixedTransfer is a non-confidential transfer operation carried verbatim
// for the block pipeline to re-validate once committed state is available.
type MixedTransfer struct {
	OpIndex int
	Kind    TransferType
	Inputs  []InputRef
	Outputs []Output
}

// EffectBuilder computes TxnEffect values. It is parametric over a
// signature verifier and a confidential-proof verifier, both closed over at
// construction so the hot validation path never performs dynamic dispatch
// through a registry or global.
type EffectBuilder struct {
	sig  SignatureVerifier
	conf ConfidentialVerifier
}

// NewEffectBuilder constructs an EffectBuilder closed over the given
// verifiers.
func NewEffectBuilder(sig SignatureVerifier, conf ConfidentialVerifier) *EffectBuilder {
	return &EffectBuilder{sig: sig, conf: conf}
}

type signerSet struct {
	order []address.PublicKey
	seen  map[string]bool
}

func newSignerSet() *signerSet {
	return &signerSet{seen: make(map[string]bool)}
}

func (s *signerSet) add(pk address.PublicKey) {
	key := hex.EncodeToString(pk.Bytes())
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.order = append(s.order, pk)
}

// ComputeEffect is the pure function from a signed transaction to its
// effect. It never mutates shared state and is referentially transparent:
// calling it twice on the same transaction yields the same result.
func (b *EffectBuilder) ComputeEffect(t *Transaction) (*TxnEffect, error) {
	body := CanonicalBody(t)
	hash := Hash(t)

	eff := &TxnEffect{
		IssuanceSeqMax: make(map[AssetTypeCode]uint64),
		IssuedUnits:    make(map[AssetTypeCode]uint64),
		Body:           body,
		Hash:           hash,
		HashHex:        HashHex(hash),
		SeqID:          t.SeqID,
	}

	signers := newSignerSet()
	related := newSignerSet()
	transferredAssets := make(map[AssetTypeCode]bool)
	definedInTxn := make(map[AssetTypeCode]bool)
	claimedSeq := make(map[AssetTypeCode]map[uint64]bool)

	for i, op := range t.Ops {
		switch o := op.(type) {
		case DefineAssetOp:
			if definedInTxn[o.Def.Code] {
				return nil, ledgererr.At(ledgererr.InvalidTransaction, i, "asset code defined twice in one transaction")
			}
			definedInTxn[o.Def.Code] = true
			if !b.sig.Verify(o.Def.Issuer, body, o.Signature) {
				return nil, ledgererr.At(ledgererr.InvalidTransaction, i, "invalid issuer signature on DefineAsset")
			}
			signers.add(o.Def.Issuer)
			related.add(o.Def.Issuer)
			eff.AssetDefs = append(eff.AssetDefs, o.Def)

		case IssueAssetOp:
			if claimedSeq[o.Code] == nil {
				claimedSeq[o.Code] = make(map[uint64]bool)
			}
			if claimedSeq[o.Code][o.SeqNum] {
				return nil, ledgererr.At(ledgererr.InvalidTransaction, i, "duplicate issuance sequence number in one transaction")
			}
			claimedSeq[o.Code][o.SeqNum] = true

			if !b.sig.Verify(o.Issuer, body, o.Signature) {
				return nil, ledgererr.At(ledgererr.InvalidTransaction, i, "invalid issuer signature on IssueAsset")
			}
			signers.add(o.Issuer)
			related.add(o.Issuer)

			total := eff.IssuedUnits[o.Code]
			for _, out := range o.Outputs {
				var err error
				total, err = safeAdd(total, out.Amount)
				if err != nil {
					return nil, ledgererr.At(ledgererr.InvalidTransaction, i, "issuance amount overflow")
				}
			}
			eff.IssuedUnits[o.Code] = total

			if o.SeqNum > eff.IssuanceSeqMax[o.Code] {
				eff.IssuanceSeqMax[o.Code] = o.SeqNum
			}
			base := len(eff.NewOutputs)
			for j := range o.Outputs {
				eff.IssuedOutputs = append(eff.IssuedOutputs, IssuedOutputRef{
					Index: base + j, Code: o.Code, Issuer: o.Issuer,
				})
			}
			eff.NewOutputs = append(eff.NewOutputs, o.Outputs...)

		case TransferAssetOp:
			if len(o.Signatures) != len(o.Inputs) {
				return nil, ledgererr.At(ledgererr.InvalidTransaction, i, "input/signature count mismatch")
			}
			for j, in := range o.Inputs {
				owner, err := b.resolveInputOwner(eff, in, i)
				if err != nil {
					return nil, err
				}
				if !b.sig.Verify(owner, body, o.Signatures[j]) {
					return nil, ledgererr.At(ledgererr.InvalidTransaction, i, "invalid owner signature on transfer input")
				}
				signers.add(owner)
				related.add(owner)
				if in.Absolute != nil {
					eff.AbsoluteInputs = append(eff.AbsoluteInputs, *in.Absolute)
				} else {
					idx := *in.Relative
					eff.RelativeConsumed = append(eff.RelativeConsumed, idx)
					if !o.Confidential && idx >= 0 && idx < len(eff.NewOutputs) {
						src := eff.NewOutputs[idx]
						if !src.TypeConfidential {
							transferredAssets[src.AssetType] = true
						}
					}
				}
			}
			for _, out := range o.Outputs {
				related.add(out.Owner)
			}

			if o.Confidential {
				if err := b.conf.VerifyTransfer(&o); err != nil {
					return nil, ledgererr.Wrap(ledgererr.InvalidTransaction, i, "confidential proof rejected", err)
				}
			} else if !hasAbsoluteInput(o.Inputs) {
				// Purely relative-input transfers balance entirely within
				// this transaction's own outputs, so the effect builder can
				// reject an unbalanced one without consulting committed
				// state. A transfer with any absolute input needs the real
				// committed amount/type behind that input, which only the
				// block pipeline can resolve; block.Pipeline.ApplyTransaction
				// performs the authoritative balance check for those.
				if err := checkBalance(o.TransferType, eff, &o, i); err != nil {
					return nil, err
				}
			} else {
				eff.MixedTransfers = append(eff.MixedTransfers, MixedTransfer{
					OpIndex: i, Kind: o.TransferType, Inputs: o.Inputs, Outputs: o.Outputs,
				})
			}

			eff.NewOutputs = append(eff.NewOutputs, o.Outputs...)

		case UpdateMemoOp:
			if !b.sig.Verify(o.Signer, body, o.Signature) {
				return nil, ledgererr.At(ledgererr.InvalidTransaction, i, "invalid signer signature on UpdateMemo")
			}
			signers.add(o.Signer)
			related.add(o.Signer)
			eff.MemoUpdates = append(eff.MemoUpdates, MemoUpdate{
				Code: o.Code, NewMemo: o.NewMemo, Signer: o.Signer, Signature: o.Signature,
			})

		case StakingOp:
			if len(o.Signatures) != len(o.RelatedPubkeys) {
				return nil, ledgererr.At(ledgererr.InvalidTransaction, i, "related pubkey/signature count mismatch")
			}
			for j, pk := range o.RelatedPubkeys {
				if !b.sig.Verify(pk, body, o.Signatures[j]) {
					return nil, ledgererr.At(ledgererr.InvalidTransaction, i, "invalid co-signer signature on staking op")
				}
				signers.add(pk)
				related.add(pk)
			}
			if o.Kind == StakingMintFra || o.Kind == StakingFraDistribution {
				base := len(eff.NewOutputs)
				for j, mo := range o.MintOutputs {
					eff.MintOutputs = append(eff.MintOutputs, MintOutputRef{
						Index: base + j, Address: mo.Owner, Height: o.MintHeight, Code: o.MintCode,
					})
				}
				eff.NewOutputs = append(eff.NewOutputs, o.MintOutputs...)
			}

		case ConvertAccountOp:
			if !b.sig.Verify(o.Related, body, o.Signature) {
				return nil, ledgererr.At(ledgererr.InvalidTransaction, i, "invalid signature on ConvertAccount")
			}
			signers.add(o.Related)
			related.add(o.Related)

		default:
			return nil, ledgererr.At(ledgererr.InvalidTransaction, i, "unknown operation kind")
		}
	}

	eff.RequiredSigners = signers.order
	eff.RelatedAddresses = related.order
	for code := range transferredAssets {
		eff.LocalTransferredAssets = append(eff.LocalTransferredAssets, code)
	}
	return eff, nil
}

// resolveInputOwner returns the pubkey a transfer input claims to be owned
// by: the asserted owner of an absolute reference, or the owner of the
// earlier-in-transaction output a relative reference names.
func (b *EffectBuilder) resolveInputOwner(eff *TxnEffect, in InputRef, opIndex int) (address.PublicKey, error) {
	if in.Absolute != nil {
		return in.Absolute.Owner, nil
	}
	if in.Relative == nil {
		return address.PublicKey{}, ledgererr.At(ledgererr.InvalidTransaction, opIndex, "input has neither absolute nor relative reference")
	}
	idx := *in.Relative
	if idx < 0 || idx >= len(eff.NewOutputs) {
		return address.PublicKey{}, ledgererr.At(ledgererr.InvalidTransaction, opIndex, "relative input does not reference an earlier output in this transaction")
	}
	return eff.NewOutputs[idx].Owner, nil
}

func hasAbsoluteInput(inputs []InputRef) bool {
	for _, in := range inputs {
		if in.Absolute != nil {
			return true
		}
	}
	return false
}

func safeAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, errOverflow
	}
	return a + b, nil
}

var errOverflow = &overflowError{}

type overflowError struct{}

func (*overflowError) Error() string { return "arithmetic overflow" }

// checkBalance enforces that a purely relative-input, non-confidential
// transfer's inputs and outputs balance per asset type. Standard transfers
// must balance exactly for every asset type touched. DebtSwap allows at
// most one asset type to show a net deficit (inputs > outputs),
// representing debt units extinguished against the burn address; every
// other asset type touched must balance exactly. Only called when every
// input is relative; a
// transfer with any absolute input defers its balance check to
// block.Pipeline.ApplyTransaction, which alone can resolve that input's
// real amount and type.
func checkBalance(kind TransferType, eff *TxnEffect, op *TransferAssetOp, opIndex int) error {
	inTotals := make(map[AssetTypeCode]uint64)
	outTotals := make(map[AssetTypeCode]uint64)

	for _, in := range op.Inputs {
		idx := *in.Relative
		if idx < 0 || idx >= len(eff.NewOutputs) {
			return ledgererr.At(ledgererr.InvalidTransaction, opIndex, "relative input index out of range")
		}
		src := eff.NewOutputs[idx]
		if src.AmountConfidential || src.TypeConfidential {
			return ledgererr.At(ledgererr.InvalidTransaction, opIndex, "non-confidential transfer cannot consume a confidential output")
		}
		var err error
		inTotals[src.AssetType], err = safeAdd(inTotals[src.AssetType], src.Amount)
		if err != nil {
			return ledgererr.At(ledgererr.InvalidTransaction, opIndex, "input amount overflow")
		}
	}

	for _, out := range op.Outputs {
		if out.AmountConfidential || out.TypeConfidential {
			return ledgererr.At(ledgererr.InvalidTransaction, opIndex, "non-confidential transfer cannot produce a confidential output")
		}
		var err error
		outTotals[out.AssetType], err = safeAdd(outTotals[out.AssetType], out.Amount)
		if err != nil {
			return ledgererr.At(ledgererr.InvalidTransaction, opIndex, "output amount overflow")
		}
	}

	deficits := 0
	for assetType, in := range inTotals {
		out := outTotals[assetType]
		if in == out {
			continue
		}
		if kind == TransferDebtSwap && in > out {
			deficits++
			continue
		}
		return ledgererr.At(ledgererr.InvalidTransaction, opIndex, "unbalanced transfer")
	}
	for assetType, out := range outTotals {
		if _, seen := inTotals[assetType]; !seen && out != 0 {
			return ledgererr.At(ledgererr.InvalidTransaction, opIndex, "output asset type has no matching input")
		}
	}
	if kind == TransferDebtSwap && deficits > 1 {
		return ledgererr.At(ledgererr.InvalidTransaction, opIndex, "debt-swap may burn at most one asset type")
	}
	return nil
}
