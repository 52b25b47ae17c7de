// Package txn implements the effect builder: a pure function from a signed
// transaction to a TxnEffect, plus the operation classifier used by the read
// side to enumerate addresses and asset codes touched by a committed
// transaction.
package txn

import (
	"github.com/shadowfi-network/ledgercore/address"
	"github.com/shadowfi-network/ledgercore/sid"
)

// AssetTypeCode is a 16-byte opaque tag. See asset_code.go for the
// raw/prefixed distinction.
type AssetTypeCode [16]byte

// Signature is a detached signature over a transaction's canonical body.
type Signature []byte

// TransferType distinguishes a plain balanced transfer from a debt-swap.
type TransferType int

const (
	TransferStandard TransferType = iota
	TransferDebtSwap
)

// OwnerMemo is the opaque blob accompanying a confidential output, required
// to decrypt it off-ledger. Its content is never interpreted by the ledger.
type OwnerMemo struct {
	Blob []byte
}

// Output is a single transaction output. Amount and/or AssetType may be
// confidential; when so, the effect builder never inspects their plaintext
// value and relies entirely on the confidential verifier.
type Output struct {
	AssetType          AssetTypeCode
	Amount             uint64
	AmountConfidential bool
	TypeConfidential   bool
	Owner              address.PublicKey
	Memo               *OwnerMemo
	// Commitment is a black-box binding of the (possibly confidential)
	// amount/type/owner, used to match an absolute input against the
	// output it claims to spend without the effect builder peeking inside.
	Commitment [32]byte
}

// InputRef is a transfer input: either an absolute reference to a
// previously-committed output, or a relative reference to an output
// produced earlier within the same transaction.
type InputRef struct {
	Absolute *AbsoluteRef
	Relative *int // index into this transaction's own emitted outputs
}

// AbsoluteRef names a committed output and the commitment the spender
// claims it carries, so a stale or forged reference fails without needing
// to decrypt anything.
type AbsoluteRef struct {
	Sid sid.TxoSID
	// Owner is the pubkey the spender claims controls the referenced
	// output. The effect builder verifies the input signature against it
	// and treats it as the required signer; the block pipeline separately
	// confirms both ExpectedCommitment and Owner against the actual
	// committed record, so a false claim here fails when the transaction is
	// applied even though the effect builder alone cannot detect it.
	Owner              address.PublicKey
	ExpectedCommitment [32]byte
}

// AssetDefinition is the write-once (except memo) record introduced by a
// DefineAsset operation.
type AssetDefinition struct {
	Code          AssetTypeCode
	Issuer        address.PublicKey
	Memo          string
	Updatable     bool
	MaxUnits      *uint64 // nil means uncapped
	TracingPolicy []byte  // opaque handle; never interpreted here
}

// MemoUpdate is a pending rewrite of an asset's memo, requiring the asset to
// be updatable and the signer to be its original issuer.
type MemoUpdate struct {
	Code      AssetTypeCode
	NewMemo   string
	Signer    address.PublicKey
	Signature Signature
}

// Operation is one entry in a transaction body. Every concrete operation
// type below implements it.
type Operation interface {
	OpKind() string
}

type DefineAssetOp struct {
	Def       AssetDefinition
	Signature Signature
}

func (DefineAssetOp) OpKind() string { return "DefineAsset" }

type IssueAssetOp struct {
	Code      AssetTypeCode
	SeqNum    uint64
	Issuer    address.PublicKey
	Outputs   []Output
	Signature Signature
}

func (IssueAssetOp) OpKind() string { return "IssueAsset" }

type TransferAssetOp struct {
	Inputs       []InputRef
	Outputs      []Output
	TransferType TransferType
	Confidential bool
	// Signatures holds one signature per input, indexed positionally.
	Signatures []Signature
}

func (TransferAssetOp) OpKind() string { return "TransferAsset" }

type UpdateMemoOp struct {
	Code      AssetTypeCode
	NewMemo   string
	Signer    address.PublicKey
	Signature Signature
}

func (UpdateMemoOp) OpKind() string { return "UpdateMemo" }

// StakingOp covers the staking-family operations: delegate, undelegate,
// claim, update-validator, governance, fra-distribution, mint-fra,
// replace-staker, update-staker (convert-account is its own
// ConvertAccountOp). They share a shape: a
// declared set of related pubkeys that
// must co-sign, and a kind tag distinguishing their semantics for the
// classifier and for coinbase-history bookkeeping.
type StakingKind string

const (
	StakingDelegate        StakingKind = "Delegate"
	StakingUndelegate      StakingKind = "Undelegate"
	StakingClaim           StakingKind = "Claim"
	StakingUpdateValidator StakingKind = "UpdateValidator"
	StakingGovernance      StakingKind = "Governance"
	StakingFraDistribution StakingKind = "FraDistribution"
	StakingMintFra         StakingKind = "MintFra"
	StakingReplaceStaker   StakingKind = "ReplaceStaker"
	StakingUpdateStaker    StakingKind = "UpdateStaker"
)

type StakingOp struct {
	Kind           StakingKind
	RelatedPubkeys []address.PublicKey
	Signatures     []Signature
	MintCode       AssetTypeCode // used by MintFra/FraDistribution
	MintOutputs    []Output      // used by MintFra/FraDistribution
	MintHeight     uint64        // block height the mint/distribution targets, for coinbase history
}

func (StakingOp) OpKind() string { return "Staking" }

// ConvertAccountOp converts a UTXO-model balance to/from an account-model
// representation. It has exactly one related address.
type ConvertAccountOp struct {
	Related   address.PublicKey
	Signature Signature
}

func (ConvertAccountOp) OpKind() string { return "ConvertAccount" }

// Transaction is the signed input to the effect builder: an ordered
// sequence of operations plus a sequence id that echoes a recent
// block-commit count, used as an anti-replay fence.
type Transaction struct {
	Ops   []Operation
	SeqID uint64
}
