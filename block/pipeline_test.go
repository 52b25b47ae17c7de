package block

import (
	"testing"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"

	"github.com/shadowfi-network/ledgercore/address"
	"github.com/shadowfi-network/ledgercore/config"
	"github.com/shadowfi-network/ledgercore/sid"
	"github.com/shadowfi-network/ledgercore/state"
	"github.com/shadowfi-network/ledgercore/txlog"
	"github.com/shadowfi-network/ledgercore/txn"
)

func openTestDB(t *testing.T) *pebble.DB {
	t.Helper()
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("pebble.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestPipeline(t *testing.T) (*Pipeline, *state.State, *txlog.Log) {
	t.Helper()
	db := openTestDB(t)
	cfg := config.Config{CachePrefix: "t:"}
	st := state.New(db, "t:")
	txl := txlog.New(db, "t:")
	pl, err := NewPipeline(db, cfg, st, txl, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return pl, st, txl
}

func issuanceEffect(code txn.AssetTypeCode, issuer address.PublicKey, owner address.PublicKey, amount uint64, hashHex string) *txn.TxnEffect {
	return &txn.TxnEffect{
		NewOutputs: []txn.Output{{AssetType: code, Amount: amount, Owner: owner}},
		AssetDefs:  []txn.AssetDefinition{{Code: code, Issuer: issuer, Updatable: true}},
		IssuanceSeqMax: map[txn.AssetTypeCode]uint64{code: 1},
		IssuedUnits:    map[txn.AssetTypeCode]uint64{code: amount},
		IssuedOutputs:  []txn.IssuedOutputRef{{Index: 0, Code: code, Issuer: issuer}},
		HashHex:        hashHex,
	}
}

func TestStartBlockRejectsSecondOpenBlock(t *testing.T) {
	pl, _, _ := newTestPipeline(t)
	if _, err := pl.StartBlock(); err != nil {
		t.Fatalf("first StartBlock: %v", err)
	}
	if _, err := pl.StartBlock(); err == nil {
		t.Fatal("expected second StartBlock to fail while a block is open")
	}
}

func TestDiscardBlockDropsChangesWithoutBurningHeight(t *testing.T) {
	pl, _, _ := newTestPipeline(t)

	h1, err := pl.StartBlock()
	if err != nil {
		t.Fatalf("StartBlock: %v", err)
	}
	if err := pl.DiscardBlock(h1); err != nil {
		t.Fatalf("DiscardBlock: %v", err)
	}

	h2, err := pl.StartBlock()
	if err != nil {
		t.Fatalf("StartBlock after discard: %v", err)
	}
	if h2.Height() != sid.BlockHeight(0) {
		t.Errorf("height after discarding an uncommitted block = %d, want 0 (no height burned)", h2.Height())
	}
}

func TestFinishBlockCommitsAndAllocatesSerialIds(t *testing.T) {
	pl, st, txl := newTestPipeline(t)
	issuer := address.PublicKey{1}
	owner := address.PublicKey{2}
	code := txn.AssetTypeCode{9}

	h, err := pl.StartBlock()
	if err != nil {
		t.Fatalf("StartBlock: %v", err)
	}
	eff := issuanceEffect(code, issuer, owner, 1000, "feed")
	tempID, err := pl.ApplyTransaction(h, eff)
	if err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}

	results, err := pl.FinishBlock(h)
	if err != nil {
		t.Fatalf("FinishBlock: %v", err)
	}
	res, ok := results[tempID]
	if !ok {
		t.Fatal("FinishBlock result missing for applied transaction")
	}
	if res.TxnSid != 0 {
		t.Errorf("TxnSid = %d, want 0", res.TxnSid)
	}
	if len(res.TxoSids) != 1 || res.TxoSids[0] != 0 {
		t.Errorf("TxoSids = %v, want [0]", res.TxoSids)
	}

	out, ok, err := st.LiveOutput(sid.TxoSID(0))
	if err != nil || !ok {
		t.Fatalf("LiveOutput: ok=%v err=%v", ok, err)
	}
	if out.Amount != 1000 || out.Owner != owner {
		t.Errorf("LiveOutput = %+v, want amount 1000 owned by %x", out, owner)
	}

	storageCode := txn.StorageCode(code, [16]byte{}, 0, 0)
	rec, ok, err := st.Asset(storageCode)
	if err != nil || !ok {
		t.Fatalf("Asset: ok=%v err=%v", ok, err)
	}
	if address.PublicKey(rec.Issuer) != issuer {
		t.Errorf("Asset.Issuer = %x, want %x", rec.Issuer, issuer.Bytes())
	}

	txnRec, ok, err := txl.GetTxn(res.TxnSid)
	if err != nil || !ok {
		t.Fatalf("GetTxn: ok=%v err=%v", ok, err)
	}
	if txnRec.HashHex != "feed" {
		t.Errorf("GetTxn.HashHex = %q, want %q", txnRec.HashHex, "feed")
	}
}

func TestApplyTransactionRejectsDoubleSpendInSameBlock(t *testing.T) {
	pl, st, _ := newTestPipeline(t)
	owner := address.PublicKey{3}
	out := txn.Output{AssetType: txn.AssetTypeCode{1}, Amount: 50, Owner: owner, Commitment: [32]byte{0xCC}}

	pb := st.NewBatch()
	if err := st.PutOutput(pb, sid.TxoSID(0), out); err != nil {
		t.Fatalf("PutOutput: %v", err)
	}
	if err := pb.Commit(pebble.NoSync); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	h, err := pl.StartBlock()
	if err != nil {
		t.Fatalf("StartBlock: %v", err)
	}

	ref := txn.AbsoluteRef{Sid: sid.TxoSID(0), Owner: owner, ExpectedCommitment: out.Commitment}
	eff1 := &txn.TxnEffect{AbsoluteInputs: []txn.AbsoluteRef{ref}, HashHex: "a"}
	if _, err := pl.ApplyTransaction(h, eff1); err != nil {
		t.Fatalf("first ApplyTransaction: %v", err)
	}

	eff2 := &txn.TxnEffect{AbsoluteInputs: []txn.AbsoluteRef{ref}, HashHex: "b"}
	if _, err := pl.ApplyTransaction(h, eff2); err == nil {
		t.Fatal("expected second spend of the same absolute input within one block to fail")
	}
}

func TestApplyTransactionRejectsCommitmentMismatch(t *testing.T) {
	pl, st, _ := newTestPipeline(t)
	owner := address.PublicKey{4}
	out := txn.Output{AssetType: txn.AssetTypeCode{1}, Amount: 10, Owner: owner, Commitment: [32]byte{0x01}}

	pb := st.NewBatch()
	if err := st.PutOutput(pb, sid.TxoSID(0), out); err != nil {
		t.Fatalf("PutOutput: %v", err)
	}
	if err := pb.Commit(pebble.NoSync); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	h, err := pl.StartBlock()
	if err != nil {
		t.Fatalf("StartBlock: %v", err)
	}
	ref := txn.AbsoluteRef{Sid: sid.TxoSID(0), Owner: owner, ExpectedCommitment: [32]byte{0x02}}
	eff := &txn.TxnEffect{AbsoluteInputs: []txn.AbsoluteRef{ref}}
	if _, err := pl.ApplyTransaction(h, eff); err == nil {
		t.Fatal("expected a mismatched commitment to be rejected")
	}
}

func TestValidateMixedTransferAllowsSingleDebtSwapDeficit(t *testing.T) {
	assetA := txn.AssetTypeCode{1}
	assetB := txn.AssetTypeCode{2}
	idx0, idx1 := 0, 1

	mt := txn.MixedTransfer{
		Kind: txn.TransferDebtSwap,
		Inputs: []txn.InputRef{
			{Relative: &idx0},
			{Relative: &idx1},
		},
		Outputs: []txn.Output{
			{AssetType: assetB, Amount: 10},
		},
	}
	newOutputs := []txn.Output{{AssetType: assetA, Amount: 100}, {AssetType: assetB, Amount: 10}}

	touched, err := validateMixedTransfer(mt, newOutputs, nil)
	if err != nil {
		t.Fatalf("validateMixedTransfer: %v", err)
	}
	if len(touched) != 2 {
		t.Errorf("touched assets = %v, want 2 entries", touched)
	}
}

func TestValidateMixedTransferRejectsMultipleDebtSwapDeficits(t *testing.T) {
	assetA := txn.AssetTypeCode{1}
	assetB := txn.AssetTypeCode{2}
	idx0, idx1 := 0, 1

	mt := txn.MixedTransfer{
		Kind: txn.TransferDebtSwap,
		Inputs: []txn.InputRef{
			{Relative: &idx0},
			{Relative: &idx1},
		},
		Outputs: nil,
	}
	newOutputs := []txn.Output{
		{AssetType: assetA, Amount: 100},
		{AssetType: assetB, Amount: 50},
	}

	if _, err := validateMixedTransfer(mt, newOutputs, nil); err == nil {
		t.Fatal("expected a debt-swap deficit on more than one asset type to be rejected")
	}
}

func TestValidateMixedTransferRejectsUnbalancedStandardTransfer(t *testing.T) {
	assetA := txn.AssetTypeCode{1}
	idx0 := 0

	mt := txn.MixedTransfer{
		Kind:    txn.TransferStandard,
		Inputs:  []txn.InputRef{{Relative: &idx0}},
		Outputs: []txn.Output{{AssetType: assetA, Amount: 40}},
	}
	newOutputs := []txn.Output{{AssetType: assetA, Amount: 100}}

	if _, err := validateMixedTransfer(mt, newOutputs, nil); err == nil {
		t.Fatal("expected an unbalanced standard transfer to be rejected")
	}
}
