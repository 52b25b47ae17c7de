package txn

import (
	"testing"

	"github.com/shadowfi-network/ledgercore/address"
)

func TestClassifyAddressesCoversEveryOperationKind(t *testing.T) {
	issuer := pk(1)
	owner := pk(2)
	recipient := pk(3)
	staker := pk(4)
	converter := pk(5)
	issuedOutputOwner := pk(6)

	tx := &Transaction{
		Ops: []Operation{
			DefineAssetOp{Def: AssetDefinition{Issuer: issuer}},
			IssueAssetOp{Issuer: issuer, Outputs: []Output{{Owner: issuedOutputOwner}}},
			TransferAssetOp{
				Inputs:  []InputRef{{Absolute: &AbsoluteRef{Owner: owner}}},
				Outputs: []Output{{Owner: recipient}},
			},
			UpdateMemoOp{Signer: issuer},
			StakingOp{RelatedPubkeys: []address.PublicKey{staker}},
			ConvertAccountOp{Related: converter},
		},
	}

	got := ClassifyAddresses(tx)
	want := map[address.PublicKey]bool{
		issuer: true, owner: true, recipient: true, staker: true, converter: true,
	}
	if len(got) < len(want) {
		t.Fatalf("ClassifyAddresses = %v, missing expected addresses", got)
	}
	for _, addr := range got {
		delete(want, addr)
	}
	if len(want) != 0 {
		t.Errorf("ClassifyAddresses missed: %v", want)
	}
	for _, addr := range got {
		if addr == issuedOutputOwner {
			t.Errorf("ClassifyAddresses must not include an IssueAsset output's owner, only the issuer: got %v", got)
		}
	}
}

func TestClassifyTransferredAssetsSkipsConfidentialAndUnresolved(t *testing.T) {
	code := AssetTypeCode{7}
	tx := &Transaction{
		Ops: []Operation{
			TransferAssetOp{
				Confidential: true,
				Inputs:       []InputRef{{Absolute: &AbsoluteRef{Sid: 1}}},
			},
			TransferAssetOp{
				Inputs: []InputRef{{Absolute: &AbsoluteRef{Sid: 2}}},
			},
		},
	}

	resolve := func(ref AbsoluteRef) (AssetTypeCode, bool) {
		if ref.Sid == 2 {
			return code, true
		}
		return AssetTypeCode{}, false
	}

	got := ClassifyTransferredAssets(tx, resolve)
	if len(got) != 1 || got[0] != code {
		t.Errorf("ClassifyTransferredAssets = %v, want [%v]", got, code)
	}
}

func TestClassifyTransferredAssetsDedupesWithinOneTransfer(t *testing.T) {
	code := AssetTypeCode{9}
	tx := &Transaction{
		Ops: []Operation{
			TransferAssetOp{
				Inputs: []InputRef{
					{Absolute: &AbsoluteRef{Sid: 1}},
					{Absolute: &AbsoluteRef{Sid: 2}},
				},
			},
		},
	}
	resolve := func(AbsoluteRef) (AssetTypeCode, bool) { return code, true }

	got := ClassifyTransferredAssets(tx, resolve)
	if len(got) != 1 {
		t.Errorf("ClassifyTransferredAssets = %v, want exactly one deduped entry", got)
	}
}
