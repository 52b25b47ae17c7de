package txn

import "github.com/shadowfi-network/ledgercore/address"

// ClassifyAddresses returns every address a committed transaction's
// operations name, per operation kind, for the API cache's address index.
// Order is operation order; duplicates are possible and are left to the
// caller to dedupe against whatever index it is populating.
func ClassifyAddresses(t *Transaction) []address.PublicKey {
	var out []address.PublicKey
	for _, op := range t.Ops {
		switch o := op.(type) {
		case DefineAssetOp:
			out = append(out, o.Def.Issuer)
		case IssueAssetOp:
			out = append(out, o.Issuer)
		case TransferAssetOp:
			for _, in := range o.Inputs {
				if in.Absolute != nil {
					out = append(out, in.Absolute.Owner)
				}
			}
			for _, o2 := range o.Outputs {
				out = append(out, o2.Owner)
			}
		case UpdateMemoOp:
			out = append(out, o.Signer)
		case StakingOp:
			out = append(out, o.RelatedPubkeys...)
		case ConvertAccountOp:
			out = append(out, o.Related)
		}
	}
	return out
}

// ClassifyTransferredAssets returns the asset codes moved by a committed
// transaction's non-confidential transfers. Per the resolved reading of the
// operation, this enumerates the asset types named by each transfer's
// *inputs* only, and of those only the absolute inputs: an absolute input's
// asset type is resolved by the caller, through resolveAbsolute, against
// the committed record it claims to spend. Relative inputs are not resolved
// here and contribute nothing, and neither does an absolute input that
// resolveAbsolute reports as unknown. Confidential transfers contribute
// nothing, since their asset types are never observed here.
func ClassifyTransferredAssets(t *Transaction, resolveAbsolute func(AbsoluteRef) (AssetTypeCode, bool)) []AssetTypeCode {
	var out []AssetTypeCode
	for _, op := range t.Ops {
		o, ok := op.(TransferAssetOp)
		if !ok || o.Confidential {
			continue
		}
		seen := make(map[AssetTypeCode]bool)
		for _, in := range o.Inputs {
			var code AssetTypeCode
			var known bool
			if in.Absolute != nil {
				code, known = resolveAbsolute(*in.Absolute)
			}
			// Relative inputs resolve to an earlier output of this same
			// transaction; the effect builder has already validated that
			// reference, so by the time this runs against a committed
			// transaction its asset type is available from the
			// transaction's own recorded outputs. Callers operating purely
			// from the wire transaction (rather than its TxnEffect) should
			// resolve relative asset types themselves before calling this;
			// leaving it unresolved here simply omits it from the result.
			if !known {
				continue
			}
			if seen[code] {
				continue
			}
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}
