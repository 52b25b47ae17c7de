package txn

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

var txnHashDomain = []byte("ledgercore/txn-hash/v1")

// CanonicalBody serializes a transaction's operations into a deterministic
// byte string for hashing and signing. It is intentionally simple (length-
// prefixed concatenation in operation order) rather than a general-purpose
// codec: the effect builder only ever needs a stable, order-sensitive
// encoding, not a round-trippable one.
func CanonicalBody(t *Transaction) []byte {
	var buf []byte
	buf = appendUint64(buf, t.SeqID)
	buf = appendUint64(buf, uint64(len(t.Ops)))
	for _, op := range t.Ops {
		buf = append(buf, []byte(op.OpKind())...)
		buf = appendOperation(buf, op)
	}
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendUint64(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendOutput(buf []byte, o Output) []byte {
	buf = append(buf, o.AssetType[:]...)
	buf = appendUint64(buf, o.Amount)
	buf = append(buf, o.Owner.Bytes()...)
	buf = append(buf, o.Commitment[:]...)
	if o.AmountConfidential {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	if o.TypeConfidential {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func appendOperation(buf []byte, op Operation) []byte {
	switch o := op.(type) {
	case DefineAssetOp:
		buf = append(buf, o.Def.Code[:]...)
		buf = append(buf, o.Def.Issuer.Bytes()...)
		buf = appendBytes(buf, []byte(o.Def.Memo))
	case IssueAssetOp:
		buf = append(buf, o.Code[:]...)
		buf = appendUint64(buf, o.SeqNum)
		buf = append(buf, o.Issuer.Bytes()...)
		for _, out := range o.Outputs {
			buf = appendOutput(buf, out)
		}
	case TransferAssetOp:
		for _, in := range o.Inputs {
			if in.Absolute != nil {
				buf = appendUint64(buf, uint64(in.Absolute.Sid))
				buf = append(buf, in.Absolute.Owner.Bytes()...)
				buf = append(buf, in.Absolute.ExpectedCommitment[:]...)
			} else if in.Relative != nil {
				buf = appendUint64(buf, uint64(*in.Relative)|1<<63)
			}
		}
		for _, out := range o.Outputs {
			buf = appendOutput(buf, out)
		}
	case UpdateMemoOp:
		buf = append(buf, o.Code[:]...)
		buf = appendBytes(buf, []byte(o.NewMemo))
		buf = append(buf, o.Signer.Bytes()...)
	case StakingOp:
		buf = append(buf, []byte(o.Kind)...)
		for _, pk := range o.RelatedPubkeys {
			buf = append(buf, pk.Bytes()...)
		}
	case ConvertAccountOp:
		buf = append(buf, o.Related.Bytes()...)
	}
	return buf
}

// Hash computes the domain-separated hash of a transaction's canonical
// body.
func Hash(t *Transaction) [32]byte {
	h, _ := blake2b.New256(txnHashDomain)
	h.Write(CanonicalBody(t))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

var signMessageDomain = []byte("ledgercore/sign-message/v1")

// blake2bSum hashes an arbitrary message under the signing domain, giving
// SignatureVerifier implementations a fixed-size digest to operate on.
func blake2bSum(msg []byte) [32]byte {
	h, _ := blake2b.New256(signMessageDomain)
	h.Write(msg)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HashHex renders a hash in the externally observable uppercase-hex form.
func HashHex(h [32]byte) string {
	return upper(hex.EncodeToString(h[:]))
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
