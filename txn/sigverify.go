package txn

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/shadowfi-network/ledgercore/address"
)

// SignatureVerifier checks an owner/issuer signature over a message. The
// effect builder is parametric over this interface
// (closed over at construction) rather than calling a package-level
// function, so tests can swap in a deterministic stub without touching the
// validation code paths. This is NOT the confidential-proof verifier: it
// only ever checks plain signature possession.
type SignatureVerifier interface {
	Verify(pubkey address.PublicKey, msg []byte, sig Signature) bool
}

// Secp256k1Verifier verifies detached ECDSA signatures over secp256k1.
type Secp256k1Verifier struct{}

func (Secp256k1Verifier) Verify(pubkey address.PublicKey, msg []byte, sig Signature) bool {
	pk, err := secp256k1.ParsePubKey(pubkey.Bytes())
	if err != nil {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	sum := blake2bSum(msg)
	return parsed.Verify(sum[:], pk)
}
