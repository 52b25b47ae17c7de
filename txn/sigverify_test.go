package txn

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/shadowfi-network/ledgercore/address"
)

func TestSecp256k1VerifierAcceptsValidSignature(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	var pubkey address.PublicKey
	copy(pubkey[:], priv.PubKey().SerializeCompressed())

	msg := []byte("transfer 10 units")
	sum := blake2bSum(msg)
	sig := ecdsa.Sign(priv, sum[:])

	v := Secp256k1Verifier{}
	if !v.Verify(pubkey, msg, Signature(sig.Serialize())) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestSecp256k1VerifierRejectsTamperedMessage(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	var pubkey address.PublicKey
	copy(pubkey[:], priv.PubKey().SerializeCompressed())

	sum := blake2bSum([]byte("original message"))
	sig := ecdsa.Sign(priv, sum[:])

	v := Secp256k1Verifier{}
	if v.Verify(pubkey, []byte("tampered message"), Signature(sig.Serialize())) {
		t.Fatal("expected signature over a different message to be rejected")
	}
}

func TestSecp256k1VerifierRejectsWrongSigner(t *testing.T) {
	signer, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	impostor, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	var impostorKey address.PublicKey
	copy(impostorKey[:], impostor.PubKey().SerializeCompressed())

	msg := []byte("pay the impostor")
	sum := blake2bSum(msg)
	sig := ecdsa.Sign(signer, sum[:])

	v := Secp256k1Verifier{}
	if v.Verify(impostorKey, msg, Signature(sig.Serialize())) {
		t.Fatal("expected signature to be rejected against the wrong public key")
	}
}

func TestSecp256k1VerifierRejectsMalformedSignature(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	var pubkey address.PublicKey
	copy(pubkey[:], priv.PubKey().SerializeCompressed())

	v := Secp256k1Verifier{}
	if v.Verify(pubkey, []byte("msg"), Signature([]byte("not-a-signature"))) {
		t.Fatal("expected malformed signature bytes to be rejected")
	}
}
