// Package address derives the display form of an owner/issuer public key:
// a bech32 string, adapted here from a 33-byte compressed secp256k1 key
// rather than a 20-byte short ID.
package address

import (
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// PublicKey is a compressed secp256k1 public key, 33 bytes.
type PublicKey [33]byte

// XfrAddress is the external, human-displayed form of a PublicKey.
type XfrAddress string

const addressHRP = "fra"

// Derive renders pk as its external bech32 address form.
func Derive(pk PublicKey) XfrAddress {
	conv, err := bech32.ConvertBits(pk[:], 8, 5, true)
	if err != nil {
		// ConvertBits only fails on a malformed bit width, never on input
		// data; pk is always exactly 33 bytes, so this is unreachable.
		panic(fmt.Sprintf("address: convert bits: %v", err))
	}
	encoded, err := bech32.Encode(addressHRP, conv)
	if err != nil {
		panic(fmt.Sprintf("address: bech32 encode: %v", err))
	}
	return XfrAddress(encoded)
}

// Bytes returns the raw 33-byte key.
func (pk PublicKey) Bytes() []byte {
	return pk[:]
}

func (pk PublicKey) String() string {
	return string(Derive(pk))
}

// Parse recovers a PublicKey from its external bech32 address form.
func Parse(addr string) (PublicKey, error) {
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return PublicKey{}, fmt.Errorf("address: invalid bech32: %w", err)
	}
	if hrp != addressHRP {
		return PublicKey{}, fmt.Errorf("address: unexpected hrp %q, want %q", hrp, addressHRP)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return PublicKey{}, fmt.Errorf("address: convert bits: %w", err)
	}
	if len(raw) != 33 {
		return PublicKey{}, fmt.Errorf("address: expected 33 bytes, got %d", len(raw))
	}
	var pk PublicKey
	copy(pk[:], raw)
	return pk, nil
}
