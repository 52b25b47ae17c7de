package txn

import "golang.org/x/crypto/blake2b"

// assetCodePrefixDomain separates prefixed-code hashing from every other use
// of blake2b in this package (transaction hashing in hash.go).
var assetCodePrefixDomain = []byte("ledgercore/asset-code-prefix/v1")

// PrefixedCode derives the storage code for a user-defined asset committed
// at or after the configured cutover height: hash(domain || raw code),
// truncated to 16 bytes. The native fee asset never goes through this path
// regardless of height.
func PrefixedCode(raw AssetTypeCode) AssetTypeCode {
	h, _ := blake2b.New256(assetCodePrefixDomain)
	h.Write(raw[:])
	sum := h.Sum(nil)
	var out AssetTypeCode
	copy(out[:], sum[:16])
	return out
}

// StorageCode returns the code under which an asset defined at defineHeight
// should be stored, applying the raw/prefixed cutover rule: the native asset
// always keeps its raw code; every other asset defined at or after
// prefixHeight stores under PrefixedCode(raw).
func StorageCode(raw, nativeCode AssetTypeCode, defineHeight, prefixHeight uint64) AssetTypeCode {
	if raw == nativeCode {
		return raw
	}
	if defineHeight >= prefixHeight {
		return PrefixedCode(raw)
	}
	return raw
}
