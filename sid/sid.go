// Package sid defines the ledger's serial identifiers: opaque monotonic
// counters handed out by the store, never reused, never decreasing.
package sid

// TxoSID identifies an output by its position in the global emission order.
type TxoSID uint64

// TxnSID identifies a transaction by its position in the global commit order.
type TxnSID uint64

// BlockHeight identifies a committed block by its position in the chain.
type BlockHeight uint64

// Range is a contiguous, inclusive-exclusive span of allocated ids,
// [Start, Start+Count).
type Range struct {
	Start uint64
	Count uint64
}

// IDs expands a Range into its concrete values, in ascending order.
func (r Range) IDs() []uint64 {
	if r.Count == 0 {
		return nil
	}
	out := make([]uint64, r.Count)
	for i := range out {
		out[i] = r.Start + uint64(i)
	}
	return out
}
