package sid

import "github.com/shadowfi-network/ledgercore/kvstore"

// Allocator hands out contiguous ranges of a single monotonic counter,
// persisted as a watermark key. It never reuses or decreases a value, even
// across restarts: the next value always picks up from the persisted
// frontier.
type Allocator struct {
	store *kvstore.Store
	key   []byte
	next  uint64
}

// NewAllocator loads the allocator's current frontier from store under key,
// defaulting to 0 if absent.
func NewAllocator(store *kvstore.Store, key string) (*Allocator, error) {
	raw, ok, err := store.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	next := uint64(0)
	if ok {
		next = kvstore.GetUint64(raw)
	}
	return &Allocator{store: store, key: []byte(key), next: next}, nil
}

// Next returns the next value that Reserve would allocate, without
// allocating it.
func (a *Allocator) Next() uint64 {
	return a.next
}

// Reserve allocates a contiguous range of count ids starting at the current
// frontier, stages the new frontier into batch, and advances the in-memory
// frontier. The caller must commit batch for the reservation to survive a
// restart; if the batch is discarded instead, the caller must undo the
// reservation with Rollback (or reload the allocator via NewAllocator),
// since its in-memory frontier will have run ahead of the persisted one.
func (a *Allocator) Reserve(batch *kvstore.Batch, count uint64) (Range, error) {
	r := Range{Start: a.next, Count: count}
	if count == 0 {
		return r, nil
	}
	a.next += count
	if err := batch.Set(a.key, kvstore.PutUint64(a.next)); err != nil {
		return Range{}, err
	}
	return r, nil
}

// Rollback restores the in-memory frontier, for use when a reservation's
// enclosing block is discarded before the batch commits.
func (a *Allocator) Rollback(r Range) {
	if a.next == r.Start+r.Count {
		a.next = r.Start
	}
}
