// Package block implements the block pipeline: the single-writer state
// machine that takes validated transaction effects and turns them into
// committed ledger state, a durable transaction log, and a derived API
// cache, all inside one atomic pebble batch per block.
package block

import (
	"maps"
	"sync"

	"github.com/cockroachdb/pebble/v2"

	"github.com/shadowfi-network/ledgercore/address"
	"github.com/shadowfi-network/ledgercore/apicache"
	"github.com/shadowfi-network/ledgercore/config"
	"github.com/shadowfi-network/ledgercore/kvstore"
	"github.com/shadowfi-network/ledgercore/ledgererr"
	"github.com/shadowfi-network/ledgercore/metrics"
	"github.com/shadowfi-network/ledgercore/sid"
	"github.com/shadowfi-network/ledgercore/state"
	"github.com/shadowfi-network/ledgercore/txlog"
	"github.com/shadowfi-network/ledgercore/txn"
)

// Broadcaster is the block pipeline's one outbound capability: pushing a
// notification of a just-committed block's serial-id spans to anyone
// listening. wsfeed.Feed implements this; nil is a valid no-op broadcaster.
type Broadcaster interface {
	Publish(height uint64, txnRange, txoRange sid.Range)
}

// Result is what ApplyTransaction's caller learns once the block carrying
// its transaction actually commits: the serial ids it was assigned.
type Result struct {
	TxnSid  uint64
	TxoSids []uint64
}

// Pipeline is the block-scoped state machine: StartBlock opens a Handle,
// ApplyTransaction stages effects into it one at a time, and FinishBlock
// commits the whole block atomically or not at all.
// Only one block may be building at a time; callers serialize through it.
type Pipeline struct {
	mu sync.Mutex

	cfg   config.Config
	st    *state.State
	txl   *txlog.Log
	cache *apicache.Cache
	mx    *metrics.Metrics
	bcast Broadcaster

	watermarks  *kvstore.Store
	txnAlloc    *sid.Allocator
	txoAlloc    *sid.Allocator
	heightAlloc *sid.Allocator

	building *Handle
}

// NewPipeline opens a Pipeline over db, loading its serial-id allocators
// from their persisted watermarks.
func NewPipeline(db *pebble.DB, cfg config.Config, st *state.State, txl *txlog.Log, cache *apicache.Cache, mx *metrics.Metrics, bcast Broadcaster) (*Pipeline, error) {
	watermarks := kvstore.New(db, cfg.CachePrefix+"watermarks:")
	txnAlloc, err := sid.NewAllocator(watermarks, "txn_sid")
	if err != nil {
		return nil, err
	}
	txoAlloc, err := sid.NewAllocator(watermarks, "txo_sid")
	if err != nil {
		return nil, err
	}
	heightAlloc, err := sid.NewAllocator(watermarks, "block_height")
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:         cfg,
		st:          st,
		txl:         txl,
		cache:       cache,
		mx:          mx,
		bcast:       bcast,
		watermarks:  watermarks,
		txnAlloc:    txnAlloc,
		txoAlloc:    txoAlloc,
		heightAlloc: heightAlloc,
	}, nil
}

// StartBlock opens a new block-scoped Handle. It fails if a block is
// already being built.
func (p *Pipeline) StartBlock() (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.building != nil {
		return nil, ledgererr.New(ledgererr.BlockStateError, "start_block called while a block is already open")
	}
	h := newHandle(sid.BlockHeight(p.heightAlloc.Next()))
	p.building = h
	return h, nil
}

// DiscardBlock abandons a block opened by StartBlock without committing
// anything; no serial id is burned, since none were reserved until
// FinishBlock.
func (p *Pipeline) DiscardBlock(h *Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.building != h {
		return ledgererr.New(ledgererr.BlockStateError, "discard_block called on a handle that is not the open block")
	}
	p.building = nil
	if p.mx != nil {
		p.mx.DiscardBlock()
	}
	return nil
}

// ApplyTransaction validates eff against h's overlay plus committed state
// and, if it passes, stages its tentative effects into h. It never touches
// committed state; a rejected transaction leaves h exactly as it was.
func (p *Pipeline) ApplyTransaction(h *Handle, eff *txn.TxnEffect) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.building != h {
		return 0, ledgererr.New(ledgererr.BlockStateError, "apply_transaction called on a handle that is not the open block")
	}

	// Snapshot the overlay so a rejection below restores it untouched.
	consumed, definedRaw, assetDefs := maps.Clone(h.consumed), maps.Clone(h.definedRaw), maps.Clone(h.assetDefs)
	issuance, memoOverride, assetRegistered := maps.Clone(h.issuance), maps.Clone(h.memoOverride), maps.Clone(h.assetRegistered)
	accepted := false
	defer func() {
		if !accepted {
			h.consumed, h.definedRaw, h.assetDefs = consumed, definedRaw, assetDefs
			h.issuance, h.memoOverride, h.assetRegistered = issuance, memoOverride, assetRegistered
		}
	}()

	resolvedAbsolute := make(map[uint64]txn.Output, len(eff.AbsoluteInputs))
	for _, ref := range eff.AbsoluteInputs {
		key := uint64(ref.Sid)
		if h.consumed[key] {
			return 0, ledgererr.New(ledgererr.ConflictWithState, "input already spent earlier in this block")
		}
		out, ok, err := p.st.LiveOutput(ref.Sid)
		if err != nil {
			return 0, ledgererr.Wrap(ledgererr.StorageError, -1, "reading absolute input", err)
		}
		if !ok {
			return 0, ledgererr.New(ledgererr.ConflictWithState, "input does not exist or is already spent")
		}
		if out.Commitment != ref.ExpectedCommitment {
			return 0, ledgererr.New(ledgererr.ConflictWithState, "input commitment does not match committed record")
		}
		if out.Owner != ref.Owner {
			return 0, ledgererr.New(ledgererr.ConflictWithState, "input owner does not match committed record")
		}
		h.consumed[key] = true
		resolvedAbsolute[key] = out
	}

	for _, def := range eff.AssetDefs {
		storageCode := txn.StorageCode(def.Code, p.cfg.NativeAssetCode, uint64(h.height), p.cfg.UtxoAssetPrefixHeight)
		if h.assetRegistered[storageCode] {
			return 0, ledgererr.New(ledgererr.ConflictWithState, "asset code already defined earlier in this block")
		}
		if _, ok, err := p.st.Asset(storageCode); err != nil {
			return 0, ledgererr.Wrap(ledgererr.StorageError, -1, "reading asset registry", err)
		} else if ok {
			return 0, ledgererr.New(ledgererr.ConflictWithState, "asset code already registered")
		}
		h.assetRegistered[storageCode] = true
		h.definedRaw[def.Code] = storageCode
		h.assetDefs[storageCode] = def
	}

	for code, seqMax := range eff.IssuanceSeqMax {
		storageCode, ok, err := p.resolveStorageCode(h, code)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ledgererr.New(ledgererr.ConflictWithState, "issuance references an undefined asset")
		}

		current, hasPrior := h.issuance[storageCode]
		if !hasPrior {
			if rec, ok, err := p.st.Issuance(storageCode); err != nil {
				return 0, ledgererr.Wrap(ledgererr.StorageError, -1, "reading issuance watermark", err)
			} else if ok {
				current, hasPrior = rec, true
			}
		}
		if hasPrior && seqMax <= current.SeqMax {
			return 0, ledgererr.New(ledgererr.ConflictWithState, "issuance sequence number does not increase")
		}

		units, err := safeAddUint64(current.UnitsTotal, eff.IssuedUnits[code])
		if err != nil {
			return 0, ledgererr.At(ledgererr.InvalidTransaction, -1, "issuance unit overflow")
		}
		if def, defOk := p.assetDef(h, storageCode); defOk && def.MaxUnits != nil && units > *def.MaxUnits {
			return 0, ledgererr.New(ledgererr.ConflictWithState, "issuance exceeds asset unit cap")
		}
		h.issuance[storageCode] = state.IssuanceRecord{SeqMax: seqMax, UnitsTotal: units}
	}

	for _, mu := range eff.MemoUpdates {
		storageCode, ok, err := p.resolveStorageCode(h, mu.Code)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ledgererr.New(ledgererr.ConflictWithState, "memo update references an undefined asset")
		}
		def, defOk := p.assetDef(h, storageCode)
		if !defOk {
			return 0, ledgererr.New(ledgererr.ConflictWithState, "memo update references an undefined asset")
		}
		if !def.Updatable {
			return 0, ledgererr.New(ledgererr.ConflictWithState, "memo update on a non-updatable asset")
		}
		if def.Issuer != mu.Signer {
			return 0, ledgererr.New(ledgererr.ConflictWithState, "memo update not signed by the asset's issuer")
		}
		h.memoOverride[storageCode] = mu.NewMemo
	}

	var mixedAssets []txn.AssetTypeCode
	for _, mt := range eff.MixedTransfers {
		assets, err := validateMixedTransfer(mt, eff.NewOutputs, resolvedAbsolute)
		if err != nil {
			return 0, err
		}
		mixedAssets = append(mixedAssets, assets...)
	}

	tempID := len(h.applied)
	h.applied = append(h.applied, appliedTxn{
		eff:              eff,
		tempID:           tempID,
		numOutput:        len(eff.NewOutputs),
		resolvedAbsolute: resolvedAbsolute,
		mixedAssets:      mixedAssets,
	})
	accepted = true
	return tempID, nil
}

// resolveStorageCode resolves a raw asset code to its fixed storage code,
// checking this block's own overlay before falling back to committed state.
func (p *Pipeline) resolveStorageCode(h *Handle, raw txn.AssetTypeCode) ([16]byte, bool, error) {
	if sc, ok := h.definedRaw[raw]; ok {
		return sc, true, nil
	}
	sc, ok, err := p.st.ResolveStorageCode(raw)
	if err != nil {
		return [16]byte{}, false, ledgererr.Wrap(ledgererr.StorageError, -1, "resolving asset storage code", err)
	}
	return sc, ok, nil
}

// assetDef returns an asset's definition, checking this block's own overlay
// before falling back to committed state.
func (p *Pipeline) assetDef(h *Handle, storageCode [16]byte) (txn.AssetDefinition, bool) {
	if def, ok := h.assetDefs[storageCode]; ok {
		return def, true
	}
	rec, ok, err := p.st.Asset(storageCode)
	if err != nil || !ok {
		return txn.AssetDefinition{}, false
	}
	return txn.AssetDefinition{
		Code:          txn.AssetTypeCode(rec.Code),
		Memo:          rec.Memo,
		Updatable:     rec.Updatable,
		MaxUnits:      rec.MaxUnits,
		TracingPolicy: rec.TracingPolicy,
		Issuer:        address.PublicKey(rec.Issuer),
	}, true
}

// FinishBlock commits every transaction staged into h since StartBlock:
// serial ids are reserved, committed state, the transaction log, and the
// API cache are all written into one atomic pebble batch, and the batch is
// committed or not at all. A failure anywhere rolls back the serial-id
// allocators and leaves committed state untouched.
func (p *Pipeline) FinishBlock(h *Handle) (map[int]Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.building != h {
		return nil, ledgererr.New(ledgererr.BlockStateError, "finish_block called on a handle that is not the open block")
	}

	txnCount := uint64(len(h.applied))
	var txoCount uint64
	for _, at := range h.applied {
		txoCount += uint64(at.numOutput)
	}

	pb := p.st.NewBatch()
	wb := p.watermarks.WithBatch(pb)

	heightRange, err := p.heightAlloc.Reserve(wb, 1)
	if err != nil {
		return nil, p.abortFinish(pb, ledgererr.Wrap(ledgererr.StorageError, -1, "reserving block height", err))
	}
	txnRange, err := p.txnAlloc.Reserve(wb, txnCount)
	if err != nil {
		p.heightAlloc.Rollback(heightRange)
		return nil, p.abortFinish(pb, ledgererr.Wrap(ledgererr.StorageError, -1, "reserving txn sids", err))
	}
	txoRange, err := p.txoAlloc.Reserve(wb, txoCount)
	if err != nil {
		p.heightAlloc.Rollback(heightRange)
		p.txnAlloc.Rollback(txnRange)
		return nil, p.abortFinish(pb, ledgererr.Wrap(ledgererr.StorageError, -1, "reserving txo sids", err))
	}

	rollback := func(err error) (map[int]Result, error) {
		p.heightAlloc.Rollback(heightRange)
		p.txnAlloc.Rollback(txnRange)
		p.txoAlloc.Rollback(txoRange)
		return nil, p.abortFinish(pb, err)
	}

	results := make(map[int]Result, len(h.applied))
	fresh := make([]txlog.CommittedTxnRecord, 0, len(h.applied))

	txoCursor := txoRange.Start
	for idx, at := range h.applied {
		txnSid := txnRange.Start + uint64(idx)
		txoStart := txoCursor

		consumedLocal := make(map[int]bool, len(at.eff.RelativeConsumed))
		for _, ci := range at.eff.RelativeConsumed {
			consumedLocal[ci] = true
		}

		outputRecords := make([]state.OutputRecord, len(at.eff.NewOutputs))
		for k, out := range at.eff.NewOutputs {
			txoSid := sid.TxoSID(txoStart + uint64(k))
			outputRecords[k] = state.ToOutputRecord(out)
			if consumedLocal[k] {
				if err := p.st.ConsumeOutput(pb, txoSid, out, sid.TxnSID(txnSid), uint64(k)); err != nil {
					return rollback(ledgererr.Wrap(ledgererr.StorageError, -1, "writing self-consumed output", err))
				}
				continue
			}
			if err := p.st.PutOutput(pb, txoSid, out); err != nil {
				return rollback(ledgererr.Wrap(ledgererr.StorageError, -1, "writing output", err))
			}
		}
		txoCursor += uint64(len(at.eff.NewOutputs))

		var consumedInputs []txlog.ConsumedInputRef
		for k, out := range at.eff.NewOutputs {
			if consumedLocal[k] {
				consumedInputs = append(consumedInputs, txlog.ConsumedInputRef{Owner: addressBytes(out.Owner), TxoSid: txoStart + uint64(k)})
			}
		}
		for j, ref := range at.eff.AbsoluteInputs {
			out := at.resolvedAbsolute[uint64(ref.Sid)]
			if err := p.st.ConsumeOutput(pb, ref.Sid, out, sid.TxnSID(txnSid), uint64(j)); err != nil {
				return rollback(ledgererr.Wrap(ledgererr.StorageError, -1, "consuming absolute input", err))
			}
			consumedInputs = append(consumedInputs, txlog.ConsumedInputRef{Owner: addressBytes(out.Owner), TxoSid: uint64(ref.Sid)})
		}

		var storedDefs []txlog.StoredAssetDef
		for _, def := range at.eff.AssetDefs {
			storageCode := h.definedRaw[def.Code]
			storedDefs = append(storedDefs, txlog.StoredAssetDef{
				StorageCode: storageCode,
				Record:      state.ToAssetRecord(def, uint64(h.height)),
			})
		}

		var issuanceRefs []txlog.IssuanceRef
		for _, ref := range at.eff.IssuedOutputs {
			issuanceRefs = append(issuanceRefs, txlog.IssuanceRef{
				Issuer: addressBytes(ref.Issuer),
				Code:   [16]byte(ref.Code),
				Index:  ref.Index,
			})
		}

		var mintEntries []txlog.MintEntry
		for _, ref := range at.eff.MintOutputs {
			out := at.eff.NewOutputs[ref.Index]
			mintEntries = append(mintEntries, txlog.MintEntry{
				Address: addressBytes(ref.Address),
				Height:  ref.Height,
				Code:    [16]byte(ref.Code),
				Amount:  out.Amount,
			})
		}

		relatedAddrs := make([][33]byte, len(at.eff.RelatedAddresses))
		for i, a := range at.eff.RelatedAddresses {
			relatedAddrs[i] = addressBytes(a)
		}

		transferred := dedupAssetCodes(at.eff.LocalTransferredAssets, at.mixedAssets)

		rec := txlog.CommittedTxnRecord{
			Hash:              at.eff.Hash,
			HashHex:           at.eff.HashHex,
			SeqID:             at.eff.SeqID,
			TxnSid:            txnSid,
			TxoStart:          txoStart,
			Outputs:           outputRecords,
			MemoUpdates:       at.eff.MemoUpdates,
			RelatedAddresses:  relatedAddrs,
			TransferredAssets: transferred,
			AssetDefs:         storedDefs,
			MintEntries:       mintEntries,
			IssuanceRefs:      issuanceRefs,
			ConsumedInputs:    consumedInputs,
		}

		if err := p.txl.PutTxn(pb, txnSid, rec); err != nil {
			return rollback(ledgererr.Wrap(ledgererr.StorageError, -1, "writing transaction log", err))
		}

		results[at.tempID] = Result{TxnSid: txnSid, TxoSids: sid.Range{Start: txoStart, Count: uint64(len(at.eff.NewOutputs))}.IDs()}
		fresh = append(fresh, rec)
	}

	for code, rec := range h.issuance {
		if err := p.st.PutIssuance(pb, code, rec); err != nil {
			return rollback(ledgererr.Wrap(ledgererr.StorageError, -1, "writing issuance watermark", err))
		}
	}
	for code, def := range h.assetDefs {
		if err := p.st.PutAsset(pb, code, def, uint64(h.height)); err != nil {
			return rollback(ledgererr.Wrap(ledgererr.StorageError, -1, "writing asset registry", err))
		}
	}
	for code, memo := range h.memoOverride {
		if err := p.st.PatchAssetMemo(pb, code, memo); err != nil {
			return rollback(ledgererr.Wrap(ledgererr.StorageError, -1, "patching asset memo", err))
		}
	}

	blockRec := txlog.BlockRecord{
		Height:   heightRange.Start,
		TxnStart: txnRange.Start,
		TxnCount: txnCount,
		TxoStart: txoRange.Start,
		TxoCount: txoCount,
	}
	if err := p.txl.PutBlock(pb, heightRange.Start, blockRec); err != nil {
		return rollback(ledgererr.Wrap(ledgererr.StorageError, -1, "writing block record", err))
	}

	if p.cache != nil {
		if err := p.cache.Update(pb, txnRange.Start+txnCount, txoRange.Start+txoCount, fresh); err != nil {
			return rollback(ledgererr.Wrap(ledgererr.StorageError, -1, "updating api cache", err))
		}
	}

	if err := pb.Commit(pebble.NoSync); err != nil {
		return rollback(ledgererr.Wrap(ledgererr.StorageError, -1, "committing block batch", err))
	}

	p.building = nil
	if p.mx != nil {
		p.mx.CommitBlock(heightRange.Start, int(txnCount))
	}
	if p.bcast != nil {
		p.bcast.Publish(heightRange.Start, txnRange, txoRange)
	}
	return results, nil
}

// abortFinish discards pb and returns err, closing the open block so the
// caller can retry with a fresh StartBlock.
func (p *Pipeline) abortFinish(pb *pebble.Batch, err error) error {
	pb.Close()
	p.building = nil
	if p.mx != nil {
		p.mx.DiscardBlock()
	}
	return err
}

func safeAddUint64(a, b uint64) (uint64, error) {
	const max = ^uint64(0)
	if a > max-b {
		return 0, ledgererr.New(ledgererr.InvalidTransaction, "arithmetic overflow")
	}
	return a + b, nil
}

func dedupAssetCodes(lists ...[]txn.AssetTypeCode) [][16]byte {
	seen := make(map[[16]byte]bool)
	var out [][16]byte
	for _, list := range lists {
		for _, code := range list {
			c := [16]byte(code)
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// validateMixedTransfer re-validates the balance of a transfer that mixes
// an absolute input with anything else (or is entirely absolute-input),
// now that the absolute inputs' real amounts and types are known. It
// mirrors the effect builder's own balance rule (debt-swap exception
// included) and returns the asset types it touched.
func validateMixedTransfer(mt txn.MixedTransfer, newOutputs []txn.Output, resolved map[uint64]txn.Output) ([]txn.AssetTypeCode, error) {
	inTotals := make(map[txn.AssetTypeCode]uint64)
	outTotals := make(map[txn.AssetTypeCode]uint64)
	var touched []txn.AssetTypeCode
	touchedSeen := make(map[txn.AssetTypeCode]bool)

	note := func(code txn.AssetTypeCode) {
		if !touchedSeen[code] {
			touchedSeen[code] = true
			touched = append(touched, code)
		}
	}

	for _, in := range mt.Inputs {
		var src txn.Output
		if in.Absolute != nil {
			src = resolved[uint64(in.Absolute.Sid)]
		} else {
			idx := *in.Relative
			if idx < 0 || idx >= len(newOutputs) {
				return nil, ledgererr.At(ledgererr.InvalidTransaction, mt.OpIndex, "relative input index out of range")
			}
			src = newOutputs[idx]
		}
		if src.AmountConfidential || src.TypeConfidential {
			return nil, ledgererr.At(ledgererr.InvalidTransaction, mt.OpIndex, "non-confidential transfer cannot consume a confidential output")
		}
		var err error
		inTotals[src.AssetType], err = safeAddUint64(inTotals[src.AssetType], src.Amount)
		if err != nil {
			return nil, ledgererr.At(ledgererr.InvalidTransaction, mt.OpIndex, "input amount overflow")
		}
		note(src.AssetType)
	}

	for _, out := range mt.Outputs {
		if out.AmountConfidential || out.TypeConfidential {
			return nil, ledgererr.At(ledgererr.InvalidTransaction, mt.OpIndex, "non-confidential transfer cannot produce a confidential output")
		}
		var err error
		outTotals[out.AssetType], err = safeAddUint64(outTotals[out.AssetType], out.Amount)
		if err != nil {
			return nil, ledgererr.At(ledgererr.InvalidTransaction, mt.OpIndex, "output amount overflow")
		}
		note(out.AssetType)
	}

	deficits := 0
	for assetType, in := range inTotals {
		out := outTotals[assetType]
		if in == out {
			continue
		}
		if mt.Kind == txn.TransferDebtSwap && in > out {
			deficits++
			continue
		}
		return nil, ledgererr.At(ledgererr.InvalidTransaction, mt.OpIndex, "unbalanced transfer")
	}
	for assetType, out := range outTotals {
		if _, seen := inTotals[assetType]; !seen && out != 0 {
			return nil, ledgererr.At(ledgererr.InvalidTransaction, mt.OpIndex, "output asset type has no matching input")
		}
	}
	if mt.Kind == txn.TransferDebtSwap && deficits > 1 {
		return nil, ledgererr.At(ledgererr.InvalidTransaction, mt.OpIndex, "debt-swap may burn at most one asset type")
	}
	return touched, nil
}
