// Package query is the ledger's read-only reader API: a thin wrapper over
// the derived API cache and the custom data store,
// with one method per reader-interface entry plus get_custom_data/
// store_custom_data, exposed over HTTP via a RegisterRoutes(mux) method.
package query

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shadowfi-network/ledgercore/address"
	"github.com/shadowfi-network/ledgercore/apicache"
	"github.com/shadowfi-network/ledgercore/customdata"
)

// Service answers every non-mutating query the ledger core supports. It
// never takes the block pipeline's write lock; every method reads
// already-committed state only.
type Service struct {
	cache  *apicache.Cache
	custom *customdata.Store
}

// New constructs a Service over cache and custom.
func New(cache *apicache.Cache, custom *customdata.Store) *Service {
	return &Service{cache: cache, custom: custom}
}

// GetAddressOfSid returns the owner address of a (possibly spent) output.
func (s *Service) GetAddressOfSid(txoSid uint64) (string, bool, error) {
	return s.cache.GetAddressOfSid(txoSid)
}

// GetOwnerMemo returns the memo blob attached to an output, if any.
func (s *Service) GetOwnerMemo(txoSid uint64) ([]byte, bool, error) {
	return s.cache.GetOwnerMemo(txoSid)
}

// GetOwnedUTXOSids returns the live output ids owned by addr.
func (s *Service) GetOwnedUTXOSids(addr address.PublicKey) ([]uint64, error) {
	return s.cache.GetOwnedUTXOSids(addr)
}

// GetCreatedAssets returns every asset code issuer has ever defined.
func (s *Service) GetCreatedAssets(issuer address.PublicKey) ([][16]byte, error) {
	return s.cache.GetCreatedAssets(issuer)
}

// GetIssuedRecords returns every output issuer has issued.
func (s *Service) GetIssuedRecords(issuer address.PublicKey) ([]apicache.IssuanceEntry, error) {
	return s.cache.GetIssuedRecords(issuer)
}

// GetIssuedRecordsByCode returns every output issued under an asset code.
func (s *Service) GetIssuedRecordsByCode(code [16]byte) ([]apicache.IssuanceEntry, error) {
	return s.cache.GetIssuedRecordsByCode(code)
}

// GetRelatedTransactions returns every transaction that referenced addr.
func (s *Service) GetRelatedTransactions(addr address.PublicKey) ([]uint64, error) {
	return s.cache.GetRelatedTransactions(addr)
}

// GetRelatedTransfers returns every transaction that transferred code.
func (s *Service) GetRelatedTransfers(code [16]byte) ([]uint64, error) {
	return s.cache.GetRelatedTransfers(code)
}

// GetCustomData returns the data and commitment hash stored at key.
func (s *Service) GetCustomData(key []byte) ([]byte, customdata.KVHash, bool, error) {
	return s.custom.Get(key)
}

// StoreCustomData writes data at key, optionally checked against blind.
func (s *Service) StoreCustomData(key, data, blind []byte) error {
	return s.custom.Store(key, data, blind)
}

// RegisterRoutes adds the reader HTTP handlers to mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/outputs/{sid}/owner", s.handleAddressOfSid)
	mux.HandleFunc("GET /v1/outputs/{sid}/memo", s.handleOwnerMemo)
	mux.HandleFunc("GET /v1/addresses/{addr}/utxos", s.handleOwnedUTXOs)
	mux.HandleFunc("GET /v1/addresses/{addr}/created-assets", s.handleCreatedAssets)
	mux.HandleFunc("GET /v1/addresses/{addr}/issuances", s.handleIssuedRecords)
	mux.HandleFunc("GET /v1/assets/{code}/issuances", s.handleIssuedRecordsByCode)
	mux.HandleFunc("GET /v1/addresses/{addr}/transactions", s.handleRelatedTransactions)
	mux.HandleFunc("GET /v1/assets/{code}/transfers", s.handleRelatedTransfers)
	mux.HandleFunc("GET /v1/custom-data/{key}", s.handleGetCustomData)
	mux.HandleFunc("POST /v1/custom-data/{key}", s.handleStoreCustomData)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func parseSid(r *http.Request) (uint64, bool) {
	v, err := strconv.ParseUint(r.PathValue("sid"), 10, 64)
	return v, err == nil
}

func parseAddr(r *http.Request) (address.PublicKey, bool) {
	pk, err := address.Parse(r.PathValue("addr"))
	return pk, err == nil
}

func parseAssetCode(r *http.Request) ([16]byte, bool) {
	raw, err := hex.DecodeString(r.PathValue("code"))
	if err != nil || len(raw) != 16 {
		return [16]byte{}, false
	}
	var code [16]byte
	copy(code[:], raw)
	return code, true
}

func (s *Service) handleAddressOfSid(w http.ResponseWriter, r *http.Request) {
	txoSid, ok := parseSid(r)
	if !ok {
		http.Error(w, "invalid sid", http.StatusBadRequest)
		return
	}
	addr, ok, err := s.GetAddressOfSid(txoSid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"owner": addr})
}

func (s *Service) handleOwnerMemo(w http.ResponseWriter, r *http.Request) {
	txoSid, ok := parseSid(r)
	if !ok {
		http.Error(w, "invalid sid", http.StatusBadRequest)
		return
	}
	memo, ok, err := s.GetOwnerMemo(txoSid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"memo": hex.EncodeToString(memo)})
}

func (s *Service) handleOwnedUTXOs(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddr(r)
	if !ok {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	sids, err := s.GetOwnedUTXOSids(addr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"utxoSids": sids})
}

func (s *Service) handleCreatedAssets(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddr(r)
	if !ok {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	codes, err := s.GetCreatedAssets(addr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = hex.EncodeToString(c[:])
	}
	writeJSON(w, map[string]any{"assets": out})
}

func (s *Service) handleIssuedRecords(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddr(r)
	if !ok {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	entries, err := s.GetIssuedRecords(addr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"issuances": entries})
}

func (s *Service) handleIssuedRecordsByCode(w http.ResponseWriter, r *http.Request) {
	code, ok := parseAssetCode(r)
	if !ok {
		http.Error(w, "invalid asset code", http.StatusBadRequest)
		return
	}
	entries, err := s.GetIssuedRecordsByCode(code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"issuances": entries})
}

func (s *Service) handleRelatedTransactions(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddr(r)
	if !ok {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	sids, err := s.GetRelatedTransactions(addr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"transactions": sids})
}

func (s *Service) handleRelatedTransfers(w http.ResponseWriter, r *http.Request) {
	code, ok := parseAssetCode(r)
	if !ok {
		http.Error(w, "invalid asset code", http.StatusBadRequest)
		return
	}
	sids, err := s.GetRelatedTransfers(code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"transactions": sids})
}

func (s *Service) handleGetCustomData(w http.ResponseWriter, r *http.Request) {
	key := []byte(r.PathValue("key"))
	data, h, ok, err := s.GetCustomData(key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{
		"data": hex.EncodeToString(data),
		"hash": hex.EncodeToString(h[:]),
	})
}

type storeCustomDataRequest struct {
	Data  string `json:"data"`  // hex-encoded
	Blind string `json:"blind"` // hex-encoded, omitted for an unblinded write
}

func (s *Service) handleStoreCustomData(w http.ResponseWriter, r *http.Request) {
	key := []byte(r.PathValue("key"))
	var req storeCustomDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	data, err := hex.DecodeString(req.Data)
	if err != nil {
		http.Error(w, "invalid data encoding", http.StatusBadRequest)
		return
	}
	var blind []byte
	if req.Blind != "" {
		blind, err = hex.DecodeString(req.Blind)
		if err != nil {
			http.Error(w, "invalid blind encoding", http.StatusBadRequest)
			return
		}
	}
	if err := s.StoreCustomData(key, data, blind); err != nil {
		if err == customdata.ErrBadCommitment {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
