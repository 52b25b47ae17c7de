package query

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"

	"github.com/shadowfi-network/ledgercore/address"
	"github.com/shadowfi-network/ledgercore/apicache"
	"github.com/shadowfi-network/ledgercore/config"
	"github.com/shadowfi-network/ledgercore/customdata"
	"github.com/shadowfi-network/ledgercore/state"
	"github.com/shadowfi-network/ledgercore/txlog"
)

func openTestDB(t *testing.T) *pebble.DB {
	t.Helper()
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("pebble.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestService(t *testing.T) (*Service, *pebble.DB) {
	t.Helper()
	db := openTestDB(t)
	txl := txlog.New(db, "t:")
	cache := apicache.New(db, config.Config{CachePrefix: "t:", KeepHist: true}, txl, nil)
	custom := customdata.New(db, "t:")
	return New(cache, custom), db
}

func TestHandleAddressOfSidRoundTrip(t *testing.T) {
	svc, db := newTestService(t)
	owner := address.PublicKey{7}
	rec := txlog.CommittedTxnRecord{
		HashHex: "deadbeef", TxnSid: 0, TxoStart: 0,
		Outputs: []state.OutputRecord{{Owner: owner, Amount: 10}},
	}
	pb := db.NewIndexedBatch()
	if err := svc.cache.Update(pb, 1, 1, []txlog.CommittedTxnRecord{rec}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := pb.Commit(pebble.NoSync); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/outputs/0/owner", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "owner") {
		t.Errorf("body = %q, want it to contain an owner field", w.Body.String())
	}
}

func TestHandleAddressOfSidNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/outputs/99/owner", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandleAddressOfSidInvalidSid(t *testing.T) {
	svc, _ := newTestService(t)
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/outputs/not-a-number/owner", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleStoreAndGetCustomData(t *testing.T) {
	svc, _ := newTestService(t)
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)

	body := strings.NewReader(`{"data":"cafe"}`)
	postReq := httptest.NewRequest(http.MethodPost, "/v1/custom-data/mykey", body)
	postW := httptest.NewRecorder()
	mux.ServeHTTP(postW, postReq)
	if postW.Code != http.StatusNoContent {
		t.Fatalf("POST status = %d, want 204, body=%s", postW.Code, postW.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/v1/custom-data/mykey", nil)
	getW := httptest.NewRecorder()
	mux.ServeHTTP(getW, getReq)
	if getW.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200, body=%s", getW.Code, getW.Body.String())
	}
	if !strings.Contains(getW.Body.String(), "cafe") {
		t.Errorf("body = %q, want it to contain the stored hex data", getW.Body.String())
	}
}

func TestHandleStoreCustomDataBadBlindConflict(t *testing.T) {
	svc, _ := newTestService(t)
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)

	first := httptest.NewRequest(http.MethodPost, "/v1/custom-data/k", strings.NewReader(`{"data":"aa","blind":"01"}`))
	firstW := httptest.NewRecorder()
	mux.ServeHTTP(firstW, first)
	if firstW.Code != http.StatusNoContent {
		t.Fatalf("first store status = %d, want 204", firstW.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/v1/custom-data/k", strings.NewReader(`{"data":"aa","blind":"02"}`))
	secondW := httptest.NewRecorder()
	mux.ServeHTTP(secondW, second)
	if secondW.Code != http.StatusConflict {
		t.Errorf("mismatched blind status = %d, want 409", secondW.Code)
	}
}

func TestHandleCreatedAssetsInvalidAddress(t *testing.T) {
	svc, _ := newTestService(t)
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/addresses/not-an-address/created-assets", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
