package customdata

import (
	"testing"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
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

func TestStoreUnblindedOverwrite(t *testing.T) {
	s := New(openTestDB(t), "t:")
	key := []byte("k1")

	if err := s.Store(key, []byte("v1"), nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Store(key, []byte("v2"), nil); err != nil {
		t.Fatalf("unblinded overwrite should always succeed: %v", err)
	}

	data, _, ok, err := s.Get(key)
	if err != nil || !ok || string(data) != "v2" {
		t.Fatalf("Get = %q, %v, %v, want v2, true, nil", data, ok, err)
	}
}

func TestStoreBlindedRevealMatchesCommitment(t *testing.T) {
	s := New(openTestDB(t), "t:")
	key := []byte("k2")
	blind := []byte("blind-1")
	data := []byte("secret-data")

	if err := s.Store(key, data, blind); err != nil {
		t.Fatalf("first blinded write: %v", err)
	}

	// Re-storing the same data under the same blind recomputes the same
	// commitment, so it must succeed.
	if err := s.Store(key, data, blind); err != nil {
		t.Fatalf("matching blinded reveal should succeed: %v", err)
	}
}

func TestStoreBlindedMismatchRejected(t *testing.T) {
	s := New(openTestDB(t), "t:")
	key := []byte("k3")

	if err := s.Store(key, []byte("original"), []byte("blind-a")); err != nil {
		t.Fatalf("first write: %v", err)
	}

	err := s.Store(key, []byte("original"), []byte("blind-b"))
	if err != ErrBadCommitment {
		t.Fatalf("Store with wrong blind = %v, want ErrBadCommitment", err)
	}

	// The key must be left untouched by the rejected write.
	data, _, _, _ := s.Get(key)
	if string(data) != "original" {
		t.Errorf("Get after rejected write = %q, want unchanged %q", data, "original")
	}
}

func TestHashIsDeterministicAndBlindSensitive(t *testing.T) {
	data := []byte("payload")
	if Hash(nil, data) != Hash(nil, data) {
		t.Error("Hash is not deterministic")
	}
	if Hash([]byte("b1"), data) == Hash([]byte("b2"), data) {
		t.Error("Hash should differ when the blind differs")
	}
}

func TestGetMissingKey(t *testing.T) {
	s := New(openTestDB(t), "t:")
	_, _, ok, err := s.Get([]byte("nope"))
	if err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want false, nil", ok, err)
	}
}
