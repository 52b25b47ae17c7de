package kvstore

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

func TestStoreSetGetDelete(t *testing.T) {
	db := openTestDB(t)
	s := New(db, "test:")

	if _, ok, err := s.Get([]byte("missing")); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want ok=false err=nil", ok, err)
	}

	if err := s.Set([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get([]byte("k"))
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("Get(k) = %q, %v, %v, want v1, true, nil", v, ok, err)
	}

	if err := s.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := s.Get([]byte("k")); err != nil || ok {
		t.Fatalf("Get after Delete = ok=%v err=%v, want ok=false", ok, err)
	}
}

func TestStorePrefixIsolation(t *testing.T) {
	db := openTestDB(t)
	a := New(db, "a:")
	b := New(db, "b:")

	if err := a.Set([]byte("k"), []byte("a-value")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, err := b.Get([]byte("k")); err != nil || ok {
		t.Fatalf("store b should not see store a's key, got ok=%v err=%v", ok, err)
	}
}

func TestBatchAtomicCommit(t *testing.T) {
	db := openTestDB(t)
	s := New(db, "test:")

	batch := s.NewBatch()
	if err := batch.Set([]byte("x"), []byte("1")); err != nil {
		t.Fatalf("batch.Set: %v", err)
	}
	if err := batch.Set([]byte("y"), []byte("2")); err != nil {
		t.Fatalf("batch.Set: %v", err)
	}

	if _, ok, _ := s.Get([]byte("x")); ok {
		t.Fatalf("uncommitted batch write should not be visible")
	}

	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	v, ok, err := s.Get([]byte("x"))
	if err != nil || !ok || string(v) != "1" {
		t.Fatalf("Get(x) after commit = %q, %v, %v", v, ok, err)
	}
}

func TestIterateRespectsBounds(t *testing.T) {
	db := openTestDB(t)
	s := New(db, "iter:")

	for _, k := range []string{"a", "b", "c", "d"} {
		if err := s.Set([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	var seen []string
	err := s.Iterate([]byte("b"), []byte("d"), func(key, value []byte) error {
		seen = append(seen, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(seen) != 2 || seen[0] != "b" || seen[1] != "c" {
		t.Fatalf("Iterate([b,d)) = %v, want [b c]", seen)
	}
}

func TestPutGetUint64RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 42, 1 << 40} {
		got := GetUint64(PutUint64(v))
		if got != v {
			t.Errorf("GetUint64(PutUint64(%d)) = %d", v, got)
		}
	}
}

func TestGetUint64WrongLength(t *testing.T) {
	if got := GetUint64([]byte{1, 2, 3}); got != 0 {
		t.Errorf("GetUint64(short) = %d, want 0", got)
	}
}
