package kvstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/pivaldi/syncengine/internal/syncerr"
)

func mustOpen(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "syncengine.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := mustOpen(t)
	if err := s.Put(BucketRealms, "realm1", []byte("data")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(BucketRealms, "realm1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "data" {
		t.Fatalf("got %q want %q", got, "data")
	}
}

func TestGetMissingReturnsEntryNotFound(t *testing.T) {
	s := mustOpen(t)
	_, err := s.Get(BucketRealms, "missing")
	if !errors.Is(err, syncerr.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	s := mustOpen(t)
	if err := s.Put(BucketProfiles, "did:sync:abc", []byte("profile")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(BucketProfiles, "did:sync:abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if has, _ := s.Has(BucketProfiles, "did:sync:abc"); has {
		t.Fatal("expected key to be gone after Delete")
	}
}

func TestPutIndexedKeepsBothTablesConsistent(t *testing.T) {
	s := mustOpen(t)
	if err := s.PutIndexed(BucketUnifiedPeers, "endpoint1", []byte("peer"), BucketPeerDidIndex, "did:sync:peer1"); err != nil {
		t.Fatalf("PutIndexed: %v", err)
	}
	got, err := s.Get(BucketPeerDidIndex, "did:sync:peer1")
	if err != nil {
		t.Fatalf("Get index: %v", err)
	}
	if string(got) != "endpoint1" {
		t.Fatalf("index mismatch: got %q", got)
	}
}

func TestForEachIteratesAll(t *testing.T) {
	s := mustOpen(t)
	want := map[string]string{"a": "1", "b": "2", "c": "3"}
	for k, v := range want {
		if err := s.Put(BucketContacts, k, []byte(v)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	got := map[string]string{}
	if err := s.ForEach(BucketContacts, func(k string, v []byte) error {
		got[k] = string(v)
		return nil
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("entry %s: got %q want %q", k, got[k], v)
		}
	}
}

func TestCount(t *testing.T) {
	s := mustOpen(t)
	for i := 0; i < 4; i++ {
		if err := s.Put(BucketBlobs, string(rune('a'+i)), []byte{byte(i)}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	n, err := s.Count(BucketBlobs)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 4 {
		t.Fatalf("got %d want 4", n)
	}
}
