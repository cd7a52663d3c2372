package peerregistry

import (
	"path/filepath"
	"testing"

	"github.com/pivaldi/syncengine/internal/kvstore"
)

func mustRegistry(t *testing.T) *Registry {
	t.Helper()
	kv, err := kvstore.Open(filepath.Join(t.TempDir(), "syncengine.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return New(kv)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	r := mustRegistry(t)
	p := New(testEndpoint(1), SourceFromRealm, 1000)
	p.WithNickname("Joy")
	if err := r.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := r.Load(p.EndpointID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Nickname != "Joy" {
		t.Fatalf("got %+v", got)
	}
}

func TestLoadByDid(t *testing.T) {
	r := mustRegistry(t)
	p := New(testEndpoint(2), SourceFromContact, 1000)
	p.WithDid("did:sync:abc123")
	if err := r.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := r.LoadByDid("did:sync:abc123")
	if err != nil {
		t.Fatalf("LoadByDid: %v", err)
	}
	if got.EndpointID != p.EndpointID {
		t.Fatalf("did index mismatch: got %+v", got)
	}
}

func TestDeleteRemovesDidIndex(t *testing.T) {
	r := mustRegistry(t)
	p := New(testEndpoint(3), SourceFromContact, 1000)
	p.WithDid("did:sync:todelete")
	if err := r.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := r.Delete(p.EndpointID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.LoadByDid("did:sync:todelete"); err == nil {
		t.Fatal("expected did index entry to be gone")
	}
}

func TestListFilters(t *testing.T) {
	r := mustRegistry(t)
	contact := New(testEndpoint(10), SourceFromInvite, 1000)
	contact.WithContactInfo(ContactDetails{ContactTopic: [32]byte{1}, ContactKey: [32]byte{2}})
	discovered := New(testEndpoint(11), SourceFromRealm, 1000)
	discovered.Status = StatusOffline

	if err := r.Save(contact); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := r.Save(discovered); err != nil {
		t.Fatalf("Save: %v", err)
	}

	contacts, err := r.ListContacts()
	if err != nil || len(contacts) != 1 {
		t.Fatalf("ListContacts: %v, len=%d", err, len(contacts))
	}
	disc, err := r.ListDiscovered()
	if err != nil || len(disc) != 1 {
		t.Fatalf("ListDiscovered: %v, len=%d", err, len(disc))
	}
	inactive, err := r.ListInactive()
	if err != nil || len(inactive) != 2 {
		t.Fatalf("ListInactive: %v, len=%d", err, len(inactive))
	}
	count, err := r.Count()
	if err != nil || count != 2 {
		t.Fatalf("Count: %v, count=%d", err, count)
	}
}

func TestMigrateLegacyPeersIsIdempotent(t *testing.T) {
	r := mustRegistry(t)
	contact := New(testEndpoint(20), SourceFromContact, 1000)
	discovered := New(testEndpoint(21), SourceFromRealm, 1000)

	n, err := r.MigrateLegacyPeers([]*Peer{contact}, []*Peer{discovered}, 5000)
	if err != nil {
		t.Fatalf("MigrateLegacyPeers: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 migrated, got %d", n)
	}

	migrated, err := r.IsMigrated()
	if err != nil || !migrated {
		t.Fatalf("expected migrated=true, got %v err=%v", migrated, err)
	}

	n2, err := r.MigrateLegacyPeers([]*Peer{contact}, []*Peer{discovered}, 5000)
	if err != nil {
		t.Fatalf("second MigrateLegacyPeers: %v", err)
	}
	if n2 != 0 {
		t.Fatalf("expected idempotent no-op, got %d", n2)
	}
}

func TestMigrateSkipsDuplicateEndpoints(t *testing.T) {
	r := mustRegistry(t)
	shared := testEndpoint(30)
	contact := New(shared, SourceFromContact, 1000)
	discoveredDup := New(shared, SourceFromRealm, 1000)

	n, err := r.MigrateLegacyPeers([]*Peer{contact}, []*Peer{discoveredDup}, 5000)
	if err != nil {
		t.Fatalf("MigrateLegacyPeers: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 migrated (dedup by endpoint), got %d", n)
	}
}
