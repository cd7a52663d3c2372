package profilepin

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pivaldi/syncengine/internal/blobstore"
	"github.com/pivaldi/syncengine/internal/gossip"
	"github.com/pivaldi/syncengine/internal/identity"
	"github.com/pivaldi/syncengine/internal/kvstore"
	"github.com/pivaldi/syncengine/internal/p2p"
	"github.com/pivaldi/syncengine/internal/profile"
)

type testNode struct {
	svc *Service
	did string
	kp  *identity.HybridKeypair
}

func mustServiceNode(t *testing.T) (*testNode, *gossip.Transport, string) {
	t.Helper()
	seed, err := identity.GenerateSeed()
	if err != nil {
		t.Fatalf("GenerateSeed: %v", err)
	}
	kp, err := identity.DeriveKeypair(seed)
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}
	did := identity.Did(kp.Public())

	h, err := p2p.NewHost(kp.Libp2pPriv, 0)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	tr := gossip.NewTransportWithALPN(h, gossip.ALPNProfileExchange)

	addrs := h.Addrs()
	if len(addrs) == 0 {
		t.Fatal("expected at least one listen address")
	}
	full := fmt.Sprintf("%s/p2p/%s", addrs[0], h.ID())

	kv, err := kvstore.Open(filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	store, err := NewPinStore(kv)
	if err != nil {
		t.Fatalf("NewPinStore: %v", err)
	}
	blobs := blobstore.NewMemory(kv)

	svc := NewService(did, kp, full, kv, store, tr, blobs)
	return &testNode{svc: svc, did: did, kp: kp}, tr, full
}

func TestAnnounceUpdatesContactPin(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice, aliceTr, _ := mustServiceNode(t)
	bob, bobTr, bobAddr := mustServiceNode(t)

	if _, err := aliceTr.Connect(ctx, bobAddr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	alice.svc.AddContact(bob.did, Relationship{Kind: RelationContact})
	time.Sleep(100 * time.Millisecond)

	if err := bob.svc.UpdateOwnProfile(ctx, profile.UserProfile{DisplayName: "Bob", UpdatedAt: 1}); err != nil {
		t.Fatalf("UpdateOwnProfile: %v", err)
	}
	_ = bobTr

	deadline := time.After(5 * time.Second)
	for {
		if p, ok := alice.svc.store.Get(bob.did); ok && p.SignedProfile.Profile.DisplayName == "Bob" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for alice to pin bob's announced profile")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestRequestProfileGetsAnsweredByRedundantPinner(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Carol pins Bob's profile on Bob's behalf (redundancy); Alice never
	// connects to Bob directly, only to Carol, and still resolves Bob's
	// profile via Carol's Response.
	bob, _, bobAddr := mustServiceNode(t)
	carol, carolTr, carolAddr := mustServiceNode(t)
	alice, aliceTr, _ := mustServiceNode(t)

	if _, err := carolTr.Connect(ctx, bobAddr); err != nil {
		t.Fatalf("carol connect bob: %v", err)
	}
	if _, err := aliceTr.Connect(ctx, carolAddr); err != nil {
		t.Fatalf("alice connect carol: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	carol.svc.AddContact(bob.did, Relationship{Kind: RelationContact})
	time.Sleep(100 * time.Millisecond)

	if err := bob.svc.UpdateOwnProfile(ctx, profile.UserProfile{DisplayName: "Bob", UpdatedAt: 1}); err != nil {
		t.Fatalf("UpdateOwnProfile: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if p, ok := carol.svc.store.Get(bob.did); ok && p.SignedProfile.Profile.DisplayName == "Bob" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for carol to pin bob")
		case <-time.After(50 * time.Millisecond):
		}
	}

	// Subscribe alice to bob's topic and let the subscription frame
	// propagate to carol before sending the request, mirroring the
	// gossip package's own Subscribe-then-sleep-then-Broadcast tests.
	alice.svc.watch(bob.did)
	time.Sleep(150 * time.Millisecond)

	if err := alice.svc.RequestProfile(ctx, bob.did); err != nil {
		t.Fatalf("RequestProfile: %v", err)
	}

	deadline = time.After(5 * time.Second)
	for {
		if p, ok := alice.svc.store.Get(bob.did); ok && p.SignedProfile.Profile.DisplayName == "Bob" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for alice to resolve bob's profile via carol")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
