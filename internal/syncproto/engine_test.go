package syncproto

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pivaldi/syncengine/internal/envelope"
	"github.com/pivaldi/syncengine/internal/gossip"
	"github.com/pivaldi/syncengine/internal/identity"
	"github.com/pivaldi/syncengine/internal/p2p"
)

type node struct {
	transport *gossip.Transport
	engine    *Engine
	did       string
	addr      string
}

func mustNode(t *testing.T, resolver MapKeyResolver) *node {
	t.Helper()
	seed, err := identity.GenerateSeed()
	if err != nil {
		t.Fatalf("GenerateSeed: %v", err)
	}
	kp, err := identity.DeriveKeypair(seed)
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}
	h, err := p2p.NewHost(kp.Libp2pPriv, 0)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	t.Cleanup(func() { h.Close() })

	did := identity.Did(kp.Public())
	resolver[did] = kp.Public()

	tr := gossip.NewTransport(h)
	eng := NewEngine(tr, did, kp, resolver)
	t.Cleanup(eng.Close)

	addrs := h.Addrs()
	if len(addrs) == 0 {
		t.Fatal("expected at least one listen address")
	}
	return &node{
		transport: tr,
		engine:    eng,
		did:       did,
		addr:      fmt.Sprintf("%s/p2p/%s", addrs[0], h.ID()),
	}
}

func TestAnnounceTriggersSyncRequestAndResponse(t *testing.T) {
	resolver := MapKeyResolver{}
	a := mustNode(t, resolver)
	b := mustNode(t, resolver)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := a.transport.Connect(ctx, b.addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	var realmID, realmKey [32]byte
	realmID[0] = 0x7

	seeded := NewOpaqueLog()
	seeded.ApplyChanges([]byte("hello from a"))
	a.engine.JoinRealm(realmID, envelope.RealmKey(realmKey), seeded)

	empty := NewOpaqueLog()
	b.engine.JoinRealm(realmID, envelope.RealmKey(realmKey), empty)

	time.Sleep(150 * time.Millisecond)
	if err := a.engine.announce(realmID); err != nil {
		t.Fatalf("announce: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !empty.IsEmpty() {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if empty.IsEmpty() {
		t.Fatal("expected b's document to be populated via SyncRequest/SyncResponse")
	}
	if string(empty.blocks[0]) != "hello from a" {
		t.Fatalf("got %q", empty.blocks[0])
	}
}

func TestChangesPropagateAndReannounce(t *testing.T) {
	resolver := MapKeyResolver{}
	a := mustNode(t, resolver)
	b := mustNode(t, resolver)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := a.transport.Connect(ctx, b.addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	var realmID, realmKey [32]byte
	realmID[0] = 0x9

	docA := NewOpaqueLog()
	docA.ApplyChanges([]byte("first"))
	a.engine.JoinRealm(realmID, envelope.RealmKey(realmKey), docA)

	docB := NewOpaqueLog()
	b.engine.JoinRealm(realmID, envelope.RealmKey(realmKey), docB)

	time.Sleep(150 * time.Millisecond)
	if err := a.engine.send(realmID, a.engine.realms[realmID], envelope.Changes(realmID, []byte("second"))); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(docB.blocks) > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if len(docB.blocks) == 0 {
		t.Fatal("expected b to apply the Changes delta")
	}
	if string(docB.blocks[0]) != "second" {
		t.Fatalf("got %q", docB.blocks[0])
	}
}

func TestOpaqueLogReplayIsIdempotent(t *testing.T) {
	l := NewOpaqueLog()
	h1, _ := l.ApplyChanges([]byte("x"))
	h2, _ := l.ApplyChanges([]byte("x"))
	if !headsEqual(h1, h2) {
		t.Fatal("expected replaying the same block to leave heads unchanged")
	}
	if len(l.blocks) != 1 {
		t.Fatalf("expected dedup, got %d blocks", len(l.blocks))
	}
}

func TestOpaqueLogSnapshotRoundTrip(t *testing.T) {
	l := NewOpaqueLog()
	l.ApplyChanges([]byte("a"))
	l.ApplyChanges([]byte("bb"))

	restored := NewOpaqueLog()
	if err := restored.LoadSnapshot(l.Snapshot()); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if !headsEqual(l.Heads(), restored.Heads()) {
		t.Fatal("expected restored heads to match original")
	}
}

func TestHasHeadsEmptyAlwaysMatches(t *testing.T) {
	l := NewOpaqueLog()
	if !l.HasHeads(nil) {
		t.Fatal("expected empty heads request to always match")
	}
	if l.HasHeads([][]byte{{1, 2, 3}}) {
		t.Fatal("expected empty document not to claim an arbitrary head")
	}
}
