package contactexchange

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pivaldi/syncengine/internal/identity"
	"github.com/pivaldi/syncengine/internal/invite"
	"github.com/pivaldi/syncengine/internal/kvstore"
	"github.com/pivaldi/syncengine/internal/p2p"
	"github.com/pivaldi/syncengine/internal/peerregistry"
)

type node struct {
	manager *Manager
	did     string
	addr    string
	kp      *identity.HybridKeypair
}

func mustNode(t *testing.T, displayName string) *node {
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

	kv, err := kvstore.Open(filepath.Join(t.TempDir(), "syncengine.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	registry := peerregistry.New(kv)

	did := identity.Did(kp.Public())
	profile := peerregistry.ProfileSnapshot{DisplayName: displayName}
	m := NewManager(h, kv, registry, did, kp, func() peerregistry.ProfileSnapshot { return profile })

	addrs := h.Addrs()
	if len(addrs) == 0 {
		t.Fatal("expected at least one listen address")
	}
	return &node{
		manager: m,
		did:     did,
		addr:    fmt.Sprintf("%s/p2p/%s", addrs[0], h.ID()),
		kp:      kp,
	}
}

func TestContactRequestAcceptedAgainstGeneratedInvite(t *testing.T) {
	issuer := mustNode(t, "Issuer")
	requester := mustNode(t, "Requester")

	ci, err := issuer.manager.GenerateInvite(issuer.addr)
	if err != nil {
		t.Fatalf("GenerateInvite: %v", err)
	}
	encoded := ci.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := requester.manager.RequestContact(ctx, encoded, requester.addr); err != nil {
		t.Fatalf("RequestContact: %v", err)
	}

	select {
	case ev := <-requester.manager.Events():
		if ev.Kind != ContactAccepted || ev.Did != issuer.did {
			t.Fatalf("unexpected event on requester: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("requester never observed ContactAccepted")
	}

	select {
	case ev := <-issuer.manager.Events():
		if ev.Kind != ContactAccepted || ev.Did != requester.did {
			t.Fatalf("unexpected event on issuer: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("issuer never observed ContactAccepted")
	}

	peer, err := requester.manager.registry.LoadByDid(issuer.did)
	if err != nil {
		t.Fatalf("requester LoadByDid: %v", err)
	}
	if peer.ContactInfo == nil {
		t.Fatal("requester peer missing contact details")
	}

	issuerPeer, err := issuer.manager.registry.LoadByDid(requester.did)
	if err != nil {
		t.Fatalf("issuer LoadByDid: %v", err)
	}
	if issuerPeer.ContactInfo == nil {
		t.Fatal("issuer peer missing contact details")
	}
	if issuerPeer.ContactInfo.ContactTopic != peer.ContactInfo.ContactTopic {
		t.Fatal("contact topics diverge between issuer and requester")
	}
	if issuerPeer.ContactInfo.ContactKey != peer.ContactInfo.ContactKey {
		t.Fatal("contact keys diverge between issuer and requester")
	}
}

// mustUnsolicitedInvite builds a ContactInvite for n without recording
// it in n's generated-invites bucket, simulating an invite shared
// through an out-of-band channel the issuer never generated via
// GenerateInvite (e.g. guessed or relayed by a third party).
func mustUnsolicitedInvite(n *node) invite.ContactInvite {
	return invite.ContactInvite{
		InviterDid:      n.did,
		InviterPubBytes: n.kp.Public().CanonicalBytes(),
		InviterAddr:     n.addr,
	}
}

func TestContactRequestWithoutInviteQueuesForApproval(t *testing.T) {
	issuer := mustNode(t, "Issuer")
	requester := mustNode(t, "Requester")

	ci := mustUnsolicitedInvite(issuer)
	encoded := ci.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := requester.manager.RequestContact(ctx, encoded, requester.addr)
	if err != nil {
		t.Fatalf("RequestContact: %v", err)
	}

	select {
	case ev := <-issuer.manager.Events():
		if ev.Kind != ContactRequestReceived || ev.Did != requester.did {
			t.Fatalf("unexpected event on issuer: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("issuer never observed ContactRequestReceived")
	}

	select {
	case ev := <-requester.manager.Events():
		if ev.Kind != ContactDeclined {
			t.Fatalf("expected requester to observe an implicit decline, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("requester never observed a response")
	}

	pending, ok, err := issuer.manager.loadPending(ci.ID())
	if err != nil {
		t.Fatalf("loadPending: %v", err)
	}
	if !ok || pending.State != PendingIncoming {
		t.Fatalf("expected PendingIncoming, got ok=%v state=%v", ok, pending.State)
	}

	if err := issuer.manager.ApproveIncoming(ci.ID()); err != nil {
		t.Fatalf("ApproveIncoming: %v", err)
	}

	select {
	case ev := <-issuer.manager.Events():
		if ev.Kind != ContactAccepted || ev.Did != requester.did {
			t.Fatalf("unexpected event after approval: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("issuer never observed ContactAccepted after approval")
	}

	if err := requester.manager.RequestContact(ctx, encoded, requester.addr); err != nil {
		t.Fatalf("retried RequestContact: %v", err)
	}

	select {
	case ev := <-requester.manager.Events():
		if ev.Kind != ContactAccepted || ev.Did != issuer.did {
			t.Fatalf("unexpected event on retried requester: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("requester never observed ContactAccepted on retry")
	}
}

func TestContactRequestSignatureRoundTrip(t *testing.T) {
	issuer := mustNode(t, "Issuer")
	requester := mustNode(t, "Requester")

	req := ContactRequest{
		InviteID:          [16]byte{1, 2, 3},
		RequesterPubBytes: requester.kp.Public().CanonicalBytes(),
		RequesterProfile:  peerregistry.ProfileSnapshot{DisplayName: "Requester"},
		RequesterAddr:     requester.addr,
		MLKEMCiphertext:   []byte("ciphertext"),
	}
	if err := req.Sign(requester.kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !req.Verify(requester.kp.Public()) {
		t.Fatal("expected valid signature to verify")
	}

	decoded, err := decodeContactRequest(req.encode())
	if err != nil {
		t.Fatalf("decodeContactRequest: %v", err)
	}
	if !decoded.Verify(requester.kp.Public()) {
		t.Fatal("decoded request failed signature verification")
	}

	resp := ContactResponse{InviteID: req.InviteID, IssuerProfile: peerregistry.ProfileSnapshot{DisplayName: "Issuer"}, Accept: true}
	if err := resp.Sign(issuer.kp); err != nil {
		t.Fatalf("Sign response: %v", err)
	}
	decodedResp, err := decodeContactResponse(resp.encode())
	if err != nil {
		t.Fatalf("decodeContactResponse: %v", err)
	}
	if !decodedResp.Verify(issuer.kp.Public()) {
		t.Fatal("decoded response failed signature verification")
	}
}
