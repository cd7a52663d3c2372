package peerregistry

import "testing"

func testEndpoint(b byte) [32]byte {
	var id [32]byte
	id[0] = b
	return id
}

func TestPeerCreation(t *testing.T) {
	p := New(testEndpoint(1), SourceFromRealm, 1000)
	if p.Status != StatusUnknown {
		t.Fatalf("expected unknown status, got %v", p.Status)
	}
	if p.Did != "" || p.Profile != nil || p.Nickname != "" || p.ContactInfo != nil {
		t.Fatal("expected all optional fields empty on creation")
	}
	if p.LastSeen != 1000 {
		t.Fatalf("expected LastSeen=1000, got %d", p.LastSeen)
	}
}

func TestPeerIsContact(t *testing.T) {
	p := New(testEndpoint(2), SourceFromInvite, 0)
	if p.IsContact() || !p.IsDiscovered() {
		t.Fatal("expected new peer to be discovered, not a contact")
	}
	p.PromoteToContact(ContactDetails{ContactTopic: [32]byte{1}, ContactKey: [32]byte{2}})
	if !p.IsContact() || p.IsDiscovered() {
		t.Fatal("expected promoted peer to be a contact")
	}
	if p.Source != SourceFromContact {
		t.Fatalf("expected source FromContact, got %v", p.Source)
	}
}

func TestPeerDisplayName(t *testing.T) {
	p := New(testEndpoint(0xAB), SourceFromInvite, 0)
	name := p.DisplayName()
	if name[:5] != "peer_" {
		t.Fatalf("expected fallback display name, got %q", name)
	}

	p.WithNickname("Love")
	if p.DisplayName() != "Love" {
		t.Fatalf("expected nickname to take precedence, got %q", p.DisplayName())
	}

	p.WithProfile(ProfileSnapshot{DisplayName: "Love Wonderland"})
	if p.DisplayName() != "Love Wonderland" {
		t.Fatalf("expected profile name to take precedence, got %q", p.DisplayName())
	}
}

func TestPeerAddRealmDeduplicates(t *testing.T) {
	p := New(testEndpoint(3), SourceFromInvite, 0)
	r1, r2 := [32]byte{1}, [32]byte{2}
	p.AddRealm(r1)
	if len(p.SharedRealms) != 1 {
		t.Fatalf("expected 1 realm, got %d", len(p.SharedRealms))
	}
	p.AddRealm(r1)
	if len(p.SharedRealms) != 1 {
		t.Fatalf("expected no duplicate, got %d", len(p.SharedRealms))
	}
	p.AddRealm(r2)
	if len(p.SharedRealms) != 2 {
		t.Fatalf("expected 2 realms, got %d", len(p.SharedRealms))
	}
}

func TestPeerFavoriteToggle(t *testing.T) {
	p := New(testEndpoint(4), SourceFromInvite, 0)
	p.WithContactInfo(ContactDetails{ContactTopic: [32]byte{1}, ContactKey: [32]byte{2}})
	if p.IsFavorite() {
		t.Fatal("expected not favorite by default")
	}
	p.ToggleFavorite()
	if !p.IsFavorite() {
		t.Fatal("expected favorite after toggle")
	}
	p.ToggleFavorite()
	if p.IsFavorite() {
		t.Fatal("expected not favorite after second toggle")
	}
}

func TestPeerConnectionMetrics(t *testing.T) {
	p := New(testEndpoint(5), SourceFromInvite, 0)
	if p.SuccessRate() != 0 {
		t.Fatal("expected 0 success rate with no attempts")
	}
	p.RecordAttempt(100)
	if p.ConnectionAttempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", p.ConnectionAttempts)
	}
	p.RecordSuccess(101)
	if p.SuccessfulConnections != 1 || p.Status != StatusOnline || p.SuccessRate() != 1.0 {
		t.Fatalf("unexpected state after success: %+v", p)
	}
	p.RecordAttempt(200)
	p.RecordFailure()
	if p.Status != StatusOffline || p.SuccessRate() != 0.5 {
		t.Fatalf("unexpected state after failure: %+v", p)
	}
}

func TestPeerBackoffDelay(t *testing.T) {
	p := New(testEndpoint(6), SourceFromInvite, 0)
	if got := p.BackoffDelay(); got != 60 {
		t.Fatalf("expected 60s with no failures, got %d", got)
	}

	p.ConnectionAttempts = 5
	p.SuccessfulConnections = 0
	if got := p.BackoffDelay(); got != 480 {
		t.Fatalf("expected 480s (F(5)=8), got %d", got)
	}

	p.ConnectionAttempts = 20
	if got := p.BackoffDelay(); got != 3600 {
		t.Fatalf("expected cap at 3600s, got %d", got)
	}
}

func TestPeerShouldRetryNow(t *testing.T) {
	p := New(testEndpoint(7), SourceFromInvite, 0)
	if !p.ShouldRetryNow(1000) {
		t.Fatal("expected immediate retry with no prior attempt")
	}
}

func TestPeerRecentlyActive(t *testing.T) {
	p := New(testEndpoint(8), SourceFromInvite, 1000)
	if !p.IsRecentlyActive(1000) {
		t.Fatal("expected recently active right after creation")
	}
	if p.IsRecentlyActive(1000 + 600) {
		t.Fatal("expected not recently active after 10 minutes")
	}
}

func TestContactDetailsFavorite(t *testing.T) {
	cd := ContactDetails{ContactTopic: [32]byte{1}, ContactKey: [32]byte{2}, IsFavorite: true}
	if !cd.IsFavorite {
		t.Fatal("expected favorite flag set")
	}
}

func TestPeerStatusString(t *testing.T) {
	cases := map[PeerStatus]string{StatusOnline: "online", StatusOffline: "offline", StatusUnknown: "unknown"}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("status %v: got %q want %q", status, got, want)
		}
	}
}
