package profile

import (
	"encoding/json"
	"testing"

	"github.com/pivaldi/syncengine/internal/identity"
)

func mustKeypair(t *testing.T) *identity.HybridKeypair {
	t.Helper()
	seed, err := identity.GenerateSeed()
	if err != nil {
		t.Fatalf("GenerateSeed: %v", err)
	}
	kp, err := identity.DeriveKeypair(seed)
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}
	return kp
}

func TestSignAndVerify(t *testing.T) {
	kp := mustKeypair(t)
	up := UserProfile{DisplayName: "Alice", Bio: "hello", UpdatedAt: 1000}

	sp, err := Sign(up, kp)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !sp.Verify() {
		t.Fatal("expected freshly signed profile to verify")
	}
	if sp.Did() != identity.Did(kp.Public()) {
		t.Fatal("Did() should match the signer's identity")
	}
}

func TestVerifyRejectsTamperedProfile(t *testing.T) {
	kp := mustKeypair(t)
	sp, err := Sign(UserProfile{DisplayName: "Alice"}, kp)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sp.Profile.DisplayName = "Mallory"
	if sp.Verify() {
		t.Fatal("expected tampered profile to fail verification")
	}
}

func TestSignedProfileWireRoundTrip(t *testing.T) {
	kp := mustKeypair(t)
	sp, err := Sign(UserProfile{DisplayName: "Carol", Subtitle: "hi", AvatarBlobID: "cafebabe", UpdatedAt: 7}, kp)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	decoded, err := DecodeSignedProfileWire(sp.EncodeWire())
	if err != nil {
		t.Fatalf("DecodeSignedProfileWire: %v", err)
	}
	if !decoded.Verify() {
		t.Fatal("wire round-tripped signed profile should still verify")
	}
	if decoded.Profile != sp.Profile {
		t.Fatalf("got %+v, want %+v", decoded.Profile, sp.Profile)
	}
	if decoded.Did() != sp.Did() {
		t.Fatal("Did should be preserved across wire round trip")
	}
}

func TestSignedProfileJSONRoundTrip(t *testing.T) {
	kp := mustKeypair(t)
	sp, err := Sign(UserProfile{DisplayName: "Bob", AvatarBlobID: "deadbeef", UpdatedAt: 42}, kp)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	data, err := json.Marshal(sp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded SignedProfile
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.Verify() {
		t.Fatal("round-tripped signed profile should still verify")
	}
	if decoded.Profile.DisplayName != "Bob" {
		t.Fatalf("got %+v", decoded.Profile)
	}
	if decoded.Did() != sp.Did() {
		t.Fatal("Did should be preserved across round trip")
	}
}
