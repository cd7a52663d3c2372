package packetlog

import (
	"testing"

	"github.com/pivaldi/syncengine/internal/identity"
)

func mustAuthor(t *testing.T) (*identity.HybridKeypair, string) {
	t.Helper()
	seed, err := identity.GenerateSeed()
	if err != nil {
		t.Fatalf("GenerateSeed: %v", err)
	}
	kp, err := identity.DeriveKeypair(seed)
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}
	return kp, identity.Did(kp.Public())
}

func TestAppendGenesisEntry(t *testing.T) {
	kp, did := mustAuthor(t)
	log := New(did)
	b := NewBuilder(log, kp)

	env, err := b.BuildGlobal([]byte("genesis"))
	if err != nil {
		t.Fatalf("BuildGlobal: %v", err)
	}
	if env.Sequence != 0 {
		t.Fatalf("expected sequence 0, got %d", env.Sequence)
	}
	if env.PrevHash != (Hash32{}) {
		t.Fatalf("expected zero prev_hash at genesis")
	}
	res, err := log.Append(env)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if res.Forked {
		t.Fatal("genesis append should not fork")
	}
}

func TestAppendIdempotent(t *testing.T) {
	kp, did := mustAuthor(t)
	log := New(did)
	b := NewBuilder(log, kp)
	env, _ := b.BuildGlobal([]byte("payload"))

	if _, err := log.Append(env); err != nil {
		t.Fatalf("first append: %v", err)
	}
	lenBefore := log.Len()
	res, err := log.Append(env)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if res.Forked {
		t.Fatal("re-appending the same envelope should be NoFork")
	}
	if log.Len() != lenBefore {
		t.Fatalf("idempotent append changed length: before %d after %d", lenBefore, log.Len())
	}
}

func TestChainAndFork(t *testing.T) {
	kp, did := mustAuthor(t)
	log := New(did)
	b := NewBuilder(log, kp)

	e0, err := b.BuildGlobal([]byte("e0"))
	if err != nil {
		t.Fatalf("build e0: %v", err)
	}
	if _, err := log.Append(e0); err != nil {
		t.Fatalf("append e0: %v", err)
	}

	e1, err := b.BuildGlobal([]byte("e1"))
	if err != nil {
		t.Fatalf("build e1: %v", err)
	}
	res1, err := log.Append(e1)
	if err != nil {
		t.Fatalf("append e1: %v", err)
	}
	if res1.Forked {
		t.Fatal("e1 should not fork")
	}

	// A different envelope also claiming sequence 1 with the same prev_hash.
	e1Conflict := PacketEnvelope{
		Sender:        did,
		Sequence:      1,
		PrevHash:      e0.Hash(),
		RecipientMode: RecipientGlobal,
		Payload:       []byte("conflicting e1"),
	}
	sig, err := kp.Sign(e1Conflict.CanonicalBytes())
	if err != nil {
		t.Fatalf("sign conflict: %v", err)
	}
	e1Conflict.Signature = sig

	resConflict, err := log.Append(e1Conflict)
	if err != nil {
		t.Fatalf("append conflict: %v", err)
	}
	if !resConflict.Forked {
		t.Fatal("expected conflicting append to report a fork")
	}
	if resConflict.Sequence != 1 {
		t.Fatalf("expected fork at sequence 1, got %d", resConflict.Sequence)
	}
	if !log.HasForks() {
		t.Fatal("expected HasForks() == true")
	}

	entries := log.GetRange(1, 1)
	if len(entries) != 1 || entries[0].Hash != e1.Hash() {
		t.Fatal("original entry at sequence 1 should remain unchanged")
	}
}

func TestChainBrokenWithPredecessorPresent(t *testing.T) {
	kp, did := mustAuthor(t)
	log := New(did)
	b := NewBuilder(log, kp)

	e0, _ := b.BuildGlobal([]byte("e0"))
	if _, err := log.Append(e0); err != nil {
		t.Fatalf("append e0: %v", err)
	}

	bad := PacketEnvelope{
		Sender:        did,
		Sequence:      1,
		PrevHash:      Hash32{0xff}, // wrong prev_hash
		RecipientMode: RecipientGlobal,
		Payload:       []byte("bad"),
	}
	sig, err := kp.Sign(bad.CanonicalBytes())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	bad.Signature = sig

	if _, err := log.Append(bad); err == nil {
		t.Fatal("expected chain-break error when predecessor is present and prev_hash disagrees")
	}
}

func TestGapAcceptedWhenPredecessorAbsent(t *testing.T) {
	kp, did := mustAuthor(t)
	log := New(did)

	e5 := PacketEnvelope{
		Sender:        did,
		Sequence:      5,
		PrevHash:      Hash32{0x01},
		RecipientMode: RecipientGlobal,
		Payload:       []byte("gap"),
	}
	sig, err := kp.Sign(e5.CanonicalBytes())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	e5.Signature = sig

	if _, err := log.Append(e5); err != nil {
		t.Fatalf("expected gap append to succeed, got %v", err)
	}
	gaps := log.GetGaps()
	if len(gaps) != 5 {
		t.Fatalf("expected 5 gaps (0-4), got %d", len(gaps))
	}
}

func TestWrongSenderRejected(t *testing.T) {
	kp, did := mustAuthor(t)
	log := New(did)
	b := NewBuilder(log, kp)
	env, _ := b.BuildGlobal([]byte("x"))
	env.Sender = "did:sync:someoneelse"

	if _, err := log.Append(env); err == nil {
		t.Fatal("expected error for sender mismatch")
	}
}

func TestVerifyEntry(t *testing.T) {
	kp, did := mustAuthor(t)
	log := New(did)
	b := NewBuilder(log, kp)
	env, _ := b.BuildGlobal([]byte("verify me"))
	if _, err := log.Append(env); err != nil {
		t.Fatalf("append: %v", err)
	}

	ok, err := log.VerifyEntry(0, kp.Public())
	if err != nil {
		t.Fatalf("VerifyEntry: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}
}

func TestDeleteBefore(t *testing.T) {
	kp, did := mustAuthor(t)
	log := New(did)
	b := NewBuilder(log, kp)
	for i := 0; i < 5; i++ {
		env, err := b.BuildGlobal([]byte{byte(i)})
		if err != nil {
			t.Fatalf("build %d: %v", i, err)
		}
		if _, err := log.Append(env); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	log.DeleteBefore(3)
	if log.Len() != 2 {
		t.Fatalf("expected 2 entries remaining, got %d", log.Len())
	}
}
