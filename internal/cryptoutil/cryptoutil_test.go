package cryptoutil

import (
	"bytes"
	"testing"
)

func TestAEADRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, KeySize)
	nonce, err := RandomNonce()
	if err != nil {
		t.Fatalf("RandomNonce: %v", err)
	}
	plaintext := []byte("hello syncengine")

	ciphertext, err := AEADEncrypt(key, nonce[:], plaintext)
	if err != nil {
		t.Fatalf("AEADEncrypt: %v", err)
	}
	got, err := AEADDecrypt(key, nonce[:], ciphertext)
	if err != nil {
		t.Fatalf("AEADDecrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, plaintext)
	}
}

func TestAEADTamperFails(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, KeySize)
	nonce, _ := RandomNonce()
	ciphertext, err := AEADEncrypt(key, nonce[:], []byte("payload"))
	if err != nil {
		t.Fatalf("AEADEncrypt: %v", err)
	}
	ciphertext[0] ^= 0xff
	if _, err := AEADDecrypt(key, nonce[:], ciphertext); err == nil {
		t.Fatalf("expected decryption failure on tampered ciphertext")
	}
}

func TestHKDFSHA256Deterministic(t *testing.T) {
	ikm := []byte("shared-secret")
	info := []byte("indra-key-exchange-v1")
	a, err := HKDFSHA256(ikm, nil, info)
	if err != nil {
		t.Fatalf("HKDFSHA256: %v", err)
	}
	b, err := HKDFSHA256(ikm, nil, info)
	if err != nil {
		t.Fatalf("HKDFSHA256: %v", err)
	}
	if a != b {
		t.Fatalf("HKDF not deterministic for equal inputs")
	}
	c, err := HKDFSHA256(ikm, nil, []byte("different-info"))
	if err != nil {
		t.Fatalf("HKDFSHA256: %v", err)
	}
	if a == c {
		t.Fatalf("HKDF output did not change with different info")
	}
}

func TestBLAKE3Deterministic(t *testing.T) {
	data := []byte("content")
	if BLAKE3(data) != BLAKE3(data) {
		t.Fatalf("BLAKE3 not deterministic")
	}
	if BLAKE3(data) == BLAKE3([]byte("different")) {
		t.Fatalf("BLAKE3 collided on distinct inputs")
	}
}
