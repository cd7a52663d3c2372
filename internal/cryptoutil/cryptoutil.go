// Package cryptoutil wraps the raw AEAD, KDF, and hash primitives used
// throughout syncengine behind a small, direct API. Nothing here holds
// state; every function except RandomBytes and RandomNonce (which read
// crypto/rand) is pure given its inputs.
package cryptoutil

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"lukechampine.com/blake3"

	"github.com/pivaldi/syncengine/internal/syncerr"
)

const (
	// KeySize is the byte length of every symmetric key in syncengine.
	KeySize = 32
	// NonceSize is the byte length of a ChaCha20-Poly1305 nonce.
	NonceSize = chacha20poly1305.NonceSize
)

// AEADEncrypt seals plaintext with ChaCha20-Poly1305 under key and nonce.
func AEADEncrypt(key, nonce, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead init: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce size %d", syncerr.ErrCrypto, len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// AEADDecrypt opens ciphertext sealed by AEADEncrypt. Any tag mismatch
// yields ErrCrypto, never a partial plaintext.
func AEADDecrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead init: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed: %v", syncerr.ErrCrypto, err)
	}
	return plaintext, nil
}

// HKDFSHA256 derives a 32-byte key from ikm, an optional salt, and info.
func HKDFSHA256(ikm, salt, info []byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	r := hkdf.New(newSHA256, ikm, salt, info)
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("%w: hkdf expand: %v", syncerr.ErrCrypto, err)
	}
	return out, nil
}

// BLAKE3 hashes data into a 32-byte digest.
func BLAKE3(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("random bytes: %w", err)
	}
	return b, nil
}

// RandomNonce returns a fresh 12-byte AEAD nonce. Every AEAD encryption
// in syncengine must call this and never reuse a nonce under the same key.
func RandomNonce() ([NonceSize]byte, error) {
	var n [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return n, fmt.Errorf("random nonce: %w", err)
	}
	return n, nil
}
