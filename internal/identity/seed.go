// Package identity derives and verifies the hybrid classical+post-quantum
// key bundle that identifies a syncengine peer: an Ed25519+ML-DSA-65
// signing pair backing HybridSignature, and an X25519+ML-KEM-768 KEM
// pair used by sealedbox and contact-key derivation. A peer's DID is the
// BLAKE3 digest of its public bundle, base58-encoded (see did.go).
package identity

import (
	"crypto/rand"
	"fmt"
	"os"
)

// SeedSize is the byte length of the identity seed every key in the
// bundle is deterministically derived from.
const SeedSize = 32

// GenerateSeed creates a new random 32-byte identity seed.
func GenerateSeed() ([]byte, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	return seed, nil
}

// SaveSeed writes a seed to file with 0600 permissions.
func SaveSeed(path string, seed []byte) error {
	if len(seed) != SeedSize {
		return fmt.Errorf("invalid seed size: %d", len(seed))
	}
	return os.WriteFile(path, seed, 0600)
}

// LoadSeed reads and size-validates a seed from file.
func LoadSeed(path string) ([]byte, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("invalid seed size: %d", len(seed))
	}
	return seed, nil
}
