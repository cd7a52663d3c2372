// Package syncerr defines the sentinel error taxonomy shared by every
// syncengine subsystem, so callers can classify failures with errors.Is
// instead of matching on message text.
package syncerr

import "errors"

var (
	// ErrInvalidInvite covers malformed, expired, revoked, or wrong-version invites.
	ErrInvalidInvite = errors.New("invalid invite")
	// ErrIdentity covers signature forgery, DID mismatch, key-parse failure.
	ErrIdentity = errors.New("identity error")
	// ErrCrypto covers AEAD decryption failure, hybrid KEM mismatch, hash-chain break, HKDF misuse.
	ErrCrypto = errors.New("crypto error")
	// ErrSignatureInvalid covers envelope or packet signature rejection.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrEnvelopeVersionUnsupported covers a wire version outside the accepted set.
	ErrEnvelopeVersionUnsupported = errors.New("envelope version unsupported")
	// ErrBlob covers size-limit violation, digest mismatch, missing blob, IO failure.
	ErrBlob = errors.New("blob error")
	// ErrStorage covers KV transaction failure, serialization failure.
	ErrStorage = errors.New("storage error")
	// ErrGossip covers transport dial failure, subscribe failure, message too large.
	ErrGossip = errors.New("gossip error")
	// ErrRealmNotFound is returned for a keyed realm lookup miss.
	ErrRealmNotFound = errors.New("realm not found")
	// ErrEntryNotFound is returned for a keyed entry lookup miss when a hit was required.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrMigration covers legacy schema inconsistency.
	ErrMigration = errors.New("migration error")
	// ErrContactRevoked covers a contact request or response referencing a revoked invite.
	ErrContactRevoked = errors.New("contact invite revoked")
	// ErrProfile covers malformed or unverifiable signed-profile data.
	ErrProfile = errors.New("profile error")
)
