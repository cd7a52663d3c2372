// Package sealedbox implements per-recipient hybrid-KEM content-key
// wrapping (spec §4.3), grounded on
// original_source/crates/syncengine-core/src/profile/sealed.rs: every
// recipient independently recovers the content key via BOTH an X25519
// Diffie-Hellman exchange and an ML-KEM-768 encapsulation; the content
// key is only accepted if the two derivations agree byte-for-byte. An
// attacker must break both primitives simultaneously on the same
// session to recover the key.
package sealedbox

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/pivaldi/syncengine/internal/cryptoutil"
	"github.com/pivaldi/syncengine/internal/identity"
	"github.com/pivaldi/syncengine/internal/syncerr"
)

// hkdfInfo is the domain separation prefix for every key derived in this package.
const hkdfInfo = "indra-key-exchange-v1"

// SealedKey is the per-recipient wrapped content key (spec §3).
type SealedKey struct {
	Recipient         string // Did
	X25519EphPub      [32]byte
	X25519WrappedKey  []byte
	MLKEMCiphertext   []byte
	MLKEMWrappedKey   []byte
}

// SealedBox carries a payload encrypted once under a random content key,
// plus one SealedKey per recipient able to recover that key (spec §3).
type SealedBox struct {
	SealedKeys []SealedKey
	Nonce      [cryptoutil.NonceSize]byte
	Ciphertext []byte
}

// sealForRecipient produces one SealedKey following spec §4.3 steps 1-8.
func sealForRecipient(contentKey [32]byte, recipientDid string, recipientPub identity.HybridPublicKey) (SealedKey, error) {
	var ephPriv [32]byte
	ephPrivSlice, err := cryptoutil.RandomBytes(32)
	if err != nil {
		return SealedKey{}, err
	}
	copy(ephPriv[:], ephPrivSlice)
	var ephPub [32]byte
	curve25519.ScalarBaseMult(&ephPub, &ephPriv)

	var ssX [32]byte
	curve25519.ScalarMult(&ssX, &ephPriv, &recipientPub.X25519Pub)
	kX, err := cryptoutil.HKDFSHA256(ssX[:], nil, []byte(hkdfInfo+"x25519"))
	if err != nil {
		return SealedKey{}, err
	}
	nonceX, err := cryptoutil.RandomNonce()
	if err != nil {
		return SealedKey{}, err
	}
	cX, err := cryptoutil.AEADEncrypt(kX[:], nonceX[:], contentKey[:])
	if err != nil {
		return SealedKey{}, err
	}

	ctM, ssM, err := recipientPub.MLKEMPub.Scheme().Encapsulate(recipientPub.MLKEMPub)
	if err != nil {
		return SealedKey{}, fmt.Errorf("%w: mlkem768 encapsulate: %v", syncerr.ErrCrypto, err)
	}
	kM, err := cryptoutil.HKDFSHA256(ssM, nil, []byte(hkdfInfo+"mlkem"))
	if err != nil {
		return SealedKey{}, err
	}
	nonceM, err := cryptoutil.RandomNonce()
	if err != nil {
		return SealedKey{}, err
	}
	cM, err := cryptoutil.AEADEncrypt(kM[:], nonceM[:], contentKey[:])
	if err != nil {
		return SealedKey{}, err
	}

	return SealedKey{
		Recipient:        recipientDid,
		X25519EphPub:     ephPub,
		X25519WrappedKey: append(nonceX[:], cX...),
		MLKEMCiphertext:  ctM,
		MLKEMWrappedKey:  append(nonceM[:], cM...),
	}, nil
}

// unseal recovers the content key using the recipient's private bundle.
// Both component decryptions must succeed AND agree, or unsealing fails
// with ErrCrypto — this is the package's defining security property.
func (sk SealedKey) unseal(recipientDid string, kp *identity.HybridKeypair) ([32]byte, error) {
	var zero [32]byte
	if sk.Recipient != recipientDid {
		return zero, fmt.Errorf("%w: sealed key not addressed to this recipient", syncerr.ErrCrypto)
	}
	if len(sk.X25519WrappedKey) < cryptoutil.NonceSize || len(sk.MLKEMWrappedKey) < cryptoutil.NonceSize {
		return zero, fmt.Errorf("%w: malformed sealed key", syncerr.ErrCrypto)
	}

	var ssX [32]byte
	curve25519.ScalarMult(&ssX, &kp.X25519Priv, &sk.X25519EphPub)
	kX, err := cryptoutil.HKDFSHA256(ssX[:], nil, []byte(hkdfInfo+"x25519"))
	if err != nil {
		return zero, err
	}
	xKey, err := cryptoutil.AEADDecrypt(kX[:], sk.X25519WrappedKey[:cryptoutil.NonceSize], sk.X25519WrappedKey[cryptoutil.NonceSize:])
	if err != nil {
		return zero, err
	}
	if len(xKey) != 32 {
		return zero, fmt.Errorf("%w: x25519-decrypted key has wrong length", syncerr.ErrCrypto)
	}

	ssM, err := kp.MLKEMPriv.Scheme().Decapsulate(kp.MLKEMPriv, sk.MLKEMCiphertext)
	if err != nil {
		return zero, fmt.Errorf("%w: mlkem768 decapsulate: %v", syncerr.ErrCrypto, err)
	}
	kM, err := cryptoutil.HKDFSHA256(ssM, nil, []byte(hkdfInfo+"mlkem"))
	if err != nil {
		return zero, err
	}
	mKey, err := cryptoutil.AEADDecrypt(kM[:], sk.MLKEMWrappedKey[:cryptoutil.NonceSize], sk.MLKEMWrappedKey[cryptoutil.NonceSize:])
	if err != nil {
		return zero, err
	}
	if len(mKey) != 32 {
		return zero, fmt.Errorf("%w: mlkem-decrypted key has wrong length", syncerr.ErrCrypto)
	}

	if subtle.ConstantTimeCompare(xKey, mKey) != 1 {
		return zero, fmt.Errorf("%w: X25519/ML-KEM mismatch — potential attack", syncerr.ErrCrypto)
	}

	var contentKey [32]byte
	copy(contentKey[:], xKey)
	return contentKey, nil
}

// Seal encrypts plaintext under a fresh content key wrapped for every
// recipient. Zero recipients is an error (spec §4.3).
func Seal(plaintext []byte, recipients map[string]identity.HybridPublicKey) (*SealedBox, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: cannot seal to zero recipients", syncerr.ErrCrypto)
	}

	contentKeyBytes, err := cryptoutil.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	var contentKey [32]byte
	copy(contentKey[:], contentKeyBytes)

	sealedKeys := make([]SealedKey, 0, len(recipients))
	for did, pub := range recipients {
		sk, err := sealForRecipient(contentKey, did, pub)
		if err != nil {
			return nil, err
		}
		sealedKeys = append(sealedKeys, sk)
	}

	nonce, err := cryptoutil.RandomNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, err := cryptoutil.AEADEncrypt(contentKey[:], nonce[:], plaintext)
	if err != nil {
		return nil, err
	}

	return &SealedBox{SealedKeys: sealedKeys, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Open finds the SealedKey addressed to recipientDid, unseals the
// content key, and decrypts the payload.
func (b *SealedBox) Open(recipientDid string, kp *identity.HybridKeypair) ([]byte, error) {
	for _, sk := range b.SealedKeys {
		if sk.Recipient != recipientDid {
			continue
		}
		contentKey, err := sk.unseal(recipientDid, kp)
		if err != nil {
			return nil, err
		}
		return cryptoutil.AEADDecrypt(contentKey[:], b.Nonce[:], b.Ciphertext)
	}
	return nil, fmt.Errorf("%w: no sealed key for this recipient", syncerr.ErrCrypto)
}

// IsAddressedTo reports whether did has a SealedKey in this box.
func (b *SealedBox) IsAddressedTo(did string) bool {
	for _, sk := range b.SealedKeys {
		if sk.Recipient == did {
			return true
		}
	}
	return false
}

// Recipients returns every recipient DID this box is addressed to.
func (b *SealedBox) Recipients() []string {
	out := make([]string, len(b.SealedKeys))
	for i, sk := range b.SealedKeys {
		out[i] = sk.Recipient
	}
	return out
}

// CombineSecrets derives the shared contact_key used by ContactExchange
// (spec §4.8 step 5): a single HKDF over the concatenation of an X25519
// shared secret and an ML-KEM shared secret, distinct from the
// dual-independent-wrap pattern Seal/Open use above.
func CombineSecrets(x25519Secret, mlkemSecret []byte) ([32]byte, error) {
	combined := make([]byte, 0, len(x25519Secret)+len(mlkemSecret))
	combined = append(combined, x25519Secret...)
	combined = append(combined, mlkemSecret...)
	return cryptoutil.HKDFSHA256(combined, nil, []byte("sync-contact-key"))
}

// InitiateKeyExchange is the requester's half of contact-key derivation
// (spec §4.8 step 5). X25519 is a plain Diffie-Hellman and needs no
// ciphertext exchanged, but ML-KEM encapsulation does: the requester
// encapsulates to the issuer's bundle and must carry mlkemCiphertext to
// them (e.g. in ContactRequest) so the issuer can decapsulate the same
// shared secret. Reuses sealForRecipient's encapsulate call.
func InitiateKeyExchange(self *identity.HybridKeypair, peer identity.HybridPublicKey) (mlkemCiphertext []byte, key [32]byte, err error) {
	var zero [32]byte
	var ssX [32]byte
	curve25519.ScalarMult(&ssX, &self.X25519Priv, &peer.X25519Pub)

	ctM, ssM, err := peer.MLKEMPub.Scheme().Encapsulate(peer.MLKEMPub)
	if err != nil {
		return nil, zero, fmt.Errorf("%w: mlkem768 encapsulate: %v", syncerr.ErrCrypto, err)
	}
	key, err = CombineSecrets(ssX[:], ssM)
	if err != nil {
		return nil, zero, err
	}
	return ctM, key, nil
}

// RespondKeyExchange is the issuer's half: it recomputes the same X25519
// shared secret and decapsulates mlkemCiphertext to recover the same
// ML-KEM shared secret the requester encapsulated, converging on the
// identical contact_key without a second round trip.
func RespondKeyExchange(self *identity.HybridKeypair, peer identity.HybridPublicKey, mlkemCiphertext []byte) ([32]byte, error) {
	var zero [32]byte
	var ssX [32]byte
	curve25519.ScalarMult(&ssX, &self.X25519Priv, &peer.X25519Pub)

	ssM, err := self.MLKEMPriv.Scheme().Decapsulate(self.MLKEMPriv, mlkemCiphertext)
	if err != nil {
		return zero, fmt.Errorf("%w: mlkem768 decapsulate: %v", syncerr.ErrCrypto, err)
	}
	return CombineSecrets(ssX[:], ssM)
}
