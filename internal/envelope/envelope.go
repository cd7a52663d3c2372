package envelope

import (
	"bytes"
	"fmt"

	"github.com/pivaldi/syncengine/internal/cryptoutil"
	"github.com/pivaldi/syncengine/internal/identity"
	"github.com/pivaldi/syncengine/internal/syncerr"
)

// SupportedVersion is the only SyncEnvelope wire version this engine accepts.
const SupportedVersion byte = 1

// RealmKey is the 32-byte symmetric key shared by every member of a realm.
type RealmKey [cryptoutil.KeySize]byte

// SyncEnvelope is the encrypt-then-sign wire wrapper around a SyncMessage
// (spec §4.5): the signature covers the ciphertext, so mesh peers without
// the realm key can still cheaply verify authorship and drop forgeries.
type SyncEnvelope struct {
	Version    byte
	Sender     string // Did
	Nonce      [cryptoutil.NonceSize]byte
	Ciphertext []byte
	Signature  identity.HybridSignature
}

// signedData builds the bytes the signature covers (spec §4.5 step 3):
// u8(version) || u32le(|sender|) || sender || u32le(|ciphertext|) || ciphertext || nonce.
//
// This layout is pinned by the spec and, like packetlog's envelope
// canonical bytes, uses little-endian lengths rather than the
// big-endian framing the rest of this package's wire encoding uses.
func signedData(version byte, sender string, ciphertext []byte, nonce [cryptoutil.NonceSize]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(version)
	writeU32LE(&buf, uint32(len(sender)))
	buf.WriteString(sender)
	writeU32LE(&buf, uint32(len(ciphertext)))
	buf.Write(ciphertext)
	buf.Write(nonce[:])
	return buf.Bytes()
}

func writeU32LE(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	buf.Write(b[:])
}

// Seal encrypts message under realmKey and signs the resulting
// ciphertext with signer (spec §4.5 Seal).
func Seal(message []byte, senderDid string, realmKey RealmKey, signer *identity.HybridKeypair) (*SyncEnvelope, error) {
	nonce, err := cryptoutil.RandomNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, err := cryptoutil.AEADEncrypt(realmKey[:], nonce[:], message)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(signedData(SupportedVersion, senderDid, ciphertext, nonce))
	if err != nil {
		return nil, err
	}
	return &SyncEnvelope{
		Version:    SupportedVersion,
		Sender:     senderDid,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Signature:  sig,
	}, nil
}

// Open verifies and decrypts env, in the order spec §4.5 Open specifies:
// version check, signature check, decryption.
func Open(env *SyncEnvelope, realmKey RealmKey, senderPub identity.HybridPublicKey) ([]byte, error) {
	if env.Version != SupportedVersion {
		return nil, fmt.Errorf("%w: version %d", syncerr.ErrEnvelopeVersionUnsupported, env.Version)
	}
	data := signedData(env.Version, env.Sender, env.Ciphertext, env.Nonce)
	if !senderPub.Verify(data, env.Signature) {
		return nil, fmt.Errorf("%w: sync envelope signature rejected", syncerr.ErrSignatureInvalid)
	}
	plaintext, err := cryptoutil.AEADDecrypt(realmKey[:], env.Nonce[:], env.Ciphertext)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Encode/Decode give SyncEnvelope a concrete wire representation for
// transport over internal/gossip, using this package's blob framing.
func (e *SyncEnvelope) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(e.Version)
	writeString(&buf, e.Sender)
	buf.Write(e.Nonce[:])
	writeBlob(&buf, e.Ciphertext)
	writeBlob(&buf, e.Signature.Ed)
	writeBlob(&buf, e.Signature.MLDSA)
	return buf.Bytes()
}

func DecodeEnvelope(data []byte) (*SyncEnvelope, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, errShort("version")
	}
	sender, err := readString(r)
	if err != nil {
		return nil, errShort("sender")
	}
	var nonce [cryptoutil.NonceSize]byte
	if _, err := r.Read(nonce[:]); err != nil {
		return nil, errShort("nonce")
	}
	ciphertext, err := readBlob(r)
	if err != nil {
		return nil, errShort("ciphertext")
	}
	ed, err := readBlob(r)
	if err != nil {
		return nil, errShort("ed signature")
	}
	mldsa, err := readBlob(r)
	if err != nil {
		return nil, errShort("mldsa signature")
	}
	return &SyncEnvelope{
		Version:    version,
		Sender:     sender,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Signature:  identity.HybridSignature{Ed: ed, MLDSA: mldsa},
	}, nil
}
