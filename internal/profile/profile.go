// Package profile implements syncengine's self-describing,
// self-signed peer profile (spec §3): the small bundle of
// display metadata a peer publishes about itself, carried canonically
// enough that any holder of the signer's public key can verify it
// without trusting whoever relayed it.
package profile

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pivaldi/syncengine/internal/identity"
)

// UserProfile is the plain display metadata a peer publishes about
// itself (spec §4.9's avatar_blob_id is a BLAKE3 hex string naming a
// blobstore entry, fetched separately over the blob ALPN).
type UserProfile struct {
	DisplayName  string
	Subtitle     string
	Bio          string
	AvatarBlobID string // "" if no avatar
	UpdatedAt    int64
}

func (p UserProfile) canonicalBytes() []byte {
	var buf bytes.Buffer
	writeString(&buf, p.DisplayName)
	writeString(&buf, p.Subtitle)
	writeString(&buf, p.Bio)
	writeString(&buf, p.AvatarBlobID)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(p.UpdatedAt))
	buf.Write(ts[:])
	return buf.Bytes()
}

// SignedProfile pairs a UserProfile with its signer's hybrid signature
// and public key (spec §3): valid iff
// `public_key.verify(canonical_bytes(profile), signature)`.
type SignedProfile struct {
	Profile   UserProfile
	Signature identity.HybridSignature
	PublicKey identity.HybridPublicKey
}

// Sign produces a SignedProfile of p under kp.
func Sign(p UserProfile, kp *identity.HybridKeypair) (SignedProfile, error) {
	sig, err := kp.Sign(p.canonicalBytes())
	if err != nil {
		return SignedProfile{}, err
	}
	return SignedProfile{Profile: p, Signature: sig, PublicKey: kp.Public()}, nil
}

// Verify reports whether sp's signature is valid over its own profile
// bytes under its own embedded public key (spec §3).
func (sp SignedProfile) Verify() bool {
	return sp.PublicKey.Verify(sp.Profile.canonicalBytes(), sp.Signature)
}

// Did returns the DID of the profile's signer.
func (sp SignedProfile) Did() string {
	return identity.Did(sp.PublicKey)
}

// signedProfileJSON is SignedProfile's storage shape: the public key
// bundle has no native JSON representation (its mldsa65/mlkem768
// fields are interfaces/structs from circl with no json tags), so it
// round-trips through identity.HybridPublicKey.CanonicalBytes/ParsePublicKey
// instead, matching internal/contactexchange's PeerPubBytes convention.
type signedProfileJSON struct {
	Profile   UserProfile
	Signature identity.HybridSignature
	PublicKey []byte
}

// MarshalJSON implements json.Marshaler for durable storage (spec §4.11's
// profiles/pinned_profiles buckets).
func (sp SignedProfile) MarshalJSON() ([]byte, error) {
	return json.Marshal(signedProfileJSON{
		Profile:   sp.Profile,
		Signature: sp.Signature,
		PublicKey: sp.PublicKey.CanonicalBytes(),
	})
}

// UnmarshalJSON implements json.Unmarshaler, the inverse of MarshalJSON.
func (sp *SignedProfile) UnmarshalJSON(data []byte) error {
	var raw signedProfileJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pub, err := identity.ParsePublicKey(raw.PublicKey)
	if err != nil {
		return fmt.Errorf("signed profile public key: %w", err)
	}
	sp.Profile = raw.Profile
	sp.Signature = raw.Signature
	sp.PublicKey = pub
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(s)))
	buf.Write(hdr[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", fmt.Errorf("truncated string length")
	}
	n := binary.BigEndian.Uint32(hdr[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("truncated string body")
	}
	return string(b), nil
}

func writeBlob(buf *bytes.Buffer, b []byte) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	buf.Write(hdr[:])
	buf.Write(b)
}

func readBlob(r *bytes.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("truncated blob length")
	}
	n := binary.BigEndian.Uint32(hdr[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("truncated blob body")
	}
	return b, nil
}

// EncodeWire renders sp in the same length-prefixed binary framing
// internal/invite and internal/contactexchange use for wire messages,
// for transport over a gossip topic (not hashed or signed as a whole,
// since the profile's own signature is what authenticates it).
func (sp SignedProfile) EncodeWire() []byte {
	var buf bytes.Buffer
	writeString(&buf, sp.Profile.DisplayName)
	writeString(&buf, sp.Profile.Subtitle)
	writeString(&buf, sp.Profile.Bio)
	writeString(&buf, sp.Profile.AvatarBlobID)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(sp.Profile.UpdatedAt))
	buf.Write(ts[:])
	writeBlob(&buf, sp.Signature.Ed)
	writeBlob(&buf, sp.Signature.MLDSA)
	writeBlob(&buf, sp.PublicKey.CanonicalBytes())
	return buf.Bytes()
}

// DecodeSignedProfileWire is the inverse of EncodeWire.
func DecodeSignedProfileWire(data []byte) (SignedProfile, error) {
	r := bytes.NewReader(data)
	var sp SignedProfile
	var err error
	if sp.Profile.DisplayName, err = readString(r); err != nil {
		return sp, err
	}
	if sp.Profile.Subtitle, err = readString(r); err != nil {
		return sp, err
	}
	if sp.Profile.Bio, err = readString(r); err != nil {
		return sp, err
	}
	if sp.Profile.AvatarBlobID, err = readString(r); err != nil {
		return sp, err
	}
	var ts [8]byte
	if _, err := io.ReadFull(r, ts[:]); err != nil {
		return sp, fmt.Errorf("truncated profile timestamp")
	}
	sp.Profile.UpdatedAt = int64(binary.BigEndian.Uint64(ts[:]))
	ed, err := readBlob(r)
	if err != nil {
		return sp, err
	}
	mldsa, err := readBlob(r)
	if err != nil {
		return sp, err
	}
	sp.Signature = identity.HybridSignature{Ed: ed, MLDSA: mldsa}
	pubBytes, err := readBlob(r)
	if err != nil {
		return sp, err
	}
	sp.PublicKey, err = identity.ParsePublicKey(pubBytes)
	if err != nil {
		return sp, fmt.Errorf("signed profile public key: %w", err)
	}
	return sp, nil
}
