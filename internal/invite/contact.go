package invite

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"lukechampine.com/blake3"

	"github.com/pivaldi/syncengine/internal/syncerr"
)

// ContactPrefix marks the textual encoding of a ContactInvite.
const ContactPrefix = "sync-contact:"

// ContactInvite is the out-of-band handshake starter for the contact
// exchange protocol (spec §4.8): it carries the inviter's DID, hybrid
// public key material, and a dedicated gossip address so the recipient
// can reach them without first being a realm co-member.
type ContactInvite struct {
	InviterDid      string
	InviterPubBytes []byte // identity.HybridPublicKey.CanonicalBytes()
	InviterAddr     string // libp2p multiaddr
	Message         string // optional human-readable greeting
}

func (c ContactInvite) encodeBinary() []byte {
	var buf bytes.Buffer
	writeString(&buf, c.InviterDid)
	writeBlob(&buf, c.InviterPubBytes)
	writeString(&buf, c.InviterAddr)
	writeString(&buf, c.Message)
	return buf.Bytes()
}

// Encode renders c as a ContactPrefix-prefixed base58 string.
func (c ContactInvite) Encode() string {
	return ContactPrefix + base58.Encode(c.encodeBinary())
}

// ID is the invite_id ContactExchange tracks a generated invite by
// (spec §4.8): the first 16 bytes of the BLAKE3 hash of c's canonical
// encoding, so issuer and recipient derive the same identifier without
// it needing to travel as a separate wire field.
func (c ContactInvite) ID() [16]byte {
	digest := blake3.Sum256(c.encodeBinary())
	var id [16]byte
	copy(id[:], digest[:16])
	return id
}

// DecodeContact parses the Encode format.
func DecodeContact(s string) (ContactInvite, error) {
	data, ok := strings.CutPrefix(s, ContactPrefix)
	if !ok {
		return ContactInvite{}, fmt.Errorf("%w: invalid contact invite prefix", syncerr.ErrInvalidInvite)
	}
	raw, err := base58.Decode(data)
	if err != nil {
		return ContactInvite{}, fmt.Errorf("%w: invalid base58: %v", syncerr.ErrInvalidInvite, err)
	}
	r := bytes.NewReader(raw)
	did, err := readString(r)
	if err != nil {
		return ContactInvite{}, fmt.Errorf("%w: %v", syncerr.ErrInvalidInvite, err)
	}
	pub, err := readBlob(r)
	if err != nil {
		return ContactInvite{}, fmt.Errorf("%w: %v", syncerr.ErrInvalidInvite, err)
	}
	addr, err := readString(r)
	if err != nil {
		return ContactInvite{}, fmt.Errorf("%w: %v", syncerr.ErrInvalidInvite, err)
	}
	msg, err := readString(r)
	if err != nil {
		return ContactInvite{}, fmt.Errorf("%w: %v", syncerr.ErrInvalidInvite, err)
	}
	return ContactInvite{InviterDid: did, InviterPubBytes: pub, InviterAddr: addr, Message: msg}, nil
}
