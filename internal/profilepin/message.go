package profilepin

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pivaldi/syncengine/internal/profile"
	"github.com/pivaldi/syncengine/internal/syncerr"
)

// messageKind tags the variant of a wire-encoded ProfileGossipMessage.
type messageKind byte

const (
	kindAnnounce messageKind = iota
	kindRequest
	kindResponse
)

// ProfileGossipMessage is one of the three messages exchanged on a
// profile topic (spec §4.9): Announce (profile update broadcast),
// Request (ask for a DID's profile), Response (reply to a request).
// Exactly one constructor below is used to build a given instance; the
// unused fields of the other variants stay zero.
type ProfileGossipMessage struct {
	Kind messageKind

	// Announce
	SignedProfile profile.SignedProfile
	AvatarTicket  string // "" if no avatar

	// Request
	TargetDid string

	// Request / Response
	RequesterDid string

	// Response
	HasProfile bool // false means "not found", distinct from a zero SignedProfile
}

// Announce builds an Announce message for a profile update.
func Announce(signed profile.SignedProfile, avatarTicket string) ProfileGossipMessage {
	return ProfileGossipMessage{Kind: kindAnnounce, SignedProfile: signed, AvatarTicket: avatarTicket}
}

// Request builds a request for targetDid's profile, from requesterDid.
func Request(targetDid, requesterDid string) ProfileGossipMessage {
	return ProfileGossipMessage{Kind: kindRequest, TargetDid: targetDid, RequesterDid: requesterDid}
}

// Response builds a reply to requesterDid. signed is the zero value
// and found is false when the responder has no pin for the target.
func Response(signed profile.SignedProfile, found bool, avatarTicket, requesterDid string) ProfileGossipMessage {
	return ProfileGossipMessage{
		Kind:          kindResponse,
		SignedProfile: signed,
		AvatarTicket:  avatarTicket,
		HasProfile:    found,
		RequesterDid:  requesterDid,
	}
}

// SignerDid returns the DID of an Announce message's signer, or "" for
// any other variant.
func (m ProfileGossipMessage) SignerDid() string {
	if m.Kind != kindAnnounce {
		return ""
	}
	return m.SignedProfile.Did()
}

// IsRelevantTo reports whether ourDid should process m at all (spec
// §4.9): announcements and requests are always worth a look, but a
// response is only meaningful to its addressed requester.
func (m ProfileGossipMessage) IsRelevantTo(ourDid string) bool {
	switch m.Kind {
	case kindAnnounce, kindRequest:
		return true
	case kindResponse:
		return m.RequesterDid == ourDid
	default:
		return false
	}
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
		return "", errShort("string length")
	}
	n := binary.BigEndian.Uint32(hdr[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", errShort("string body")
	}
	return string(b), nil
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, errShort("bool")
	}
	return b != 0, nil
}

func errShort(what string) error {
	return fmt.Errorf("%w: truncated profile gossip %s", syncerr.ErrProfile, what)
}

// Encode renders m in the same length-prefixed binary framing the
// rest of the gossip-facing protocols use.
func (m ProfileGossipMessage) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Kind))
	switch m.Kind {
	case kindAnnounce:
		writeString(&buf, string(m.SignedProfile.EncodeWire()))
		writeString(&buf, m.AvatarTicket)
	case kindRequest:
		writeString(&buf, m.TargetDid)
		writeString(&buf, m.RequesterDid)
	case kindResponse:
		writeBool(&buf, m.HasProfile)
		if m.HasProfile {
			writeString(&buf, string(m.SignedProfile.EncodeWire()))
			writeString(&buf, m.AvatarTicket)
		}
		writeString(&buf, m.RequesterDid)
	}
	return buf.Bytes()
}

// Decode parses the Encode wire format.
func Decode(data []byte) (ProfileGossipMessage, error) {
	r := bytes.NewReader(data)
	kindByte, err := r.ReadByte()
	if err != nil {
		return ProfileGossipMessage{}, errShort("kind")
	}
	var m ProfileGossipMessage
	m.Kind = messageKind(kindByte)
	switch m.Kind {
	case kindAnnounce:
		raw, err := readString(r)
		if err != nil {
			return m, err
		}
		sp, err := profile.DecodeSignedProfileWire([]byte(raw))
		if err != nil {
			return m, fmt.Errorf("%w: announce payload: %v", syncerr.ErrProfile, err)
		}
		m.SignedProfile = sp
		if m.AvatarTicket, err = readString(r); err != nil {
			return m, err
		}
	case kindRequest:
		if m.TargetDid, err = readString(r); err != nil {
			return m, err
		}
		if m.RequesterDid, err = readString(r); err != nil {
			return m, err
		}
	case kindResponse:
		if m.HasProfile, err = readBool(r); err != nil {
			return m, err
		}
		if m.HasProfile {
			raw, err := readString(r)
			if err != nil {
				return m, err
			}
			sp, err := profile.DecodeSignedProfileWire([]byte(raw))
			if err != nil {
				return m, fmt.Errorf("%w: response payload: %v", syncerr.ErrProfile, err)
			}
			m.SignedProfile = sp
			if m.AvatarTicket, err = readString(r); err != nil {
				return m, err
			}
		}
		if m.RequesterDid, err = readString(r); err != nil {
			return m, err
		}
	default:
		return m, fmt.Errorf("%w: unknown profile gossip message kind %d", syncerr.ErrProfile, kindByte)
	}
	return m, nil
}
