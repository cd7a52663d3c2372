// Package invite implements syncengine's realm invite tickets (spec
// §4.6): self-contained, shareable strings that carry everything a
// peer needs to join a realm — its gossip topic, symmetric key, and a
// set of bootstrap addresses to dial.
package invite

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/pivaldi/syncengine/internal/syncerr"
)

// InvitePrefix marks the textual encoding of a Ticket.
const InvitePrefix = "sync-invite:"

// protocolVersion is the only version this engine emits or accepts.
const protocolVersion byte = 1

// Ticket is a self-contained realm invite: gossip topic, realm key,
// and bootstrap addresses, optionally named and time/use limited.
type Ticket struct {
	Version        byte
	InviteID       uuid.UUID
	Topic          [32]byte // realm ID / gossip topic
	RealmKey       [32]byte
	BootstrapPeers []string // libp2p multiaddrs
	RealmName      string   // "" if unset
	ExpiresAt      int64    // 0 means never
	MaxUses        uint32   // 0 means unlimited
}

// New creates a ticket for realmID with a fresh random invite ID.
func New(realmID [32]byte, realmKey [32]byte, bootstrapPeers []string) Ticket {
	return Ticket{
		Version:        protocolVersion,
		InviteID:       uuid.New(),
		Topic:          realmID,
		RealmKey:       realmKey,
		BootstrapPeers: bootstrapPeers,
	}
}

// WithName sets a human-readable realm name.
func (t Ticket) WithName(name string) Ticket { t.RealmName = name; return t }

// WithExpiry sets the Unix timestamp this ticket stops being valid.
func (t Ticket) WithExpiry(expiresAt int64) Ticket { t.ExpiresAt = expiresAt; return t }

// WithMaxUses caps the number of times this ticket may be redeemed.
func (t Ticket) WithMaxUses(max uint32) Ticket { t.MaxUses = max; return t }

// IsExpired reports whether now is past ExpiresAt. A zero ExpiresAt
// never expires.
func (t Ticket) IsExpired(now int64) bool {
	return t.ExpiresAt != 0 && now > t.ExpiresAt
}

func (t Ticket) encodeBinary() []byte {
	var buf bytes.Buffer
	buf.WriteByte(t.Version)
	idBytes, _ := t.InviteID.MarshalBinary()
	buf.Write(idBytes)
	buf.Write(t.Topic[:])
	buf.Write(t.RealmKey[:])
	writeU32(&buf, uint32(len(t.BootstrapPeers)))
	for _, p := range t.BootstrapPeers {
		writeString(&buf, p)
	}
	hasName := t.RealmName != ""
	writeBool(&buf, hasName)
	if hasName {
		writeString(&buf, t.RealmName)
	}
	hasExpiry := t.ExpiresAt != 0
	writeBool(&buf, hasExpiry)
	if hasExpiry {
		writeI64(&buf, t.ExpiresAt)
	}
	hasMaxUses := t.MaxUses != 0
	writeBool(&buf, hasMaxUses)
	if hasMaxUses {
		writeU32(&buf, t.MaxUses)
	}
	return buf.Bytes()
}

// Encode renders t as an InvitePrefix-prefixed base58 string.
func (t Ticket) Encode() string {
	return InvitePrefix + base58.Encode(t.encodeBinary())
}

// Decode parses the Encode format.
func Decode(s string) (Ticket, error) {
	data, ok := strings.CutPrefix(s, InvitePrefix)
	if !ok {
		preview := s
		if len(preview) > 15 {
			preview = preview[:15]
		}
		return Ticket{}, fmt.Errorf("%w: invalid invite prefix, got %q", syncerr.ErrInvalidInvite, preview)
	}
	raw, err := base58.Decode(data)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: invalid base58: %v", syncerr.ErrInvalidInvite, err)
	}
	r := bytes.NewReader(raw)
	version, err := r.ReadByte()
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: truncated ticket", syncerr.ErrInvalidInvite)
	}
	idBytes := make([]byte, 16)
	if _, err := r.Read(idBytes); err != nil {
		return Ticket{}, fmt.Errorf("%w: truncated invite id", syncerr.ErrInvalidInvite)
	}
	inviteID, err := uuid.FromBytes(idBytes)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: malformed invite id: %v", syncerr.ErrInvalidInvite, err)
	}
	var topic, realmKey [32]byte
	if _, err := r.Read(topic[:]); err != nil {
		return Ticket{}, fmt.Errorf("%w: truncated topic", syncerr.ErrInvalidInvite)
	}
	if _, err := r.Read(realmKey[:]); err != nil {
		return Ticket{}, fmt.Errorf("%w: truncated realm key", syncerr.ErrInvalidInvite)
	}
	count, err := readU32(r)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", syncerr.ErrInvalidInvite, err)
	}
	peers := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		p, err := readString(r)
		if err != nil {
			return Ticket{}, fmt.Errorf("%w: %v", syncerr.ErrInvalidInvite, err)
		}
		peers = append(peers, p)
	}
	t := Ticket{Version: version, InviteID: inviteID, Topic: topic, RealmKey: realmKey, BootstrapPeers: peers}

	hasName, err := readBool(r)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", syncerr.ErrInvalidInvite, err)
	}
	if hasName {
		name, err := readString(r)
		if err != nil {
			return Ticket{}, fmt.Errorf("%w: %v", syncerr.ErrInvalidInvite, err)
		}
		t.RealmName = name
	}
	hasExpiry, err := readBool(r)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", syncerr.ErrInvalidInvite, err)
	}
	if hasExpiry {
		expires, err := readI64(r)
		if err != nil {
			return Ticket{}, fmt.Errorf("%w: %v", syncerr.ErrInvalidInvite, err)
		}
		t.ExpiresAt = expires
	}
	hasMaxUses, err := readBool(r)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", syncerr.ErrInvalidInvite, err)
	}
	if hasMaxUses {
		max, err := readU32(r)
		if err != nil {
			return Ticket{}, fmt.Errorf("%w: %v", syncerr.ErrInvalidInvite, err)
		}
		t.MaxUses = max
	}
	return t, nil
}
