package envelope

import (
	"bytes"
	"fmt"
)

// SyncMessage variant tags (spec §4.7).
const (
	MsgAnnounce     byte = 1
	MsgSyncRequest  byte = 2
	MsgSyncResponse byte = 3
	MsgChanges      byte = 4
)

// SyncMessage is the tagged union of realm-sync payloads carried inside
// a SyncEnvelope. Exactly one of the typed fields is meaningful,
// selected by Type.
type SyncMessage struct {
	Type byte

	RealmID    [32]byte
	Heads      [][]byte // Announce
	SenderAddr string   // Announce, optional ("" means absent)
	HasAddr    bool

	Document []byte // SyncResponse

	Data []byte // Changes
}

// Announce builds an Announce variant. addr is included only when
// hasAddr is true; syncproto's engine always passes hasAddr false.
func Announce(realmID [32]byte, heads [][]byte, addr string, hasAddr bool) SyncMessage {
	return SyncMessage{Type: MsgAnnounce, RealmID: realmID, Heads: heads, SenderAddr: addr, HasAddr: hasAddr}
}

func SyncRequest(realmID [32]byte) SyncMessage {
	return SyncMessage{Type: MsgSyncRequest, RealmID: realmID}
}

func SyncResponse(realmID [32]byte, document []byte) SyncMessage {
	return SyncMessage{Type: MsgSyncResponse, RealmID: realmID, Document: document}
}

func Changes(realmID [32]byte, data []byte) SyncMessage {
	return SyncMessage{Type: MsgChanges, RealmID: realmID, Data: data}
}

// Encode serializes m: a one-byte variant tag followed by fields in
// declaration order, matching the postcard-semantics layout spec §6
// describes (any framing both ends agree on).
func (m SyncMessage) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.Type)
	buf.Write(m.RealmID[:])
	switch m.Type {
	case MsgAnnounce:
		writeU32(&buf, uint32(len(m.Heads)))
		for _, h := range m.Heads {
			writeBlob(&buf, h)
		}
		writeBool(&buf, m.HasAddr)
		if m.HasAddr {
			writeString(&buf, m.SenderAddr)
		}
	case MsgSyncRequest:
		// no further fields
	case MsgSyncResponse:
		writeBlob(&buf, m.Document)
	case MsgChanges:
		writeBlob(&buf, m.Data)
	}
	return buf.Bytes()
}

// DecodeSyncMessage parses the Encode wire format.
func DecodeSyncMessage(data []byte) (SyncMessage, error) {
	r := bytes.NewReader(data)
	typ, err := r.ReadByte()
	if err != nil {
		return SyncMessage{}, errShort("type")
	}
	var realmID [32]byte
	if _, err := r.Read(realmID[:]); err != nil {
		return SyncMessage{}, errShort("realm id")
	}
	m := SyncMessage{Type: typ, RealmID: realmID}
	switch typ {
	case MsgAnnounce:
		count, err := readU32(r)
		if err != nil {
			return SyncMessage{}, errShort("heads count")
		}
		heads := make([][]byte, 0, count)
		for i := uint32(0); i < count; i++ {
			h, err := readBlob(r)
			if err != nil {
				return SyncMessage{}, errShort("head")
			}
			heads = append(heads, h)
		}
		m.Heads = heads
		hasAddr, err := readBool(r)
		if err != nil {
			return SyncMessage{}, errShort("has_addr")
		}
		m.HasAddr = hasAddr
		if hasAddr {
			addr, err := readString(r)
			if err != nil {
				return SyncMessage{}, errShort("sender_addr")
			}
			m.SenderAddr = addr
		}
	case MsgSyncRequest:
	case MsgSyncResponse:
		doc, err := readBlob(r)
		if err != nil {
			return SyncMessage{}, errShort("document")
		}
		m.Document = doc
	case MsgChanges:
		data, err := readBlob(r)
		if err != nil {
			return SyncMessage{}, errShort("changes data")
		}
		m.Data = data
	default:
		return SyncMessage{}, fmt.Errorf("envelope: unknown sync message type %d", typ)
	}
	return m, nil
}
