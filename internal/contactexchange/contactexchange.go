// Package contactexchange turns an out-of-band invite code into a
// mutual, authenticated contact with a private 1-to-1 channel (spec
// §4.8). It runs a request/response protocol over a dedicated libp2p
// stream ALPN, distinct from internal/gossip's topic broadcast, since
// the handshake is inherently point-to-point.
package contactexchange

import "github.com/pivaldi/syncengine/internal/peerregistry"

// ContactEventKind tags the variant of a ContactEvent.
type ContactEventKind byte

const (
	ContactRequestReceived ContactEventKind = iota
	ContactAccepted
	ContactDeclined
	ContactOnline
	ContactOffline
)

// ContactEvent is emitted on this package's event stream so a UI or
// other subsystem can react to contact-exchange progress without
// polling.
type ContactEvent struct {
	Kind ContactEventKind
	Did  string
}

// PendingState is the lifecycle stage of a PendingContact (spec §4.8
// steps 2-3).
type PendingState byte

const (
	// PendingOutgoing is a request this node sent, awaiting response.
	PendingOutgoing PendingState = iota
	// PendingIncoming is a request received from a peer not covered by
	// one of our generated invites, awaiting local approval.
	PendingIncoming
	// PendingApproved is an incoming request a human has approved; a
	// retried ContactRequest for the same invite auto-accepts.
	PendingApproved
	// PendingDeclined is an incoming request a human has declined.
	PendingDeclined
)

// PendingContact is the durable record of an in-flight handshake (spec
// §4.8's PendingContact), keyed in storage by invite_id.
type PendingContact struct {
	InviteID        [16]byte
	PeerDid         string
	PeerPubBytes    []byte
	PeerAddr        string
	PeerProfile     peerregistry.ProfileSnapshot
	ContactKey      [32]byte
	ContactTopic    [32]byte
	MLKEMCiphertext []byte // the ciphertext this side sent/received, replayed verbatim on retry so both sides keep deriving the same ContactKey
	State           PendingState
	CreatedAt       int64
}
