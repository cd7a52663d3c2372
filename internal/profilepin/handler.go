package profilepin

import (
	"sync"

	"github.com/pivaldi/syncengine/internal/logging"
	"github.com/pivaldi/syncengine/internal/profile"
)

// Action is the recommended response to an incoming ProfileGossipMessage,
// produced by MessageHandler.Process (spec §4.9's ProfileMessageHandler).
type Action int

const (
	// ActionIgnore means the message was not relevant or failed
	// verification.
	ActionIgnore Action = iota
	// ActionUpdatePin means an Announce from a pinned-interest peer
	// verified; the caller should update that peer's pin.
	ActionUpdatePin
	// ActionCheckAndRespond means a Request arrived for some target
	// DID; the caller should look up its pin and, if present, send a
	// Response back on the same topic.
	ActionCheckAndRespond
	// ActionPinResponse means a Response addressed to us verified; the
	// caller should update its pin of the response's target.
	ActionPinResponse
)

// Outcome pairs the recommended Action with whatever data it needs.
type Outcome struct {
	Action Action

	SignedProfile profile.SignedProfile
	AvatarTicket  string

	TargetDid    string
	RequesterDid string
}

// MessageHandler implements the profile gossip policy (spec §4.9): it
// tracks which DIDs we care about pinning and turns each incoming
// message into a recommended Outcome, leaving the actual pin
// mutation and I/O to the caller.
type MessageHandler struct {
	ourDid string
	logger logging.Logger

	mu       sync.RWMutex
	interest map[string]bool
}

// NewMessageHandler returns a handler for ourDid with no pin interests.
func NewMessageHandler(ourDid string) *MessageHandler {
	return &MessageHandler{ourDid: ourDid, logger: logging.New("profilepin"), interest: make(map[string]bool)}
}

// AddInterest marks did as a profile we want to pin (a contact or
// realm co-member).
func (h *MessageHandler) AddInterest(did string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interest[did] = true
}

// RemoveInterest stops pinning interest in did.
func (h *MessageHandler) RemoveInterest(did string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.interest, did)
}

// IsInterestedIn reports whether did is a current pin interest.
func (h *MessageHandler) IsInterestedIn(did string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.interest[did]
}

// Process implements the decision table from spec §4.9. For a Request,
// the caller is responsible for looking up TargetDid's pin and sending
// a Response; Process only decides whether the request is ours to
// answer.
func (h *MessageHandler) Process(msg ProfileGossipMessage) Outcome {
	switch msg.Kind {
	case kindAnnounce:
		signerDid := msg.SignerDid()
		if !msg.SignedProfile.Verify() {
			h.logger.Warnf("profile announce signature rejected for %s", signerDid)
			return Outcome{Action: ActionIgnore}
		}
		if !h.IsInterestedIn(signerDid) {
			return Outcome{Action: ActionIgnore}
		}
		return Outcome{Action: ActionUpdatePin, SignedProfile: msg.SignedProfile, AvatarTicket: msg.AvatarTicket}

	case kindRequest:
		if msg.RequesterDid == h.ourDid {
			return Outcome{Action: ActionIgnore}
		}
		return Outcome{Action: ActionCheckAndRespond, TargetDid: msg.TargetDid, RequesterDid: msg.RequesterDid}

	case kindResponse:
		if msg.RequesterDid != h.ourDid {
			return Outcome{Action: ActionIgnore}
		}
		if !msg.HasProfile {
			return Outcome{Action: ActionIgnore}
		}
		if !msg.SignedProfile.Verify() {
			h.logger.Warnf("profile response signature rejected for %s", msg.SignedProfile.Did())
			return Outcome{Action: ActionIgnore}
		}
		return Outcome{Action: ActionPinResponse, SignedProfile: msg.SignedProfile, AvatarTicket: msg.AvatarTicket}

	default:
		return Outcome{Action: ActionIgnore}
	}
}
