package contactexchange

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"lukechampine.com/blake3"

	"github.com/pivaldi/syncengine/internal/gossip"
	"github.com/pivaldi/syncengine/internal/identity"
	"github.com/pivaldi/syncengine/internal/invite"
	"github.com/pivaldi/syncengine/internal/kvstore"
	"github.com/pivaldi/syncengine/internal/logging"
	"github.com/pivaldi/syncengine/internal/peerregistry"
	"github.com/pivaldi/syncengine/internal/sealedbox"
	"github.com/pivaldi/syncengine/internal/syncerr"
)

// Manager runs the contact exchange protocol for one local identity,
// over internal/gossip's dedicated contact-exchange stream ALPN
// (distinct from the realm-gossip broadcast topic, since this
// handshake is inherently point-to-point).
type Manager struct {
	host     host.Host
	kv       *kvstore.Store
	registry *peerregistry.Registry
	selfDid  string
	selfKp   *identity.HybridKeypair

	selfProfile func() peerregistry.ProfileSnapshot
	logger      logging.Logger

	events chan ContactEvent
}

// NewManager registers the contact-exchange stream handler on h and
// returns a ready-to-use Manager. selfProfile is called fresh on every
// request/response so a profile edited after startup is reflected.
func NewManager(h host.Host, kv *kvstore.Store, registry *peerregistry.Registry, selfDid string, selfKp *identity.HybridKeypair, selfProfile func() peerregistry.ProfileSnapshot) *Manager {
	m := &Manager{
		host:        h,
		kv:          kv,
		registry:    registry,
		selfDid:     selfDid,
		selfKp:      selfKp,
		selfProfile: selfProfile,
		logger:      logging.New("contact"),
		events:      make(chan ContactEvent, 64),
	}
	h.SetStreamHandler(gossip.ALPNContactExchange, m.handleInboundStream)
	return m
}

// Events returns the channel of contact lifecycle notifications.
func (m *Manager) Events() <-chan ContactEvent { return m.events }

func (m *Manager) emit(ev ContactEvent) {
	select {
	case m.events <- ev:
	default:
	}
}

// contactTopic computes the deterministic shared topic id for two DIDs
// (spec §4.8 step 5): BLAKE3("sync-contact" || sorted(a, b)).
func contactTopic(a, b string) [32]byte {
	pair := []string{a, b}
	sort.Strings(pair)
	h := blake3.New(32, nil)
	h.Write([]byte("sync-contact"))
	h.Write([]byte(pair[0]))
	h.Write([]byte(pair[1]))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func inviteKey(id [16]byte) string { return hex.EncodeToString(id[:]) }

// GenerateInvite creates and records a ContactInvite this node issued,
// so a future ContactRequest referencing its invite_id auto-accepts
// (spec §4.8 step 3).
func (m *Manager) GenerateInvite(nodeAddr string) (invite.ContactInvite, error) {
	ci := invite.ContactInvite{
		InviterDid:      m.selfDid,
		InviterPubBytes: m.selfKp.Public().CanonicalBytes(),
		InviterAddr:     nodeAddr,
	}
	data, err := json.Marshal(ci)
	if err != nil {
		return ci, fmt.Errorf("%w: marshal generated invite: %v", syncerr.ErrStorage, err)
	}
	if err := m.kv.Put(kvstore.BucketGeneratedInvites, inviteKey(ci.ID()), data); err != nil {
		return ci, err
	}
	return ci, nil
}

// RevokeInvite marks a previously generated invite as revoked; any
// pending or future ContactRequest against it is rejected.
func (m *Manager) RevokeInvite(id [16]byte) error {
	return m.kv.Put(kvstore.BucketRevokedInvites, inviteKey(id), []byte{1})
}

func (m *Manager) isRevoked(id [16]byte) (bool, error) {
	return m.kv.Has(kvstore.BucketRevokedInvites, inviteKey(id))
}

func (m *Manager) isGenerated(id [16]byte) (bool, error) {
	return m.kv.Has(kvstore.BucketGeneratedInvites, inviteKey(id))
}

func (m *Manager) savePending(p PendingContact) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: marshal pending contact: %v", syncerr.ErrStorage, err)
	}
	return m.kv.Put(kvstore.BucketPendingContacts, inviteKey(p.InviteID), data)
}

func (m *Manager) loadPending(id [16]byte) (PendingContact, bool, error) {
	data, err := m.kv.Get(kvstore.BucketPendingContacts, inviteKey(id))
	if err != nil {
		return PendingContact{}, false, nil
	}
	var p PendingContact
	if err := json.Unmarshal(data, &p); err != nil {
		return PendingContact{}, false, fmt.Errorf("%w: unmarshal pending contact: %v", syncerr.ErrStorage, err)
	}
	return p, true, nil
}

// RequestContact is the recipient's half of spec §4.8 step 2: decode
// the invite, connect to the issuer, send a signed ContactRequest, and
// process the ContactResponse.
func (m *Manager) RequestContact(ctx context.Context, encodedInvite, requesterAddr string) error {
	ci, err := invite.DecodeContact(encodedInvite)
	if err != nil {
		return err
	}
	issuerPub, err := identity.ParsePublicKey(ci.InviterPubBytes)
	if err != nil {
		return err
	}
	if identity.Did(issuerPub) != ci.InviterDid {
		return fmt.Errorf("%w: invite DID does not match its public key", syncerr.ErrInvalidInvite)
	}

	inviteID := ci.ID()

	// A retry of an in-flight request (spec §4.8 closing paragraph)
	// must resend the same ciphertext: ML-KEM encapsulation is
	// randomized, so re-deriving it here would hand the issuer's
	// already-approved ContactKey to nobody.
	var ctM []byte
	var contactKey [32]byte
	if existing, ok, err := m.loadPending(inviteID); err == nil && ok && existing.PeerDid == ci.InviterDid {
		ctM = existing.MLKEMCiphertext
		contactKey = existing.ContactKey
	} else {
		ctM, contactKey, err = sealedbox.InitiateKeyExchange(m.selfKp, issuerPub)
		if err != nil {
			return err
		}
	}

	req := ContactRequest{
		InviteID:          inviteID,
		RequesterPubBytes: m.selfKp.Public().CanonicalBytes(),
		RequesterProfile:  m.selfProfile(),
		RequesterAddr:     requesterAddr,
		MLKEMCiphertext:   ctM,
	}
	if err := req.Sign(m.selfKp); err != nil {
		return err
	}

	if err := m.savePending(PendingContact{
		InviteID:        req.InviteID,
		PeerDid:         ci.InviterDid,
		PeerPubBytes:    ci.InviterPubBytes,
		PeerAddr:        ci.InviterAddr,
		ContactKey:      contactKey,
		ContactTopic:    contactTopic(m.selfDid, ci.InviterDid),
		MLKEMCiphertext: ctM,
		State:           PendingOutgoing,
		CreatedAt:       time.Now().Unix(),
	}); err != nil {
		return err
	}

	resp, err := m.sendRequest(ctx, ci.InviterAddr, req)
	if err != nil {
		// Network failure leaves the pending record intact; a retry
		// reuses the same invite_id (spec §4.8 closing paragraph).
		return err
	}
	if resp.InviteID != req.InviteID {
		return fmt.Errorf("%w: response invite id mismatch", syncerr.ErrInvalidInvite)
	}
	if !resp.Verify(issuerPub) {
		return fmt.Errorf("%w: contact response signature rejected", syncerr.ErrSignatureInvalid)
	}

	if !resp.Accept {
		m.emit(ContactEvent{Kind: ContactDeclined, Did: ci.InviterDid})
		return nil
	}
	return m.materialize(ci.InviterDid, ci.InviterPubBytes, ci.InviterAddr, resp.IssuerProfile, contactKey)
}

func (m *Manager) sendRequest(ctx context.Context, addr string, req ContactRequest) (ContactResponse, error) {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return ContactResponse{}, fmt.Errorf("%w: invalid issuer address %q: %v", syncerr.ErrGossip, addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return ContactResponse{}, fmt.Errorf("%w: invalid issuer address %q: %v", syncerr.ErrGossip, addr, err)
	}
	if err := m.host.Connect(ctx, *info); err != nil {
		return ContactResponse{}, fmt.Errorf("%w: connect to %s: %v", syncerr.ErrGossip, info.ID, err)
	}
	s, err := m.host.NewStream(ctx, info.ID, gossip.ALPNContactExchange)
	if err != nil {
		return ContactResponse{}, fmt.Errorf("%w: open contact-exchange stream: %v", syncerr.ErrGossip, err)
	}
	defer s.Close()

	if err := writeFrame(s, req.encode()); err != nil {
		return ContactResponse{}, fmt.Errorf("%w: write contact request: %v", syncerr.ErrGossip, err)
	}
	respBytes, err := readFrame(s)
	if err != nil {
		return ContactResponse{}, err
	}
	return decodeContactResponse(respBytes)
}

// handleInboundStream is the issuer's side of spec §4.8 step 3.
func (m *Manager) handleInboundStream(s network.Stream) {
	defer s.Close()

	reqBytes, err := readFrame(s)
	if err != nil {
		return
	}
	req, err := decodeContactRequest(reqBytes)
	if err != nil {
		m.logger.Warnf("malformed contact request from %s: %v", s.Conn().RemotePeer(), err)
		return
	}
	requesterPub, err := identity.ParsePublicKey(req.RequesterPubBytes)
	if err != nil {
		m.logger.Warnf("invalid requester public key from %s: %v", s.Conn().RemotePeer(), err)
		return
	}
	requesterDid := identity.Did(requesterPub)
	if !req.Verify(requesterPub) {
		m.logger.Warnf("contact request signature rejected for %s", requesterDid)
		return
	}

	resp := m.acceptOrQueue(req, requesterDid, requesterPub)
	if err := resp.Sign(m.selfKp); err != nil {
		return
	}
	_ = writeFrame(s, resp.encode())
}

func (m *Manager) acceptOrQueue(req ContactRequest, requesterDid string, requesterPub identity.HybridPublicKey) ContactResponse {
	resp := ContactResponse{InviteID: req.InviteID, IssuerProfile: m.selfProfile()}

	if revoked, _ := m.isRevoked(req.InviteID); revoked {
		resp.Accept = false
		return resp
	}

	if existing, ok, _ := m.loadPending(req.InviteID); ok && existing.State == PendingApproved {
		resp.Accept = true
		_ = m.materialize(requesterDid, req.RequesterPubBytes, req.RequesterAddr, req.RequesterProfile, existing.ContactKey)
		return resp
	}
	if existing, ok, _ := m.loadPending(req.InviteID); ok && existing.State == PendingDeclined {
		resp.Accept = false
		return resp
	}

	contactKey, err := sealedbox.RespondKeyExchange(m.selfKp, requesterPub, req.MLKEMCiphertext)
	if err != nil {
		resp.Accept = false
		return resp
	}

	generated, _ := m.isGenerated(req.InviteID)
	pending := PendingContact{
		InviteID:        req.InviteID,
		PeerDid:         requesterDid,
		PeerPubBytes:    req.RequesterPubBytes,
		PeerAddr:        req.RequesterAddr,
		PeerProfile:     req.RequesterProfile,
		ContactKey:      contactKey,
		ContactTopic:    contactTopic(m.selfDid, requesterDid),
		MLKEMCiphertext: req.MLKEMCiphertext,
		CreatedAt:       time.Now().Unix(),
	}

	if generated {
		pending.State = PendingApproved
		_ = m.savePending(pending)
		resp.Accept = true
		_ = m.materialize(requesterDid, req.RequesterPubBytes, req.RequesterAddr, req.RequesterProfile, contactKey)
		return resp
	}

	pending.State = PendingIncoming
	_ = m.savePending(pending)
	m.emit(ContactEvent{Kind: ContactRequestReceived, Did: requesterDid})
	resp.Accept = false
	return resp
}

// ApproveIncoming accepts a pending incoming request a human reviewed.
// Materialization happens immediately if we still hold enough peer
// info; the requester's next retry (spec's reuse-the-invite_id
// behavior) also completes materialization on their side.
func (m *Manager) ApproveIncoming(id [16]byte) error {
	p, ok, err := m.loadPending(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no pending contact for this invite", syncerr.ErrEntryNotFound)
	}
	p.State = PendingApproved
	if err := m.savePending(p); err != nil {
		return err
	}
	return m.materialize(p.PeerDid, p.PeerPubBytes, p.PeerAddr, p.PeerProfile, p.ContactKey)
}

// DeclineIncoming rejects a pending incoming request.
func (m *Manager) DeclineIncoming(id [16]byte) error {
	p, ok, err := m.loadPending(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no pending contact for this invite", syncerr.ErrEntryNotFound)
	}
	p.State = PendingDeclined
	if err := m.savePending(p); err != nil {
		return err
	}
	m.emit(ContactEvent{Kind: ContactDeclined, Did: p.PeerDid})
	return nil
}

// materialize promotes a pending handshake into a mutual Contact and
// unified Peer (spec §4.8 step 6).
func (m *Manager) materialize(peerDid string, peerPubBytes []byte, peerAddr string, profile peerregistry.ProfileSnapshot, contactKey [32]byte) error {
	pub, err := identity.ParsePublicKey(peerPubBytes)
	if err != nil {
		return err
	}
	var endpointID [32]byte
	copy(endpointID[:], pub.EdPub)

	p, err := m.registry.Load(endpointID)
	if err != nil {
		p = peerregistry.New(endpointID, peerregistry.SourceFromContact, time.Now().Unix())
	}
	p.WithDid(peerDid).WithProfile(profile).WithNodeAddr(peerAddr)
	p.PromoteToContact(peerregistry.ContactDetails{
		ContactTopic: contactTopic(m.selfDid, peerDid),
		ContactKey:   contactKey,
		AcceptedAt:   time.Now().Unix(),
	})
	if err := m.registry.Save(p); err != nil {
		return err
	}
	m.emit(ContactEvent{Kind: ContactAccepted, Did: peerDid})
	return nil
}
