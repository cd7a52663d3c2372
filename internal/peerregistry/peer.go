// Package peerregistry implements syncengine's unified peer record
// (spec §3): every network participant — gossip-discovered stranger,
// invite recipient, or mutual contact — is the same Peer type, keyed
// by its libp2p endpoint ID, with optional DID identity and contact
// details layered on top as they become available.
package peerregistry

import (
	"encoding/hex"
	"fmt"
)

// PeerSource records how a peer first entered the registry.
type PeerSource byte

const (
	SourceFromInvite PeerSource = iota // zero value: matches the Rust Default
	SourceFromRealm
	SourceFromContact
)

// PeerStatus is the last known connection status of a peer.
type PeerStatus byte

const (
	StatusUnknown PeerStatus = iota
	StatusOnline
	StatusOffline
)

func (s PeerStatus) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// ContactDetails holds the fields present only once two peers have
// mutually accepted each other (spec §4.8): their dedicated 1:1 gossip
// topic and shared encryption key.
type ContactDetails struct {
	ContactTopic [32]byte
	ContactKey   [32]byte
	AcceptedAt   int64
	IsFavorite   bool
}

// ProfileSnapshot is the denormalized slice of a peer's profile carried
// for display without a full profile fetch.
type ProfileSnapshot struct {
	DisplayName  string
	Subtitle     string
	AvatarBlobID string
	Bio          string
}

// Peer is the unified record for any known network participant.
// endpoint_id (here EndpointID) is the only field guaranteed present;
// everything else fills in as the peer is discovered, contacted, and
// exchanged with.
type Peer struct {
	EndpointID [32]byte

	Did      string // "" when identity is not yet verified
	Profile  *ProfileSnapshot
	Nickname string

	ContactInfo *ContactDetails

	Source       PeerSource
	SharedRealms [][32]byte
	NodeAddr     string // libp2p multiaddr, "" if unknown

	Status                PeerStatus
	LastSeen              int64
	ConnectionAttempts    uint32
	SuccessfulConnections uint32
	LastAttempt           int64
}

// New creates a peer with minimal information, mirroring Peer::new.
func New(endpointID [32]byte, source PeerSource, now int64) *Peer {
	return &Peer{
		EndpointID: endpointID,
		Source:     source,
		Status:     StatusUnknown,
		LastSeen:   now,
	}
}

// IsContact reports whether this peer has mutually-accepted contact details.
func (p *Peer) IsContact() bool { return p.ContactInfo != nil }

// IsDiscovered reports the negation of IsContact.
func (p *Peer) IsDiscovered() bool { return p.ContactInfo == nil }

// HasVerifiedIdentity reports whether a DID has been attached.
func (p *Peer) HasVerifiedIdentity() bool { return p.Did != "" }

// DisplayName resolves profile display name > nickname > a fallback
// derived from the endpoint ID, in that order.
func (p *Peer) DisplayName() string {
	if p.Profile != nil && p.Profile.DisplayName != "" {
		return p.Profile.DisplayName
	}
	if p.Nickname != "" {
		return p.Nickname
	}
	return fmt.Sprintf("peer_%s", hex.EncodeToString(p.EndpointID[:4]))
}

// WithDid sets the peer's DID and returns p for chaining.
func (p *Peer) WithDid(did string) *Peer { p.Did = did; return p }

// WithProfile sets the peer's profile snapshot.
func (p *Peer) WithProfile(profile ProfileSnapshot) *Peer { p.Profile = &profile; return p }

// WithNickname sets the peer's nickname.
func (p *Peer) WithNickname(nickname string) *Peer { p.Nickname = nickname; return p }

// WithContactInfo attaches contact details, promoting the peer's
// source to SourceFromContact.
func (p *Peer) WithContactInfo(info ContactDetails) *Peer {
	p.ContactInfo = &info
	p.Source = SourceFromContact
	return p
}

// WithNodeAddr sets the peer's last known address.
func (p *Peer) WithNodeAddr(addr string) *Peer { p.NodeAddr = addr; return p }

// WithStatus sets the peer's connection status.
func (p *Peer) WithStatus(status PeerStatus) *Peer { p.Status = status; return p }

// Touch sets LastSeen to now.
func (p *Peer) Touch(now int64) { p.LastSeen = now }

// AddRealm records realmID in SharedRealms if not already present.
func (p *Peer) AddRealm(realmID [32]byte) {
	for _, r := range p.SharedRealms {
		if r == realmID {
			return
		}
	}
	p.SharedRealms = append(p.SharedRealms, realmID)
}

// UpdateProfile replaces the peer's profile snapshot.
func (p *Peer) UpdateProfile(profile ProfileSnapshot) { p.Profile = &profile }

// SetNickname replaces the peer's nickname.
func (p *Peer) SetNickname(nickname string) { p.Nickname = nickname }

// PromoteToContact attaches contact details and sets source to SourceFromContact.
func (p *Peer) PromoteToContact(info ContactDetails) {
	p.ContactInfo = &info
	p.Source = SourceFromContact
}

// ToggleFavorite flips IsFavorite on an existing contact; a no-op on a
// non-contact peer.
func (p *Peer) ToggleFavorite() {
	if p.ContactInfo != nil {
		p.ContactInfo.IsFavorite = !p.ContactInfo.IsFavorite
	}
}

// IsFavorite reports the contact's favorite flag, false for non-contacts.
func (p *Peer) IsFavorite() bool {
	return p.ContactInfo != nil && p.ContactInfo.IsFavorite
}

// RecordAttempt increments ConnectionAttempts and stamps LastAttempt.
func (p *Peer) RecordAttempt(now int64) {
	p.ConnectionAttempts++
	p.LastAttempt = now
}

// RecordSuccess increments SuccessfulConnections, marks the peer
// online, and touches LastSeen.
func (p *Peer) RecordSuccess(now int64) {
	p.SuccessfulConnections++
	p.Status = StatusOnline
	p.Touch(now)
}

// RecordFailure marks the peer offline.
func (p *Peer) RecordFailure() { p.Status = StatusOffline }

// SuccessRate is SuccessfulConnections / ConnectionAttempts, or 0 if
// no attempts have been made.
func (p *Peer) SuccessRate() float64 {
	if p.ConnectionAttempts == 0 {
		return 0
	}
	return float64(p.SuccessfulConnections) / float64(p.ConnectionAttempts)
}

func (p *Peer) consecutiveFailures() uint32 {
	if p.ConnectionAttempts == 0 {
		return 0
	}
	if p.SuccessfulConnections >= p.ConnectionAttempts {
		return 0
	}
	return p.ConnectionAttempts - p.SuccessfulConnections
}

// fibonacci returns the nth Fibonacci number with fib(0) = fib(1) = 1,
// matching the backoff sequence: 1,1,2,3,5,8,13,21,34,55,...
func fibonacci(n uint32) uint64 {
	if n == 0 || n == 1 {
		return 1
	}
	a, b := uint64(1), uint64(1)
	for i := uint32(2); i <= n; i++ {
		next := a + b
		if next < b { // overflow guard, saturate
			next = ^uint64(0)
		}
		a, b = b, next
	}
	return b
}

// BackoffDelay returns the Fibonacci reconnect backoff in seconds for
// this peer's consecutive-failure count, capped at one hour.
func (p *Peer) BackoffDelay() uint64 {
	const baseUnit = 60
	const maxDelay = 3600
	delay := fibonacci(p.consecutiveFailures()) * baseUnit
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// ShouldRetryNow reports whether enough time has passed since the last
// attempt to retry, given BackoffDelay.
func (p *Peer) ShouldRetryNow(now int64) bool {
	if p.LastAttempt == 0 {
		return true
	}
	elapsed := now - p.LastAttempt
	if elapsed < 0 {
		elapsed = 0
	}
	return uint64(elapsed) >= p.BackoffDelay()
}

// IsRecentlyActive reports whether the peer was seen within the last
// five minutes.
func (p *Peer) IsRecentlyActive(now int64) bool {
	elapsed := now - p.LastSeen
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed < 300
}

// MarkSeen is an alias for Touch, kept for parity with contact-style callers.
func (p *Peer) MarkSeen(now int64) { p.Touch(now) }
