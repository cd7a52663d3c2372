package profilepin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pivaldi/syncengine/internal/blobstore"
	"github.com/pivaldi/syncengine/internal/gossip"
	"github.com/pivaldi/syncengine/internal/identity"
	"github.com/pivaldi/syncengine/internal/kvstore"
	"github.com/pivaldi/syncengine/internal/profile"
	"github.com/pivaldi/syncengine/internal/syncerr"
)

// PinEventKind tags the variant of a PinEvent.
type PinEventKind byte

const (
	PinUpdated PinEventKind = iota
	PinResponded
)

// PinEvent notifies subscribers (UI, other subsystems) that a pinned
// profile changed, mirroring contactexchange's ContactEvent pattern.
type PinEvent struct {
	Kind PinEventKind
	Did  string
}

const pinEventBuffer = 64

// Service wires a PinStore, MessageHandler, and gossip.Transport
// together: it broadcasts the local profile, subscribes to every pin
// interest's topic, and answers Requests on behalf of whatever it has
// pinned (spec §4.9's redundancy scheme).
type Service struct {
	ourDid   string
	selfKp   *identity.HybridKeypair
	selfAddr string

	kv        *kvstore.Store
	store     *PinStore
	handler   *MessageHandler
	transport *gossip.Transport
	blobs     *blobstore.Store

	mu            sync.Mutex
	relationships map[string]Relationship
	cancels       map[string]context.CancelFunc

	events chan PinEvent
}

// NewService subscribes to ourDid's own topic (to answer requests
// about ourselves) and returns a ready-to-use Service. selfAddr is the
// multiaddr advertised in avatar tickets this node issues.
func NewService(ourDid string, selfKp *identity.HybridKeypair, selfAddr string, kv *kvstore.Store, store *PinStore, transport *gossip.Transport, blobs *blobstore.Store) *Service {
	s := &Service{
		ourDid:        ourDid,
		selfKp:        selfKp,
		selfAddr:      selfAddr,
		kv:            kv,
		store:         store,
		handler:       NewMessageHandler(ourDid),
		transport:     transport,
		blobs:         blobs,
		relationships: make(map[string]Relationship),
		cancels:       make(map[string]context.CancelFunc),
		events:        make(chan PinEvent, pinEventBuffer),
	}
	s.relationships[ourDid] = Relationship{Kind: RelationOwn}
	s.watch(ourDid)
	return s
}

// Events returns the channel of pin update notifications.
func (s *Service) Events() <-chan PinEvent { return s.events }

func (s *Service) emit(ev PinEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

// watch subscribes to did's profile topic and starts its receive loop,
// unless already watching.
func (s *Service) watch(did string) {
	s.mu.Lock()
	if _, ok := s.cancels[did]; ok {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancels[did] = cancel
	s.mu.Unlock()

	topic := DeriveProfileTopic(did)
	ch := s.transport.Subscribe(topic)
	go s.receiveLoop(ctx, topic, ch)
}

// unwatch stops receiving did's profile topic.
func (s *Service) unwatch(did string) {
	s.mu.Lock()
	cancel, ok := s.cancels[did]
	delete(s.cancels, did)
	s.mu.Unlock()
	if ok {
		cancel()
		s.transport.Unsubscribe(DeriveProfileTopic(did))
	}
}

func (s *Service) receiveLoop(ctx context.Context, topic [32]byte, ch <-chan gossip.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			parsed, err := Decode(msg.Data)
			if err != nil {
				continue
			}
			s.handle(ctx, topic, parsed)
		}
	}
}

func (s *Service) handle(ctx context.Context, topic [32]byte, msg ProfileGossipMessage) {
	outcome := s.handler.Process(msg)
	switch outcome.Action {
	case ActionUpdatePin:
		s.absorb(outcome.SignedProfile, outcome.AvatarTicket)
	case ActionCheckAndRespond:
		s.respond(ctx, topic, outcome.TargetDid, outcome.RequesterDid)
	case ActionPinResponse:
		s.absorb(outcome.SignedProfile, outcome.AvatarTicket)
	}
}

// relationshipFor returns the tracked relationship for did, defaulting
// to Manual for a profile we pinned without an explicit AddContact
// (e.g. a one-off RequestProfile lookup).
func (s *Service) relationshipFor(did string) Relationship {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.relationships[did]; ok {
		return r
	}
	return Relationship{Kind: RelationManual}
}

// saveProfileRecord persists the raw signed profile to the general
// `profiles` bucket (spec §4.11), independent of whether did ends up
// surviving pin eviction — the pin cache is bounded, this record is
// the durable record of "the last profile we verified for did".
func (s *Service) saveProfileRecord(signed profile.SignedProfile) error {
	data, err := json.Marshal(signed)
	if err != nil {
		return fmt.Errorf("%w: marshal profile record: %v", syncerr.ErrStorage, err)
	}
	return s.kv.Put(kvstore.BucketProfiles, signed.Did(), data)
}

func (s *Service) absorb(signed profile.SignedProfile, avatarTicket string) {
	if err := s.saveProfileRecord(signed); err != nil {
		return
	}
	did := signed.Did()
	var avatarHash string
	var avatarSize int
	if avatarTicket != "" {
		if t, err := blobstore.DecodeTicket(avatarTicket); err == nil {
			avatarHash = t.Digest.String()
			avatarSize = t.Size
		}
	}
	now := time.Now().Unix()
	pinnedAt := now
	if existing, ok := s.store.Get(did); ok {
		pinnedAt = existing.PinnedAt
	}
	pin := ProfilePin{
		Did:           did,
		SignedProfile: signed,
		PinnedAt:      pinnedAt,
		Relationship:  s.relationshipFor(did),
		AvatarHash:    avatarHash,
		AvatarSize:    avatarSize,
		LastUpdated:   now,
	}
	if err := s.store.Put(pin); err != nil {
		return
	}
	s.emit(PinEvent{Kind: PinUpdated, Did: did})
}

func (s *Service) respond(ctx context.Context, topic [32]byte, targetDid, requesterDid string) {
	pin, ok := s.store.Get(targetDid)
	if !ok {
		return
	}
	var ticket string
	if pin.AvatarHash != "" {
		if d, err := blobstore.ParseDigest(pin.AvatarHash); err == nil {
			if t, err := s.blobs.CreateTicket(d, s.selfAddr); err == nil {
				ticket = t.Encode()
			}
		}
	}
	resp := Response(pin.SignedProfile, true, ticket, requesterDid)
	_ = s.transport.Broadcast(ctx, topic, resp.Encode())
	s.emit(PinEvent{Kind: PinResponded, Did: targetDid})
}

// UpdateOwnProfile signs up, pins it locally with RelationOwn, and
// announces it on our own profile topic.
func (s *Service) UpdateOwnProfile(ctx context.Context, up profile.UserProfile) error {
	signed, err := profile.Sign(up, s.selfKp)
	if err != nil {
		return err
	}
	var ticket string
	if up.AvatarBlobID != "" {
		if d, err := blobstore.ParseDigest(up.AvatarBlobID); err == nil {
			if t, err := s.blobs.CreateTicket(d, s.selfAddr); err == nil {
				ticket = t.Encode()
			}
		}
	}
	s.absorb(signed, ticket)
	msg := Announce(signed, ticket)
	return s.transport.Broadcast(ctx, DeriveProfileTopic(s.ourDid), msg.Encode())
}

// AddContact starts pinning did's profile with the given relationship
// and watches its topic for announcements, requests, and responses.
func (s *Service) AddContact(did string, rel Relationship) {
	s.mu.Lock()
	s.relationships[did] = rel
	s.mu.Unlock()
	s.handler.AddInterest(did)
	s.watch(did)
}

// RemoveContact stops pinning did and unwatches its topic.
func (s *Service) RemoveContact(did string) error {
	s.handler.RemoveInterest(did)
	s.unwatch(did)
	s.mu.Lock()
	delete(s.relationships, did)
	s.mu.Unlock()
	return s.store.Delete(did)
}

// RequestProfile broadcasts a one-off request for targetDid's profile
// on its topic; any pinner (including targetDid itself) may answer.
func (s *Service) RequestProfile(ctx context.Context, targetDid string) error {
	s.watch(targetDid)
	req := Request(targetDid, s.ourDid)
	return s.transport.Broadcast(ctx, DeriveProfileTopic(targetDid), req.Encode())
}
