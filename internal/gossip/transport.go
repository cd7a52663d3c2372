// Package gossip is syncengine's topic transport for realm gossip and
// profile exchange, and defines the ALPN IDs that contactexchange and
// blobstore register on the host directly (spec §4.6-§4.10): one
// persistent stream per connected peer carrying
// topic-tagged frames, rather than a dedicated libp2p-pubsub mesh — the
// pack carries no go-libp2p-pubsub dependency, so subscription state
// and flood-forwarding are implemented directly atop libp2p streams,
// generalizing the teacher's per-peer connection-pool idiom from 1:1
// request/response into many-peer topic broadcast.
package gossip

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"golang.org/x/sync/errgroup"

	"github.com/pivaldi/syncengine/internal/logging"
	"github.com/pivaldi/syncengine/internal/syncerr"
)

// NeighborEventKind tags the variant of a NeighborEvent.
type NeighborEventKind byte

const (
	NeighborUp NeighborEventKind = iota
	NeighborDown
	NeighborLagged
)

// NeighborEvent reports a peer connecting, disconnecting, or a local
// subscriber falling behind on a topic (spec §4.7's gossip event feed).
type NeighborEvent struct {
	Kind  NeighborEventKind
	Peer  peer.ID
	Topic [32]byte // set only for NeighborLagged
}

// Message is one payload delivered on a locally subscribed topic,
// tagged with the peer that sent it.
type Message struct {
	Topic  [32]byte
	Sender peer.ID
	Data   []byte
}

const localSubscriberBuffer = 256

// Transport manages gossip sessions with connected peers and dispatches
// topic-tagged frames between them and local subscribers.
type Transport struct {
	host   host.Host
	alpn   protocol.ID
	logger logging.Logger

	mu       sync.RWMutex
	sessions map[peer.ID]*session
	local    map[[32]byte]chan Message // topics this node is locally subscribed to

	events chan NeighborEvent
}

// NewTransport registers the realm-gossip stream handler on h and
// returns a ready-to-use Transport. Callers typically call Connect for
// each bootstrap address afterward.
func NewTransport(h host.Host) *Transport {
	return NewTransportWithALPN(h, ALPNRealmGossip)
}

// NewTransportWithALPN is NewTransport generalized to any of this
// engine's gossip-shaped ALPNs (spec §6 requires realm-gossip,
// contact-exchange, profile-exchange, and blob-transfer all be
// advertised; profile-exchange reuses this same topic-broadcast
// machinery under its own ALPN rather than realm-gossip's, so a slow
// realm sync never blocks profile traffic or vice versa).
func NewTransportWithALPN(h host.Host, alpn protocol.ID) *Transport {
	t := &Transport{
		host:     h,
		alpn:     alpn,
		logger:   logging.New("gossip"),
		sessions: make(map[peer.ID]*session),
		local:    make(map[[32]byte]chan Message),
		events:   make(chan NeighborEvent, 64),
	}
	h.SetStreamHandler(alpn, t.handleInboundStream)
	return t
}

// Events returns the channel of neighbor up/down/lagged notifications.
func (t *Transport) Events() <-chan NeighborEvent { return t.events }

func (t *Transport) emit(ev NeighborEvent) {
	select {
	case t.events <- ev:
	default:
	}
}

// Connect dials addr (a full libp2p multiaddr including /p2p/<id>),
// opens a gossip stream, and begins reading frames from it.
func (t *Transport) Connect(ctx context.Context, addr string) (peer.ID, error) {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("%w: invalid bootstrap address %q: %v", syncerr.ErrGossip, addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return "", fmt.Errorf("%w: invalid bootstrap address %q: %v", syncerr.ErrGossip, addr, err)
	}
	if err := t.host.Connect(ctx, *info); err != nil {
		return "", fmt.Errorf("%w: connect to %s: %v", syncerr.ErrGossip, info.ID, err)
	}
	stream, err := t.host.NewStream(ctx, info.ID, t.alpn)
	if err != nil {
		return "", fmt.Errorf("%w: open gossip stream to %s: %v", syncerr.ErrGossip, info.ID, err)
	}
	t.adopt(info.ID, stream)
	return info.ID, nil
}

func (t *Transport) handleInboundStream(s network.Stream) {
	t.adopt(s.Conn().RemotePeer(), s)
}

func (t *Transport) adopt(peerID peer.ID, s network.Stream) {
	sess := newSession(peerID, s)

	t.mu.Lock()
	if existing, ok := t.sessions[peerID]; ok {
		existing.close()
	}
	t.sessions[peerID] = sess
	topics := make([][32]byte, 0, len(t.local))
	for topic := range t.local {
		topics = append(topics, topic)
	}
	t.mu.Unlock()

	t.logger.Infof("peer %s connected", peerID)
	t.emit(NeighborEvent{Kind: NeighborUp, Peer: peerID})

	for _, topic := range topics {
		_ = sess.send(frame{kind: frameSubscribe, topic: topic})
	}

	go t.readLoop(sess)
}

func (t *Transport) readLoop(sess *session) {
	defer t.dropSession(sess)
	for {
		f, err := readFrame(sess.reader)
		if err != nil {
			return
		}
		switch f.kind {
		case frameSubscribe:
			sess.setSubscribed(f.topic, true)
		case frameUnsubscribe:
			sess.setSubscribed(f.topic, false)
		case framePublish:
			t.dispatch(sess, f)
		}
	}
}

func (t *Transport) dispatch(from *session, f frame) {
	t.mu.RLock()
	localCh, locallySubscribed := t.local[f.topic]
	peers := make([]*session, 0, len(t.sessions))
	for id, s := range t.sessions {
		if id != from.peerID && s.isSubscribed(f.topic) {
			peers = append(peers, s)
		}
	}
	t.mu.RUnlock()

	if locallySubscribed {
		msg := Message{Topic: f.topic, Sender: from.peerID, Data: f.payload}
		select {
		case localCh <- msg:
		default:
			t.emit(NeighborEvent{Kind: NeighborLagged, Peer: from.peerID, Topic: f.topic})
		}
	}

	for _, s := range peers {
		go func(s *session) { _ = s.send(f) }(s)
	}
}

func (t *Transport) dropSession(sess *session) {
	t.mu.Lock()
	if t.sessions[sess.peerID] == sess {
		delete(t.sessions, sess.peerID)
	}
	t.mu.Unlock()
	sess.close()
	t.logger.Infof("peer %s disconnected", sess.peerID)
	t.emit(NeighborEvent{Kind: NeighborDown, Peer: sess.peerID})
}

// Subscribe marks this node as locally interested in topic, announces
// that interest to every currently connected peer, and returns a
// channel of messages published to it.
func (t *Transport) Subscribe(topic [32]byte) <-chan Message {
	t.mu.Lock()
	ch, ok := t.local[topic]
	if !ok {
		ch = make(chan Message, localSubscriberBuffer)
		t.local[topic] = ch
	}
	peers := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		peers = append(peers, s)
	}
	t.mu.Unlock()

	if !ok {
		for _, s := range peers {
			go func(s *session) { _ = s.send(frame{kind: frameSubscribe, topic: topic}) }(s)
		}
	}
	return ch
}

// Unsubscribe withdraws local interest in topic and announces that to
// every connected peer.
func (t *Transport) Unsubscribe(topic [32]byte) {
	t.mu.Lock()
	ch, ok := t.local[topic]
	if ok {
		delete(t.local, topic)
		close(ch)
	}
	peers := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		peers = append(peers, s)
	}
	t.mu.Unlock()

	for _, s := range peers {
		go func(s *session) { _ = s.send(frame{kind: frameUnsubscribe, topic: topic}) }(s)
	}
}

// Broadcast publishes data on topic to every currently connected peer
// that has expressed interest in it, fanning out concurrently the way
// the teacher's pool broadcast used an errgroup over its session map.
func (t *Transport) Broadcast(ctx context.Context, topic [32]byte, data []byte) error {
	t.mu.RLock()
	peers := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		if s.isSubscribed(topic) {
			peers = append(peers, s)
		}
	}
	t.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, s := range peers {
		s := s
		g.Go(func() error {
			return s.send(frame{kind: framePublish, topic: topic, payload: data})
		})
	}
	return g.Wait()
}

// PeerCount returns the number of currently connected gossip sessions.
func (t *Transport) PeerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
