package gossip

import (
	"bufio"
	"sync"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// session wraps one persistent stream to a remote peer, serializing
// writes the way the teacher's connection pool guarded each peer's
// outbound socket with its own mutex.
type session struct {
	peerID peer.ID
	stream network.Stream

	writeMu sync.Mutex
	writer  *bufio.Writer
	reader  *bufio.Reader

	mu   sync.Mutex
	subs map[[32]byte]bool // topics this remote peer has told us it wants
}

func newSession(peerID peer.ID, s network.Stream) *session {
	return &session{
		peerID: peerID,
		stream: s,
		writer: bufio.NewWriter(s),
		reader: bufio.NewReader(s),
		subs:   make(map[[32]byte]bool),
	}
}

func (s *session) send(f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return writeFrame(s.writer, f)
}

func (s *session) isSubscribed(topic [32]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[topic]
}

func (s *session) setSubscribed(topic [32]byte, subscribed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subscribed {
		s.subs[topic] = true
	} else {
		delete(s.subs, topic)
	}
}

func (s *session) close() {
	_ = s.stream.Close()
}
