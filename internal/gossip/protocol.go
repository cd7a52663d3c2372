package gossip

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/protocol"
)

// ALPN protocol IDs, one per concern this engine gossips over (spec
// §4.6/§4.7/§4.9/§4.10): separate protocols keep a realm-sync stream
// from blocking on a slow blob transfer, and let a node opt out of one
// concern without losing the others.
const (
	ALPNRealmGossip     protocol.ID = "/syncengine/realm-gossip/1"
	ALPNContactExchange protocol.ID = "/syncengine/contact-exchange/1"
	ALPNProfileExchange protocol.ID = "/syncengine/profile-exchange/1"
	ALPNBlobTransfer    protocol.ID = "/syncengine/blob-transfer/1"
)

// frameKind tags a frame on a realm-gossip stream.
type frameKind byte

const (
	frameSubscribe   frameKind = 1
	frameUnsubscribe frameKind = 2
	framePublish     frameKind = 3
)

const maxFrameSize = 16 * 1024 * 1024 // 16 MiB, generous headroom over a pinned profile snapshot

// frame is one unit on the wire: a kind, the topic it concerns, and an
// optional payload (present only for framePublish).
type frame struct {
	kind    frameKind
	topic   [32]byte
	payload []byte
}

// writeFrame writes f to w: u8 kind || 32-byte topic || u32be(len) || payload.
func writeFrame(w *bufio.Writer, f frame) error {
	if err := w.WriteByte(byte(f.kind)); err != nil {
		return err
	}
	if _, err := w.Write(f.topic[:]); err != nil {
		return err
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(f.payload)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	if len(f.payload) > 0 {
		if _, err := w.Write(f.payload); err != nil {
			return err
		}
	}
	return w.Flush()
}

// readFrame reads one frame from r, per writeFrame's layout.
func readFrame(r *bufio.Reader) (frame, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return frame{}, err
	}
	var topic [32]byte
	if _, err := io.ReadFull(r, topic[:]); err != nil {
		return frame{}, fmt.Errorf("gossip: truncated frame topic: %w", err)
	}
	var lengthBytes [4]byte
	if _, err := io.ReadFull(r, lengthBytes[:]); err != nil {
		return frame{}, fmt.Errorf("gossip: truncated frame length: %w", err)
	}
	length := binary.BigEndian.Uint32(lengthBytes[:])
	if length > maxFrameSize {
		return frame{}, fmt.Errorf("gossip: frame of %d bytes exceeds max %d", length, maxFrameSize)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return frame{}, fmt.Errorf("gossip: truncated frame payload: %w", err)
		}
	}
	return frame{kind: frameKind(kindByte), topic: topic, payload: payload}, nil
}
