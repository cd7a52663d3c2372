package blobstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/pivaldi/syncengine/internal/gossip"
	"github.com/pivaldi/syncengine/internal/syncerr"
)

// maxBlobFrameSize bounds a single blob-transfer frame; larger than
// internal/contactexchange's small request/response cap since blobs
// (avatars, images) can legitimately run into the megabytes.
const maxBlobFrameSize = 16 << 20

func writeFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: read frame length: %v", syncerr.ErrGossip, err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxBlobFrameSize {
		return nil, fmt.Errorf("%w: blob frame of %d bytes exceeds max %d", syncerr.ErrGossip, n, maxBlobFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: read frame body: %v", syncerr.ErrGossip, err)
	}
	return buf, nil
}

// RegisterServer installs s as the ALPNBlobTransfer handler on h: every
// inbound stream carries a single digest request and gets back either
// the blob bytes or an empty "not found" frame (spec §4.10's
// download_blob server side).
func RegisterServer(h host.Host, s *Store) {
	h.SetStreamHandler(gossip.ALPNBlobTransfer, func(stream network.Stream) {
		defer stream.Close()
		reqBytes, err := readFrame(stream)
		if err != nil || len(reqBytes) != 32 {
			return
		}
		var d Digest
		copy(d[:], reqBytes)
		data, ok, err := s.GetBytes(d)
		if err != nil || !ok {
			_ = writeFrame(stream, nil)
			return
		}
		_ = writeFrame(stream, data)
	})
}

// DownloadBlob opens a stream to ticket.PeerAddr over the blob-transfer
// ALPN, requests ticket.Digest, verifies the returned bytes against it,
// and stores them in s (spec §4.10's download_blob). A digest mismatch
// is a hard error and nothing is cached.
func (s *Store) DownloadBlob(ctx context.Context, h host.Host, ticket Ticket) (Digest, error) {
	maddr, err := multiaddr.NewMultiaddr(ticket.PeerAddr)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: invalid blob peer address %q: %v", syncerr.ErrGossip, ticket.PeerAddr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: invalid blob peer address %q: %v", syncerr.ErrGossip, ticket.PeerAddr, err)
	}
	if err := h.Connect(ctx, *info); err != nil {
		return Digest{}, fmt.Errorf("%w: connect to %s: %v", syncerr.ErrGossip, info.ID, err)
	}
	stream, err := h.NewStream(ctx, info.ID, gossip.ALPNBlobTransfer)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: open blob-transfer stream: %v", syncerr.ErrGossip, err)
	}
	defer stream.Close()

	if err := writeFrame(stream, ticket.Digest[:]); err != nil {
		return Digest{}, fmt.Errorf("%w: write blob request: %v", syncerr.ErrGossip, err)
	}
	data, err := readFrame(stream)
	if err != nil {
		return Digest{}, err
	}
	if len(data) == 0 {
		return Digest{}, fmt.Errorf("%w: peer %s does not have blob %s", syncerr.ErrBlob, info.ID, ticket.Digest)
	}
	return s.AcceptDownload(ticket, data)
}
