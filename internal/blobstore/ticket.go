package blobstore

import (
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/pivaldi/syncengine/internal/syncerr"
)

// ticketPrefix marks the textual encoding of a Ticket, mirroring the
// "sync-invite:"/"sync-contact:" family of textual identifiers used
// elsewhere in this engine.
const ticketPrefix = "sync-blob:"

// Ticket carries everything a peer needs to fetch a blob over
// internal/gossip's blob-transfer protocol: the digest to verify
// against, its size, and the libp2p multiaddr of a node known to hold it.
type Ticket struct {
	Digest   Digest
	Size     int
	PeerAddr string
}

// CreateTicket builds a Ticket for d, to be handed to a peer out of
// band (chat message, QR code, profile post) so they can pull the blob.
func (s *Store) CreateTicket(d Digest, peerAddr string) (Ticket, error) {
	size, ok, err := s.BlobSize(d)
	if err != nil {
		return Ticket{}, err
	}
	if !ok {
		return Ticket{}, fmt.Errorf("%w: cannot create ticket for unknown blob %s", syncerr.ErrBlob, d)
	}
	return Ticket{Digest: d, Size: size, PeerAddr: peerAddr}, nil
}

// Encode renders t as a "sync-blob:"-prefixed base58 string.
func (t Ticket) Encode() string {
	var buf []byte
	buf = append(buf, t.Digest[:]...)
	buf = append(buf, []byte(fmt.Sprintf("%d|%s", t.Size, t.PeerAddr))...)
	return ticketPrefix + base58.Encode(buf)
}

// DecodeTicket parses the Encode format.
func DecodeTicket(s string) (Ticket, error) {
	if !strings.HasPrefix(s, ticketPrefix) {
		return Ticket{}, fmt.Errorf("%w: not a blob ticket", syncerr.ErrBlob)
	}
	raw, err := base58.Decode(strings.TrimPrefix(s, ticketPrefix))
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: malformed blob ticket: %v", syncerr.ErrBlob, err)
	}
	if len(raw) < 32 {
		return Ticket{}, fmt.Errorf("%w: truncated blob ticket", syncerr.ErrBlob)
	}
	var d Digest
	copy(d[:], raw[:32])
	rest := string(raw[32:])
	parts := strings.SplitN(rest, "|", 2)
	if len(parts) != 2 {
		return Ticket{}, fmt.Errorf("%w: malformed blob ticket body", syncerr.ErrBlob)
	}
	var size int
	if _, err := fmt.Sscanf(parts[0], "%d", &size); err != nil {
		return Ticket{}, fmt.Errorf("%w: malformed blob ticket size: %v", syncerr.ErrBlob, err)
	}
	return Ticket{Digest: d, Size: size, PeerAddr: parts[1]}, nil
}

// VerifyDownload checks that downloaded bytes match the digest
// promised by the ticket, per spec §4.10's integrity requirement that
// every transferred blob is checked against its own name before being
// accepted into the local store.
func VerifyDownload(t Ticket, data []byte) error {
	if digestOf(data) != t.Digest {
		return fmt.Errorf("%w: downloaded blob does not match ticket digest", syncerr.ErrBlob)
	}
	return nil
}
