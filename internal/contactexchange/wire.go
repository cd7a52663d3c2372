package contactexchange

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pivaldi/syncengine/internal/peerregistry"
	"github.com/pivaldi/syncengine/internal/syncerr"
)

// Wire framing here is big-endian throughout: unlike internal/envelope
// and internal/packetlog's canonical bytes, the spec does not pin a
// specific byte layout for this protocol's signed data, so this
// package only needs both ends to agree.

func writeBlob(buf *bytes.Buffer, b []byte) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	buf.Write(hdr[:])
	buf.Write(b)
}

func readBlob(r *bytes.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errShort("blob length")
	}
	n := binary.BigEndian.Uint32(hdr[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errShort("blob")
	}
	return b, nil
}

func writeString(buf *bytes.Buffer, s string) { writeBlob(buf, []byte(s)) }

func readString(r *bytes.Reader) (string, error) {
	b, err := readBlob(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, errShort("bool")
	}
	return b != 0, nil
}

func writeProfile(buf *bytes.Buffer, p peerregistry.ProfileSnapshot) {
	writeString(buf, p.DisplayName)
	writeString(buf, p.Subtitle)
	writeString(buf, p.AvatarBlobID)
	writeString(buf, p.Bio)
}

func readProfile(r *bytes.Reader) (peerregistry.ProfileSnapshot, error) {
	var p peerregistry.ProfileSnapshot
	var err error
	if p.DisplayName, err = readString(r); err != nil {
		return p, err
	}
	if p.Subtitle, err = readString(r); err != nil {
		return p, err
	}
	if p.AvatarBlobID, err = readString(r); err != nil {
		return p, err
	}
	if p.Bio, err = readString(r); err != nil {
		return p, err
	}
	return p, nil
}

func errShort(what string) error {
	return fmt.Errorf("%w: truncated contact-exchange %s", syncerr.ErrInvalidInvite, what)
}

// writeFrame/readFrame length-prefix a single request or response
// message over the ALPNContactExchange stream.
func writeFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

const maxFrameSize = 1 << 20

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: read frame length: %v", syncerr.ErrGossip, err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds max %d", syncerr.ErrGossip, n, maxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: read frame payload: %v", syncerr.ErrGossip, err)
	}
	return payload, nil
}
