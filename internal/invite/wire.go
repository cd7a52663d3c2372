package invite

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Binary framing for invite tickets, grounded on the same
// length-prefixed big-endian idiom internal/envelope's wire.go uses
// for transport framing (these bytes are base58-wrapped for sharing,
// never hashed or signed, so endianness here is just a convention both
// ends must agree on).

func writeBlob(buf *bytes.Buffer, b []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(b)))
	buf.Write(length[:])
	buf.Write(b)
}

func readBlob(r *bytes.Reader) ([]byte, error) {
	var length [4]byte
	if _, err := r.Read(length[:]); err != nil {
		return nil, errShort("blob length")
	}
	n := binary.BigEndian.Uint32(length[:])
	out := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(out); err != nil {
			return nil, errShort("blob body")
		}
	}
	return out, nil
}

func writeString(buf *bytes.Buffer, s string) { writeBlob(buf, []byte(s)) }

func readString(r *bytes.Reader) (string, error) {
	b, err := readBlob(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
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

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, errShort("u32")
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeI64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func readI64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, errShort("i64")
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func errShort(what string) error {
	return fmt.Errorf("invite: truncated %s", what)
}
