// Package envelope implements RealmCrypto's symmetric realm key and the
// SyncEnvelope encrypt-then-sign wire format (spec §4.5), plus the
// SyncMessage variants carried inside it (spec §4.7, §6). The binary
// framing (u32-length-prefixed blobs, a leading type byte) is the
// teacher's wire-format.go idiom, substituted here for the spec's
// "postcard" wire format — there is no Go postcard implementation
// anywhere in the retrieval pack.
package envelope

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

func writeBlob(w *bytes.Buffer, b []byte) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	w.Write(hdr[:])
	w.Write(b)
}

func readBlob(r *bytes.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeString(w *bytes.Buffer, s string) { writeBlob(w, []byte(s)) }

func readString(r *bytes.Reader) (string, error) {
	b, err := readBlob(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeU32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func writeBool(w *bytes.Buffer, v bool) {
	if v {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func errShort(what string) error {
	return fmt.Errorf("envelope: short read decoding %s", what)
}
