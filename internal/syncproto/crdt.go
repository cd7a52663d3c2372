package syncproto

import "lukechampine.com/blake3"

// CRDT is the pluggable, opaque document a realm synchronizes (spec §3:
// "heads are never interpreted by the core; they are passed verbatim
// between peers"). This package never inspects delta or snapshot bytes;
// it only routes them per the sync contract in spec §4.7.
type CRDT interface {
	// Heads returns the document's current set of opaque head tokens.
	Heads() [][]byte
	// HasHeads reports whether the document already reflects every
	// token in heads, i.e. whether a peer announcing heads has nothing
	// we lack.
	HasHeads(heads [][]byte) bool
	// IsEmpty reports whether the document has never been written to.
	IsEmpty() bool
	// Snapshot returns the full document bytes, for SyncResponse.
	Snapshot() []byte
	// LoadSnapshot replaces the document wholesale with snapshot bytes
	// received from a SyncResponse when the local document was empty.
	LoadSnapshot(snapshot []byte) error
	// Merge folds snapshot bytes into a non-empty local document.
	Merge(snapshot []byte) error
	// ApplyChanges applies an opaque delta (a Changes payload) and
	// returns the resulting heads.
	ApplyChanges(delta []byte) ([][]byte, error)
}

// OpaqueLog is a minimal CRDT: an append-only sequence of byte blocks
// whose single head is the BLAKE3 hash of the last applied block.
// Applying the same block twice is a no-op, so replay (spec §4.7's
// closing paragraph) is harmless. Real deployments supply a proper CRDT
// (e.g. an Automerge document) behind the same interface; this type
// exists so the sync loop and its tests have something concrete to
// drive without this package depending on a CRDT library.
type OpaqueLog struct {
	blocks [][]byte
	seen   map[[32]byte]bool
}

// NewOpaqueLog returns an empty log.
func NewOpaqueLog() *OpaqueLog {
	return &OpaqueLog{seen: make(map[[32]byte]bool)}
}

func (l *OpaqueLog) head() ([32]byte, bool) {
	if len(l.blocks) == 0 {
		return [32]byte{}, false
	}
	return blake3.Sum256(l.blocks[len(l.blocks)-1]), true
}

func (l *OpaqueLog) Heads() [][]byte {
	h, ok := l.head()
	if !ok {
		return nil
	}
	return [][]byte{append([]byte(nil), h[:]...)}
}

func (l *OpaqueLog) HasHeads(heads [][]byte) bool {
	if len(heads) == 0 {
		return true
	}
	h, ok := l.head()
	if !ok {
		return false
	}
	for _, want := range heads {
		if len(want) == 32 && [32]byte(want) == h {
			return true
		}
	}
	return false
}

func (l *OpaqueLog) IsEmpty() bool { return len(l.blocks) == 0 }

// Snapshot concatenates every block as a length-prefixed blob so
// LoadSnapshot can reconstruct the exact block boundaries.
func (l *OpaqueLog) Snapshot() []byte {
	var buf []byte
	for _, b := range l.blocks {
		buf = append(buf, encodeBlock(b)...)
	}
	return buf
}

func (l *OpaqueLog) LoadSnapshot(snapshot []byte) error {
	blocks, err := decodeBlocks(snapshot)
	if err != nil {
		return err
	}
	l.blocks = nil
	l.seen = make(map[[32]byte]bool)
	for _, b := range blocks {
		l.appendBlock(b)
	}
	return nil
}

// Merge appends any block from snapshot this log hasn't already seen,
// preserving Snapshot's ordering for blocks already present.
func (l *OpaqueLog) Merge(snapshot []byte) error {
	blocks, err := decodeBlocks(snapshot)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		l.appendBlock(b)
	}
	return nil
}

func (l *OpaqueLog) ApplyChanges(delta []byte) ([][]byte, error) {
	l.appendBlock(delta)
	return l.Heads(), nil
}

func (l *OpaqueLog) appendBlock(b []byte) {
	h := blake3.Sum256(b)
	if l.seen[h] {
		return
	}
	l.seen[h] = true
	l.blocks = append(l.blocks, b)
}

func encodeBlock(b []byte) []byte {
	out := make([]byte, 4+len(b))
	n := uint32(len(b))
	out[0] = byte(n)
	out[1] = byte(n >> 8)
	out[2] = byte(n >> 16)
	out[3] = byte(n >> 24)
	copy(out[4:], b)
	return out
}

func decodeBlocks(data []byte) ([][]byte, error) {
	var blocks [][]byte
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, errTruncatedSnapshot
		}
		n := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
		data = data[4:]
		if uint64(len(data)) < uint64(n) {
			return nil, errTruncatedSnapshot
		}
		blocks = append(blocks, data[:n])
		data = data[n:]
	}
	return blocks, nil
}
