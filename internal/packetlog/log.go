package packetlog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pivaldi/syncengine/internal/identity"
	"github.com/pivaldi/syncengine/internal/syncerr"
)

// LogEntry is one stored envelope plus its derived hash and verification state.
type LogEntry struct {
	Envelope PacketEnvelope
	Hash     Hash32
	Verified bool
}

// ForkResult is returned by Append. It is data, not an error: upstream
// reputation/quarantine policy decides how to react to a fork (spec §4.4, §7).
type ForkResult struct {
	Forked          bool
	Sequence        uint64
	ExistingHash    Hash32
	ConflictingHash Hash32
}

// Log is one author's append-only, hash-chained, sequenced, signed
// packet log (spec §4.4). Zero value is not usable; use New.
type Log struct {
	mu      sync.RWMutex
	owner   string // Did
	entries map[uint64]LogEntry
	forks   map[uint64][]Hash32

	hasHead  bool
	headSeq  uint64
	headHash Hash32
}

// New returns an empty log owned by ownerDid.
func New(ownerDid string) *Log {
	return &Log{
		owner:   ownerDid,
		entries: make(map[uint64]LogEntry),
		forks:   make(map[uint64][]Hash32),
	}
}

// Owner returns the DID this log is authored by.
func (l *Log) Owner() string { return l.owner }

// Len returns the number of non-fork entries currently stored.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// HasForks reports whether any sequence has a recorded conflicting hash.
func (l *Log) HasForks() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.forks) > 0
}

// Append validates and inserts envelope, following spec §4.4 exactly.
func (l *Log) Append(envelope PacketEnvelope) (ForkResult, error) {
	if envelope.Sender != l.owner {
		return ForkResult{}, fmt.Errorf("%w: envelope sender %q does not own this log (%q)", syncerr.ErrIdentity, envelope.Sender, l.owner)
	}
	h := envelope.Hash()

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.entries[envelope.Sequence]; ok {
		if existing.Hash == h {
			return ForkResult{}, nil // idempotent NoFork
		}
		l.forks[envelope.Sequence] = append(l.forks[envelope.Sequence], h)
		return ForkResult{
			Forked:          true,
			Sequence:        envelope.Sequence,
			ExistingHash:    existing.Hash,
			ConflictingHash: h,
		}, nil
	}

	if envelope.Sequence > 0 {
		if pred, ok := l.entries[envelope.Sequence-1]; ok {
			if pred.Hash != envelope.PrevHash {
				return ForkResult{}, errChainBroken(envelope.Sequence)
			}
		}
		// predecessor missing: gap allowed, accepted as-is.
	}

	l.entries[envelope.Sequence] = LogEntry{Envelope: envelope, Hash: h}
	if !l.hasHead || envelope.Sequence > l.headSeq {
		l.hasHead = true
		l.headSeq = envelope.Sequence
		l.headHash = h
	}
	return ForkResult{}, nil
}

// VerifyEntry verifies the stored envelope's signature at seq against
// senderPublic, marking it verified on success.
func (l *Log) VerifyEntry(seq uint64, senderPublic identity.HybridPublicKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[seq]
	if !ok {
		return false, fmt.Errorf("%w: no entry at sequence %d", syncerr.ErrEntryNotFound, seq)
	}
	ok = entry.Envelope.Verify(senderPublic)
	if ok {
		entry.Verified = true
		l.entries[seq] = entry
	}
	return ok, nil
}

// ValidateChain checks the chain invariant for every consecutive present
// pair of sequences. It does not check gaps.
func (l *Log) ValidateChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seqs := l.sortedSequencesLocked()
	for i := 0; i+1 < len(seqs); i++ {
		if seqs[i+1] != seqs[i]+1 {
			continue // gap; not checked
		}
		cur := l.entries[seqs[i]]
		next := l.entries[seqs[i+1]]
		if next.Envelope.PrevHash != cur.Hash {
			return errChainBroken(seqs[i+1])
		}
	}
	return nil
}

func (l *Log) sortedSequencesLocked() []uint64 {
	seqs := make([]uint64, 0, len(l.entries))
	for s := range l.entries {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

// GetRange returns entries with sequence in [from, to], in ascending order.
func (l *Log) GetRange(from, to uint64) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []LogEntry
	for _, s := range l.sortedSequencesLocked() {
		if s < from || s > to {
			continue
		}
		out = append(out, l.entries[s])
	}
	return out
}

// GetSince returns every entry with sequence >= seq, in ascending order.
func (l *Log) GetSince(seq uint64) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []LogEntry
	for _, s := range l.sortedSequencesLocked() {
		if s < seq {
			continue
		}
		out = append(out, l.entries[s])
	}
	return out
}

// GetGaps returns the missing sequence numbers in 0..=head.
func (l *Log) GetGaps() []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.hasHead {
		return nil
	}
	var gaps []uint64
	for s := uint64(0); s <= l.headSeq; s++ {
		if _, ok := l.entries[s]; !ok {
			gaps = append(gaps, s)
		}
	}
	return gaps
}

// HeadSequence and HeadHash report the current log head, if any.
func (l *Log) HeadSequence() (uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headSeq, l.hasHead
}

func (l *Log) HeadHash() Hash32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// DeleteBefore removes entries and forks with sequence < seq. This is a
// coarse, lossy truncation; no re-chaining is performed (spec §4.4).
func (l *Log) DeleteBefore(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.entries {
		if s < seq {
			delete(l.entries, s)
		}
	}
	for s := range l.forks {
		if s < seq {
			delete(l.forks, s)
		}
	}
}
