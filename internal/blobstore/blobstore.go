// Package blobstore is syncengine's content-addressed binary store (spec
// §4.10): avatars, profile images and other opaque attachments, keyed by
// their BLAKE3 digest so two imports of identical bytes collapse to one
// entry and every fetch can be integrity-checked against its own name.
//
// Two backends share the same interface: an in-memory map for tests and
// short-lived nodes, and a filesystem tree under data_dir/blobs/ for
// durable nodes. When given a kvstore, both record each blob's size in
// internal/kvstore's blobs bucket so blob_size needs no disk read;
// has_blob reads the blob through the backend. No tags are kept.
package blobstore

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"lukechampine.com/blake3"

	"github.com/pivaldi/syncengine/internal/kvstore"
	"github.com/pivaldi/syncengine/internal/syncerr"
)

// MaxAvatarSize is the size limit enforced by ImportAvatar: avatars
// should be small, optimized images.
const MaxAvatarSize = 256 * 1024

// MaxImageSize is the size limit enforced by ImportImage.
const MaxImageSize = 2 * 1024 * 1024

// Digest is a blob's BLAKE3 content hash.
type Digest [32]byte

// String renders d as lowercase hex, the form used as a kvstore key and
// in textual blob tickets.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses a hex digest string produced by Digest.String.
func ParseDigest(hexStr string) (Digest, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: invalid blob digest: %v", syncerr.ErrBlob, err)
	}
	if len(b) != 32 {
		return Digest{}, fmt.Errorf("%w: blob digest must be 32 bytes, got %d", syncerr.ErrBlob, len(b))
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

func digestOf(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// backend abstracts the memory/filesystem storage difference; Store
// itself owns size validation and kvstore bookkeeping.
type backend interface {
	write(d Digest, data []byte) error
	read(d Digest) ([]byte, bool, error)
	remove(d Digest) error
}

// Store is a content-addressed blob manager, mirroring the memory/
// persistent split syncengine-core's BlobManager exposes, backed here
// by an in-process map or a directory tree instead of iroh-blobs.
type Store struct {
	mu      sync.RWMutex
	backend backend
	kv      *kvstore.Store
}

// NewMemory creates an in-memory blob store. Data is lost on process
// exit; intended for tests and ephemeral nodes.
func NewMemory(kv *kvstore.Store) *Store {
	return &Store{backend: &memoryBackend{blobs: make(map[Digest][]byte)}, kv: kv}
}

// NewPersistent creates a filesystem-backed blob store rooted at dir
// (conventionally data_dir/blobs/), creating dir if it does not exist.
func NewPersistent(dir string, kv *kvstore.Store) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create blob directory %s: %v", syncerr.ErrBlob, dir, err)
	}
	return &Store{backend: &fsBackend{dir: dir}, kv: kv}, nil
}

// ImportBytes stores data without any size validation and returns its digest.
func (s *Store) ImportBytes(data []byte) (Digest, error) {
	d := digestOf(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.write(d, data); err != nil {
		return Digest{}, err
	}
	if s.kv != nil {
		if err := s.kv.Put(kvstore.BucketBlobs, d.String(), sizeRecord(len(data))); err != nil {
			return Digest{}, err
		}
	}
	return d, nil
}

// ImportAvatar stores data as an avatar, rejecting anything over MaxAvatarSize.
func (s *Store) ImportAvatar(data []byte) (Digest, error) {
	if len(data) > MaxAvatarSize {
		return Digest{}, fmt.Errorf("%w: avatar too large: %d bytes (max %d)", syncerr.ErrBlob, len(data), MaxAvatarSize)
	}
	return s.ImportBytes(data)
}

// ImportImage stores data as a general image, rejecting anything over MaxImageSize.
func (s *Store) ImportImage(data []byte) (Digest, error) {
	if len(data) > MaxImageSize {
		return Digest{}, fmt.Errorf("%w: image too large: %d bytes (max %d)", syncerr.ErrBlob, len(data), MaxImageSize)
	}
	return s.ImportBytes(data)
}

// GetBytes returns the blob's contents, or ok=false if it is not stored locally.
func (s *Store) GetBytes(d Digest) (data []byte, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.read(d)
}

// HasBlob reports whether d is stored locally.
func (s *Store) HasBlob(d Digest) (bool, error) {
	_, ok, err := s.GetBytes(d)
	return ok, err
}

// AcceptDownload verifies data against ticket's digest (spec §4.10)
// before storing it, returning syncerr.ErrBlob if they disagree.
func (s *Store) AcceptDownload(ticket Ticket, data []byte) (Digest, error) {
	if err := VerifyDownload(ticket, data); err != nil {
		return Digest{}, err
	}
	return s.ImportBytes(data)
}

// BlobSize returns the stored size of d, or ok=false if absent.
func (s *Store) BlobSize(d Digest) (size int, ok bool, err error) {
	if s.kv == nil {
		data, present, err := s.GetBytes(d)
		return len(data), present, err
	}
	raw, err := s.kv.Get(kvstore.BucketBlobs, d.String())
	if err != nil {
		if err == syncerr.ErrEntryNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	return parseSizeRecord(raw), true, nil
}

// DeleteBlob removes d from the local store. Per spec §9 this is
// advisory only — it does not stop other peers from continuing to
// serve it, and the engine runs no background GC timer of its own.
func (s *Store) DeleteBlob(d Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.remove(d); err != nil {
		return err
	}
	if s.kv != nil {
		return s.kv.Delete(kvstore.BucketBlobs, d.String())
	}
	return nil
}

func sizeRecord(n int) []byte {
	return []byte(fmt.Sprintf("%d", n))
}

func parseSizeRecord(raw []byte) int {
	var n int
	fmt.Sscanf(string(raw), "%d", &n)
	return n
}

// --- memory backend ---

type memoryBackend struct {
	blobs map[Digest][]byte
}

func (m *memoryBackend) write(d Digest, data []byte) error {
	m.blobs[d] = append([]byte(nil), data...)
	return nil
}

func (m *memoryBackend) read(d Digest) ([]byte, bool, error) {
	data, ok := m.blobs[d]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (m *memoryBackend) remove(d Digest) error {
	delete(m.blobs, d)
	return nil
}

// --- filesystem backend ---

type fsBackend struct {
	dir string
}

func (f *fsBackend) path(d Digest) string {
	hexName := d.String()
	return filepath.Join(f.dir, hexName[:2], hexName[2:])
}

func (f *fsBackend) write(d Digest, data []byte) error {
	p := f.path(d)
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("%w: %v", syncerr.ErrBlob, err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("%w: write blob %s: %v", syncerr.ErrBlob, d, err)
	}
	return nil
}

func (f *fsBackend) read(d Digest) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: read blob %s: %v", syncerr.ErrBlob, d, err)
	}
	return data, true, nil
}

func (f *fsBackend) remove(d Digest) error {
	err := os.Remove(f.path(d))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove blob %s: %v", syncerr.ErrBlob, d, err)
	}
	return nil
}
