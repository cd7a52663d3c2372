// Package kvstore is syncengine's embedded ACID key/value store (spec
// §4.11). It opens exactly one bbolt database file and exposes the
// fifteen named tables every durable subsystem depends on.
//
// Schema (bbolt bucket layout):
//   realms              realm_id hex      -> json(Realm)
//   documents           realm_id hex      -> CRDT document bytes
//   realm_keys          realm_id hex      -> 32-byte RealmKey
//   identity            "self"            -> json(identity bundle)
//   endpoint_secret_key "self"            -> 32-byte seed
//   profiles            did               -> json(SignedProfile)
//   blobs               blake3 hex        -> raw bytes (small/inline blobs; see internal/blobstore for the filesystem backend)
//   contacts            did               -> json(Contact)
//   pending_contacts    invite_id hex     -> json(PendingContact)
//   revoked_invites     invite_id hex     -> "1" (presence = revoked)
//   generated_invites   invite_id hex     -> json(ContactInvite)
//   pinned_profiles     did               -> json(ProfilePin)
//   unified_peers       endpoint_id hex   -> json(Peer)
//   peer_did_index      did               -> endpoint_id hex
//   migration_flags     flag name         -> "1" (presence = applied)
//
// Consistency model: every public operation runs inside a single bbolt
// read or write transaction; bbolt serializes writers and never blocks
// readers against a writer, matching the ACID contract spec §4.11
// requires. Any mutation that touches a peer's DID updates
// unified_peers and peer_did_index in the same transaction
// (Store.PutIndexed, as used by peerregistry.Registry.Save).
//
// Retention: this store holds no TTL/expiry machinery of its own;
// revoked_invites and migration_flags are small presence markers that
// are expected to live for the life of the node. PacketLog truncation
// (Log.DeleteBefore) and blobstore.Store.DeleteBlob are what bound growth.
//
// Failure modes: Open fails if the file is locked by another process
// (bbolt's file lock) or the path is not writable. A transaction that
// returns an error is rolled back by bbolt automatically; callers see
// that error wrapped in syncerr.ErrStorage.
package kvstore

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pivaldi/syncengine/internal/syncerr"
)

// Bucket names, one per spec §4.11 table.
const (
	BucketRealms            = "realms"
	BucketDocuments         = "documents"
	BucketRealmKeys         = "realm_keys"
	BucketIdentity          = "identity"
	BucketEndpointSecretKey = "endpoint_secret_key"
	BucketProfiles          = "profiles"
	BucketBlobs             = "blobs"
	BucketContacts          = "contacts"
	BucketPendingContacts   = "pending_contacts"
	BucketRevokedInvites    = "revoked_invites"
	BucketGeneratedInvites  = "generated_invites"
	BucketPinnedProfiles    = "pinned_profiles"
	BucketUnifiedPeers      = "unified_peers"
	BucketPeerDidIndex      = "peer_did_index"
	BucketMigrationFlags    = "migration_flags"
)

var allBuckets = []string{
	BucketRealms, BucketDocuments, BucketRealmKeys, BucketIdentity,
	BucketEndpointSecretKey, BucketProfiles, BucketBlobs, BucketContacts,
	BucketPendingContacts, BucketRevokedInvites, BucketGeneratedInvites,
	BucketPinnedProfiles, BucketUnifiedPeers, BucketPeerDidIndex,
	BucketMigrationFlags,
}

// Store wraps a single bbolt database file.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the database at path and ensures every table exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", syncerr.ErrStorage, path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: bootstrap buckets: %v", syncerr.ErrStorage, err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes value under key in bucket within a single write transaction.
func (s *Store) Put(bucket, key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("unknown bucket %q", bucket)
		}
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("%w: put %s/%s: %v", syncerr.ErrStorage, bucket, key, err)
	}
	return nil
}

// Get reads the value at key in bucket within a single read transaction.
// A missing key returns ErrEntryNotFound.
func (s *Store) Get(bucket, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("unknown bucket %q", bucket)
		}
		v := b.Get([]byte(key))
		if v == nil {
			return syncerr.ErrEntryNotFound
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		if err == syncerr.ErrEntryNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get %s/%s: %v", syncerr.ErrStorage, bucket, key, err)
	}
	return value, nil
}

// Has reports whether key exists in bucket.
func (s *Store) Has(bucket, key string) (bool, error) {
	_, err := s.Get(bucket, key)
	if err == nil {
		return true, nil
	}
	if err == syncerr.ErrEntryNotFound {
		return false, nil
	}
	return false, err
}

// Delete removes key from bucket. Deleting an absent key is a no-op.
func (s *Store) Delete(bucket, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("unknown bucket %q", bucket)
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s/%s: %v", syncerr.ErrStorage, bucket, key, err)
	}
	return nil
}

// ForEach iterates every key/value pair in bucket, in bbolt's key order.
func (s *Store) ForEach(bucket string, fn func(key string, value []byte) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("unknown bucket %q", bucket)
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
	if err != nil {
		return fmt.Errorf("%w: foreach %s: %v", syncerr.ErrStorage, bucket, err)
	}
	return nil
}

// PutIndexed writes value under key in bucket, and writes indexKey ->
// key in indexBucket, in the same write transaction — used wherever a
// mutation must keep a secondary index consistent (e.g. unified_peers +
// peer_did_index).
func (s *Store) PutIndexed(bucket, key string, value []byte, indexBucket, indexKey string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("unknown bucket %q", bucket)
		}
		if err := b.Put([]byte(key), value); err != nil {
			return err
		}
		ib := tx.Bucket([]byte(indexBucket))
		if ib == nil {
			return fmt.Errorf("unknown bucket %q", indexBucket)
		}
		return ib.Put([]byte(indexKey), []byte(key))
	})
	if err != nil {
		return fmt.Errorf("%w: put indexed %s/%s: %v", syncerr.ErrStorage, bucket, key, err)
	}
	return nil
}

// DeleteIndexed removes key from bucket and indexKey from indexBucket in
// the same write transaction.
func (s *Store) DeleteIndexed(bucket, key, indexBucket, indexKey string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(bucket)); b != nil {
			if err := b.Delete([]byte(key)); err != nil {
				return err
			}
		}
		if ib := tx.Bucket([]byte(indexBucket)); ib != nil {
			if err := ib.Delete([]byte(indexKey)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete indexed %s/%s: %v", syncerr.ErrStorage, bucket, key, err)
	}
	return nil
}

// Count returns the number of keys in bucket.
func (s *Store) Count(bucket string) (int, error) {
	n := 0
	err := s.ForEach(bucket, func(string, []byte) error {
		n++
		return nil
	})
	return n, err
}
