package peerregistry

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/pivaldi/syncengine/internal/kvstore"
	"github.com/pivaldi/syncengine/internal/syncerr"
)

const migrationFlagKey = "peers_unified_v1"

// Registry is the durable store of unified peer records, backed by
// internal/kvstore's unified_peers table and peer_did_index secondary
// index (spec §4.11, §4.12).
type Registry struct {
	kv *kvstore.Store
}

// New wraps kv as a peer registry.
func New(kv *kvstore.Store) *Registry {
	return &Registry{kv: kv}
}

func endpointKey(endpointID [32]byte) string {
	return hex.EncodeToString(endpointID[:])
}

// peerRecord is the JSON-on-disk shape of Peer; kept distinct from Peer
// itself so storage concerns (hex-string IDs) never leak
// into the in-memory type's field types.
type peerRecord struct {
	EndpointID string `json:"endpoint_id"`

	Did      string           `json:"did,omitempty"`
	Profile  *ProfileSnapshot `json:"profile,omitempty"`
	Nickname string           `json:"nickname,omitempty"`

	ContactInfo *contactDetailsRecord `json:"contact_info,omitempty"`

	Source       PeerSource `json:"source"`
	SharedRealms []string   `json:"shared_realms,omitempty"`
	NodeAddr     string     `json:"node_addr,omitempty"`

	Status                PeerStatus `json:"status"`
	LastSeen              int64      `json:"last_seen"`
	ConnectionAttempts    uint32     `json:"connection_attempts"`
	SuccessfulConnections uint32     `json:"successful_connections"`
	LastAttempt           int64      `json:"last_attempt"`
}

type contactDetailsRecord struct {
	ContactTopic string `json:"contact_topic"`
	ContactKey   string `json:"contact_key"`
	AcceptedAt   int64  `json:"accepted_at"`
	IsFavorite   bool   `json:"is_favorite"`
}

func toRecord(p *Peer) peerRecord {
	rec := peerRecord{
		EndpointID:            endpointKey(p.EndpointID),
		Did:                   p.Did,
		Profile:               p.Profile,
		Nickname:              p.Nickname,
		Source:                p.Source,
		NodeAddr:              p.NodeAddr,
		Status:                p.Status,
		LastSeen:              p.LastSeen,
		ConnectionAttempts:    p.ConnectionAttempts,
		SuccessfulConnections: p.SuccessfulConnections,
		LastAttempt:           p.LastAttempt,
	}
	for _, r := range p.SharedRealms {
		rec.SharedRealms = append(rec.SharedRealms, hex.EncodeToString(r[:]))
	}
	if p.ContactInfo != nil {
		rec.ContactInfo = &contactDetailsRecord{
			ContactTopic: hex.EncodeToString(p.ContactInfo.ContactTopic[:]),
			ContactKey:   hex.EncodeToString(p.ContactInfo.ContactKey[:]),
			AcceptedAt:   p.ContactInfo.AcceptedAt,
			IsFavorite:   p.ContactInfo.IsFavorite,
		}
	}
	return rec
}

func fromRecord(rec peerRecord) (*Peer, error) {
	idBytes, err := hex.DecodeString(rec.EndpointID)
	if err != nil || len(idBytes) != 32 {
		return nil, fmt.Errorf("%w: invalid endpoint id in stored peer record", syncerr.ErrStorage)
	}
	p := &Peer{
		Did:                   rec.Did,
		Profile:               rec.Profile,
		Nickname:              rec.Nickname,
		Source:                rec.Source,
		NodeAddr:              rec.NodeAddr,
		Status:                rec.Status,
		LastSeen:              rec.LastSeen,
		ConnectionAttempts:    rec.ConnectionAttempts,
		SuccessfulConnections: rec.SuccessfulConnections,
		LastAttempt:           rec.LastAttempt,
	}
	copy(p.EndpointID[:], idBytes)
	for _, rs := range rec.SharedRealms {
		rb, err := hex.DecodeString(rs)
		if err != nil || len(rb) != 32 {
			continue
		}
		var realmID [32]byte
		copy(realmID[:], rb)
		p.SharedRealms = append(p.SharedRealms, realmID)
	}
	if rec.ContactInfo != nil {
		topicBytes, _ := hex.DecodeString(rec.ContactInfo.ContactTopic)
		keyBytes, _ := hex.DecodeString(rec.ContactInfo.ContactKey)
		var cd ContactDetails
		copy(cd.ContactTopic[:], topicBytes)
		copy(cd.ContactKey[:], keyBytes)
		cd.AcceptedAt = rec.ContactInfo.AcceptedAt
		cd.IsFavorite = rec.ContactInfo.IsFavorite
		p.ContactInfo = &cd
	}
	return p, nil
}

// Save writes peer to the unified_peers table, updating the DID index
// in the same transaction when the peer has a DID.
func (r *Registry) Save(peer *Peer) error {
	rec := toRecord(peer)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshal peer: %v", syncerr.ErrStorage, err)
	}
	key := endpointKey(peer.EndpointID)
	if peer.Did != "" {
		return r.kv.PutIndexed(kvstore.BucketUnifiedPeers, key, data, kvstore.BucketPeerDidIndex, peer.Did)
	}
	return r.kv.Put(kvstore.BucketUnifiedPeers, key, data)
}

// Load returns the peer with the given endpoint ID, or
// syncerr.ErrEntryNotFound if none exists.
func (r *Registry) Load(endpointID [32]byte) (*Peer, error) {
	data, err := r.kv.Get(kvstore.BucketUnifiedPeers, endpointKey(endpointID))
	if err != nil {
		return nil, err
	}
	var rec peerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: unmarshal peer: %v", syncerr.ErrStorage, err)
	}
	return fromRecord(rec)
}

// LoadByDid resolves a DID through the secondary index and loads the peer.
func (r *Registry) LoadByDid(did string) (*Peer, error) {
	endpointHex, err := r.kv.Get(kvstore.BucketPeerDidIndex, did)
	if err != nil {
		return nil, err
	}
	data, err := r.kv.Get(kvstore.BucketUnifiedPeers, string(endpointHex))
	if err != nil {
		return nil, err
	}
	var rec peerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: unmarshal peer: %v", syncerr.ErrStorage, err)
	}
	return fromRecord(rec)
}

// Delete removes a peer and its DID index entry, if any.
func (r *Registry) Delete(endpointID [32]byte) error {
	peer, err := r.Load(endpointID)
	if err != nil && err != syncerr.ErrEntryNotFound {
		return err
	}
	key := endpointKey(endpointID)
	if peer != nil && peer.Did != "" {
		return r.kv.DeleteIndexed(kvstore.BucketUnifiedPeers, key, kvstore.BucketPeerDidIndex, peer.Did)
	}
	return r.kv.Delete(kvstore.BucketUnifiedPeers, key)
}

// List returns every stored peer.
func (r *Registry) List() ([]*Peer, error) {
	var peers []*Peer
	err := r.kv.ForEach(kvstore.BucketUnifiedPeers, func(_ string, value []byte) error {
		var rec peerRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("%w: unmarshal peer: %v", syncerr.ErrStorage, err)
		}
		p, err := fromRecord(rec)
		if err != nil {
			return err
		}
		peers = append(peers, p)
		return nil
	})
	return peers, err
}

// ListContacts returns only peers with contact details.
func (r *Registry) ListContacts() ([]*Peer, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []*Peer
	for _, p := range all {
		if p.IsContact() {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListDiscovered returns only peers without contact details.
func (r *Registry) ListDiscovered() ([]*Peer, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []*Peer
	for _, p := range all {
		if p.IsDiscovered() {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListByStatus returns peers matching status exactly.
func (r *Registry) ListByStatus(status PeerStatus) ([]*Peer, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []*Peer
	for _, p := range all {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListInactive returns offline or never-connected peers, the candidate
// set for reconnection scheduling.
func (r *Registry) ListInactive() ([]*Peer, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []*Peer
	for _, p := range all {
		if p.Status == StatusOffline || p.Status == StatusUnknown {
			out = append(out, p)
		}
	}
	return out, nil
}

// Count returns the total number of stored peers.
func (r *Registry) Count() (int, error) {
	return r.kv.Count(kvstore.BucketUnifiedPeers)
}

// IsMigrated reports whether the legacy contact/peer tables have
// already been folded into unified_peers.
func (r *Registry) IsMigrated() (bool, error) {
	return r.kv.Has(kvstore.BucketMigrationFlags, migrationFlagKey)
}

func (r *Registry) markMigrated(now int64) error {
	return r.kv.Put(kvstore.BucketMigrationFlags, migrationFlagKey, []byte(fmt.Sprintf("%d", now)))
}

// MigrateLegacyPeers folds a pre-unification set of contacts and
// discovered peers into the unified_peers table. It is idempotent: a
// call after migration has already completed is a no-op returning 0.
func (r *Registry) MigrateLegacyPeers(legacyContacts, legacyDiscovered []*Peer, now int64) (int, error) {
	migrated, err := r.IsMigrated()
	if err != nil {
		return 0, err
	}
	if migrated {
		return 0, nil
	}

	seen := make(map[[32]byte]bool)
	count := 0
	for _, p := range legacyContacts {
		if err := r.Save(p); err != nil {
			return count, err
		}
		seen[p.EndpointID] = true
		count++
	}
	for _, p := range legacyDiscovered {
		if seen[p.EndpointID] {
			continue
		}
		if err := r.Save(p); err != nil {
			return count, err
		}
		seen[p.EndpointID] = true
		count++
	}
	if err := r.markMigrated(now); err != nil {
		return count, err
	}
	return count, nil
}
