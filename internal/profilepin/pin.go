package profilepin

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/pivaldi/syncengine/internal/kvstore"
	"github.com/pivaldi/syncengine/internal/profile"
	"github.com/pivaldi/syncengine/internal/syncerr"
)

// RelationshipKind tags why a profile is pinned (spec §4.9's
// `relationship ∈ {Own, Contact, RealmMember(realm), Manual}`).
type RelationshipKind byte

const (
	RelationOwn RelationshipKind = iota
	RelationContact
	RelationRealmMember
	RelationManual
)

// Relationship carries the reason a pin exists; Realm is only
// meaningful when Kind is RelationRealmMember.
type Relationship struct {
	Kind  RelationshipKind
	Realm [32]byte
}

// Priority returns the pin's eviction priority (spec §4.9): higher
// survives longer. Own=255, Contact=100, RealmMember=50, Manual=25.
func (r Relationship) Priority() byte {
	switch r.Kind {
	case RelationOwn:
		return 255
	case RelationContact:
		return 100
	case RelationRealmMember:
		return 50
	case RelationManual:
		return 25
	default:
		return 0
	}
}

// DefaultMaxPins and DefaultAvatarBudget are the storage limits spec
// §4.9 names as defaults.
const (
	DefaultMaxPins      = 100
	DefaultAvatarBudget = 5 * 1024 * 1024
)

// ProfilePin is a locally cached, verified copy of a peer's signed
// profile, retained for redundancy (spec §4.9, §3's ProfilePin).
type ProfilePin struct {
	Did           string
	SignedProfile profile.SignedProfile
	PinnedAt      int64
	Relationship  Relationship
	AvatarHash    string // hex BLAKE3, "" if no avatar
	AvatarSize    int    // bytes consumed against the avatar budget, 0 if AvatarHash == ""
	LastUpdated   int64
}

// PinStore is the bounded, priority-evicting cache of pinned profiles
// (spec §4.9's storage limits). It keeps an in-memory index alongside
// the persisted kvstore records, mirroring the teacher's in-memory +
// persisted cache split (PeerTable) so reads never hit disk.
type PinStore struct {
	kv *kvstore.Store

	maxPins      int
	avatarBudget int

	mu    sync.RWMutex
	pins  map[string]ProfilePin
	bytes int
}

// NewPinStore loads every persisted pin into memory and returns a
// ready-to-use store with spec-default limits.
func NewPinStore(kv *kvstore.Store) (*PinStore, error) {
	s := &PinStore{
		kv:           kv,
		maxPins:      DefaultMaxPins,
		avatarBudget: DefaultAvatarBudget,
		pins:         make(map[string]ProfilePin),
	}
	err := kv.ForEach(kvstore.BucketPinnedProfiles, func(key string, value []byte) error {
		var p ProfilePin
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("%w: unmarshal pinned profile %s: %v", syncerr.ErrStorage, key, err)
		}
		s.pins[p.Did] = p
		s.bytes += p.AvatarSize
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the pin for did, if any.
func (s *PinStore) Get(did string) (ProfilePin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pins[did]
	return p, ok
}

// List returns every pinned profile.
func (s *PinStore) List() []ProfilePin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProfilePin, 0, len(s.pins))
	for _, p := range s.pins {
		out = append(out, p)
	}
	return out
}

// Put inserts or updates a pin, evicting lower-priority pins first if
// doing so would exceed the count or avatar-byte budget (spec §4.9).
// Own pins are never evicted.
func (s *PinStore) Put(p ProfilePin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, replacing := s.pins[p.Did]
	projectedBytes := s.bytes + p.AvatarSize
	if replacing {
		projectedBytes -= existing.AvatarSize
	}
	projectedCount := len(s.pins)
	if !replacing {
		projectedCount++
	}

	if err := s.evictLocked(projectedCount, projectedBytes, p.Did); err != nil {
		return err
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: marshal pinned profile: %v", syncerr.ErrStorage, err)
	}
	if err := s.kv.Put(kvstore.BucketPinnedProfiles, p.Did, data); err != nil {
		return err
	}
	if replacing {
		s.bytes -= existing.AvatarSize
	}
	s.pins[p.Did] = p
	s.bytes += p.AvatarSize
	return nil
}

// evictLocked removes lowest-priority, then oldest, pins until
// wantCount and wantBytes both fit, never touching keep or any Own pin.
// Caller must hold s.mu.
func (s *PinStore) evictLocked(wantCount, wantBytes int, keep string) error {
	for wantCount > s.maxPins || wantBytes > s.avatarBudget {
		victim, ok := s.lowestPriorityLocked(keep)
		if !ok {
			return fmt.Errorf("%w: pin storage limits exceeded with no evictable pin", syncerr.ErrStorage)
		}
		if err := s.kv.Delete(kvstore.BucketPinnedProfiles, victim.Did); err != nil {
			return err
		}
		delete(s.pins, victim.Did)
		s.bytes -= victim.AvatarSize
		wantBytes -= victim.AvatarSize
		wantCount--
	}
	return nil
}

// lowestPriorityLocked finds the eviction candidate: ascending
// priority, then ascending LastUpdated, excluding keep and every Own
// pin. Caller must hold s.mu.
func (s *PinStore) lowestPriorityLocked(keep string) (ProfilePin, bool) {
	candidates := make([]ProfilePin, 0, len(s.pins))
	for did, p := range s.pins {
		if did == keep || p.Relationship.Kind == RelationOwn {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return ProfilePin{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		pi, pj := candidates[i].Relationship.Priority(), candidates[j].Relationship.Priority()
		if pi != pj {
			return pi < pj
		}
		return candidates[i].LastUpdated < candidates[j].LastUpdated
	})
	return candidates[0], true
}

// Delete removes a pin unconditionally (e.g. an unfollowed contact).
func (s *PinStore) Delete(did string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(kvstore.BucketPinnedProfiles, did); err != nil {
		return err
	}
	if p, ok := s.pins[did]; ok {
		s.bytes -= p.AvatarSize
	}
	delete(s.pins, did)
	return nil
}
