// Package profilepin implements syncengine's profile pinning and
// discovery layer (spec §4.9): peers broadcast profile updates on
// their own gossip topic, contacts and realm members pin copies for
// redundancy, and a priority-based eviction policy bounds local
// storage.
package profilepin

import "lukechampine.com/blake3"

// profileTopicDomain is the domain separator for per-peer profile
// topics, matching the original engine's derive_profile_topic.
const profileTopicDomain = "sync-profile"

// globalProfileTopicSeed derives the deprecated, backwards-compatible
// global profile topic every node historically announced to before
// per-peer topics replaced it. Kept only as GlobalProfileTopic below
// for interop with that older scheme; new code should always use
// DeriveProfileTopic.
const globalProfileTopicSeed = "syncengine:profiles:v1"

// DeriveProfileTopic computes the gossip topic a peer broadcasts its
// own profile updates on: BLAKE3("sync-profile" || did).
func DeriveProfileTopic(did string) [32]byte {
	h := blake3.New(32, nil)
	h.Write([]byte(profileTopicDomain))
	h.Write([]byte(did))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// GlobalProfileTopic is the deprecated single topic every node once
// announced to before per-peer topics (spec §4.9). It is deterministic
// and identical across all nodes, unlike DeriveProfileTopic.
func GlobalProfileTopic() [32]byte {
	return blake3.Sum256([]byte(globalProfileTopicSeed))
}
