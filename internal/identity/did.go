package identity

import (
	"github.com/mr-tron/base58"

	"github.com/pivaldi/syncengine/internal/cryptoutil"
)

// DidPrefix is the textual prefix for every syncengine DID.
const DidPrefix = "did:sync:"

// Did computes "did:sync:" + base58(BLAKE3(canonical_bytes(pub))) (spec §3, §4.2, §6).
func Did(pub HybridPublicKey) string {
	digest := cryptoutil.BLAKE3(pub.CanonicalBytes())
	return DidPrefix + base58.Encode(digest[:])
}
