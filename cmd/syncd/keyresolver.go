package main

import (
	"github.com/pivaldi/syncengine/internal/identity"
	"github.com/pivaldi/syncengine/internal/profilepin"
)

// pinResolver resolves a Did's hybrid public key from whatever signed
// profile this node has already verified and pinned, rather than
// maintaining a second key directory: any profile accepted by
// internal/profilepin.Service has already proven its signer owns that
// DID (spec §4.7's "envelope signature is the only authenticity
// check" leans on exactly this pinned-profile set). Our own key is
// resolved locally without touching the pin store at all.
type pinResolver struct {
	selfDid string
	selfPub identity.HybridPublicKey
	pins    *profilepin.PinStore
}

func newPinResolver(selfDid string, selfPub identity.HybridPublicKey, pins *profilepin.PinStore) *pinResolver {
	return &pinResolver{selfDid: selfDid, selfPub: selfPub, pins: pins}
}

func (r *pinResolver) ResolvePublicKey(did string) (identity.HybridPublicKey, bool) {
	if did == r.selfDid {
		return r.selfPub, true
	}
	pin, ok := r.pins.Get(did)
	if !ok {
		return identity.HybridPublicKey{}, false
	}
	return pin.SignedProfile.PublicKey, true
}
