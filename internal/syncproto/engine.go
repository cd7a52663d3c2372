// Package syncproto is syncengine's realm sync loop (spec §4.7): it
// consumes internal/gossip topic events, unwraps SyncEnvelopes with
// internal/envelope, and drives each realm's CRDT through the
// Announce/SyncRequest/SyncResponse/Changes handshake described there.
package syncproto

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pivaldi/syncengine/internal/envelope"
	"github.com/pivaldi/syncengine/internal/gossip"
	"github.com/pivaldi/syncengine/internal/identity"
	"github.com/pivaldi/syncengine/internal/logging"
	"github.com/pivaldi/syncengine/internal/syncerr"
)

var errTruncatedSnapshot = errors.New("syncproto: truncated snapshot")

// KeyResolver looks up the hybrid public key behind a Did, so a
// received SyncEnvelope's signature can be verified without the realm
// key itself proving authorship (spec §4.7: "the envelope signature is
// the only authenticity check"). Callers back this with whatever
// profile/contact directory they maintain.
type KeyResolver interface {
	ResolvePublicKey(did string) (identity.HybridPublicKey, bool)
}

// MapKeyResolver is a KeyResolver backed by a plain map, useful for
// tests and single-process demos.
type MapKeyResolver map[string]identity.HybridPublicKey

func (m MapKeyResolver) ResolvePublicKey(did string) (identity.HybridPublicKey, bool) {
	pub, ok := m[did]
	return pub, ok
}

type realmState struct {
	key    envelope.RealmKey
	doc    CRDT
	msgs   <-chan gossip.Message
	cancel context.CancelFunc
}

// Engine runs one sync loop per joined realm and rebroadcasts an
// Announce whenever a new neighbor connects.
type Engine struct {
	transport *gossip.Transport
	signer    *identity.HybridKeypair
	selfDid   string
	resolver  KeyResolver
	logger    logging.Logger

	mu     sync.Mutex
	realms map[[32]byte]*realmState

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine wires a realm sync engine atop an already-running gossip
// transport. selfDid and signer identify and sign this node's own
// envelopes; resolver recovers other authors' public keys.
func NewEngine(transport *gossip.Transport, selfDid string, signer *identity.HybridKeypair, resolver KeyResolver) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		transport: transport,
		signer:    signer,
		selfDid:   selfDid,
		resolver:  resolver,
		logger:    logging.New("syncproto"),
		realms:    make(map[[32]byte]*realmState),
		ctx:       ctx,
		cancel:    cancel,
	}
	go e.watchNeighbors()
	return e
}

// Close stops every realm loop and the neighbor watcher.
func (e *Engine) Close() {
	e.cancel()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.realms {
		e.leaveLocked(id)
	}
}

// JoinRealm subscribes to realmID's gossip topic and starts its sync
// loop against doc. Re-joining an already-joined realm is a no-op.
func (e *Engine) JoinRealm(realmID [32]byte, key envelope.RealmKey, doc CRDT) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.realms[realmID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(e.ctx)
	state := &realmState{
		key:    key,
		doc:    doc,
		msgs:   e.transport.Subscribe(realmID),
		cancel: cancel,
	}
	e.realms[realmID] = state
	go e.loop(ctx, realmID, state)
}

// LeaveRealm unsubscribes from realmID and stops its sync loop.
func (e *Engine) LeaveRealm(realmID [32]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leaveLocked(realmID)
}

func (e *Engine) leaveLocked(realmID [32]byte) {
	state, ok := e.realms[realmID]
	if !ok {
		return
	}
	state.cancel()
	delete(e.realms, realmID)
	e.transport.Unsubscribe(realmID)
}

// watchNeighbors re-announces every joined realm's heads whenever a
// peer connects, matching spec §4.7 step 1. Neighbor events are not
// per-topic in this engine's transport (unlike the teacher's per-topic
// iroh-gossip receiver), so a reconnect is treated as "possibly
// relevant to every realm we hold" rather than targeted at one.
func (e *Engine) watchNeighbors() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.transport.Events():
			if !ok {
				return
			}
			if ev.Kind == gossip.NeighborUp {
				e.announceAll()
			}
		}
	}
}

func (e *Engine) announceAll() {
	e.mu.Lock()
	ids := make([][32]byte, 0, len(e.realms))
	for id := range e.realms {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		_ = e.announce(id)
	}
}

func (e *Engine) announce(realmID [32]byte) error {
	e.mu.Lock()
	state, ok := e.realms[realmID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	msg := envelope.Announce(realmID, state.doc.Heads(), "", false)
	return e.send(realmID, state, msg)
}

func (e *Engine) loop(ctx context.Context, realmID [32]byte, state *realmState) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-state.msgs:
			if !ok {
				return
			}
			e.handle(realmID, state, msg)
		}
	}
}

func (e *Engine) handle(realmID [32]byte, state *realmState, raw gossip.Message) {
	env, err := envelope.DecodeEnvelope(raw.Data)
	if err != nil {
		e.logger.Warnf("malformed envelope from peer %s: %v", raw.Sender, err)
		return
	}
	pub, ok := e.resolver.ResolvePublicKey(env.Sender)
	if !ok {
		e.logger.Warnf("unknown sender DID %s, dropping envelope", env.Sender)
		return
	}
	plaintext, err := envelope.Open(env, state.key, pub)
	if err != nil {
		e.logger.Warnf("signature check failed for sender %s: %v", env.Sender, err)
		return
	}
	msg, err := envelope.DecodeSyncMessage(plaintext)
	if err != nil || msg.RealmID != realmID {
		e.logger.Warnf("malformed sync message from sender %s: %v", env.Sender, err)
		return
	}

	switch msg.Type {
	case envelope.MsgAnnounce:
		e.handleAnnounce(realmID, state, msg)
	case envelope.MsgSyncRequest:
		e.handleSyncRequest(realmID, state)
	case envelope.MsgSyncResponse:
		e.handleSyncResponse(realmID, state, msg)
	case envelope.MsgChanges:
		e.handleChanges(realmID, state, msg)
	}
}

// handleAnnounce is spec §4.7 step 2: request a full sync if our
// document is new, or send the delta we believe the announcer lacks.
func (e *Engine) handleAnnounce(realmID [32]byte, state *realmState, msg envelope.SyncMessage) {
	if state.doc.HasHeads(msg.Heads) {
		return
	}
	if state.doc.IsEmpty() {
		_ = e.send(realmID, state, envelope.SyncRequest(realmID))
		return
	}
	_ = e.send(realmID, state, envelope.Changes(realmID, state.doc.Snapshot()))
}

// handleSyncRequest is spec §4.7 step 3.
func (e *Engine) handleSyncRequest(realmID [32]byte, state *realmState) {
	_ = e.send(realmID, state, envelope.SyncResponse(realmID, state.doc.Snapshot()))
}

// handleSyncResponse is spec §4.7 step 4.
func (e *Engine) handleSyncResponse(realmID [32]byte, state *realmState, msg envelope.SyncMessage) {
	var err error
	if state.doc.IsEmpty() {
		err = state.doc.LoadSnapshot(msg.Document)
	} else {
		err = state.doc.Merge(msg.Document)
	}
	if err == nil {
		_ = e.announce(realmID)
	}
}

// handleChanges is spec §4.7 step 5: apply the delta, then re-announce
// if it moved our heads.
func (e *Engine) handleChanges(realmID [32]byte, state *realmState, msg envelope.SyncMessage) {
	before := state.doc.Heads()
	after, err := state.doc.ApplyChanges(msg.Data)
	if err != nil {
		return
	}
	if !headsEqual(before, after) {
		_ = e.announce(realmID)
	}
}

func headsEqual(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if string(a[i]) != string(b[i]) {
			return false
		}
	}
	return true
}

func (e *Engine) send(realmID [32]byte, state *realmState, msg envelope.SyncMessage) error {
	env, err := envelope.Seal(msg.Encode(), e.selfDid, state.key, e.signer)
	if err != nil {
		return fmt.Errorf("%w: seal sync message: %v", syncerr.ErrGossip, err)
	}
	return e.transport.Broadcast(e.ctx, realmID, env.Encode())
}
