package packetlog

import (
	"github.com/pivaldi/syncengine/internal/identity"
	"github.com/pivaldi/syncengine/internal/sealedbox"
)

// Builder produces the next envelope for a log's author, tracking the
// next sequence number and prev-hash link automatically (spec §4.4).
type Builder struct {
	log    *Log
	signer *identity.HybridKeypair
}

// NewBuilder returns a Builder that authors envelopes into log, signed by signer.
func NewBuilder(log *Log, signer *identity.HybridKeypair) *Builder {
	return &Builder{log: log, signer: signer}
}

// NextSequence and PrevHash follow the log's current head.
func (b *Builder) NextSequence() uint64 {
	seq, ok := b.log.HeadSequence()
	if !ok {
		return 0
	}
	return seq + 1
}

func (b *Builder) PrevHash() Hash32 {
	if _, ok := b.log.HeadSequence(); !ok {
		return Hash32{}
	}
	return b.log.HeadHash()
}

// BuildGlobal authors an unaddressed (non-sealed) envelope.
func (b *Builder) BuildGlobal(payload []byte) (PacketEnvelope, error) {
	return b.build(payload, RecipientGlobal, nil)
}

// BuildSealed authors an envelope whose payload is sealed for the given
// recipient bundles, embedding the resulting SealedKeys.
func (b *Builder) BuildSealed(payload []byte, recipients map[string]identity.HybridPublicKey) (PacketEnvelope, error) {
	box, err := sealedbox.Seal(payload, recipients)
	if err != nil {
		return PacketEnvelope{}, err
	}
	// The envelope carries the sealed box's per-recipient keys inline;
	// content_nonce||ciphertext becomes the envelope payload so a
	// single canonical-bytes framing covers both paths.
	sealedPayload := append(append([]byte{}, box.Nonce[:]...), box.Ciphertext...)
	return b.build(sealedPayload, RecipientExplicit, box.SealedKeys)
}

func (b *Builder) build(payload []byte, mode RecipientMode, sealedKeys []sealedbox.SealedKey) (PacketEnvelope, error) {
	env := PacketEnvelope{
		Sender:        identity.Did(b.signer.Public()),
		Sequence:      b.NextSequence(),
		PrevHash:      b.PrevHash(),
		RecipientMode: mode,
		SealedKeys:    sealedKeys,
		Payload:       payload,
	}
	sig, err := b.signer.Sign(env.CanonicalBytes())
	if err != nil {
		return PacketEnvelope{}, err
	}
	env.Signature = sig
	return env, nil
}
