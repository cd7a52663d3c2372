package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/pivaldi/syncengine/internal/syncerr"
)

// HybridKeypair is the full private key bundle derived from an identity
// seed: a classical+post-quantum signing pair and a classical+post-quantum
// KEM pair, plus the libp2p transport identity derived from the same
// Ed25519 key so a node's DID and its libp2p PeerID are linked.
type HybridKeypair struct {
	EdPriv    ed25519.PrivateKey
	EdPub     ed25519.PublicKey
	MLDSAPriv *mldsa65.PrivateKey
	MLDSAPub  *mldsa65.PublicKey

	X25519Priv [32]byte
	X25519Pub  [32]byte

	MLKEMPriv kem.PrivateKey
	MLKEMPub  kem.PublicKey

	Libp2pPriv libp2pcrypto.PrivKey
	Libp2pPub  libp2pcrypto.PubKey
	PeerID     peer.ID
}

// HybridPublicKey is the serializable public bundle that a peer's DID is
// derived from (spec §3).
type HybridPublicKey struct {
	EdPub     ed25519.PublicKey
	MLDSAPub  *mldsa65.PublicKey
	X25519Pub [32]byte
	MLKEMPub  kem.PublicKey
}

// HybridSignature is a pair of component signatures; it is valid only if
// both verify over the same message (spec §3).
type HybridSignature struct {
	Ed    []byte
	MLDSA []byte
}

func deterministicReader(seed []byte, info string) io.Reader {
	return hkdf.New(sha256.New, seed, nil, []byte(info))
}

// DeriveKeypair deterministically derives the full hybrid bundle from a
// SeedSize identity seed, mirroring the teacher's seed-derivation idiom
// (internal/identity, originally HPKE-X25519-only) generalized to the
// spec's two hybrid pairs.
func DeriveKeypair(seed []byte) (*HybridKeypair, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: invalid seed size %d", syncerr.ErrIdentity, len(seed))
	}

	edPriv := ed25519.NewKeyFromSeed(seed)
	edPub := edPriv.Public().(ed25519.PublicKey)

	mldsaPub, mldsaPriv, err := mldsa65.GenerateKey(deterministicReader(seed, "syncengine-mldsa65-v1"))
	if err != nil {
		return nil, fmt.Errorf("%w: derive mldsa65 key: %v", syncerr.ErrIdentity, err)
	}

	var x25519Priv [32]byte
	xr := deterministicReader(seed, "syncengine-x25519-v1")
	if _, err := io.ReadFull(xr, x25519Priv[:]); err != nil {
		return nil, fmt.Errorf("%w: derive x25519 key: %v", syncerr.ErrIdentity, err)
	}
	var x25519Pub [32]byte
	curve25519.ScalarBaseMult(&x25519Pub, &x25519Priv)

	mlkemScheme := mlkem768.Scheme()
	mlkemPub, mlkemPriv := mlkemScheme.DeriveKeyPair(deriveSeedBytes(seed, "syncengine-mlkem768-v1", mlkemScheme.SeedSize()))

	libp2pPriv, libp2pPub, err := libp2pcrypto.KeyPairFromStdKey(&edPriv)
	if err != nil {
		return nil, fmt.Errorf("%w: derive libp2p key: %v", syncerr.ErrIdentity, err)
	}
	peerID, err := peer.IDFromPublicKey(libp2pPub)
	if err != nil {
		return nil, fmt.Errorf("%w: derive peer id: %v", syncerr.ErrIdentity, err)
	}

	return &HybridKeypair{
		EdPriv:     edPriv,
		EdPub:      edPub,
		MLDSAPriv:  mldsaPriv,
		MLDSAPub:   mldsaPub,
		X25519Priv: x25519Priv,
		X25519Pub:  x25519Pub,
		MLKEMPriv:  mlkemPriv,
		MLKEMPub:   mlkemPub,
		Libp2pPriv: libp2pPriv,
		Libp2pPub:  libp2pPub,
		PeerID:     peerID,
	}, nil
}

func deriveSeedBytes(seed []byte, info string, n int) []byte {
	out := make([]byte, n)
	_, _ = io.ReadFull(deterministicReader(seed, info), out)
	return out
}

// Public extracts the serializable public bundle from a keypair.
func (kp *HybridKeypair) Public() HybridPublicKey {
	return HybridPublicKey{
		EdPub:     kp.EdPub,
		MLDSAPub:  kp.MLDSAPub,
		X25519Pub: kp.X25519Pub,
		MLKEMPub:  kp.MLKEMPub,
	}
}

// Sign produces both component signatures over message (spec §4.2).
func (kp *HybridKeypair) Sign(message []byte) (HybridSignature, error) {
	edSig := ed25519.Sign(kp.EdPriv, message)
	mldsaSig, err := kp.MLDSAPriv.Sign(nil, message, nil)
	if err != nil {
		return HybridSignature{}, fmt.Errorf("%w: mldsa65 sign: %v", syncerr.ErrIdentity, err)
	}
	return HybridSignature{Ed: edSig, MLDSA: mldsaSig}, nil
}

// Verify reports whether both component signatures verify over message.
// A HybridSignature is valid only if BOTH verify — this is what makes
// the signature secure against either primitive alone breaking.
func (pub HybridPublicKey) Verify(message []byte, sig HybridSignature) bool {
	if !ed25519.Verify(pub.EdPub, message, sig.Ed) {
		return false
	}
	return mldsa65.Verify(pub.MLDSAPub, message, sig.MLDSA)
}

// CanonicalBytes encodes the public bundle deterministically, matching
// the teacher's length-prefixed wire-format idiom (wire-format.go's
// writeBlob pattern, inlined here since this package must not depend on
// internal/envelope).
func (pub HybridPublicKey) CanonicalBytes() []byte {
	var buf bytes.Buffer
	writeBlob(&buf, pub.EdPub)
	mldsaBytes, _ := pub.MLDSAPub.MarshalBinary()
	writeBlob(&buf, mldsaBytes)
	writeBlob(&buf, pub.X25519Pub[:])
	mlkemBytes, _ := pub.MLKEMPub.MarshalBinary()
	writeBlob(&buf, mlkemBytes)
	return buf.Bytes()
}

func writeBlob(w *bytes.Buffer, b []byte) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	w.Write(hdr[:])
	w.Write(b)
}

func readBlob(r *bytes.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated public key blob length", syncerr.ErrIdentity)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: truncated public key blob", syncerr.ErrIdentity)
	}
	return b, nil
}

// ParsePublicKey decodes the wire format CanonicalBytes produces, so a
// peer's hybrid public bundle can be reconstructed from bytes received
// over the network (e.g. ContactExchange's requester/issuer bundles).
func ParsePublicKey(data []byte) (HybridPublicKey, error) {
	r := bytes.NewReader(data)

	edBytes, err := readBlob(r)
	if err != nil {
		return HybridPublicKey{}, err
	}
	mldsaBytes, err := readBlob(r)
	if err != nil {
		return HybridPublicKey{}, err
	}
	x25519Bytes, err := readBlob(r)
	if err != nil {
		return HybridPublicKey{}, err
	}
	if len(x25519Bytes) != 32 {
		return HybridPublicKey{}, fmt.Errorf("%w: invalid x25519 public key length", syncerr.ErrIdentity)
	}
	mlkemBytes, err := readBlob(r)
	if err != nil {
		return HybridPublicKey{}, err
	}

	mldsaPub, err := mldsa65.Scheme().UnmarshalBinaryPublicKey(mldsaBytes)
	if err != nil {
		return HybridPublicKey{}, fmt.Errorf("%w: unmarshal mldsa65 public key: %v", syncerr.ErrIdentity, err)
	}
	mlkemPub, err := mlkem768.Scheme().UnmarshalBinaryPublicKey(mlkemBytes)
	if err != nil {
		return HybridPublicKey{}, fmt.Errorf("%w: unmarshal mlkem768 public key: %v", syncerr.ErrIdentity, err)
	}

	var x25519Pub [32]byte
	copy(x25519Pub[:], x25519Bytes)

	return HybridPublicKey{
		EdPub:     ed25519.PublicKey(edBytes),
		MLDSAPub:  mldsaPub.(*mldsa65.PublicKey),
		X25519Pub: x25519Pub,
		MLKEMPub:  mlkemPub,
	}, nil
}
