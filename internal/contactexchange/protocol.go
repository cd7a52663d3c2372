package contactexchange

import (
	"bytes"

	"github.com/pivaldi/syncengine/internal/identity"
	"github.com/pivaldi/syncengine/internal/peerregistry"
)

// ContactRequest is sent by the recipient of a ContactInvite to its
// issuer (spec §4.8 step 2). RequestSig is the requester's signature
// over every other field, verified against RequesterPubBytes so the
// issuer knows the request genuinely comes from the holder of that
// bundle's private keys.
type ContactRequest struct {
	InviteID          [16]byte
	RequesterPubBytes []byte
	RequesterProfile  peerregistry.ProfileSnapshot
	RequesterAddr     string
	MLKEMCiphertext   []byte // lets the issuer derive the same contact_key (spec §4.8 step 5)
	RequestSig        identity.HybridSignature
}

func (r ContactRequest) signedBytes() []byte {
	var buf bytes.Buffer
	buf.Write(r.InviteID[:])
	writeBlob(&buf, r.RequesterPubBytes)
	writeProfile(&buf, r.RequesterProfile)
	writeString(&buf, r.RequesterAddr)
	writeBlob(&buf, r.MLKEMCiphertext)
	return buf.Bytes()
}

// Sign computes and sets RequestSig using the requester's keypair.
func (r *ContactRequest) Sign(kp *identity.HybridKeypair) error {
	sig, err := kp.Sign(r.signedBytes())
	if err != nil {
		return err
	}
	r.RequestSig = sig
	return nil
}

// Verify checks RequestSig against requesterPub.
func (r ContactRequest) Verify(requesterPub identity.HybridPublicKey) bool {
	return requesterPub.Verify(r.signedBytes(), r.RequestSig)
}

func (r ContactRequest) encode() []byte {
	var buf bytes.Buffer
	buf.Write(r.signedBytes())
	writeBlob(&buf, r.RequestSig.Ed)
	writeBlob(&buf, r.RequestSig.MLDSA)
	return buf.Bytes()
}

func decodeContactRequest(data []byte) (ContactRequest, error) {
	r := bytes.NewReader(data)
	var req ContactRequest
	if _, err := r.Read(req.InviteID[:]); err != nil {
		return req, errShort("request invite id")
	}
	pub, err := readBlob(r)
	if err != nil {
		return req, err
	}
	req.RequesterPubBytes = pub
	profile, err := readProfile(r)
	if err != nil {
		return req, err
	}
	req.RequesterProfile = profile
	addr, err := readString(r)
	if err != nil {
		return req, err
	}
	req.RequesterAddr = addr
	ctM, err := readBlob(r)
	if err != nil {
		return req, err
	}
	req.MLKEMCiphertext = ctM
	ed, err := readBlob(r)
	if err != nil {
		return req, err
	}
	mldsa, err := readBlob(r)
	if err != nil {
		return req, err
	}
	req.RequestSig = identity.HybridSignature{Ed: ed, MLDSA: mldsa}
	return req, nil
}

// ContactResponse is the issuer's reply (spec §4.8 step 4).
type ContactResponse struct {
	InviteID      [16]byte
	IssuerProfile peerregistry.ProfileSnapshot
	Accept        bool
	ResponseSig   identity.HybridSignature
}

func (resp ContactResponse) signedBytes() []byte {
	var buf bytes.Buffer
	buf.Write(resp.InviteID[:])
	writeProfile(&buf, resp.IssuerProfile)
	writeBool(&buf, resp.Accept)
	return buf.Bytes()
}

func (resp *ContactResponse) Sign(kp *identity.HybridKeypair) error {
	sig, err := kp.Sign(resp.signedBytes())
	if err != nil {
		return err
	}
	resp.ResponseSig = sig
	return nil
}

func (resp ContactResponse) Verify(issuerPub identity.HybridPublicKey) bool {
	return issuerPub.Verify(resp.signedBytes(), resp.ResponseSig)
}

func (resp ContactResponse) encode() []byte {
	var buf bytes.Buffer
	buf.Write(resp.signedBytes())
	writeBlob(&buf, resp.ResponseSig.Ed)
	writeBlob(&buf, resp.ResponseSig.MLDSA)
	return buf.Bytes()
}

func decodeContactResponse(data []byte) (ContactResponse, error) {
	r := bytes.NewReader(data)
	var resp ContactResponse
	if _, err := r.Read(resp.InviteID[:]); err != nil {
		return resp, errShort("response invite id")
	}
	profile, err := readProfile(r)
	if err != nil {
		return resp, err
	}
	resp.IssuerProfile = profile
	accept, err := readBool(r)
	if err != nil {
		return resp, err
	}
	resp.Accept = accept
	ed, err := readBlob(r)
	if err != nil {
		return resp, err
	}
	mldsa, err := readBlob(r)
	if err != nil {
		return resp, err
	}
	resp.ResponseSig = identity.HybridSignature{Ed: ed, MLDSA: mldsa}
	return resp, nil
}
