package dnssec

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/dnsscience/authdnsd/internal/wire"
)

// signatureValidity is the window an RRSIG is valid for once minted. A
// short window bounds the damage of a compromised signing key without
// forcing re-signs on every query.
const signatureValidity = 30 * 24 * time.Hour

// clockSkew is subtracted from "now" for the inception timestamp so
// signatures validate immediately on resolvers with a slightly fast clock.
const clockSkew = 1 * time.Hour

// Signer produces RRSIG records over RRsets using a single RSA/SHA-256
// key, following the canonicalization rules of RFC 4034 §6 and the
// signature construction of RFC 4034 §3.1.
type Signer struct {
	key *Key
	now func() time.Time
}

// NewSigner returns a Signer that signs with key. now defaults to
// time.Now and is overridable for deterministic tests.
func NewSigner(key *Key) *Signer {
	return &Signer{key: key, now: time.Now}
}

// Sign produces an RRSIG covering rrset, an RRset that all shares the same
// owner name, type, and class (RFC 4034 §3 requires this; Sign does not
// re-validate it, callers assemble RRsets correctly by construction).
func (s *Signer) Sign(owner string, rtype wire.RecordType, ttl uint32, rrset []wire.ResourceRecord) (wire.ResourceRecord, error) {
	if len(rrset) == 0 {
		return wire.ResourceRecord{}, fmt.Errorf("dnssec: cannot sign empty rrset")
	}

	owner = wire.CanonicalName(owner)
	now := s.now().UTC()
	inception := uint32(now.Add(-clockSkew).Unix())
	expiration := uint32(now.Add(signatureValidity).Unix())

	sig := wire.RRSIG{
		TypeCovered: rtype,
		Algorithm:   s.key.Algorithm,
		Labels:      uint8(wire.CountLabels(owner)),
		OrigTTL:     ttl,
		Expiration:  expiration,
		Inception:   inception,
		KeyTag:      s.key.KeyTag(),
		SignerName:  s.key.Zone,
	}

	signingInput, err := canonicalSigningInput(sig, owner, ttl, rrset)
	if err != nil {
		return wire.ResourceRecord{}, err
	}

	hashed := sha256.Sum256(signingInput)
	signature, err := rsa.SignPKCS1v15(rand.Reader, s.key.Private, crypto.SHA256, hashed[:])
	if err != nil {
		return wire.ResourceRecord{}, fmt.Errorf("dnssec: signing rrset: %w", err)
	}
	sig.Signature = signature

	return wire.ResourceRecord{
		Name:  owner,
		Type:  wire.TypeRRSIG,
		Class: wire.ClassIN,
		TTL:   ttl,
		Rdata: sig,
	}, nil
}

// canonicalSigningInput builds the exact byte sequence RFC 4034 §3.1.8.1
// requires: the RRSIG RDATA minus the signature, followed by every RR in
// the set in canonical form and canonical order.
func canonicalSigningInput(sig wire.RRSIG, owner string, ttl uint32, rrset []wire.ResourceRecord) ([]byte, error) {
	var buf bytes.Buffer

	var head [18]byte
	binary.BigEndian.PutUint16(head[0:2], uint16(sig.TypeCovered))
	head[2] = sig.Algorithm
	head[3] = sig.Labels
	binary.BigEndian.PutUint32(head[4:8], sig.OrigTTL)
	binary.BigEndian.PutUint32(head[8:12], sig.Expiration)
	binary.BigEndian.PutUint32(head[12:16], sig.Inception)
	binary.BigEndian.PutUint16(head[16:18], sig.KeyTag)
	buf.Write(head[:])
	buf.Write(canonicalNameBytes(sig.SignerName))

	ordered := canonicalOrder(rrset)
	ownerWire := canonicalNameBytes(owner)

	for _, rr := range ordered {
		rdata, err := canonicalRdata(rr)
		if err != nil {
			return nil, err
		}

		buf.Write(ownerWire)
		var rrHead [8]byte
		binary.BigEndian.PutUint16(rrHead[0:2], uint16(rr.Type))
		binary.BigEndian.PutUint16(rrHead[2:4], uint16(wire.ClassIN))
		binary.BigEndian.PutUint32(rrHead[4:8], ttl)
		buf.Write(rrHead[:])

		var rdlen [2]byte
		binary.BigEndian.PutUint16(rdlen[:], uint16(len(rdata)))
		buf.Write(rdlen[:])
		buf.Write(rdata)
	}

	return buf.Bytes(), nil
}

// canonicalOrder sorts rrset by canonical RDATA form per RFC 4034 §6.3,
// the order signatures must be computed over regardless of how records
// happen to be stored.
func canonicalOrder(rrset []wire.ResourceRecord) []wire.ResourceRecord {
	ordered := make([]wire.ResourceRecord, len(rrset))
	copy(ordered, rrset)

	type keyed struct {
		rr   wire.ResourceRecord
		data []byte
	}
	tmp := make([]keyed, len(ordered))
	for i, rr := range ordered {
		d, _ := canonicalRdata(rr)
		tmp[i] = keyed{rr: rr, data: d}
	}
	sort.Slice(tmp, func(i, j int) bool {
		return bytes.Compare(tmp[i].data, tmp[j].data) < 0
	})
	for i, k := range tmp {
		ordered[i] = k.rr
	}
	return ordered
}

// canonicalNameBytes encodes name uncompressed and lowercased, the form
// RFC 4034 §6.2 requires for every name appearing in signed data.
func canonicalNameBytes(name string) []byte {
	encoded, err := wire.EncodeNameUncompressed(name)
	if err != nil {
		return []byte(wire.CanonicalName(name))
	}
	return encoded
}

// canonicalRdata renders rr's RDATA with every embedded name lowercased
// and uncompressed, per RFC 4034 §6.2.
func canonicalRdata(rr wire.ResourceRecord) ([]byte, error) {
	return wire.EncodeRdataCanonical(rr)
}

// computeKeyTag implements the RFC 4034 Appendix B key tag checksum over
// the DNSKEY RDATA octets (flags, protocol 3, algorithm, public key). It
// does not compute the separate tag defined for algorithm 1 (RSA/MD5).
func computeKeyTag(flags uint16, algorithm uint8, publicKey []byte) uint16 {
	rdata := make([]byte, 4+len(publicKey))
	binary.BigEndian.PutUint16(rdata[0:2], flags)
	rdata[2] = 3 // protocol
	rdata[3] = algorithm
	copy(rdata[4:], publicKey)

	var ac uint32
	for i, b := range rdata {
		if i%2 == 0 {
			ac += uint32(b) << 8
		} else {
			ac += uint32(b)
		}
	}
	ac += (ac >> 16) & 0xFFFF
	return uint16(ac & 0xFFFF)
}

// DS derives this signer's Delegation Signer record, for operators who
// need to publish it in the parent zone. It is a pure function of the
// already-loaded key and plays no part in the query path.
func (s *Signer) DS() wire.DS {
	return s.key.DS()
}

// DS derives a Delegation Signer record from this key's DNSKEY, digest
// type 2 (SHA-256) only, per RFC 4034 §5.1.
func (k *Key) DS() wire.DS {
	rdata := make([]byte, 4+len(k.publicKey))
	binary.BigEndian.PutUint16(rdata[0:2], k.Flags)
	rdata[2] = 3
	rdata[3] = k.Algorithm
	copy(rdata[4:], k.publicKey)

	var buf bytes.Buffer
	buf.Write(canonicalNameBytes(k.Zone))
	buf.Write(rdata)

	digest := sha256.Sum256(buf.Bytes())
	return wire.DS{
		KeyTag:     k.keyTag,
		Algorithm:  k.Algorithm,
		DigestType: 2,
		Digest:     digest[:],
	}
}
