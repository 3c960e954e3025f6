package wire

import (
	"encoding/binary"
	"strings"
)

// maxPointerOffset is the largest offset a 14-bit compression pointer can
// address (RFC 1035 §4.1.4).
const maxPointerOffset = 0x3FFF

// Encoder serializes a Message to wire format, compressing domain names
// against every name it has already written (whole-message compression,
// not just same-section), matching the behavior resolvers expect from an
// authoritative server.
type Encoder struct {
	buf    []byte
	names  map[string]int // canonical name -> byte offset of its first occurrence
}

// NewEncoder returns an Encoder with its internal buffer preallocated to
// hint, an estimate of the final message size.
func NewEncoder(hint int) *Encoder {
	if hint <= 0 {
		hint = 512
	}
	return &Encoder{
		buf:   make([]byte, 0, hint),
		names: make(map[string]int),
	}
}

// Bytes returns the encoded message so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// Encode serializes msg in full. The header counts are taken from
// len(msg.Question)/Answer/Authority/Additional, not from msg.Header's
// count fields, so callers never need to keep them in sync by hand.
func Encode(msg *Message) ([]byte, error) {
	e := NewEncoder(512)
	if err := e.writeHeader(msg); err != nil {
		return nil, err
	}
	for _, q := range msg.Question {
		if err := e.writeQuestion(q); err != nil {
			return nil, err
		}
	}
	for _, rr := range msg.Answer {
		if err := e.writeRR(rr); err != nil {
			return nil, err
		}
	}
	for _, rr := range msg.Authority {
		if err := e.writeRR(rr); err != nil {
			return nil, err
		}
	}
	for _, rr := range msg.Additional {
		if err := e.writeRR(rr); err != nil {
			return nil, err
		}
	}
	return e.buf, nil
}

func (e *Encoder) writeHeader(msg *Message) error {
	var flags1, flags2 uint8
	h := msg.Header
	if h.QR {
		flags1 |= 0x80
	}
	flags1 |= (h.Opcode & 0x0F) << 3
	if h.AA {
		flags1 |= 0x04
	}
	if h.TC {
		flags1 |= 0x02
	}
	if h.RD {
		flags1 |= 0x01
	}
	if h.RA {
		flags2 |= 0x80
	}
	if h.Z {
		flags2 |= 0x40
	}
	if h.AD {
		flags2 |= 0x20
	}
	if h.CD {
		flags2 |= 0x10
	}
	flags2 |= h.Rcode & 0x0F

	var hdr [12]byte
	binary.BigEndian.PutUint16(hdr[0:2], h.ID)
	hdr[2] = flags1
	hdr[3] = flags2
	binary.BigEndian.PutUint16(hdr[4:6], uint16(len(msg.Question)))
	binary.BigEndian.PutUint16(hdr[6:8], uint16(len(msg.Answer)))
	binary.BigEndian.PutUint16(hdr[8:10], uint16(len(msg.Authority)))
	binary.BigEndian.PutUint16(hdr[10:12], uint16(len(msg.Additional)))
	e.buf = append(e.buf, hdr[:]...)
	return nil
}

func (e *Encoder) writeQuestion(q Question) error {
	if err := e.writeName(q.Name); err != nil {
		return err
	}
	var tail [4]byte
	binary.BigEndian.PutUint16(tail[0:2], uint16(q.Type))
	binary.BigEndian.PutUint16(tail[2:4], uint16(q.Class))
	e.buf = append(e.buf, tail[:]...)
	return nil
}

func (e *Encoder) writeRR(rr ResourceRecord) error {
	if err := e.writeName(rr.Name); err != nil {
		return err
	}
	var head [10]byte
	binary.BigEndian.PutUint16(head[0:2], uint16(rr.Type))
	binary.BigEndian.PutUint16(head[2:4], uint16(rr.Class))
	binary.BigEndian.PutUint32(head[4:8], rr.TTL)
	rdlenOffset := len(e.buf) + 8
	e.buf = append(e.buf, head[:]...)

	rdataStart := len(e.buf)
	if err := e.writeRdata(rr); err != nil {
		return err
	}
	rdlen := len(e.buf) - rdataStart
	binary.BigEndian.PutUint16(e.buf[rdlenOffset:rdlenOffset+2], uint16(rdlen))
	return nil
}

func (e *Encoder) writeRdata(rr ResourceRecord) error {
	switch v := rr.Rdata.(type) {
	case nil:
		e.buf = append(e.buf, rr.Raw...)
		return nil
	case A:
		ip4 := v.Addr.To4()
		if ip4 == nil {
			ip4 = make([]byte, 4)
		}
		e.buf = append(e.buf, ip4...)
		return nil
	case AAAA:
		ip16 := v.Addr.To16()
		if ip16 == nil {
			ip16 = make([]byte, 16)
		}
		e.buf = append(e.buf, ip16...)
		return nil
	case NS:
		return e.writeName(v.Target)
	case CNAME:
		return e.writeName(v.Target)
	case PTR:
		return e.writeName(v.Target)
	case SOA:
		if err := e.writeName(v.Primary); err != nil {
			return err
		}
		if err := e.writeName(v.Admin); err != nil {
			return err
		}
		var tail [20]byte
		binary.BigEndian.PutUint32(tail[0:4], v.Serial)
		binary.BigEndian.PutUint32(tail[4:8], v.Refresh)
		binary.BigEndian.PutUint32(tail[8:12], v.Retry)
		binary.BigEndian.PutUint32(tail[12:16], v.Expire)
		binary.BigEndian.PutUint32(tail[16:20], v.Minimum)
		e.buf = append(e.buf, tail[:]...)
		return nil
	case MX:
		var pref [2]byte
		binary.BigEndian.PutUint16(pref[:], v.Pref)
		e.buf = append(e.buf, pref[:]...)
		return e.writeName(v.Exchange)
	case TXT:
		for _, s := range v.Strings {
			e.writeCharString(s)
		}
		return nil
	case SRV:
		var head [6]byte
		binary.BigEndian.PutUint16(head[0:2], v.Priority)
		binary.BigEndian.PutUint16(head[2:4], v.Weight)
		binary.BigEndian.PutUint16(head[4:6], v.Port)
		e.buf = append(e.buf, head[:]...)
		return e.writeUncompressedName(v.Target)
	case CAA:
		e.buf = append(e.buf, v.Flag, byte(len(v.Tag)))
		e.buf = append(e.buf, v.Tag...)
		e.buf = append(e.buf, v.Value...)
		return nil
	case OPT:
		return e.writeEDNSOptions(v.Options)
	case DS:
		var head [4]byte
		binary.BigEndian.PutUint16(head[0:2], v.KeyTag)
		head[2] = v.Algorithm
		head[3] = v.DigestType
		e.buf = append(e.buf, head[:]...)
		e.buf = append(e.buf, v.Digest...)
		return nil
	case DNSKEY:
		var head [4]byte
		binary.BigEndian.PutUint16(head[0:2], v.Flags)
		head[2] = v.Protocol
		head[3] = v.Algorithm
		e.buf = append(e.buf, head[:]...)
		e.buf = append(e.buf, v.PublicKey...)
		return nil
	case RRSIG:
		var head [18]byte
		binary.BigEndian.PutUint16(head[0:2], uint16(v.TypeCovered))
		head[2] = v.Algorithm
		head[3] = v.Labels
		binary.BigEndian.PutUint32(head[4:8], v.OrigTTL)
		binary.BigEndian.PutUint32(head[8:12], v.Expiration)
		binary.BigEndian.PutUint32(head[12:16], v.Inception)
		binary.BigEndian.PutUint16(head[16:18], v.KeyTag)
		e.buf = append(e.buf, head[:]...)
		if err := e.writeUncompressedName(v.SignerName); err != nil {
			return err
		}
		e.buf = append(e.buf, v.Signature...)
		return nil
	case Opaque:
		e.buf = append(e.buf, v.Data...)
		return nil
	default:
		e.buf = append(e.buf, rr.Raw...)
		return nil
	}
}

func (e *Encoder) writeCharString(s string) {
	if len(s) > 255 {
		s = s[:255]
	}
	e.buf = append(e.buf, byte(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) writeEDNSOptions(opts []EDNSOption) error {
	for _, o := range opts {
		var head [4]byte
		binary.BigEndian.PutUint16(head[0:2], o.Code)
		binary.BigEndian.PutUint16(head[2:4], uint16(len(o.Data)))
		e.buf = append(e.buf, head[:]...)
		e.buf = append(e.buf, o.Data...)
	}
	return nil
}

// writeName writes a domain name using whole-message compression: if a
// suffix of name has already been written, a pointer replaces it.
//
// DNSSEC RRSIG owner/signer names and SRV/NS targets inside signed RRsets
// must NOT be compressed relative to each other during canonicalization,
// but on the wire compression is always legal for these types; the signer
// package canonicalizes its own copy of the message before hashing, so
// compression here never affects signature validity.
func (e *Encoder) writeName(name string) error {
	if name == "." || name == "" {
		e.buf = append(e.buf, 0)
		return nil
	}

	labels := strings.Split(strings.TrimSuffix(CanonicalName(name), "."), ".")

	for i := 0; i < len(labels); i++ {
		suffix := strings.Join(labels[i:], ".") + "."
		if off, ok := e.names[suffix]; ok {
			e.writePointer(off)
			return nil
		}
		if len(e.buf) <= maxPointerOffset {
			e.names[suffix] = len(e.buf)
		}
		label := labels[i]
		if len(label) > maxLabelLength {
			return ErrLabelTooLong
		}
		e.buf = append(e.buf, byte(len(label)))
		e.buf = append(e.buf, label...)
	}
	e.buf = append(e.buf, 0)
	return nil
}

// writeUncompressedName writes name without compression and without
// registering it for later compression, matching the canonical form DNSSEC
// RRSIG/SIG RDATA requires for owner and target names.
func (e *Encoder) writeUncompressedName(name string) error {
	if name == "." || name == "" {
		e.buf = append(e.buf, 0)
		return nil
	}
	for _, label := range strings.Split(strings.TrimSuffix(CanonicalName(name), "."), ".") {
		if len(label) > maxLabelLength {
			return ErrLabelTooLong
		}
		e.buf = append(e.buf, byte(len(label)))
		e.buf = append(e.buf, label...)
	}
	e.buf = append(e.buf, 0)
	return nil
}

// EncodeNameUncompressed returns the wire encoding of name with no
// compression, lowercased, the canonical name form RFC 4034 §6.2 requires
// for DNSSEC signing input.
func EncodeNameUncompressed(name string) ([]byte, error) {
	e := NewEncoder(len(name) + 2)
	if err := e.writeUncompressedName(name); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// EncodeRdataCanonical returns rr's RDATA with every embedded name
// lowercased and uncompressed and no surrounding header, question, or RR
// metadata, the per-RR canonical form RFC 4034 §6.2 requires. Unlike
// writeRdata (used for real wire encoding), names here are never
// compressed against each other, even within the same record.
func EncodeRdataCanonical(rr ResourceRecord) ([]byte, error) {
	e := NewEncoder(64)

	switch v := rr.Rdata.(type) {
	case NS:
		if err := e.writeUncompressedName(v.Target); err != nil {
			return nil, err
		}
		return e.Bytes(), nil
	case CNAME:
		if err := e.writeUncompressedName(v.Target); err != nil {
			return nil, err
		}
		return e.Bytes(), nil
	case PTR:
		if err := e.writeUncompressedName(v.Target); err != nil {
			return nil, err
		}
		return e.Bytes(), nil
	case MX:
		var pref [2]byte
		binary.BigEndian.PutUint16(pref[:], v.Pref)
		e.buf = append(e.buf, pref[:]...)
		if err := e.writeUncompressedName(v.Exchange); err != nil {
			return nil, err
		}
		return e.Bytes(), nil
	case SOA:
		if err := e.writeUncompressedName(v.Primary); err != nil {
			return nil, err
		}
		if err := e.writeUncompressedName(v.Admin); err != nil {
			return nil, err
		}
		var tail [20]byte
		binary.BigEndian.PutUint32(tail[0:4], v.Serial)
		binary.BigEndian.PutUint32(tail[4:8], v.Refresh)
		binary.BigEndian.PutUint32(tail[8:12], v.Retry)
		binary.BigEndian.PutUint32(tail[12:16], v.Expire)
		binary.BigEndian.PutUint32(tail[16:20], v.Minimum)
		e.buf = append(e.buf, tail[:]...)
		return e.Bytes(), nil
	default:
		if err := e.writeRdata(rr); err != nil {
			return nil, err
		}
		return e.Bytes(), nil
	}
}

func (e *Encoder) writePointer(offset int) {
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], uint16(0xC000|offset&0x3FFF))
	e.buf = append(e.buf, p[:]...)
}
