package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Parse decodes a complete DNS message from wire format. Every length and
// offset derived from the buffer is validated before use; Parse never
// panics on attacker-controlled input.
func Parse(buf []byte) (*Message, error) {
	if len(buf) < HeaderSize {
		return nil, ErrMessageTooShort
	}

	d := &decoder{buf: buf}
	hdr, err := d.parseHeader()
	if err != nil {
		return nil, err
	}

	msg := &Message{Header: hdr}

	msg.Question = make([]Question, 0, hdr.QDCount)
	for i := uint16(0); i < hdr.QDCount; i++ {
		q, err := d.parseQuestion()
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		msg.Question = append(msg.Question, q)
	}

	msg.Answer, err = d.parseRRSection(hdr.ANCount)
	if err != nil {
		return nil, fmt.Errorf("answer section: %w", err)
	}
	msg.Authority, err = d.parseRRSection(hdr.NSCount)
	if err != nil {
		return nil, fmt.Errorf("authority section: %w", err)
	}
	msg.Additional, err = d.parseRRSection(hdr.ARCount)
	if err != nil {
		return nil, fmt.Errorf("additional section: %w", err)
	}

	return msg, nil
}

// decoder walks buf left to right, tracking the current read offset. Name
// decompression may jump backward transiently but never advances off.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) parseHeader() (Header, error) {
	if len(d.buf) < HeaderSize {
		return Header{}, ErrMessageTooShort
	}

	b := d.buf
	flags1 := b[2]
	flags2 := b[3]

	hdr := Header{
		ID:      binary.BigEndian.Uint16(b[0:2]),
		QR:      flags1&0x80 != 0,
		Opcode:  (flags1 >> 3) & 0x0F,
		AA:      flags1&0x04 != 0,
		TC:      flags1&0x02 != 0,
		RD:      flags1&0x01 != 0,
		RA:      flags2&0x80 != 0,
		Z:       flags2&0x40 != 0,
		AD:      flags2&0x20 != 0,
		CD:      flags2&0x10 != 0,
		Rcode:   flags2 & 0x0F,
		QDCount: binary.BigEndian.Uint16(b[4:6]),
		ANCount: binary.BigEndian.Uint16(b[6:8]),
		NSCount: binary.BigEndian.Uint16(b[8:10]),
		ARCount: binary.BigEndian.Uint16(b[10:12]),
	}
	d.off = HeaderSize
	return hdr, nil
}

func (d *decoder) parseQuestion() (Question, error) {
	name, err := d.parseName()
	if err != nil {
		return Question{}, err
	}
	if d.off+4 > len(d.buf) {
		return Question{}, ErrMessageTooShort
	}
	qtype := RecordType(binary.BigEndian.Uint16(d.buf[d.off : d.off+2]))
	qclass := Class(binary.BigEndian.Uint16(d.buf[d.off+2 : d.off+4]))
	d.off += 4
	return Question{Name: name, Type: qtype, Class: qclass}, nil
}

func (d *decoder) parseRRSection(count uint16) ([]ResourceRecord, error) {
	rrs := make([]ResourceRecord, 0, count)
	for i := uint16(0); i < count; i++ {
		rr, err := d.parseRR()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		rrs = append(rrs, rr)
	}
	return rrs, nil
}

func (d *decoder) parseRR() (ResourceRecord, error) {
	name, err := d.parseName()
	if err != nil {
		return ResourceRecord{}, err
	}
	if d.off+10 > len(d.buf) {
		return ResourceRecord{}, ErrMessageTooShort
	}

	rtype := RecordType(binary.BigEndian.Uint16(d.buf[d.off : d.off+2]))
	class := Class(binary.BigEndian.Uint16(d.buf[d.off+2 : d.off+4]))
	ttl := binary.BigEndian.Uint32(d.buf[d.off+4 : d.off+8])
	rdlen := int(binary.BigEndian.Uint16(d.buf[d.off+8 : d.off+10]))
	d.off += 10

	if d.off+rdlen > len(d.buf) {
		return ResourceRecord{}, ErrTruncatedRdata
	}
	rdataStart := d.off
	rdataEnd := d.off + rdlen
	raw := append([]byte(nil), d.buf[rdataStart:rdataEnd]...)

	rr := ResourceRecord{Name: name, Type: rtype, Class: class, TTL: ttl, Raw: raw}

	parsed, consumed, err := d.parseRdata(rtype, rdataStart, rdlen)
	if err != nil {
		return ResourceRecord{}, fmt.Errorf("rdata for type %d: %w", rtype, err)
	}
	if parsed != nil && consumed != rdlen {
		return ResourceRecord{}, ErrRdlengthMismatch
	}
	rr.Rdata = parsed

	d.off = rdataEnd
	return rr, nil
}

// parseRdata dispatches on type. Names inside RDATA may use message-wide
// compression (RFC 1035 §4.1.4), so decoding reads from the shared buffer
// at rdataStart rather than from raw, which has already been stripped of
// surrounding context. consumed reports octets read relative to rdataStart
// for types that decode structurally; callers must not trust it when the
// returned Rdata is nil (opaque fallback already matches rdlen by
// construction).
func (d *decoder) parseRdata(rtype RecordType, rdataStart, rdlen int) (Rdata, int, error) {
	switch rtype {
	case TypeA:
		if rdlen != 4 {
			return nil, 0, ErrTruncatedRdata
		}
		ip := make(net.IP, 4)
		copy(ip, d.buf[rdataStart:rdataStart+4])
		return A{Addr: ip}, 4, nil

	case TypeAAAA:
		if rdlen != 16 {
			return nil, 0, ErrTruncatedRdata
		}
		ip := make(net.IP, 16)
		copy(ip, d.buf[rdataStart:rdataStart+16])
		return AAAA{Addr: ip}, 16, nil

	case TypeNS, TypeCNAME, TypePTR:
		sub := &decoder{buf: d.buf, off: rdataStart}
		name, err := sub.parseName()
		if err != nil {
			return nil, 0, err
		}
		consumed := sub.off - rdataStart
		switch rtype {
		case TypeNS:
			return NS{Target: name}, consumed, nil
		case TypeCNAME:
			return CNAME{Target: name}, consumed, nil
		default:
			return PTR{Target: name}, consumed, nil
		}

	case TypeSOA:
		sub := &decoder{buf: d.buf, off: rdataStart}
		primary, err := sub.parseName()
		if err != nil {
			return nil, 0, err
		}
		admin, err := sub.parseName()
		if err != nil {
			return nil, 0, err
		}
		if sub.off+20 > len(d.buf) {
			return nil, 0, ErrTruncatedRdata
		}
		soa := SOA{
			Primary: primary,
			Admin:   admin,
			Serial:  binary.BigEndian.Uint32(d.buf[sub.off : sub.off+4]),
			Refresh: binary.BigEndian.Uint32(d.buf[sub.off+4 : sub.off+8]),
			Retry:   binary.BigEndian.Uint32(d.buf[sub.off+8 : sub.off+12]),
			Expire:  binary.BigEndian.Uint32(d.buf[sub.off+12 : sub.off+16]),
			Minimum: binary.BigEndian.Uint32(d.buf[sub.off+16 : sub.off+20]),
		}
		sub.off += 20
		return soa, sub.off - rdataStart, nil

	case TypeMX:
		if rdlen < 3 {
			return nil, 0, ErrTruncatedRdata
		}
		pref := binary.BigEndian.Uint16(d.buf[rdataStart : rdataStart+2])
		sub := &decoder{buf: d.buf, off: rdataStart + 2}
		exch, err := sub.parseName()
		if err != nil {
			return nil, 0, err
		}
		return MX{Pref: pref, Exchange: exch}, sub.off - rdataStart, nil

	case TypeTXT:
		strs, err := parseCharStrings(d.buf[rdataStart : rdataStart+rdlen])
		if err != nil {
			return nil, 0, err
		}
		return TXT{Strings: strs}, rdlen, nil

	case TypeSRV:
		if rdlen < 7 {
			return nil, 0, ErrTruncatedRdata
		}
		prio := binary.BigEndian.Uint16(d.buf[rdataStart : rdataStart+2])
		weight := binary.BigEndian.Uint16(d.buf[rdataStart+2 : rdataStart+4])
		port := binary.BigEndian.Uint16(d.buf[rdataStart+4 : rdataStart+6])
		sub := &decoder{buf: d.buf, off: rdataStart + 6}
		target, err := sub.parseName()
		if err != nil {
			return nil, 0, err
		}
		return SRV{Priority: prio, Weight: weight, Port: port, Target: target}, sub.off - rdataStart, nil

	case TypeCAA:
		if rdlen < 2 {
			return nil, 0, ErrTruncatedRdata
		}
		flag := d.buf[rdataStart]
		tagLen := int(d.buf[rdataStart+1])
		if 2+tagLen > rdlen {
			return nil, 0, ErrTruncatedRdata
		}
		tag := string(d.buf[rdataStart+2 : rdataStart+2+tagLen])
		value := string(d.buf[rdataStart+2+tagLen : rdataStart+rdlen])
		return CAA{Flag: flag, Tag: tag, Value: value}, rdlen, nil

	case TypeOPT:
		opts, err := parseEDNSOptions(d.buf[rdataStart : rdataStart+rdlen])
		if err != nil {
			return nil, 0, err
		}
		return OPT{Options: opts}, rdlen, nil

	case TypeDS:
		if rdlen < 4 {
			return nil, 0, ErrTruncatedRdata
		}
		digest := append([]byte(nil), d.buf[rdataStart+4:rdataStart+rdlen]...)
		return DS{
			KeyTag:     binary.BigEndian.Uint16(d.buf[rdataStart : rdataStart+2]),
			Algorithm:  d.buf[rdataStart+2],
			DigestType: d.buf[rdataStart+3],
			Digest:     digest,
		}, rdlen, nil

	case TypeDNSKEY:
		if rdlen < 4 {
			return nil, 0, ErrTruncatedRdata
		}
		key := append([]byte(nil), d.buf[rdataStart+4:rdataStart+rdlen]...)
		return DNSKEY{
			Flags:     binary.BigEndian.Uint16(d.buf[rdataStart : rdataStart+2]),
			Protocol:  d.buf[rdataStart+2],
			Algorithm: d.buf[rdataStart+3],
			PublicKey: key,
		}, rdlen, nil

	case TypeRRSIG:
		if rdlen < 18 {
			return nil, 0, ErrTruncatedRdata
		}
		sub := &decoder{buf: d.buf, off: rdataStart + 18}
		signer, err := sub.parseName()
		if err != nil {
			return nil, 0, err
		}
		if sub.off > rdataStart+rdlen {
			return nil, 0, ErrTruncatedRdata
		}
		sig := append([]byte(nil), d.buf[sub.off:rdataStart+rdlen]...)
		rr := RRSIG{
			TypeCovered: RecordType(binary.BigEndian.Uint16(d.buf[rdataStart : rdataStart+2])),
			Algorithm:   d.buf[rdataStart+2],
			Labels:      d.buf[rdataStart+3],
			OrigTTL:     binary.BigEndian.Uint32(d.buf[rdataStart+4 : rdataStart+8]),
			Expiration:  binary.BigEndian.Uint32(d.buf[rdataStart+8 : rdataStart+12]),
			Inception:   binary.BigEndian.Uint32(d.buf[rdataStart+12 : rdataStart+16]),
			KeyTag:      binary.BigEndian.Uint16(d.buf[rdataStart+16 : rdataStart+18]),
			SignerName:  signer,
			Signature:   sig,
		}
		return rr, rdlen, nil

	default:
		return nil, 0, nil
	}
}

// parseCharStrings splits a TXT RDATA blob into its length-prefixed
// character-strings (RFC 1035 §3.3).
func parseCharStrings(buf []byte) ([]string, error) {
	var out []string
	i := 0
	for i < len(buf) {
		n := int(buf[i])
		i++
		if i+n > len(buf) {
			return nil, ErrTruncatedRdata
		}
		out = append(out, string(buf[i:i+n]))
		i += n
	}
	return out, nil
}

// parseEDNSOptions splits an OPT RDATA blob into option-code/length/data
// triples (RFC 6891 §6.1.2).
func parseEDNSOptions(buf []byte) ([]EDNSOption, error) {
	var out []EDNSOption
	i := 0
	for i < len(buf) {
		if i+4 > len(buf) {
			return nil, ErrTruncatedRdata
		}
		code := binary.BigEndian.Uint16(buf[i : i+2])
		length := int(binary.BigEndian.Uint16(buf[i+2 : i+4]))
		i += 4
		if i+length > len(buf) {
			return nil, ErrTruncatedRdata
		}
		data := append([]byte(nil), buf[i:i+length]...)
		out = append(out, EDNSOption{Code: code, Data: data})
		i += length
	}
	return out, nil
}

// parseName decodes a possibly-compressed domain name starting at d.off,
// advancing d.off past the in-line portion (the first pointer or the root
// label, whichever comes first). Jumps follow compression pointers without
// moving d.off past the pointer itself; maxCompressionDepth bounds the
// number of jumps to defeat pointer loops, mirroring the chain-of-custody
// check Unbound added after CVE-2024-8508.
func (d *decoder) parseName() (string, error) {
	var labels []string
	pos := d.off
	endOfInline := -1
	jumps := 0
	totalLen := 0

	for {
		if pos >= len(d.buf) {
			return "", ErrTruncatedName
		}
		lenByte := d.buf[pos]

		switch {
		case lenByte == 0:
			pos++
			if endOfInline == -1 {
				endOfInline = pos
			}
			d.off = endOfInline
			if len(labels) == 0 {
				return ".", nil
			}
			return joinLabels(labels), nil

		case lenByte&0xC0 == 0xC0:
			if pos+2 > len(d.buf) {
				return "", ErrTruncatedName
			}
			if endOfInline == -1 {
				endOfInline = pos + 2
			}
			jumps++
			if jumps > maxCompressionDepth {
				return "", ErrPointerLoop
			}
			offset := int(lenByte&0x3F)<<8 | int(d.buf[pos+1])
			if offset >= pos {
				return "", ErrPointerForward
			}
			pos = offset

		case lenByte&0xC0 != 0:
			// 0x40/0x80 prefixes: read as a length, the byte exceeds 63.
			return "", ErrLabelTooLong

		default:
			labelLen := int(lenByte)
			if labelLen > maxLabelLength {
				return "", ErrLabelTooLong
			}
			pos++
			if pos+labelLen > len(d.buf) {
				return "", ErrTruncatedName
			}
			totalLen += labelLen + 1
			if totalLen > maxDomainLength {
				return "", ErrNameTooLong
			}
			labels = append(labels, string(d.buf[pos:pos+labelLen]))
			pos += labelLen
		}
	}
}

func joinLabels(labels []string) string {
	out := ""
	for _, l := range labels {
		out += l + "."
	}
	return out
}
