package wire

import (
	"fmt"
	"net"
)

// Rdata is the discriminated union of parsed record data. Each concrete
// type below corresponds to exactly one RecordType; Opaque carries any
// type the codec does not parse structurally.
type Rdata interface {
	rtype() RecordType
}

// A is an IPv4 address record.
type A struct{ Addr net.IP }

func (A) rtype() RecordType { return TypeA }

// AAAA is an IPv6 address record.
type AAAA struct{ Addr net.IP }

func (AAAA) rtype() RecordType { return TypeAAAA }

// NS is a nameserver record.
type NS struct{ Target string }

func (NS) rtype() RecordType { return TypeNS }

// CNAME is a canonical-name alias record.
type CNAME struct{ Target string }

func (CNAME) rtype() RecordType { return TypeCNAME }

// PTR is a pointer record.
type PTR struct{ Target string }

func (PTR) rtype() RecordType { return TypePTR }

// SOA is a start-of-authority record.
type SOA struct {
	Primary string
	Admin   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

func (SOA) rtype() RecordType { return TypeSOA }

// MX is a mail-exchange record.
type MX struct {
	Pref     uint16
	Exchange string
}

func (MX) rtype() RecordType { return TypeMX }

// TXT is one or more character-strings concatenated as free text.
type TXT struct{ Strings []string }

func (TXT) rtype() RecordType { return TypeTXT }

// SRV is a service-location record (RFC 2782).
type SRV struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

func (SRV) rtype() RecordType { return TypeSRV }

// CAA is a certification-authority-authorization record (RFC 8659).
type CAA struct {
	Flag  uint8
	Tag   string
	Value string
}

func (CAA) rtype() RecordType { return TypeCAA }

// OPT is the EDNS0 pseudo-RR (RFC 6891). UDPSize and the extended RCODE
// bits live in the enclosing ResourceRecord's Class/TTL fields per the
// wire convention; Options carries the TLV list from RDATA.
type OPT struct {
	ExtRcode uint8
	Version  uint8
	DO       bool
	Options  []EDNSOption
}

func (OPT) rtype() RecordType { return TypeOPT }

// EDNSOption is one option-code/option-data pair inside an OPT RDATA.
type EDNSOption struct {
	Code uint16
	Data []byte
}

const EDNSOptionCookie uint16 = 10

// DS is a delegation-signer record (RFC 4034 §5).
type DS struct {
	KeyTag     uint16
	Algorithm  uint8
	DigestType uint8
	Digest     []byte
}

func (DS) rtype() RecordType { return TypeDS }

// RRSIG is a signature over an RRset (RFC 4034 §3).
type RRSIG struct {
	TypeCovered RecordType
	Algorithm   uint8
	Labels      uint8
	OrigTTL     uint32
	Expiration  uint32
	Inception   uint32
	KeyTag      uint16
	SignerName  string
	Signature   []byte
}

func (RRSIG) rtype() RecordType { return TypeRRSIG }

// DNSKEY is a DNSSEC public key record (RFC 4034 §2).
type DNSKEY struct {
	Flags     uint16
	Protocol  uint8
	Algorithm uint8
	PublicKey []byte
}

func (DNSKEY) rtype() RecordType { return TypeDNSKEY }

// Opaque carries RDATA for any type the codec does not parse structurally.
// The bytes are the exact, decompressed-if-applicable wire RDATA.
type Opaque struct {
	Type RecordType
	Data []byte
}

func (o Opaque) rtype() RecordType { return o.Type }

// String renders an Rdata in a form roughly matching BIND presentation
// format, used for debugging and zone-file round-tripping.
func String(r Rdata) string {
	switch v := r.(type) {
	case A:
		return v.Addr.String()
	case AAAA:
		return v.Addr.String()
	case NS:
		return v.Target
	case CNAME:
		return v.Target
	case PTR:
		return v.Target
	case SOA:
		return fmt.Sprintf("%s %s %d %d %d %d %d", v.Primary, v.Admin, v.Serial, v.Refresh, v.Retry, v.Expire, v.Minimum)
	case MX:
		return fmt.Sprintf("%d %s", v.Pref, v.Exchange)
	case TXT:
		out := ""
		for i, s := range v.Strings {
			if i > 0 {
				out += " "
			}
			out += fmt.Sprintf("%q", s)
		}
		return out
	case SRV:
		return fmt.Sprintf("%d %d %d %s", v.Priority, v.Weight, v.Port, v.Target)
	case CAA:
		return fmt.Sprintf("%d %s %q", v.Flag, v.Tag, v.Value)
	case DS:
		return fmt.Sprintf("%d %d %d %x", v.KeyTag, v.Algorithm, v.DigestType, v.Digest)
	case DNSKEY:
		return fmt.Sprintf("%d %d %d %x", v.Flags, v.Protocol, v.Algorithm, v.PublicKey)
	case RRSIG:
		return fmt.Sprintf("%d %d %d %d %d %d %d %s %x", v.TypeCovered, v.Algorithm, v.Labels, v.OrigTTL, v.Expiration, v.Inception, v.KeyTag, v.SignerName, v.Signature)
	case Opaque:
		return fmt.Sprintf("%x", v.Data)
	default:
		return ""
	}
}
