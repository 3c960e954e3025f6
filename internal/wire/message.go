// Package wire implements byte-exact decoding and encoding of DNS messages
// (RFC 1035), including label compression, EDNS0 OPT pseudo-records (RFC
// 6891), and the DNSSEC resource records needed to serve signed answers
// (RFC 4034).
//
// The codec treats every input buffer as hostile: all pointer jumps, label
// lengths, and RDATA lengths are bounds-checked before use.
package wire

import "strings"

// Security limits mirrored from the Unbound CVE-2024-8508 mitigation.
const (
	maxCompressionDepth = 20
	maxLabelLength       = 63
	maxDomainLength      = 255
	HeaderSize           = 12

	// DefaultUDPSize is the advertised UDP payload size when no EDNS0
	// OPT record negotiates a larger one.
	DefaultUDPSize = 512
)

// RecordType is a DNS RR type code.
type RecordType uint16

const (
	TypeA      RecordType = 1
	TypeNS     RecordType = 2
	TypeCNAME  RecordType = 5
	TypeSOA    RecordType = 6
	TypePTR    RecordType = 12
	TypeMX     RecordType = 15
	TypeTXT    RecordType = 16
	TypeAAAA   RecordType = 28
	TypeSRV    RecordType = 33
	TypeOPT    RecordType = 41
	TypeDS     RecordType = 43
	TypeRRSIG  RecordType = 46
	TypeDNSKEY RecordType = 48
	TypeCAA    RecordType = 257
	TypeANY    RecordType = 255
)

// compressible lists the RR types whose RDATA may itself contain a
// compressed name, per RFC 1035 §4.1.4. All other types are opaque.
var compressible = map[RecordType]bool{
	TypeNS:    true,
	TypeCNAME: true,
	TypePTR:   true,
	TypeMX:    true,
	TypeSOA:   true,
}

// Class is a DNS query/RR class. Only IN is supported by the resolver;
// the codec still round-trips others opaquely so FORMERR/REFUSED can be
// decided by the caller.
type Class uint16

const ClassIN Class = 1

// Header is the fixed 12-byte DNS message header.
type Header struct {
	ID      uint16
	QR      bool
	Opcode  uint8 // 4 bits
	AA      bool
	TC      bool
	RD      bool
	RA      bool
	Z       bool // reserved bit, must be 0 on the wire
	AD      bool
	CD      bool
	Rcode   uint8 // 4 bits
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Question is a single entry of the question section.
type Question struct {
	Name  string
	Type  RecordType
	Class Class
}

// ResourceRecord is a fully decoded resource record: typed RDATA for the
// types the resolver understands, raw bytes for everything else.
type ResourceRecord struct {
	Name  string
	Type  RecordType
	Class Class
	TTL   uint32
	Rdata Rdata

	// Raw holds the exact RDATA octets as they appeared on the wire
	// (pre-decompression), used for opaque types and as a fast path for
	// re-encoding records the resolver does not modify.
	Raw []byte
}

// Message is a fully decoded DNS message.
type Message struct {
	Header     Header
	Question   []Question
	Answer     []ResourceRecord
	Authority  []ResourceRecord
	Additional []ResourceRecord
}

// CanonicalName lowercases an ASCII domain name and ensures a trailing
// root dot, the representation used for comparisons and for DNSSEC
// canonicalization.
func CanonicalName(name string) string {
	name = strings.ToLower(name)
	if name == "" {
		return "."
	}
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	return name
}

// EqualNames compares two domain names case-insensitively on ASCII.
func EqualNames(a, b string) bool {
	return CanonicalName(a) == CanonicalName(b)
}

// Labels splits a canonical domain name into its labels, excluding the
// trailing root label. "*.example.tld." -> ["*", "example", "tld"].
func Labels(name string) []string {
	name = strings.TrimSuffix(CanonicalName(name), ".")
	if name == "" {
		return nil
	}
	return strings.Split(name, ".")
}

// CountLabels returns the number of labels in an owner name, excluding
// the root and any leading wildcard "*" label, per RFC 4034 §3.1.3.
func CountLabels(name string) int {
	labels := Labels(name)
	if len(labels) > 0 && labels[0] == "*" {
		return len(labels) - 1
	}
	return len(labels)
}
