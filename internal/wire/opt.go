package wire

// EDNS0 packs UDP payload size into the OPT record's class field and the
// extended RCODE, version, and DO bit into its TTL field (RFC 6891 §6.1.3).

// FindOPT returns the OPT pseudo-record in msg's additional section, if
// present, along with its index so callers can replace it in place.
func FindOPT(msg *Message) (*ResourceRecord, int) {
	for i := range msg.Additional {
		if msg.Additional[i].Type == TypeOPT {
			return &msg.Additional[i], i
		}
	}
	return nil, -1
}

// DecodeOPTMeta unpacks the UDP payload size, extended RCODE, version, and
// DO bit carried by an OPT record's Class and TTL fields.
func DecodeOPTMeta(rr ResourceRecord) (udpSize uint16, extRcode, version uint8, do bool) {
	udpSize = uint16(rr.Class)
	ttl := rr.TTL
	extRcode = uint8(ttl >> 24)
	version = uint8(ttl >> 16)
	do = ttl&0x00008000 != 0
	return
}

// EncodeOPTMeta packs udpSize/extRcode/version/do into the Class and TTL
// fields of an OPT ResourceRecord, leaving Rdata/Name untouched.
func EncodeOPTMeta(rr *ResourceRecord, udpSize uint16, extRcode, version uint8, do bool) {
	rr.Class = Class(udpSize)
	ttl := uint32(extRcode) << 24
	ttl |= uint32(version) << 16
	if do {
		ttl |= 0x00008000
	}
	rr.TTL = ttl
}

// NewOPTRecord builds a fresh OPT pseudo-record, the root name per RFC
// 6891 §6.1.2.
func NewOPTRecord(udpSize uint16, extRcode, version uint8, do bool, options []EDNSOption) ResourceRecord {
	rr := ResourceRecord{
		Name: ".",
		Type: TypeOPT,
		Rdata: OPT{ExtRcode: extRcode, Version: version, DO: do, Options: options},
	}
	EncodeOPTMeta(&rr, udpSize, extRcode, version, do)
	return rr
}

// GetOption returns the first option with the given code from an OPT
// record's decoded Rdata, if present.
func GetOption(rr ResourceRecord, code uint16) (EDNSOption, bool) {
	opt, ok := rr.Rdata.(OPT)
	if !ok {
		return EDNSOption{}, false
	}
	for _, o := range opt.Options {
		if o.Code == code {
			return o, true
		}
	}
	return EDNSOption{}, false
}
