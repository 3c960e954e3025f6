package wire

import (
	"errors"
	"net"
	"testing"
)

func TestRoundTripSimpleQuery(t *testing.T) {
	msg := &Message{
		Header: Header{ID: 0x1234, RD: true, QDCount: 1},
		Question: []Question{
			{Name: "www.example.com.", Type: TypeA, Class: ClassIN},
		},
	}

	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if decoded.Header.ID != 0x1234 {
		t.Errorf("ID = %#x, want %#x", decoded.Header.ID, 0x1234)
	}
	if !decoded.Header.RD {
		t.Error("RD bit not round-tripped")
	}
	if len(decoded.Question) != 1 || !EqualNames(decoded.Question[0].Name, "www.example.com.") {
		t.Errorf("question mismatch: %+v", decoded.Question)
	}
}

func TestRoundTripAnswerWithCompression(t *testing.T) {
	msg := &Message{
		Header: Header{ID: 1, QR: true, AA: true, QDCount: 1, ANCount: 2},
		Question: []Question{
			{Name: "example.com.", Type: TypeA, Class: ClassIN},
		},
		Answer: []ResourceRecord{
			{Name: "example.com.", Type: TypeA, Class: ClassIN, TTL: 300, Rdata: A{Addr: net.ParseIP("93.184.216.34")}},
			{Name: "example.com.", Type: TypeNS, Class: ClassIN, TTL: 300, Rdata: NS{Target: "ns1.example.com."}},
		},
	}

	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Compression should make the encoded message much smaller than the
	// naive sum of every name written uncompressed.
	if len(encoded) > 90 {
		t.Errorf("expected compression to keep message small, got %d bytes", len(encoded))
	}

	decoded, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(decoded.Answer) != 2 {
		t.Fatalf("got %d answers, want 2", len(decoded.Answer))
	}
	a, ok := decoded.Answer[0].Rdata.(A)
	if !ok || !a.Addr.Equal(net.ParseIP("93.184.216.34")) {
		t.Errorf("A record mismatch: %+v", decoded.Answer[0].Rdata)
	}
	ns, ok := decoded.Answer[1].Rdata.(NS)
	if !ok || !EqualNames(ns.Target, "ns1.example.com.") {
		t.Errorf("NS record mismatch: %+v", decoded.Answer[1].Rdata)
	}
}

func TestParseRejectsPointerLoop(t *testing.T) {
	// A name whose compression pointer points at itself.
	buf := make([]byte, HeaderSize+2+4)
	buf[HeaderSize] = 0xC0
	buf[HeaderSize+1] = byte(HeaderSize)
	binSetQDCount(buf, 1)

	_, err := Parse(buf)
	if err == nil {
		t.Fatal("expected error for self-referential pointer, got nil")
	}
}

func TestParseRejectsForwardPointer(t *testing.T) {
	buf := make([]byte, HeaderSize+2+4)
	buf[HeaderSize] = 0xC0
	buf[HeaderSize+1] = byte(HeaderSize + 10) // points past itself
	binSetQDCount(buf, 1)

	_, err := Parse(buf)
	if err == nil {
		t.Fatal("expected error for forward-referencing pointer, got nil")
	}
}

func TestParseRejectsOversizedLabel(t *testing.T) {
	buf := make([]byte, HeaderSize+1+64+4)
	buf[HeaderSize] = 64 // exceeds maxLabelLength
	binSetQDCount(buf, 1)

	_, err := Parse(buf)
	if !errors.Is(err, ErrLabelTooLong) {
		t.Fatalf("got %v, want ErrLabelTooLong", err)
	}
}

func TestParseRejectsTruncatedMessage(t *testing.T) {
	_, err := Parse([]byte{0x00, 0x01})
	if err != ErrMessageTooShort {
		t.Fatalf("got %v, want ErrMessageTooShort", err)
	}
}

func TestRoundTripEDNS0Cookie(t *testing.T) {
	opt := NewOPTRecord(4096, 0, 0, true, []EDNSOption{
		{Code: EDNSOptionCookie, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
	})
	msg := &Message{
		Header:     Header{ID: 7, QDCount: 1, ARCount: 1},
		Question:   []Question{{Name: "example.com.", Type: TypeA, Class: ClassIN}},
		Additional: []ResourceRecord{opt},
	}

	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	rr, idx := FindOPT(decoded)
	if idx == -1 {
		t.Fatal("OPT record not found after round-trip")
	}
	udpSize, _, _, do := DecodeOPTMeta(*rr)
	if udpSize != 4096 || !do {
		t.Errorf("OPT meta mismatch: udpSize=%d do=%v", udpSize, do)
	}
	cookie, ok := GetOption(*rr, EDNSOptionCookie)
	if !ok || len(cookie.Data) != 8 {
		t.Errorf("cookie option mismatch: %+v ok=%v", cookie, ok)
	}
}

func TestRoundTripTXTMultipleStrings(t *testing.T) {
	msg := &Message{
		Header:   Header{ID: 1, QR: true, ANCount: 1},
		Answer: []ResourceRecord{
			{Name: "example.com.", Type: TypeTXT, Class: ClassIN, TTL: 60, Rdata: TXT{Strings: []string{"v=spf1", "include:example.net"}}},
		},
	}
	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	txt, ok := decoded.Answer[0].Rdata.(TXT)
	if !ok || len(txt.Strings) != 2 || txt.Strings[0] != "v=spf1" {
		t.Errorf("TXT mismatch: %+v", decoded.Answer[0].Rdata)
	}
}

func TestCanonicalNameAndCountLabels(t *testing.T) {
	if CanonicalName("WWW.Example.COM") != "www.example.com." {
		t.Errorf("CanonicalName failed: %q", CanonicalName("WWW.Example.COM"))
	}
	if CountLabels("*.example.com.") != 2 {
		t.Errorf("CountLabels(wildcard) = %d, want 2", CountLabels("*.example.com."))
	}
	if CountLabels("example.com.") != 2 {
		t.Errorf("CountLabels = %d, want 2", CountLabels("example.com."))
	}
}

// binSetQDCount sets the QDCOUNT field of a raw header buffer for tests
// that construct malformed messages by hand.
func binSetQDCount(buf []byte, n uint16) {
	buf[4] = byte(n >> 8)
	buf[5] = byte(n)
}
