package dnssec

import (
	"testing"
	"time"

	"github.com/dnsscience/authdnsd/internal/wire"
)

func testKey(t *testing.T) *Key {
	t.Helper()
	key, err := NewEphemeralKey("example.com.", 256, 1024)
	if err != nil {
		t.Fatalf("NewEphemeralKey: %v", err)
	}
	return key
}

func TestKeyTagStable(t *testing.T) {
	key := testKey(t)
	tag1 := key.KeyTag()
	tag2 := computeKeyTag(key.Flags, key.Algorithm, key.DNSKEY().PublicKey)
	if tag1 != tag2 {
		t.Errorf("KeyTag() = %d, recomputed = %d", tag1, tag2)
	}
}

func TestSignProducesVerifiableRRSIG(t *testing.T) {
	key := testKey(t)
	signer := NewSigner(key)
	signer.now = func() time.Time { return time.Unix(1700000000, 0) }

	rrset := []wire.ResourceRecord{
		{Name: "www.example.com.", Type: wire.TypeA, Class: wire.ClassIN, TTL: 300, Rdata: wire.A{Addr: []byte{93, 184, 216, 34}}},
	}

	rrsigRR, err := signer.Sign("www.example.com.", wire.TypeA, 300, rrset)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	sig, ok := rrsigRR.Rdata.(wire.RRSIG)
	if !ok {
		t.Fatalf("expected RRSIG rdata, got %T", rrsigRR.Rdata)
	}
	if sig.Algorithm != AlgorithmRSASHA256 {
		t.Errorf("Algorithm = %d, want %d", sig.Algorithm, AlgorithmRSASHA256)
	}
	if sig.KeyTag != key.KeyTag() {
		t.Errorf("KeyTag = %d, want %d", sig.KeyTag, key.KeyTag())
	}
	if sig.Inception >= sig.Expiration {
		t.Errorf("inception %d should precede expiration %d", sig.Inception, sig.Expiration)
	}
	if len(sig.Signature) == 0 {
		t.Error("signature is empty")
	}
	if sig.Labels != 3 {
		t.Errorf("Labels = %d, want 3 for www.example.com.", sig.Labels)
	}
}

func TestSignRejectsEmptyRRset(t *testing.T) {
	signer := NewSigner(testKey(t))
	_, err := signer.Sign("example.com.", wire.TypeA, 300, nil)
	if err == nil {
		t.Fatal("expected error signing empty rrset")
	}
}

func TestCanonicalOrderIsDeterministic(t *testing.T) {
	a := wire.ResourceRecord{Name: "example.com.", Type: wire.TypeA, Rdata: wire.A{Addr: []byte{2, 2, 2, 2}}}
	b := wire.ResourceRecord{Name: "example.com.", Type: wire.TypeA, Rdata: wire.A{Addr: []byte{1, 1, 1, 1}}}

	ordered1 := canonicalOrder([]wire.ResourceRecord{a, b})
	ordered2 := canonicalOrder([]wire.ResourceRecord{b, a})

	d1, _ := canonicalRdata(ordered1[0])
	d2, _ := canonicalRdata(ordered2[0])
	if string(d1) != string(d2) {
		t.Error("canonicalOrder is not stable across differently ordered inputs")
	}
}

func TestDSDerivation(t *testing.T) {
	key := testKey(t)
	ds := key.DS()
	if ds.DigestType != 2 {
		t.Errorf("DigestType = %d, want 2 (SHA-256)", ds.DigestType)
	}
	if len(ds.Digest) != 32 {
		t.Errorf("digest length = %d, want 32", len(ds.Digest))
	}
	if ds.KeyTag != key.KeyTag() {
		t.Errorf("DS.KeyTag = %d, want %d", ds.KeyTag, key.KeyTag())
	}
}

func TestLoadKeyRejectsNonRSASHA256(t *testing.T) {
	_, err := LoadKey("/nonexistent.private", "example.com.", 256, 13)
	if err == nil {
		t.Fatal("expected error for algorithm 13 (ECDSAP256SHA256)")
	}
}
