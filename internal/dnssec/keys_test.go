package dnssec

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

// writeBINDKeyPair serializes priv as a BIND-style Kzone.+008+keyid.key /
// .private file pair under t.TempDir() and returns the public file's path,
// the form LoadKey expects.
func writeBINDKeyPair(t *testing.T, owner string, flags uint16, priv *rsa.PrivateKey) string {
	t.Helper()
	priv.Precompute()

	pub, err := encodeRFC3110PublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("encodeRFC3110PublicKey: %v", err)
	}

	dir := t.TempDir()
	pubPath := filepath.Join(dir, "Kzone.+008+00001.key")
	privPath := filepath.Join(dir, "Kzone.+008+00001.private")

	pubLine := fmt.Sprintf("%s IN DNSKEY %d 3 %d %s\n", owner, flags, AlgorithmRSASHA256, base64.StdEncoding.EncodeToString(pub))
	if err := os.WriteFile(pubPath, []byte(pubLine), 0o644); err != nil {
		t.Fatalf("writing public key file: %v", err)
	}

	enc := func(n *big.Int) string {
		return base64.StdEncoding.EncodeToString(n.Bytes())
	}

	privText := fmt.Sprintf(
		"; generated for tests, not a real key\n"+
			"Private-key-format: v1.3\n"+
			"Algorithm: %d (RSASHA256)\n"+
			"Modulus: %s\n"+
			"PublicExponent: %s\n"+
			"PrivateExponent: %s\n"+
			"Prime1: %s\n"+
			"Prime2: %s\n",
		AlgorithmRSASHA256,
		enc(priv.N),
		enc(big.NewInt(int64(priv.E))),
		enc(priv.D),
		enc(priv.Primes[0]),
		enc(priv.Primes[1]),
	)
	if err := os.WriteFile(privPath, []byte(privText), 0o600); err != nil {
		t.Fatalf("writing private key file: %v", err)
	}
	return pubPath
}

func TestLoadKeyParsesBINDKeyPair(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	pubPath := writeBINDKeyPair(t, "example.com.", 256, priv)

	key, err := LoadKey(pubPath, "example.com.", 0, AlgorithmRSASHA256)
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if key.Zone != "example.com." {
		t.Errorf("Zone = %q, want %q", key.Zone, "example.com.")
	}
	if key.Flags != 256 {
		t.Errorf("Flags = %d, want 256 (taken from the public key file)", key.Flags)
	}
	if key.Private.N.Cmp(priv.N) != 0 {
		t.Error("loaded key's modulus does not match the generated key")
	}
	if key.KeyTag() == 0 {
		t.Error("KeyTag() should not be zero for a loaded key")
	}
}

func TestLoadKeyRejectsMismatchedPublicKeyFile(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	pubPath := writeBINDKeyPair(t, "example.com.", 256, priv)

	other, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	otherPub, err := encodeRFC3110PublicKey(&other.PublicKey)
	if err != nil {
		t.Fatalf("encodeRFC3110PublicKey: %v", err)
	}
	pubLine := fmt.Sprintf("example.com. IN DNSKEY 256 3 %d %s\n", AlgorithmRSASHA256, base64.StdEncoding.EncodeToString(otherPub))
	if err := os.WriteFile(pubPath, []byte(pubLine), 0o644); err != nil {
		t.Fatalf("overwriting public key file: %v", err)
	}

	if _, err := LoadKey(pubPath, "example.com.", 0, AlgorithmRSASHA256); err == nil {
		t.Fatal("expected LoadKey to reject a public key file that does not match the private key")
	}
}

func TestLoadKeyRejectsTruncatedPrivateFile(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	pubPath := writeBINDKeyPair(t, "example.com.", 256, priv)
	privPath := privateKeyPath(pubPath)

	truncated := "Private-key-format: v1.3\nAlgorithm: 8 (RSASHA256)\nModulus: AAAA\n"
	if err := os.WriteFile(privPath, []byte(truncated), 0o600); err != nil {
		t.Fatalf("writing truncated private key file: %v", err)
	}

	if _, err := LoadKey(pubPath, "example.com.", 0, AlgorithmRSASHA256); err == nil {
		t.Fatal("expected LoadKey to reject a private key file missing required fields")
	}
}
