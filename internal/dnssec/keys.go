// Package dnssec signs authoritative RRsets with RSA/SHA-256 (RFC 4034
// algorithm 8) and derives the key material authdnsd needs to publish a
// secure delegation: key tags, DNSKEY RDATA, and DS records.
//
// Only algorithm 8 (RSASHA256) is supported. Any other algorithm found in
// a loaded key is rejected at load time rather than silently ignored,
// since a server that claims to sign with an algorithm it cannot produce
// valid signatures for is worse than one that refuses to start.
package dnssec

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/dnsscience/authdnsd/internal/wire"
)

// AlgorithmRSASHA256 is the only signing algorithm this package produces
// or accepts (RFC 5702).
const AlgorithmRSASHA256 uint8 = 8

var (
	ErrUnsupportedAlgorithm = errors.New("dnssec: only RSASHA256 (algorithm 8) keys are supported")
	ErrEmptyKeyFile         = errors.New("dnssec: public key file contains no '<owner> IN DNSKEY ...' line")
	ErrMalformedKeyLine     = errors.New("dnssec: public key file is not a single '<owner> IN DNSKEY ...' line")
	ErrMalformedPrivateFile = errors.New("dnssec: private key file is missing a required field")
)

// Key is a loaded DNSSEC signing key together with the DNSKEY metadata
// needed to publish and reference it.
type Key struct {
	Zone      string
	Flags     uint16 // 257 for a KSK, 256 for a ZSK
	Algorithm uint8
	Private   *rsa.PrivateKey
	publicKey []byte // RFC 3110 wire format
	keyTag    uint16
}

// LoadKey reads the BIND-style key file pair rooted at path: the public
// key file itself (one line, `<owner> IN DNSKEY <flags> <protocol>
// <algorithm> <base64-public-key>`) and its companion `.private` file
// (conventional `Field: value` text, e.g. `Kzone.+008+keyid.key` next to
// `Kzone.+008+keyid.private`). The owner name on the public key line
// becomes the signer name recorded in minted RRSIGs; zone is used only
// if that owner canonicalizes to an empty name. A non-zero flags
// overrides the public key file's flags field; zero takes the file's
// value. algorithm is cross-checked against both files rather than
// trusted implicitly — any algorithm other than AlgorithmRSASHA256 is
// rejected before the private parameters are ever parsed, since a
// server that believes it is signing with an algorithm it cannot
// actually produce is worse than one that refuses to start.
func LoadKey(path, zone string, flags uint16, algorithm uint8) (*Key, error) {
	if algorithm != AlgorithmRSASHA256 {
		return nil, fmt.Errorf("%w: got algorithm %d", ErrUnsupportedAlgorithm, algorithm)
	}

	pubData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dnssec: reading public key file: %w", err)
	}
	owner, fileFlags, fileAlgorithm, pub, err := parsePublicKeyLine(pubData)
	if err != nil {
		return nil, err
	}
	if fileAlgorithm != algorithm {
		return nil, fmt.Errorf("%w: public key file declares algorithm %d", ErrUnsupportedAlgorithm, fileAlgorithm)
	}

	privData, err := os.ReadFile(privateKeyPath(path))
	if err != nil {
		return nil, fmt.Errorf("dnssec: reading private key file: %w", err)
	}
	priv, privAlgorithm, err := parsePrivateKeyFile(privData)
	if err != nil {
		return nil, err
	}
	if privAlgorithm != algorithm {
		return nil, fmt.Errorf("%w: private key file declares algorithm %d", ErrUnsupportedAlgorithm, privAlgorithm)
	}

	derivedPub, err := encodeRFC3110PublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("dnssec: encoding public key: %w", err)
	}
	if !bytes.Equal(derivedPub, pub) {
		return nil, errors.New("dnssec: public key file does not match the private key file's public parameters")
	}

	if flags == 0 {
		flags = fileFlags
	}

	k := &Key{
		Zone:      wire.CanonicalName(owner),
		Flags:     flags,
		Algorithm: AlgorithmRSASHA256,
		Private:   priv,
		publicKey: pub,
	}
	if k.Zone == "" {
		k.Zone = wire.CanonicalName(zone)
	}
	k.keyTag = computeKeyTag(k.Flags, k.Algorithm, k.publicKey)
	return k, nil
}

// privateKeyPath derives the companion .private file path from the
// public key file path, following BIND's Kzone.+alg+id.key /
// Kzone.+alg+id.private naming convention.
func privateKeyPath(pubPath string) string {
	if strings.HasSuffix(pubPath, ".key") {
		return strings.TrimSuffix(pubPath, ".key") + ".private"
	}
	return pubPath + ".private"
}

// parsePublicKeyLine parses the single `<owner> IN DNSKEY <flags>
// <protocol> <algorithm> <base64-public-key>` line SPEC_FULL.md §6
// specifies, stripping `;`-comments and blank lines first.
func parsePublicKeyLine(data []byte) (owner string, flags uint16, algorithm uint8, pub []byte, err error) {
	var fields []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := stripComment(scanner.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields = strings.Fields(line)
		break
	}
	if len(fields) < 7 {
		return "", 0, 0, nil, ErrEmptyKeyFile
	}
	if !strings.EqualFold(fields[1], "IN") || !strings.EqualFold(fields[2], "DNSKEY") {
		return "", 0, 0, nil, ErrMalformedKeyLine
	}

	flagsVal, err := strconv.ParseUint(fields[3], 10, 16)
	if err != nil {
		return "", 0, 0, nil, fmt.Errorf("%w: bad flags field %q", ErrMalformedKeyLine, fields[3])
	}
	algVal, err := strconv.ParseUint(fields[5], 10, 8)
	if err != nil {
		return "", 0, 0, nil, fmt.Errorf("%w: bad algorithm field %q", ErrMalformedKeyLine, fields[5])
	}
	pub, err = base64.StdEncoding.DecodeString(strings.Join(fields[6:], ""))
	if err != nil {
		return "", 0, 0, nil, fmt.Errorf("%w: bad base64 public key: %v", ErrMalformedKeyLine, err)
	}
	return fields[0], uint16(flagsVal), uint8(algVal), pub, nil
}

// parsePrivateKeyFile parses the conventional BIND `.private` text
// format (`Field: value` lines, `;`-comments stripped) and reconstructs
// the RSA private key from its Modulus/exponent/prime fields.
func parsePrivateKeyFile(data []byte) (*rsa.PrivateKey, uint8, error) {
	fields := map[string]string{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := stripComment(scanner.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		valueFields := strings.Fields(strings.TrimSpace(value))
		if len(valueFields) == 0 {
			continue
		}
		fields[strings.TrimSpace(name)] = valueFields[0]
	}

	algStr, ok := fields["Algorithm"]
	if !ok {
		return nil, 0, fmt.Errorf("%w: Algorithm", ErrMalformedPrivateFile)
	}
	algVal, err := strconv.ParseUint(algStr, 10, 8)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: Algorithm is not numeric: %v", ErrMalformedPrivateFile, err)
	}

	modulus, err := requireBigIntField(fields, "Modulus")
	if err != nil {
		return nil, 0, err
	}
	pubExp, err := requireBigIntField(fields, "PublicExponent")
	if err != nil {
		return nil, 0, err
	}
	privExp, err := requireBigIntField(fields, "PrivateExponent")
	if err != nil {
		return nil, 0, err
	}
	prime1, err := requireBigIntField(fields, "Prime1")
	if err != nil {
		return nil, 0, err
	}
	prime2, err := requireBigIntField(fields, "Prime2")
	if err != nil {
		return nil, 0, err
	}

	priv := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: modulus, E: int(pubExp.Int64())},
		D:         privExp,
		Primes:    []*big.Int{prime1, prime2},
	}
	priv.Precompute()
	if err := priv.Validate(); err != nil {
		return nil, 0, fmt.Errorf("dnssec: private key fields do not form a valid RSA key: %w", err)
	}
	return priv, uint8(algVal), nil
}

func requireBigIntField(fields map[string]string, name string) (*big.Int, error) {
	raw, ok := fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPrivateFile, name)
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid base64: %v", ErrMalformedPrivateFile, name, err)
	}
	return new(big.Int).SetBytes(decoded), nil
}

func stripComment(line string) string {
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		return line[:idx]
	}
	return line
}

// NewEphemeralKey generates a fresh in-memory RSA key, used by tests and
// by operators bootstrapping a zone without a pre-provisioned key file.
func NewEphemeralKey(zone string, flags uint16, bits int) (*Key, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	pub, err := encodeRFC3110PublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	k := &Key{
		Zone:      wire.CanonicalName(zone),
		Flags:     flags,
		Algorithm: AlgorithmRSASHA256,
		Private:   priv,
		publicKey: pub,
	}
	k.keyTag = computeKeyTag(k.Flags, k.Algorithm, k.publicKey)
	return k, nil
}

// KeyTag returns the RFC 4034 Appendix B.1 key tag identifying this key in
// RRSIG records.
func (k *Key) KeyTag() uint16 { return k.keyTag }

// DNSKEY returns the public-key RDATA for this key.
func (k *Key) DNSKEY() wire.DNSKEY {
	return wire.DNSKEY{
		Flags:     k.Flags,
		Protocol:  3,
		Algorithm: k.Algorithm,
		PublicKey: k.publicKey,
	}
}

// encodeRFC3110PublicKey serializes an RSA public key in the exponent/
// modulus wire format DNSKEY and KEY records require (RFC 3110 §2).
func encodeRFC3110PublicKey(pub *rsa.PublicKey) ([]byte, error) {
	e := bigEndianBytes(pub.E)
	n := pub.N.Bytes()

	var out []byte
	switch {
	case len(e) == 0:
		return nil, errors.New("dnssec: zero-length exponent")
	case len(e) < 256:
		out = append(out, byte(len(e)))
	default:
		out = append(out, 0)
		out = append(out, byte(len(e)>>8), byte(len(e)))
	}
	out = append(out, e...)
	out = append(out, n...)
	return out, nil
}

func bigEndianBytes(e int) []byte {
	if e == 0 {
		return []byte{0}
	}
	var b []byte
	for e > 0 {
		b = append([]byte{byte(e)}, b...)
		e >>= 8
	}
	return b
}
