// Package random provides cryptographically secure randomization for DNS
// to prevent cache poisoning attacks.
//
// Attack model: Kaminsky attack and birthday attack variants
// - Attacker floods resolver with spoofed responses
// - Must guess transaction ID (16 bits) + source port (16 bits) = 32 bits total
// - With 10,000 queries/sec, attacker has ~6 seconds for 50% collision
// - Solution: Crypto-strong randomization + additional entropy (0x20 encoding)
package random

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// TransactionID generates a cryptographically random 16-bit transaction ID.
// NEVER use math/rand for DNS transaction IDs - it's predictable.
func TransactionID() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint16(buf[:])
}

// SourcePort generates a cryptographically random source port for outbound
// forwarder sockets. Avoids privileged ports and the top of the ephemeral
// range, which may collide with other services on the host.
func SourcePort() uint16 {
	const (
		minPort   = 32768
		portRange = 61000 - 32768
	)

	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}

	randomOffset := binary.BigEndian.Uint32(buf[:]) % portRange
	return uint16(minPort + randomOffset)
}

// Bool returns a cryptographically random boolean, used for 0x20 case
// randomization of forwarded query names.
func Bool() bool {
	var buf [1]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return false
	}
	return buf[0]&1 == 1
}

// Bits returns n cryptographically random bytes, one per letter position
// in a query name being 0x20-encoded; the caller only ever consults the
// low bit of each byte.
func Bits(n int) []byte {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return buf
}
