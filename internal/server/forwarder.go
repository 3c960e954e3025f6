package server

import (
	"context"
	"fmt"
	"net"

	"github.com/dnsscience/authdnsd/internal/random"
	"github.com/dnsscience/authdnsd/internal/wire"
)

// udpForwarder implements resolver.Forwarder over a fresh UDP socket per
// request, bound to a cryptographically random source port so a blind
// spoofer must guess both the transaction ID and the source port, per
// the package doc of internal/random.
type udpForwarder struct{}

func newUDPForwarder() *udpForwarder { return &udpForwarder{} }

// Forward sends query to addr and returns the parsed response, or an
// error if the context deadline is exceeded or the socket fails.
func (f *udpForwarder) Forward(ctx context.Context, addr string, query *wire.Message) (*wire.Message, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("forwarder: resolving upstream address: %w", err)
	}

	conn, err := dialFromRandomPort(raddr)
	if err != nil {
		return nil, fmt.Errorf("forwarder: dialing upstream: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	encoded, err := wire.Encode(query)
	if err != nil {
		return nil, fmt.Errorf("forwarder: encoding query: %w", err)
	}
	if _, err := conn.Write(encoded); err != nil {
		return nil, fmt.Errorf("forwarder: writing query: %w", err)
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("forwarder: reading response: %w", err)
	}

	resp, err := wire.Parse(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("forwarder: parsing response: %w", err)
	}
	return resp, nil
}

// dialFromRandomPort opens a UDP socket bound to a crypto-random
// ephemeral source port and connects it to raddr. A handful of bind
// attempts absorb the rare case of colliding with another socket already
// bound to the chosen port.
func dialFromRandomPort(raddr *net.UDPAddr) (*net.UDPConn, error) {
	const maxAttempts = 5
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		laddr := &net.UDPAddr{Port: int(random.SourcePort())}
		conn, err := net.DialUDP("udp", laddr, raddr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
