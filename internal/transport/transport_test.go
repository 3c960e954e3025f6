package transport

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dnsscience/authdnsd/internal/cache"
	"github.com/dnsscience/authdnsd/internal/resolver"
	"github.com/dnsscience/authdnsd/internal/wire"
	"github.com/dnsscience/authdnsd/internal/worker"
	"github.com/dnsscience/authdnsd/internal/zonestore"
)

func newTestResolver(t *testing.T) *resolver.Resolver {
	t.Helper()
	store := zonestore.NewMemory()
	store.AddZone("example.com.")
	err := store.Put(context.Background(), zonestore.RRSet{
		Name: "www.example.com.", Type: wire.TypeA, TTL: 300,
		Rdata: []wire.Rdata{wire.A{Addr: net.ParseIP("192.0.2.1")}},
	})
	require.NoError(t, err)
	c := cache.New(cache.Config{MaxEntries: 100, ShardCount: 4})
	t.Cleanup(c.Close)
	return resolver.New(resolver.Config{Apex: "example.com.", Authoritative: true}, store, c, nil, nil, nil)
}

func newTestPool(t *testing.T) *worker.Pool {
	t.Helper()
	p := worker.New(worker.Config{Workers: 4, QueueMultiplier: 4})
	t.Cleanup(func() { p.Close() })
	return p
}

func queryBytes(t *testing.T, name string, qtype wire.RecordType) []byte {
	t.Helper()
	msg := &wire.Message{
		Header:   wire.Header{ID: 0xABCD, RD: true},
		Question: []wire.Question{{Name: name, Type: qtype, Class: wire.ClassIN}},
	}
	b, err := wire.Encode(msg)
	require.NoError(t, err)
	return b
}

func TestUDPServerAnswersQuery(t *testing.T) {
	res := newTestResolver(t)
	pool := newTestPool(t)

	srv := NewUDPServer("127.0.0.1:0", res, pool, 0, nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	addr := srv.conn.LocalAddr().(*net.UDPAddr)

	client, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write(queryBytes(t, "www.example.com.", wire.TypeA))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := client.Read(buf)
	require.NoError(t, err)

	resp, err := wire.Parse(buf[:n])
	require.NoError(t, err)
	require.Equal(t, uint16(0xABCD), resp.Header.ID)
	require.Len(t, resp.Answer, 1)
}

func TestUDPServerDropsOversizedDatagram(t *testing.T) {
	res := newTestResolver(t)
	pool := newTestPool(t)

	srv := NewUDPServer("127.0.0.1:0", res, pool, 0, nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	addr := srv.conn.LocalAddr().(*net.UDPAddr)
	client, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer client.Close()

	oversized := make([]byte, maxUDPDatagram+200)
	_, err = client.Write(oversized)
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 4096)
	_, err = client.Read(buf)
	require.Error(t, err, "expected no response for oversized datagram")
}

func TestTCPServerAnswersQuery(t *testing.T) {
	res := newTestResolver(t)
	pool := newTestPool(t)

	srv := NewTCPServer("127.0.0.1:0", res, pool, time.Second, nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	addr := srv.listener.Addr().(*net.TCPAddr)
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	payload := queryBytes(t, "www.example.com.", wire.TypeA)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	_, err = conn.Write(append(lenBuf[:], payload...))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var respLenBuf [2]byte
	_, err = readFull(conn, respLenBuf[:])
	require.NoError(t, err)
	respLen := binary.BigEndian.Uint16(respLenBuf[:])
	respBuf := make([]byte, respLen)
	_, err = readFull(conn, respBuf)
	require.NoError(t, err)

	resp, err := wire.Parse(respBuf)
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
}

func TestTCPServerClosesOnIdleTimeout(t *testing.T) {
	res := newTestResolver(t)
	pool := newTestPool(t)

	srv := NewTCPServer("127.0.0.1:0", res, pool, 100*time.Millisecond, nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	addr := srv.listener.Addr().(*net.TCPAddr)
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err, "expected connection to be closed after idle timeout")
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
