package server

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dnsscience/authdnsd/internal/config"
	"github.com/dnsscience/authdnsd/internal/wire"
)

const testZone = `
zone:
  name: example.com.
  ttl: 300
soa:
  primary_ns: ns1.example.com.
  contact: hostmaster.example.com.
  serial: 1
  refresh: 3600
  retry: 600
  expire: 604800
  negative_ttl: 300
records:
  "@":
    NS: ["ns1.example.com."]
  www:
    A: ["192.0.2.1"]
`

func writeZoneFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "example.com.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testZone), 0o644))
	return path
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestServerStartStopAnswersQuery(t *testing.T) {
	cfg := config.Default()
	cfg.Bind = freeAddr(t)
	cfg.ZoneFile = writeZoneFile(t)
	cfg.MetricsAddr = ""

	srv, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	msg := &wire.Message{
		Header:   wire.Header{ID: 0x1, RD: true},
		Question: []wire.Question{{Name: "www.example.com.", Type: wire.TypeA, Class: wire.ClassIN}},
	}
	encoded, err := wire.Encode(msg)
	require.NoError(t, err)

	raddr, err := net.ResolveUDPAddr("udp", cfg.Bind)
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, raddr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(encoded)
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	resp, err := wire.Parse(buf[:n])
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
}

func TestServerRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Bind = ""

	_, err := New(cfg, nil)
	require.Error(t, err, "expected New to reject empty Bind")
}

func TestServerStatsReportsComponentSnapshots(t *testing.T) {
	cfg := config.Default()
	cfg.Bind = freeAddr(t)
	cfg.ZoneFile = writeZoneFile(t)

	srv, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	stats := srv.Stats()
	require.Greater(t, stats.Worker.Workers, 0)
}
