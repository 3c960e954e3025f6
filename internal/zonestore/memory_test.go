package zonestore

import (
	"context"
	"testing"

	"github.com/dnsscience/authdnsd/internal/wire"
)

func TestMemoryPutGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.Put(ctx, RRSet{Name: "www.example.com.", Type: wire.TypeA, TTL: 300, Rdata: []wire.Rdata{wire.A{Addr: []byte{1, 2, 3, 4}}}})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := m.Get(ctx, "WWW.EXAMPLE.COM", wire.TypeA)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Rdata) != 1 {
		t.Fatalf("got %d records, want 1", len(got.Rdata))
	}
}

func TestMemoryGetNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "missing.example.com.", wire.TypeA)
	if err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestMemoryGetAll(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Put(ctx, RRSet{Name: "example.com.", Type: wire.TypeA, TTL: 300, Rdata: []wire.Rdata{wire.A{Addr: []byte{1, 1, 1, 1}}}})
	m.Put(ctx, RRSet{Name: "example.com.", Type: wire.TypeMX, TTL: 300, Rdata: []wire.Rdata{wire.MX{Pref: 10, Exchange: "mail.example.com."}}})

	all, err := m.GetAll(ctx, "example.com.")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d rrsets, want 2", len(all))
	}
}

func TestMemoryPutRejectsEmptyRdata(t *testing.T) {
	m := NewMemory()
	err := m.Put(context.Background(), RRSet{Name: "example.com.", Type: wire.TypeA})
	if err == nil {
		t.Fatal("expected error for empty rdata")
	}
}

func TestLoadYAMLZone(t *testing.T) {
	doc := []byte(`
zone:
  name: example.com.
  ttl: 3600
soa:
  primary_ns: ns1.example.com.
  contact: admin.example.com.
  serial: 2026073001
  refresh: 3600
  retry: 900
  expire: 604800
  negative_ttl: 3600
records:
  "@":
    NS:
      - ns1.example.com.
      - ns2.example.com.
  www:
    A:
      - 203.0.113.10
  mail:
    MX:
      - priority: 10
        target: mail.example.com.
`)

	m := NewMemory()
	apex, err := LoadYAMLZone(doc, m)
	if err != nil {
		t.Fatalf("LoadYAMLZone: %v", err)
	}
	if apex != "example.com." {
		t.Fatalf("apex = %q, want example.com.", apex)
	}

	ctx := context.Background()
	soa, err := m.Get(ctx, "example.com.", wire.TypeSOA)
	if err != nil {
		t.Fatalf("Get SOA: %v", err)
	}
	if _, ok := soa.Rdata[0].(wire.SOA); !ok {
		t.Errorf("SOA rdata has wrong type: %T", soa.Rdata[0])
	}

	a, err := m.Get(ctx, "www.example.com.", wire.TypeA)
	if err != nil {
		t.Fatalf("Get www A: %v", err)
	}
	if len(a.Rdata) != 1 {
		t.Fatalf("got %d A records, want 1", len(a.Rdata))
	}

	zones, _ := m.Zones(ctx)
	if len(zones) != 1 || zones[0] != "example.com." {
		t.Errorf("Zones() = %v, want [example.com.]", zones)
	}
}

func TestLoadYAMLZoneRequiresName(t *testing.T) {
	m := NewMemory()
	_, err := LoadYAMLZone([]byte("soa:\n  primary_ns: ns1.example.com.\n"), m)
	if err == nil {
		t.Fatal("expected error for zone document missing zone.name")
	}
}
