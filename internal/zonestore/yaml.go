package zonestore

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dnsscience/authdnsd/internal/wire"
)

// document mirrors the .dnszone YAML convention: zone metadata, an SOA
// section, and a map of owner name (relative to the zone apex, or "@" for
// the apex itself) to the record types defined there.
type document struct {
	Zone    zoneSection              `yaml:"zone"`
	SOA     soaSection               `yaml:"soa"`
	Records map[string]recordSection `yaml:"records"`
}

type zoneSection struct {
	Name string `yaml:"name"`
	TTL  uint32 `yaml:"ttl,omitempty"`
}

type soaSection struct {
	PrimaryNS   string `yaml:"primary_ns"`
	Contact     string `yaml:"contact"`
	Serial      uint32 `yaml:"serial"`
	Refresh     uint32 `yaml:"refresh"`
	Retry       uint32 `yaml:"retry"`
	Expire      uint32 `yaml:"expire"`
	NegativeTTL uint32 `yaml:"negative_ttl"`
}

type recordSection struct {
	A     []string `yaml:"A,omitempty"`
	AAAA  []string `yaml:"AAAA,omitempty"`
	CNAME string   `yaml:"CNAME,omitempty"`
	NS    []string `yaml:"NS,omitempty"`
	MX    []mxYAML `yaml:"MX,omitempty"`
	TXT   []string `yaml:"TXT,omitempty"`
	SRV   []srvYAML `yaml:"SRV,omitempty"`
	PTR   string   `yaml:"PTR,omitempty"`
	CAA   []caaYAML `yaml:"CAA,omitempty"`
	TTL   uint32   `yaml:"ttl,omitempty"`
}

type mxYAML struct {
	Priority uint16 `yaml:"priority"`
	Target   string `yaml:"target"`
}

type srvYAML struct {
	Priority uint16 `yaml:"priority"`
	Weight   uint16 `yaml:"weight"`
	Port     uint16 `yaml:"port"`
	Target   string `yaml:"target"`
}

type caaYAML struct {
	Flag  uint8  `yaml:"flag"`
	Tag   string `yaml:"tag"`
	Value string `yaml:"value"`
}

// LoadYAMLZoneFile reads a .dnszone-style YAML document from path and
// populates dst with its records, registering the zone apex via AddZone.
func LoadYAMLZoneFile(path string, dst *Memory) (apex string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("zonestore: reading zone file: %w", err)
	}
	return LoadYAMLZone(data, dst)
}

// LoadYAMLZone parses a .dnszone-style YAML document from data and
// populates dst with its records.
func LoadYAMLZone(data []byte, dst *Memory) (apex string, err error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("zonestore: parsing zone YAML: %w", err)
	}
	if doc.Zone.Name == "" {
		return "", fmt.Errorf("zonestore: zone document missing zone.name")
	}

	apex = wire.CanonicalName(doc.Zone.Name)
	defaultTTL := doc.Zone.TTL
	if defaultTTL == 0 {
		defaultTTL = 3600
	}

	if err := loadSOA(apex, doc.SOA, defaultTTL, dst); err != nil {
		return "", err
	}

	for owner, rec := range doc.Records {
		fqdn := qualify(owner, apex)
		ttl := rec.TTL
		if ttl == 0 {
			ttl = defaultTTL
		}
		if err := loadRecordSection(fqdn, rec, ttl, dst); err != nil {
			return "", fmt.Errorf("zonestore: owner %q: %w", owner, err)
		}
	}

	dst.AddZone(apex)
	return apex, nil
}

func qualify(owner, apex string) string {
	if owner == "@" || owner == "" {
		return apex
	}
	if strings.HasSuffix(owner, ".") {
		return wire.CanonicalName(owner)
	}
	return wire.CanonicalName(owner + "." + apex)
}

func loadSOA(apex string, s soaSection, defaultTTL uint32, dst *Memory) error {
	if s.PrimaryNS == "" {
		return nil
	}
	soa := wire.SOA{
		Primary: wire.CanonicalName(s.PrimaryNS),
		Admin:   wire.CanonicalName(s.Contact),
		Serial:  s.Serial,
		Refresh: orDefault(s.Refresh, 3600),
		Retry:   orDefault(s.Retry, 900),
		Expire:  orDefault(s.Expire, 604800),
		Minimum: orDefault(s.NegativeTTL, 3600),
	}
	return dst.Put(context.Background(), RRSet{Name: apex, Type: wire.TypeSOA, TTL: defaultTTL, Rdata: []wire.Rdata{soa}})
}

func orDefault(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}

func loadRecordSection(fqdn string, rec recordSection, ttl uint32, dst *Memory) error {
	if len(rec.A) > 0 {
		var rdata []wire.Rdata
		for _, ipStr := range rec.A {
			ip := net.ParseIP(ipStr).To4()
			if ip == nil {
				return fmt.Errorf("invalid A address %q", ipStr)
			}
			rdata = append(rdata, wire.A{Addr: ip})
		}
		if err := dst.Put(context.Background(), RRSet{Name: fqdn, Type: wire.TypeA, TTL: ttl, Rdata: rdata}); err != nil {
			return err
		}
	}

	if len(rec.AAAA) > 0 {
		var rdata []wire.Rdata
		for _, ipStr := range rec.AAAA {
			ip := net.ParseIP(ipStr).To16()
			if ip == nil {
				return fmt.Errorf("invalid AAAA address %q", ipStr)
			}
			rdata = append(rdata, wire.AAAA{Addr: ip})
		}
		if err := dst.Put(context.Background(), RRSet{Name: fqdn, Type: wire.TypeAAAA, TTL: ttl, Rdata: rdata}); err != nil {
			return err
		}
	}

	if rec.CNAME != "" {
		rdata := []wire.Rdata{wire.CNAME{Target: wire.CanonicalName(rec.CNAME)}}
		if err := dst.Put(context.Background(), RRSet{Name: fqdn, Type: wire.TypeCNAME, TTL: ttl, Rdata: rdata}); err != nil {
			return err
		}
	}

	if len(rec.NS) > 0 {
		var rdata []wire.Rdata
		for _, ns := range rec.NS {
			rdata = append(rdata, wire.NS{Target: wire.CanonicalName(ns)})
		}
		if err := dst.Put(context.Background(), RRSet{Name: fqdn, Type: wire.TypeNS, TTL: ttl, Rdata: rdata}); err != nil {
			return err
		}
	}

	if len(rec.MX) > 0 {
		var rdata []wire.Rdata
		for _, mx := range rec.MX {
			rdata = append(rdata, wire.MX{Pref: mx.Priority, Exchange: wire.CanonicalName(mx.Target)})
		}
		if err := dst.Put(context.Background(), RRSet{Name: fqdn, Type: wire.TypeMX, TTL: ttl, Rdata: rdata}); err != nil {
			return err
		}
	}

	if len(rec.TXT) > 0 {
		rdata := []wire.Rdata{wire.TXT{Strings: rec.TXT}}
		if err := dst.Put(context.Background(), RRSet{Name: fqdn, Type: wire.TypeTXT, TTL: ttl, Rdata: rdata}); err != nil {
			return err
		}
	}

	if len(rec.SRV) > 0 {
		var rdata []wire.Rdata
		for _, srv := range rec.SRV {
			rdata = append(rdata, wire.SRV{Priority: srv.Priority, Weight: srv.Weight, Port: srv.Port, Target: wire.CanonicalName(srv.Target)})
		}
		if err := dst.Put(context.Background(), RRSet{Name: fqdn, Type: wire.TypeSRV, TTL: ttl, Rdata: rdata}); err != nil {
			return err
		}
	}

	if rec.PTR != "" {
		rdata := []wire.Rdata{wire.PTR{Target: wire.CanonicalName(rec.PTR)}}
		if err := dst.Put(context.Background(), RRSet{Name: fqdn, Type: wire.TypePTR, TTL: ttl, Rdata: rdata}); err != nil {
			return err
		}
	}

	if len(rec.CAA) > 0 {
		var rdata []wire.Rdata
		for _, caa := range rec.CAA {
			rdata = append(rdata, wire.CAA{Flag: caa.Flag, Tag: caa.Tag, Value: caa.Value})
		}
		if err := dst.Put(context.Background(), RRSet{Name: fqdn, Type: wire.TypeCAA, TTL: ttl, Rdata: rdata}); err != nil {
			return err
		}
	}

	return nil
}
