// Package server wires configuration, the zone store, response cache,
// DNSSEC signer, resolver, and UDP/TCP transports into a single runnable
// unit, grounded in the teacher's internal/server.Server orchestration
// (Start/Stop lifecycle, periodic stats) adapted from its
// miekg/dns-and-dnsasm transport pair to authdnsd's own resolver and
// transport packages.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dnsscience/authdnsd/internal/cache"
	"github.com/dnsscience/authdnsd/internal/config"
	"github.com/dnsscience/authdnsd/internal/cookie"
	"github.com/dnsscience/authdnsd/internal/dnssec"
	"github.com/dnsscience/authdnsd/internal/metrics"
	"github.com/dnsscience/authdnsd/internal/resolver"
	"github.com/dnsscience/authdnsd/internal/transport"
	"github.com/dnsscience/authdnsd/internal/wire"
	"github.com/dnsscience/authdnsd/internal/worker"
	"github.com/dnsscience/authdnsd/internal/zonestore"
)

// shutdownGracePeriod bounds how long Stop waits for in-flight queries to
// drain before forcing the worker pool closed.
const shutdownGracePeriod = 5 * time.Second

// Server owns every long-lived component authdnsd runs: the zone store,
// cache, signer, cookie manager, resolver, transports, worker pool, and
// metrics registry.
type Server struct {
	cfg config.Config

	store    *zonestore.Memory
	cache    *cache.Cache
	signer   *dnssec.Signer
	cookies  *cookie.Manager
	resolver *resolver.Resolver
	pool     *worker.Pool
	metrics  *metrics.Registry
	logger   *slog.Logger

	udp *transport.UDPServer
	tcp *transport.TCPServer

	metricsStop chan struct{}
	cookieStop  chan struct{}

	lastCookiesRejected uint64
}

// New assembles a Server from cfg. It loads the configured zone file and
// DNSSEC key, if any, but does not bind any sockets; call Start for that.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server: invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	store := zonestore.NewMemory()
	apex := ""
	if cfg.ZoneFile != "" {
		loadedApex, err := zonestore.LoadYAMLZoneFile(cfg.ZoneFile, store)
		if err != nil {
			return nil, fmt.Errorf("server: loading zone file: %w", err)
		}
		apex = loadedApex
	}

	if len(cfg.NSRecords) > 0 {
		if apex == "" {
			return nil, errors.New("server: ns_records configured without a zone file to attach them to")
		}
		if err := installNSRecords(store, apex, cfg.NSRecords); err != nil {
			return nil, fmt.Errorf("server: installing ns_records: %w", err)
		}
	}

	c := cache.New(cache.Config{
		MaxEntries:       cfg.CacheSize,
		ShardCount:       cfg.ShardCount,
		EvictionInterval: cfg.EvictionInterval,
	})

	var signer *dnssec.Signer
	if cfg.DNSSECKeyFile != "" {
		if apex == "" {
			c.Close()
			return nil, errors.New("server: dnssec key configured without a zone file to sign")
		}
		key, err := dnssec.LoadKey(cfg.DNSSECKeyFile, apex, 256, cfg.DNSSECAlgorithm)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("server: loading dnssec key: %w", err)
		}
		if err := installDNSKEY(store, apex, key); err != nil {
			c.Close()
			return nil, fmt.Errorf("server: installing apex dnskey: %w", err)
		}
		signer = dnssec.NewSigner(key)
		ds := signer.DS()
		logger.Info("dnssec signing enabled", "zone", apex, "key_tag", key.KeyTag(), "ds", formatDS(ds))
	}

	cookies, err := cookie.NewManager(cookie.Config{Enabled: cfg.CookiesEnabled})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("server: initializing cookie manager: %w", err)
	}

	pool := worker.New(worker.Config{
		Workers:         cfg.Workers,
		QueueMultiplier: cfg.WorkerQueueMultiplier,
	})

	res := resolver.New(resolver.Config{
		Apex:           apex,
		Authoritative:  cfg.Authoritative,
		Forwarders:     cfg.Forwarders,
		ForwardTimeout: cfg.ForwardTimeout,
		CookiesEnabled: cfg.CookiesEnabled,
		CacheTTLFloor:  cfg.CacheTTLFloor,
		Logger:         logger,
	}, store, c, signer, cookies, newUDPForwarder())
	res.PrimeApexNS(context.Background())

	reg := metrics.New()

	s := &Server{
		cfg:         cfg,
		store:       store,
		cache:       c,
		signer:      signer,
		cookies:     cookies,
		resolver:    res,
		pool:        pool,
		metrics:     reg,
		logger:      logger,
		udp:         transport.NewUDPServer(cfg.Bind, res, pool, cfg.MaxPacketSize, logger),
		tcp:         transport.NewTCPServer(cfg.Bind, res, pool, cfg.TCPIdleTimeout, logger),
		metricsStop: make(chan struct{}),
		cookieStop:  make(chan struct{}),
	}
	return s, nil
}

// Start binds the UDP and TCP listeners, the metrics HTTP endpoint, and
// begins the background cookie-secret rotation and metrics-scrape loops.
func (s *Server) Start() error {
	if err := s.udp.Start(); err != nil {
		return fmt.Errorf("server: starting udp listener: %w", err)
	}
	if err := s.tcp.Start(); err != nil {
		s.udp.Stop()
		return fmt.Errorf("server: starting tcp listener: %w", err)
	}

	if s.cfg.MetricsAddr != "" {
		go func() {
			if err := s.metrics.Serve(s.cfg.MetricsAddr); err != nil {
				s.logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	go s.cookies.RotateSecretPeriodically(s.cookieStop)
	go s.scrapeMetricsLoop()

	s.logger.Info("server started", "bind", s.cfg.Bind, "authoritative", s.cfg.Authoritative)
	return nil
}

// Stop shuts the server down gracefully: it stops accepting new queries,
// drains the worker pool for up to shutdownGracePeriod, then closes every
// remaining component.
func (s *Server) Stop() error {
	s.logger.Info("server stopping")

	close(s.metricsStop)
	close(s.cookieStop)

	var errs []error
	if err := s.udp.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.tcp.Stop(); err != nil {
		errs = append(errs, err)
	}

	if err := s.pool.CloseTimeout(shutdownGracePeriod); err != nil {
		errs = append(errs, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := s.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	s.cache.Close()

	return errors.Join(errs...)
}

// Stats is a point-in-time snapshot of every component's counters,
// printed by cmd/authdnsd's periodic stats loop.
type Stats struct {
	Cache  cache.Stats
	Worker worker.Stats
	Cookie cookie.Stats
}

// Stats returns a snapshot of current server-wide statistics.
func (s *Server) Stats() Stats {
	return Stats{
		Cache:  s.cache.Stats(),
		Worker: s.pool.Stats(),
		Cookie: s.cookies.Stats(),
	}
}

func (s *Server) scrapeMetricsLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.metricsStop:
			return
		case <-ticker.C:
			s.scrapeOnce()
		}
	}
}

// installNSRecords writes the apex NS RRset described by names into
// store, overwriting whatever NS records the zone file itself declared.
// This is what gives Config.NSRecords ("ns_records") its "installed at
// startup" meaning.
func installNSRecords(store *zonestore.Memory, apex string, names []string) error {
	ttl := apexDefaultTTL(store, apex)
	rdata := make([]wire.Rdata, len(names))
	for i, n := range names {
		rdata[i] = wire.NS{Target: wire.CanonicalName(n)}
	}
	return store.Put(context.Background(), zonestore.RRSet{Name: apex, Type: wire.TypeNS, TTL: ttl, Rdata: rdata})
}

// installDNSKEY publishes key's public half as the apex's DNSKEY RRset,
// so a DNSKEY query against the apex is answered like any other record
// through the normal store lookup and signing path.
func installDNSKEY(store *zonestore.Memory, apex string, key *dnssec.Key) error {
	ttl := apexDefaultTTL(store, apex)
	return store.Put(context.Background(), zonestore.RRSet{Name: apex, Type: wire.TypeDNSKEY, TTL: ttl, Rdata: []wire.Rdata{key.DNSKEY()}})
}

// apexDefaultTTL mirrors the zone file's own default TTL: the apex
// SOA's TTL if one was loaded, 3600 otherwise.
func apexDefaultTTL(store *zonestore.Memory, apex string) uint32 {
	if set, err := store.Get(context.Background(), apex, wire.TypeSOA); err == nil {
		return set.TTL
	}
	return 3600
}

// formatDS renders a DS record in the zone-file presentation form an
// operator publishing a delegation in a parent zone would paste in.
func formatDS(ds wire.DS) string {
	return fmt.Sprintf("%d %d %d %x", ds.KeyTag, ds.Algorithm, ds.DigestType, ds.Digest)
}

func (s *Server) scrapeOnce() {
	cacheStats := s.cache.Stats()
	s.metrics.CacheHitRate.Set(cacheStats.HitRate)
	s.metrics.CacheSize.Set(float64(cacheStats.Size))

	workerStats := s.pool.Stats()
	s.metrics.WorkerQueueDepth.Set(float64(workerStats.QueueDepth))
	if workerStats.Workers > 0 {
		s.metrics.WorkerUtilPct.Set(100 * float64(workerStats.QueueDepth) / float64(workerStats.QueueSize+1))
	}

	cookieStats := s.cookies.Stats()
	if delta := cookieStats.BadCookieResponses - s.lastCookiesRejected; delta > 0 {
		s.metrics.CookiesRejected.Add(float64(delta))
	}
	s.lastCookiesRejected = cookieStats.BadCookieResponses
}
