// Package config defines authdnsd's runtime configuration as a plain
// value object. cmd/authdnsd assembles it from flags; everything under
// internal/ receives an already-validated Config and never reads flags,
// environment variables, or files itself.
package config

import (
	"fmt"
	"time"
)

// Config is authdnsd's complete runtime configuration.
type Config struct {
	// Bind is the address (host:port) the UDP and TCP listeners bind to.
	Bind string

	// ZoneFile is the path to a YAML zone document loaded into the
	// in-memory zone store at startup. Empty means no zone is
	// preloaded; zones may still be populated via the Store interface
	// directly by an embedding program.
	ZoneFile string

	// DNSSECKeyFile is the path to the BIND-style public key file (its
	// companion .private file is derived from this path) used to sign
	// authoritative responses. Empty disables signing.
	DNSSECKeyFile string
	DNSSECAlgorithm uint8

	// Forwarders are upstream resolver addresses (host:port) consulted
	// for queries outside locally authoritative zones.
	Forwarders []string

	// NSRecords are the apex's nameserver target names, installed into
	// the zone store and pinned in the response cache at startup so the
	// apex NS RRset survives eviction. Empty leaves whatever NS records
	// the zone file itself declared untouched.
	NSRecords []string

	// Authoritative, if true, makes the server answer NXDOMAIN for
	// queries under a locally served zone that have no matching record,
	// instead of forwarding them upstream.
	Authoritative bool

	CacheTTLFloor uint32
	CacheSize     int
	ShardCount    int
	EvictionInterval time.Duration

	MaxPacketSize int

	Workers             int
	WorkerQueueMultiplier int

	ForwardTimeout  time.Duration
	TCPIdleTimeout  time.Duration

	CookiesEnabled bool

	LogLevel  string
	LogFormat string

	MetricsAddr string
}

// Default returns a Config with every field set to the value the
// distilled behavior relies on when an operator supplies nothing else.
func Default() Config {
	return Config{
		Bind:                "127.0.0.1:8053",
		Authoritative:       true,
		CacheTTLFloor:       0,
		CacheSize:           0, // 0 means cache.Config picks its own default
		ShardCount:          256,
		EvictionInterval:    5 * time.Minute,
		MaxPacketSize:       4096,
		Workers:             0, // 0 means worker.Config picks runtime.NumCPU()*4
		WorkerQueueMultiplier: 10,
		ForwardTimeout:      3 * time.Second,
		TCPIdleTimeout:      30 * time.Second,
		CookiesEnabled:      true,
		LogLevel:            "INFO",
		LogFormat:           "text",
		DNSSECAlgorithm:     8,
	}
}

// Validate reports whether cfg is internally consistent enough to start
// a server with. It does not check that referenced files exist;
// that happens at load time so the error carries the OS-level cause.
func (cfg Config) Validate() error {
	if cfg.Bind == "" {
		return fmt.Errorf("config: bind address must not be empty")
	}
	if cfg.MaxPacketSize < 512 {
		return fmt.Errorf("config: max_packet_size must be at least 512, got %d", cfg.MaxPacketSize)
	}
	if cfg.ShardCount < 1 {
		return fmt.Errorf("config: shard_count must be at least 1, got %d", cfg.ShardCount)
	}
	if !cfg.Authoritative && len(cfg.Forwarders) == 0 {
		return fmt.Errorf("config: non-authoritative server requires at least one forwarder")
	}
	if cfg.DNSSECKeyFile != "" && cfg.DNSSECAlgorithm != 8 {
		return fmt.Errorf("config: dnssec_algorithm must be 8 (RSASHA256), got %d", cfg.DNSSECAlgorithm)
	}
	return nil
}
