package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dnsscience/authdnsd/internal/config"
	"github.com/dnsscience/authdnsd/internal/logging"
	"github.com/dnsscience/authdnsd/internal/server"
)

var (
	bind            = flag.String("bind", "127.0.0.1:8053", "UDP and TCP listen address")
	zoneFile        = flag.String("zone", "", "Zone file to load (YAML .dnszone format, optional)")
	authoritative   = flag.Bool("authoritative", true, "Answer NXDOMAIN for unknown apex names instead of forwarding")
	forwarders      = flag.String("forwarders", "", "Comma-separated upstream resolver addresses (host:port)")
	nsRecords       = flag.String("ns-records", "", "Comma-separated apex nameserver target names, installed and pinned in the cache at startup")
	dnssecKeyFile   = flag.String("dnssec-key", "", "Path to the BIND-style public DNSKEY file (its companion .private file is derived from this path)")
	dnssecAlgorithm = flag.Uint("dnssec-algorithm", 8, "DNSSEC signing algorithm (only 8, RSASHA256, is supported)")
	cookies         = flag.Bool("cookies", true, "Enable DNS Cookies (RFC 7873)")
	workers         = flag.Int("workers", 0, "Worker pool size (0 = runtime.NumCPU()*4)")
	metricsAddr     = flag.String("metrics", "", "Address to serve Prometheus metrics on (empty disables it)")
	logLevel        = flag.String("log-level", "INFO", "Log level: DEBUG, INFO, WARN, ERROR")
	logFormat       = flag.String("log-format", "text", "Log format: text or json")
	stats           = flag.Bool("stats", true, "Print statistics periodically")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	cfg.Bind = *bind
	cfg.ZoneFile = *zoneFile
	cfg.Authoritative = *authoritative
	cfg.Forwarders = splitAndTrim(*forwarders)
	cfg.NSRecords = splitAndTrim(*nsRecords)
	cfg.DNSSECKeyFile = *dnssecKeyFile
	cfg.DNSSECAlgorithm = uint8(*dnssecAlgorithm)
	cfg.CookiesEnabled = *cookies
	cfg.Workers = *workers
	cfg.MetricsAddr = *metricsAddr
	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "authdnsd: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Configure(logging.Config{
		Level:            cfg.LogLevel,
		Structured:       true,
		StructuredFormat: cfg.LogFormat,
		IncludePID:       true,
	})

	logger.Info("starting authdnsd",
		"bind", cfg.Bind,
		"authoritative", cfg.Authoritative,
		"zone_file", cfg.ZoneFile,
		"forwarders", cfg.Forwarders,
		"dnssec", cfg.DNSSECKeyFile != "",
		"cookies", cfg.CookiesEnabled,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	logger.Info("server started")

	if *stats {
		go printStats(srv, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")
	if err := srv.Stop(); err != nil {
		logger.Error("error during shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped cleanly")
}

func splitAndTrim(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printStats(srv *server.Server, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s := srv.Stats()
		logger.Info("stats",
			"cache_hit_rate", s.Cache.HitRate,
			"cache_size", s.Cache.Size,
			"worker_queue_depth", s.Worker.QueueDepth,
			"worker_submitted", s.Worker.Submitted,
			"worker_rejected", s.Worker.Rejected,
			"cookies_bad", s.Cookie.BadCookieResponses,
		)
	}
}
