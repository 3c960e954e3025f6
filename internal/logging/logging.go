// Package logging configures authdnsd's structured logger. Forwarding
// failures and signing errors are logged through the *slog.Logger this
// package builds, tagged with the query name; individual query outcomes
// are not logged. QueryAttrs builds a qname/qtype/client attribute set
// for per-query log lines.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls the logger Configure builds.
type Config struct {
	Level            string
	Structured       bool
	StructuredFormat string
	IncludePID       bool
	ExtraFields      map[string]string
}

// Configure builds a *slog.Logger per cfg and installs it as slog's
// package-level default, so library code that logs via slog.Info et al.
// without holding a reference still goes through the same handler.
func Configure(cfg Config) *slog.Logger {
	level := parseLevel(cfg.Level)
	out := io.Writer(os.Stderr)

	attrs := make([]slog.Attr, 0, len(cfg.ExtraFields)+1)
	for k, v := range cfg.ExtraFields {
		attrs = append(attrs, slog.String(k, v))
	}
	if cfg.IncludePID {
		attrs = append(attrs, slog.Int("pid", os.Getpid()))
	}

	var handler slog.Handler
	if cfg.Structured && strings.ToLower(cfg.StructuredFormat) == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}

	if len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// QueryAttrs returns the standard attribute set attached to every
// per-query log line: owner name, RR type, and the client's address.
func QueryAttrs(qname string, qtype uint16, clientAddr string) []any {
	return []any{
		slog.String("qname", qname),
		slog.Int("qtype", int(qtype)),
		slog.String("client", clientAddr),
	}
}
