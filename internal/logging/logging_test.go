package logging

import (
	"log/slog"
	"testing"
)

func TestConfigure(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "default", cfg: Config{Level: "INFO"}},
		{name: "debug level", cfg: Config{Level: "DEBUG"}},
		{name: "structured JSON", cfg: Config{Level: "INFO", Structured: true, StructuredFormat: "json"}},
		{name: "structured text", cfg: Config{Level: "INFO", Structured: true, StructuredFormat: "keyvalue"}},
		{name: "with extra fields", cfg: Config{Level: "INFO", ExtraFields: map[string]string{"service": "authdnsd"}}},
		{name: "with pid", cfg: Config{Level: "INFO", IncludePID: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := Configure(tt.cfg)
			if logger == nil {
				t.Fatal("Configure returned nil")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"invalid": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestQueryAttrsIncludesClient(t *testing.T) {
	attrs := QueryAttrs("www.example.com.", 1, "203.0.113.5:53124")
	if len(attrs) != 3 {
		t.Fatalf("got %d attrs, want 3", len(attrs))
	}
}
