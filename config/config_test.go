package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Source.Kind != SourceMulticast || cfg.Source.Group != "225.0.0.1" || cfg.Source.Port != 10000 {
		t.Fatalf("unexpected default source: %+v", cfg.Source)
	}
	if !cfg.Output.Console || !cfg.Output.FlushAll || !cfg.Output.FlushNewline {
		t.Fatalf("unexpected default output: %+v", cfg.Output)
	}
	if cfg.UI.Mode != UIHeadless {
		t.Fatalf("expected headless UI by default, got %q", cfg.UI.Mode)
	}
}

func TestParseOverridesAndNormalizes(t *testing.T) {
	raw := `
station: " DWD 147.3 "
source:
  kind: " TCP "
  address: "127.0.0.1:9000"
output:
  flush_all: true
  flush_newline: false
telnet:
  enabled: true
  port: 7400
  replay_lines: 900
  transport: NATIVE
`
	cfg, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Station != "DWD 147.3" {
		t.Fatalf("expected trimmed station, got %q", cfg.Station)
	}
	if cfg.Source.Kind != SourceTCP {
		t.Fatalf("expected tcp source, got %q", cfg.Source.Kind)
	}
	if !cfg.Output.FlushNewline {
		t.Fatal("flush_all must imply flush_newline")
	}
	if cfg.Telnet.Transport != "native" {
		t.Fatalf("expected native transport, got %q", cfg.Telnet.Transport)
	}
	if cfg.Telnet.HistoryLines < 900 {
		t.Fatalf("expected history to cover replay, got %d", cfg.Telnet.HistoryLines)
	}
	if cfg.Source.Group != "225.0.0.1" {
		t.Fatal("expected untouched fields to keep defaults")
	}
}

func TestParseRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"unicast group":   "source:\n  group: 10.0.0.1\n",
		"bad kind":        "source:\n  kind: serial\n",
		"missing address": "source:\n  kind: telnet\n",
		"file no path":    "source:\n  kind: file\n",
		"forward":         "forward:\n  enabled: true\n  address: nowhere\n",
		"mqtt qos":        "mqtt:\n  enabled: true\n  qos: 3\n",
		"ui mode":         "ui:\n  mode: ansi\n",
		"unknown field":   "sorce:\n  kind: file\n",
	}
	for name, raw := range cases {
		if _, err := Parse(strings.NewReader(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadRecordsPathAndMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rttydec.yaml")
	if err := os.WriteFile(path, []byte("source:\n  kind: stdin\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LoadedFrom != path {
		t.Fatalf("expected LoadedFrom %q, got %q", path, cfg.LoadedFrom)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestPrintSummarizesEnabledSections(t *testing.T) {
	cfg := Default()
	cfg.Telnet.Enabled = true
	cfg.Archive.Enabled = true
	var buf bytes.Buffer
	cfg.Print(&buf)
	out := buf.String()
	for _, want := range []string{"Source: multicast 225.0.0.1:10000", "Telnet: port 7300", "Archive: data/archive/rttydec.db"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "MQTT") {
		t.Fatalf("disabled mqtt should not be printed:\n%s", out)
	}
}
