package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDecodesKnownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	contents := "listen: \":9090\"\nlog_level: debug\nreap_window: 15s\nmax_header_bytes: 2048\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("unexpected error writing fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != ":9090" {
		t.Fatalf("expected listen :9090, got %q", cfg.Listen)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %q", cfg.LogLevel)
	}
	if cfg.ReapWindow != 15*time.Second {
		t.Fatalf("expected reap window 15s, got %v", cfg.ReapWindow)
	}
	if cfg.MaxHeaderBytes != 2048 {
		t.Fatalf("expected max header bytes 2048, got %d", cfg.MaxHeaderBytes)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte("bogus_field: true\n"), 0o644); err != nil {
		t.Fatalf("unexpected error writing fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected strict decode to reject an unknown field")
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
