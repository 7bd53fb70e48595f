package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smolrpc/smolrpc/internal/config"
)

func TestLoadChdirsAndParses(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(sub, "registry.json")
	const body = `{"listen": ["/tmp/registry.sock"], "data_dir": "blobs"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Listen) != 1 || cfg.Listen[0] != "/tmp/registry.sock" {
		t.Fatalf("unexpected listen: %v", cfg.Listen)
	}
	if cfg.DataDir != "blobs" {
		t.Fatalf("unexpected data_dir: %q", cfg.DataDir)
	}

	got, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	resolvedSub, err := filepath.EvalSymlinks(sub)
	if err != nil {
		t.Fatal(err)
	}
	resolvedGot, err := filepath.EvalSymlinks(got)
	if err != nil {
		t.Fatal(err)
	}
	if resolvedGot != resolvedSub {
		t.Fatalf("did not chdir to config directory: got %q, want %q", resolvedGot, resolvedSub)
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.json")
	const body = `{"listen": ["127.0.0.1:9000"]} garbage`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an error for trailing data, got nil")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing file, got nil")
	}
}
