package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(configPathEnv, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != "sqlite3" {
		t.Fatalf("expected sqlite3 backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.SnippetLength != 50 {
		t.Fatalf("expected snippet length 50, got %d", cfg.Storage.SnippetLength)
	}
	if !filepath.IsAbs(cfg.Databases["sqlite3"].DSN) {
		t.Fatalf("sqlite dsn should be resolved to an absolute path, got %q", cfg.Databases["sqlite3"].DSN)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for explicit missing config")
	}
}

func TestLoadJSONResolvesRelativeDSN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"server_address": ":9000"},
		"storage": {"backend": "sqlite3", "snippet_length": 20},
		"databases": {"sqlite3": {"dsn": "data/sessions.db"}},
		"chat": {"mode": "remote", "api_url": "http://example.test"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" {
		t.Fatalf("server address mismatch: %q", cfg.BasicConfig.ServerAddress)
	}
	if cfg.Storage.SnippetLength != 20 {
		t.Fatalf("snippet length mismatch: %d", cfg.Storage.SnippetLength)
	}
	want := filepath.Join(dir, "data/sessions.db")
	if got := cfg.Databases["sqlite3"].DSN; got != want {
		t.Fatalf("dsn mismatch: want %q got %q", want, got)
	}
	if cfg.Storage.IndexKey != "KHAROM_SESSION_SUMMARIES" {
		t.Fatalf("index key default not applied: %q", cfg.Storage.IndexKey)
	}
}

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
storage:
  backend: memory
chat:
  mode: direct
  provider: openai
providers:
  openai:
    model: gpt-4o-mini
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KHAROM_STORAGE_BACKEND", "redis")
	t.Setenv("KHAROM_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != "redis" {
		t.Fatalf("env override not applied: %q", cfg.Storage.Backend)
	}
	p := cfg.Providers["openai"]
	if p.Model != "gpt-4o-mini" || p.APIKey != "sk-test" {
		t.Fatalf("provider config mismatch: %+v", p)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Default()
	cfg.Chat.Mode = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
	cfg = Default()
	cfg.Storage.IndexKey = cfg.Storage.KeyPrefix
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for clashing keys")
	}
}
