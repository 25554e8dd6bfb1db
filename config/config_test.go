package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewAtPathAppliesDefaults(t *testing.T) {
	c, err := NewAtPath("/tmp/config.yml")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if c.Api.Port != 8080 {
		t.Errorf("expected default api port 8080, got %d", c.Api.Port)
	}
	if c.Http.TimeoutSeconds != 30 {
		t.Errorf("expected default http timeout of 30 seconds, got %d", c.Http.TimeoutSeconds)
	}
	if c.Http.Retry.MaxRetries != 3 {
		t.Errorf("expected default of 3 retries, got %d", c.Http.Retry.MaxRetries)
	}
	if c.Collection.RefreshEvery() != time.Hour {
		t.Errorf("expected default refresh interval of 1h, got %s", c.Collection.RefreshEvery())
	}
	if c.Path() != "/tmp/config.yml" {
		t.Errorf("expected path to be tracked, got %q", c.Path())
	}
}

func TestFromFileParsesModules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")

	data := []byte(`
api:
  port: 9090
modules:
  - name: myanimelist
    enabled: true
    rate_limit: 2
    rate_interval: 1s
    required_fields: [api_key]
    fields:
      api_key: abc123
  - name: anilist
    enabled: true
    rate_limit: 30
    rate_interval: 1m
  - name: local
    enabled: false
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := FromFile(path); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	c := Get()

	if c.Api.Port != 9090 {
		t.Errorf("expected api port 9090, got %d", c.Api.Port)
	}
	if len(c.Modules) != 3 {
		t.Fatalf("expected 3 modules, got %d", len(c.Modules))
	}

	mal, ok := c.Module("myanimelist")
	if !ok {
		t.Fatal("expected myanimelist module to be declared")
	}
	if !mal.Enabled {
		t.Error("expected myanimelist to be enabled")
	}
	if mal.Field("api_key") != "abc123" {
		t.Errorf("expected api_key field, got %q", mal.Field("api_key"))
	}
	if mal.RateWindow() != time.Second {
		t.Errorf("expected 1s rate window, got %s", mal.RateWindow())
	}

	anilist, _ := c.Module("anilist")
	if anilist.RateWindow() != time.Minute {
		t.Errorf("expected 1m rate window, got %s", anilist.RateWindow())
	}

	local, _ := c.Module("local")
	// The interval default has to be filled in even when the entry omits it.
	if local.RateWindow() != time.Second {
		t.Errorf("expected fallback 1s rate window, got %s", local.RateWindow())
	}
	if local.RateLimit != 2 {
		t.Errorf("expected fallback rate limit of 2, got %d", local.RateLimit)
	}

	if _, ok := c.Module("unknown"); ok {
		t.Error("expected unknown module lookup to report absence")
	}
}

func TestFromFileDefaultsModuleRateLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")

	// A module declared with nothing but a name and enabled flag must come
	// out startable: both the rate limit and its window get their defaults.
	data := []byte(`
modules:
  - name: local
    enabled: true
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := FromFile(path); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	local, ok := Get().Module("local")
	if !ok {
		t.Fatal("expected local module to be declared")
	}
	if local.RateLimit != 2 {
		t.Errorf("expected default rate limit of 2, got %d", local.RateLimit)
	}
	if local.RateInterval != "1s" {
		t.Errorf("expected default rate interval of 1s, got %q", local.RateInterval)
	}
}

func TestFromFileUnreadable(t *testing.T) {
	if err := FromFile(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected an error for a missing configuration file")
	}
}
