package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "dev")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Port)
	}
	if cfg.RingTimeout != 45*time.Second || cfg.ConnectTimeout != 30*time.Second || cfg.GracePeriod != 15*time.Second {
		t.Fatalf("timeouts = %v/%v/%v", cfg.RingTimeout, cfg.ConnectTimeout, cfg.GracePeriod)
	}
	if len(cfg.ICEServers) == 0 {
		t.Fatal("no default ICE server")
	}
	if cfg.Redis.Addr != "" {
		t.Fatalf("redis addr = %q, want disabled by default", cfg.Redis.Addr)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")

	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := []byte(`
mode: debug
port: 9090
secret: hunter2
ring_timeout: 10s
ice_servers:
  - stun:stun.example.org:3478
redis:
  addr: localhost:6379
  presence_ttl: 30s
`)
	if err := os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "debug" || cfg.Port != 9090 || cfg.Secret != "hunter2" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.RingTimeout != 10*time.Second {
		t.Fatalf("ring_timeout = %v", cfg.RingTimeout)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0] != "stun:stun.example.org:3478" {
		t.Fatalf("ice_servers = %v", cfg.ICEServers)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.PresenceTTL != 30*time.Second {
		t.Fatalf("redis = %+v", cfg.Redis)
	}
	// file overrides only what it sets
	if cfg.ConnectTimeout != 30*time.Second {
		t.Fatalf("connect_timeout = %v, want default", cfg.ConnectTimeout)
	}
}
