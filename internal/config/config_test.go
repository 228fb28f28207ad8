package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`server:
  listen: "0.0.0.0:9000"
  request_ttl: "45s"
  multi_grant: true
  tls:
    cert_file: "/etc/glimt/cert.pem"
    key_file: "/etc/glimt/key.pem"
client:
  endpoint: "wss://glimt.example.com/ws"
  room: "ops"
  name: "oncall"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader()
	loader.SetConfigFile(path)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Listen != "0.0.0.0:9000" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Server.RequestTTL != "45s" {
		t.Errorf("request_ttl = %q", cfg.Server.RequestTTL)
	}
	if !cfg.Server.MultiGrant {
		t.Errorf("multi_grant not set")
	}
	if cfg.Server.TLS.CertFile != "/etc/glimt/cert.pem" || cfg.Server.TLS.KeyFile != "/etc/glimt/key.pem" {
		t.Errorf("tls = %+v", cfg.Server.TLS)
	}
	if cfg.Client.Endpoint != "wss://glimt.example.com/ws" || cfg.Client.RoomID != "ops" || cfg.Client.Name != "oncall" {
		t.Errorf("client = %+v", cfg.Client)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	loader := NewLoader()
	// No config file anywhere on the search path: defaults-only run.
	loader.Viper().AddConfigPath(t.TempDir())
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load without config file: %v", err)
	}
}

func TestLoadBrokenFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
		t.Fatal(err)
	}
	loader := NewLoader()
	loader.SetConfigFile(path)
	if _, err := loader.Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("GLIMT_SERVER_LISTEN", "127.0.0.1:7777")
	loader := NewLoader()
	loader.Viper().SetDefault("server.listen", DefaultListenAddr)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Listen != "127.0.0.1:7777" {
		t.Fatalf("listen = %q, want env override", cfg.Server.Listen)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Listen != DefaultListenAddr {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Server.RequestTTL != DefaultRequestTTL {
		t.Errorf("request_ttl = %q", cfg.Server.RequestTTL)
	}
	if cfg.Client.Endpoint != DefaultClientEndpoint || cfg.Client.RoomID != DefaultRoomID {
		t.Errorf("client = %+v", cfg.Client)
	}
}
