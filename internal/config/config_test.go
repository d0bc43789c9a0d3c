package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default("/tmp/ws")
	if cfg.Server.Addr != "127.0.0.1:8080" || cfg.Server.BasePath != "/v1" {
		t.Fatalf("server defaults: %+v", cfg.Server)
	}
	if cfg.Auth.TokenTTLHours != 168 {
		t.Fatalf("ttl default: %d", cfg.Auth.TokenTTLHours)
	}
	if cfg.Storage.UploadDir != filepath.Join("/tmp/ws", ".gigline", "solutions") {
		t.Fatalf("upload dir: %s", cfg.Storage.UploadDir)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	ws := t.TempDir()
	cfg, err := Load(ws)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("fallback: %+v", cfg.Server)
	}
}

func TestLoadFromFile(t *testing.T) {
	ws := t.TempDir()
	data := []byte(`
server:
  addr: 0.0.0.0:9090
auth:
  jwt_secret: topsecret
  token_ttl_hours: 24
webhooks:
  - url: https://example.com/hook
    events: [payment.created]
`)
	if err := os.WriteFile(Path(ws), data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(ws)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "0.0.0.0:9090" || cfg.Server.BasePath != "/v1" {
		t.Fatalf("merge with defaults: %+v", cfg.Server)
	}
	if cfg.Auth.JWTSecret != "topsecret" || cfg.Auth.TokenTTLHours != 24 {
		t.Fatalf("auth: %+v", cfg.Auth)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].URL != "https://example.com/hook" {
		t.Fatalf("webhooks: %+v", cfg.Webhooks)
	}
}

func TestValidateRejectsBadHooks(t *testing.T) {
	if _, err := FromYAML([]byte("webhooks:\n  - secret: x\n")); err == nil {
		t.Fatal("hook without url accepted")
	}
	if _, err := FromYAML([]byte("auth:\n  token_ttl_hours: -1\n")); err == nil {
		t.Fatal("negative ttl accepted")
	}
}
