package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
tls:
  allow_insecure: true
auth:
  audience:
    - " farmctl "
    - " "
rate_limit:
  rps: 4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.Data.Backend != BackendMemory || cfg.Journal.Driver != "sqlite" {
		t.Fatalf("unexpected backends: %q %q", cfg.Data.Backend, cfg.Journal.Driver)
	}
	if len(cfg.Auth.Audience) != 1 || cfg.Auth.Audience[0] != "farmctl" {
		t.Fatalf("unexpected audience: %v", cfg.Auth.Audience)
	}
	if cfg.RateLimit.Burst != 5 {
		t.Fatalf("expected derived burst 5, got %d", cfg.RateLimit.Burst)
	}
	if cfg.Clock != ClockUnix || cfg.Audit.Schedule != defaultAuditSpec {
		t.Fatalf("unexpected defaults: clock=%q audit=%q", cfg.Clock, cfg.Audit.Schedule)
	}
}

func TestLoadConfigRequiresTLS(t *testing.T) {
	path := writeConfig(t, `
listen: ":8090"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "tls") {
		t.Fatalf("expected tls error, got %v", err)
	}
}

func TestLoadConfigRejectsInvalidBackends(t *testing.T) {
	cases := map[string]string{
		"backend path": "tls:\n  allow_insecure: true\ndata:\n  backend: leveldb\n",
		"backend":      "tls:\n  allow_insecure: true\ndata:\n  backend: redis\n",
		"journal":      "tls:\n  allow_insecure: true\njournal:\n  driver: mysql\n",
		"postgres dsn": "tls:\n  allow_insecure: true\njournal:\n  driver: postgres\n",
		"clock":        "tls:\n  allow_insecure: true\nclock: block\n",
		"unknown key":  "tls:\n  allow_insecure: true\nbogus: 1\n",
	}
	for name, contents := range cases {
		if _, err := Load(writeConfig(t, contents)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestHMACSecretFromEnv(t *testing.T) {
	t.Setenv("FARMD_TEST_SECRET", " s3cret ")
	secret, err := AuthConfig{HMACSecretEnv: "FARMD_TEST_SECRET"}.HMACSecret()
	if err != nil || secret != "s3cret" {
		t.Fatalf("unexpected secret %q err=%v", secret, err)
	}
	if _, err := (AuthConfig{HMACSecretEnv: "FARMD_TEST_UNSET"}).HMACSecret(); err == nil {
		t.Fatalf("expected error for unset secret")
	}
}
