package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "service.yaml")
	configYAML := `
state:
  dir: /data/harvest
  response_path: out/response.json
ooi:
  username: OOIAPI-USER
  token: secret
  timeout: 90s
  rate_limit:
    rps: 5
    burst: 1
logging:
  development: true
metrics:
  pushgateway_url: http://pushgateway:9091
notify:
  project_id: ooi-project
  topic: harvest-status
ledger:
  dsn: postgres://localhost/harvest
watch:
  schedule: "*/30 * * * *"
  listen_addr: ":9090"
timeout:
  fallback_after: 24h
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.State.Dir != "/data/harvest" || cfg.State.ResponsePath != "out/response.json" {
		t.Fatalf("expected state overrides, got %+v", cfg.State)
	}
	if cfg.State.StatusPath != "history/request.yaml" {
		t.Fatalf("expected default status path, got %q", cfg.State.StatusPath)
	}
	if !cfg.OOI.HasCredentials() {
		t.Fatalf("expected credentials to be loaded")
	}
	if cfg.OOI.Timeout != 90*time.Second {
		t.Fatalf("expected 90s timeout, got %v", cfg.OOI.Timeout)
	}
	if cfg.OOI.RateLimit.RPS != 5 || cfg.OOI.RateLimit.Burst != 1 {
		t.Fatalf("expected rate limit overrides, got %+v", cfg.OOI.RateLimit)
	}
	if cfg.Timeout.FallbackAfter != 24*time.Hour {
		t.Fatalf("expected 24h fallback, got %v", cfg.Timeout.FallbackAfter)
	}
	if cfg.Watch.Schedule != "*/30 * * * *" || cfg.Watch.ListenAddr != ":9090" {
		t.Fatalf("expected watch overrides, got %+v", cfg.Watch)
	}
	if cfg.Ledger.Table != "harvest_invocations" {
		t.Fatalf("expected default ledger table, got %q", cfg.Ledger.Table)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.State.ResponsePath != "history/response.json" || cfg.State.StatusPath != "history/request.yaml" {
		t.Fatalf("unexpected default paths: %+v", cfg.State)
	}
	if cfg.Timeout.FallbackAfter != 48*time.Hour {
		t.Fatalf("expected 48h fallback, got %v", cfg.Timeout.FallbackAfter)
	}
	if cfg.OOI.HasCredentials() {
		t.Fatalf("expected no credentials by default")
	}
	if cfg.Metrics.Job != "ooi_harvest_request" {
		t.Fatalf("unexpected metrics job %q", cfg.Metrics.Job)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVEST_OOI_USERNAME", "env-user")
	t.Setenv("HARVEST_OOI_TOKEN", "env-token")
	t.Setenv("HARVEST_TIMEOUT_FALLBACK_AFTER", "1h")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OOI.Username != "env-user" || cfg.OOI.Token != "env-token" {
		t.Fatalf("expected env credentials, got %q/%q", cfg.OOI.Username, cfg.OOI.Token)
	}
	if cfg.Timeout.FallbackAfter != time.Hour {
		t.Fatalf("expected 1h fallback, got %v", cfg.Timeout.FallbackAfter)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{name: "state dir", mut: func(c *Config) { c.State.Dir = " " }, want: "state.dir"},
		{name: "same paths", mut: func(c *Config) { c.State.ResponsePath = c.State.StatusPath }, want: "must differ"},
		{name: "missing index", mut: func(c *Config) { c.OOI.IndexURL = "" }, want: "ooi.index_url"},
		{name: "timeout", mut: func(c *Config) { c.OOI.Timeout = 0 }, want: "ooi.timeout"},
		{name: "body size", mut: func(c *Config) { c.OOI.MaxBodySize = -1 }, want: "ooi.max_body_size"},
		{name: "rate limit", mut: func(c *Config) { c.OOI.RateLimit.RPS = -1 }, want: "ooi.rate_limit"},
		{name: "fallback", mut: func(c *Config) { c.Timeout.FallbackAfter = 0 }, want: "timeout.fallback_after"},
		{name: "topic without project", mut: func(c *Config) { c.Notify.Topic = "t" }, want: "notify.project_id"},
		{name: "schedule", mut: func(c *Config) { c.Watch.Schedule = "" }, want: "watch.schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mut(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
