package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	def := Default()
	if cfg.ListenAddr != def.ListenAddr || cfg.PredictorURL != def.PredictorURL {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("request timeout = %v", cfg.RequestTimeout)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "cfg.yaml", `
listen_addr: ":9090"
predictor_url: "https://predict.example.com"
request_timeout: 5s
handoff:
  ttl: 2h
log:
  level: debug
  format: text
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.PredictorURL != "https://predict.example.com" {
		t.Errorf("predictor_url = %q", cfg.PredictorURL)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("request_timeout = %v", cfg.RequestTimeout)
	}
	if cfg.Handoff.TTL != 2*time.Hour {
		t.Errorf("handoff.ttl = %v", cfg.Handoff.TTL)
	}
	if cfg.Handoff.DBPath != "ensemblelung.db" {
		t.Errorf("unset field should keep default, got %q", cfg.Handoff.DBPath)
	}
	if cfg.Log.Format != "text" || cfg.Log.Level != "debug" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ENSEMBLELUNG_PREDICTOR_URL":    "http://10.0.0.5:5000/",
		"ENSEMBLELUNG_REQUEST_TIMEOUT":  "12s",
		"ENSEMBLELUNG_SECURE_COOKIES":   "true",
		"ENSEMBLELUNG_MAX_UPLOAD_BYTES": "2048",
	}
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("applyEnv() failed: %v", err)
	}
	if cfg.PredictorURL != "http://10.0.0.5:5000" {
		t.Errorf("predictor url = %q", cfg.PredictorURL)
	}
	if cfg.RequestTimeout != 12*time.Second {
		t.Errorf("timeout = %v", cfg.RequestTimeout)
	}
	if !cfg.Session.Secure {
		t.Error("secure cookies should be enabled")
	}
	if cfg.MaxUploadBytes != 2048 {
		t.Errorf("max upload = %d", cfg.MaxUploadBytes)
	}

	bad := Default()
	err = bad.applyEnv(func(k string) (string, bool) {
		if k == "ENSEMBLELUNG_REQUEST_TIMEOUT" {
			return "soon", true
		}
		return "", false
	})
	if err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative url", func(c *Config) { c.PredictorURL = "/predict" }, "predictor_url"},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, "request_timeout"},
		{"bad secret", func(c *Config) { c.Session.Secret = "abcd" }, "session.secret"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"empty db", func(c *Config) { c.Handoff.DBPath = "" }, "handoff.db_path"},
		{"half tls", func(c *Config) { c.TLS.CertFile = "server.crt" }, "tls.cert_file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestResolveSecret(t *testing.T) {
	cfg := Default()
	cfg.Session.SecretFile = filepath.Join(t.TempDir(), "missing.key")
	if _, err := cfg.ResolveSecret(); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}

	hexKey := strings.Repeat("ab", 32)
	cfg.Session.SecretFile = writeFile(t, "session.key", hexKey+"\n")
	b, err := cfg.ResolveSecret()
	if err != nil {
		t.Fatalf("ResolveSecret() failed: %v", err)
	}
	if len(b) != 32 {
		t.Fatalf("secret length = %d", len(b))
	}

	cfg.Session.Secret = strings.Repeat("cd", 32)
	b, err = cfg.ResolveSecret()
	if err != nil || b[0] != 0xcd {
		t.Fatalf("inline secret should win, got %x, %v", b, err)
	}
}
