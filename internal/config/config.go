package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ensemblelung/internal/crypto"
)

// DefaultFileName is looked up in the project root when no path is given.
const DefaultFileName = "ensemblelung.yaml"

// ErrNoSecret is returned by ResolveSecret when neither an inline secret nor a key file is available.
var ErrNoSecret = errors.New("session secret not configured")

// Config is the complete server and client configuration.
type Config struct {
	ListenAddr     string        `yaml:"listen_addr"`
	PredictorURL   string        `yaml:"predictor_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	Session        SessionConfig `yaml:"session"`
	Handoff        HandoffConfig `yaml:"handoff"`
	Log            LogConfig     `yaml:"log"`
	TLS            TLSConfig     `yaml:"tls"`
}

// SessionConfig controls the session cookie.
type SessionConfig struct {
	Name       string        `yaml:"name"`
	Secret     string        `yaml:"secret"`      // hex, takes precedence over SecretFile
	SecretFile string        `yaml:"secret_file"` // written by cmd/genkey
	MaxAge     time.Duration `yaml:"max_age"`
	Secure     bool          `yaml:"secure"`
}

// HandoffConfig controls the navigation-state store.
type HandoffConfig struct {
	DBPath        string        `yaml:"db_path"`
	TTL           time.Duration `yaml:"ttl"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// TLSConfig enables HTTPS when both files are set.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled reports whether a key pair is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`   // empty means stderr
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		PredictorURL:   "http://localhost:5000",
		RequestTimeout: 30 * time.Second,
		MaxUploadBytes: 10 << 20,
		Session: SessionConfig{
			Name:       "ensemblelung",
			SecretFile: "session.key",
			MaxAge:     30 * 24 * time.Hour,
		},
		Handoff: HandoffConfig{
			DBPath:        "ensemblelung.db",
			TTL:           24 * time.Hour,
			PruneInterval: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment overrides and validates.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = filepath.Join(ProjectRoot(), DefaultFileName)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	if v, ok := lookup("ENSEMBLELUNG_LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	if v, ok := lookup("ENSEMBLELUNG_PREDICTOR_URL"); ok {
		c.PredictorURL = strings.TrimRight(v, "/")
	}
	if v, ok := lookup("ENSEMBLELUNG_REQUEST_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ENSEMBLELUNG_REQUEST_TIMEOUT: %w", err)
		}
		c.RequestTimeout = d
	}
	if v, ok := lookup("ENSEMBLELUNG_MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("ENSEMBLELUNG_MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}
	if v, ok := lookup("ENSEMBLELUNG_SESSION_SECRET"); ok {
		c.Session.Secret = v
	}
	if v, ok := lookup("ENSEMBLELUNG_SECURE_COOKIES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENSEMBLELUNG_SECURE_COOKIES: %w", err)
		}
		c.Session.Secure = b
	}
	if v, ok := lookup("ENSEMBLELUNG_HANDOFF_DB"); ok {
		c.Handoff.DBPath = v
	}
	if v, ok := lookup("ENSEMBLELUNG_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("ENSEMBLELUNG_LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := lookup("ENSEMBLELUNG_TLS_CERT"); ok {
		c.TLS.CertFile = v
	}
	if v, ok := lookup("ENSEMBLELUNG_TLS_KEY"); ok {
		c.TLS.KeyFile = v
	}
	return nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	u, err := url.Parse(c.PredictorURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("predictor_url %q must be an absolute http(s) URL", c.PredictorURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if c.Session.Name == "" {
		return fmt.Errorf("session.name must not be empty")
	}
	if c.Session.Secret != "" {
		if _, err := crypto.ParseSecret(c.Session.Secret); err != nil {
			return fmt.Errorf("session.secret: %w", err)
		}
	}
	if c.Session.MaxAge < 0 {
		return fmt.Errorf("session.max_age must not be negative")
	}
	if c.Handoff.DBPath == "" {
		return fmt.Errorf("handoff.db_path must not be empty")
	}
	if c.Handoff.TTL <= 0 || c.Handoff.PruneInterval <= 0 {
		return fmt.Errorf("handoff.ttl and handoff.prune_interval must be positive")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file must be set together")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q must be json or text", c.Log.Format)
	}
	return nil
}

// ResolveSecret returns the session secret from the inline value or the key file.
func (c Config) ResolveSecret() ([]byte, error) {
	if c.Session.Secret != "" {
		return crypto.ParseSecret(c.Session.Secret)
	}
	if c.Session.SecretFile == "" {
		return nil, ErrNoSecret
	}
	data, err := os.ReadFile(c.Session.SecretFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSecret
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.Session.SecretFile, err)
	}
	return crypto.ParseSecret(string(data))
}

// ProjectRoot walks up from the working directory to the nearest go.mod.
func ProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}
