// Package config loads the ballot box configuration: defaults, then an
// optional YAML file, then BALLOTBOX_* environment variables. Command line
// flags are applied last by the caller.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"ballotbox/ballotserver"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const envPrefix = "BALLOTBOX_"

// Config holds the full ballot box configuration.
type Config struct {
	Addr  string `yaml:"addr" validate:"required"`
	Port  int    `yaml:"port" validate:"min=1,max=65535"`
	Debug bool   `yaml:"debug"`

	BallotServerURL string `yaml:"ballot_server_url"`
	RegistrarURL    string `yaml:"registrar_url"`

	// SharedKey is the Fernet key shared with the registrar.
	SharedKey string `yaml:"shared_key"`
	// CookieKey is optional. When empty a fresh key is generated at start and
	// in-progress selections do not survive a restart.
	CookieKey string `yaml:"cookie_key"`

	AllowOrigin       string        `yaml:"allow_origin"`
	SessionLifetime   time.Duration `yaml:"session_lifetime" validate:"gt=0"`
	RegistrarTokenTTL time.Duration `yaml:"registrar_token_ttl" validate:"gt=0"`
	BackendTimeout    time.Duration `yaml:"backend_timeout" validate:"gt=0"`
	SecureCookies     bool          `yaml:"secure_cookies"`

	LogLevel  string `yaml:"log_level" validate:"oneof=trace debug info warn warning error"`
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`

	// MockBackends serves an in-process registrar and ballot server.
	MockBackends   bool                              `yaml:"mock_backends"`
	BallotStyles   map[string][]ballotserver.Contest `yaml:"ballot_styles"`
	// MockJournalDir keeps the mock ballot server's submissions on disk.
	MockJournalDir string                            `yaml:"mock_journal_dir"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Addr:              "127.0.0.1",
		Port:              5000,
		BallotServerURL:   "http://127.0.0.1:8000",
		RegistrarURL:      "http://127.0.0.1:8001",
		AllowOrigin:       "localhost",
		SessionLifetime:   30 * time.Minute,
		RegistrarTokenTTL: 24 * time.Hour,
		BackendTimeout:    10 * time.Second,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load reads path (if non-empty) over the defaults, then applies the
// environment. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"ADDR":              &c.Addr,
		"BALLOT_SERVER_URL": &c.BallotServerURL,
		"REGISTRAR_URL":     &c.RegistrarURL,
		"SHARED_KEY":        &c.SharedKey,
		"COOKIE_KEY":        &c.CookieKey,
		"ALLOW_ORIGIN":      &c.AllowOrigin,
		"LOG_LEVEL":         &c.LogLevel,
		"LOG_FORMAT":        &c.LogFormat,
		"MOCK_JOURNAL_DIR":  &c.MockJournalDir,
	}
	for name, dst := range str {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}

	flags := map[string]*bool{
		"DEBUG":          &c.Debug,
		"SECURE_COOKIES": &c.SecureCookies,
		"MOCK_BACKENDS":  &c.MockBackends,
	}
	for name, dst := range flags {
		v, ok := lookup(envPrefix + name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = b
	}

	durations := map[string]*time.Duration{
		"SESSION_LIFETIME":    &c.SessionLifetime,
		"REGISTRAR_TOKEN_TTL": &c.RegistrarTokenTTL,
		"BACKEND_TIMEOUT":     &c.BackendTimeout,
	}
	for name, dst := range durations {
		v, ok := lookup(envPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = d
	}

	if v, ok := lookup(envPrefix + "PORT"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", envPrefix, err)
		}
		c.Port = p
	}
	return nil
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !c.MockBackends {
		if c.SharedKey == "" {
			return fmt.Errorf("config: shared_key is required")
		}
		for name, raw := range map[string]string{
			"ballot_server_url": c.BallotServerURL,
			"registrar_url":     c.RegistrarURL,
		} {
			if err := checkURL(raw); err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
		}
	}
	for style, contests := range c.BallotStyles {
		for i, contest := range contests {
			if contest.ID == "" {
				return fmt.Errorf("config: ballot_styles[%s][%d]: id is required", style, i)
			}
		}
	}
	return nil
}

// ListenAddr is the host:port the server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Addr, c.Port)
}

// CrossOrigin reports whether CORS headers are needed for AllowOrigin.
func (c *Config) CrossOrigin() bool {
	origin := strings.TrimSpace(c.AllowOrigin)
	if origin == "" {
		return false
	}
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return host != "localhost" && host != "127.0.0.1"
}

func checkURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	return nil
}

var validate = validator.New()
