package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ballotbox/ballotserver"
	"ballotbox/encryption"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	cfg := Default()
	cfg.SharedKey = key.Encode()
	return cfg
}

func TestDefaultsNeedSharedKey(t *testing.T) {
	cfg := Default()
	assert.ErrorContains(t, cfg.Validate(), "shared_key")

	cfg.MockBackends = true
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ballotbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 8443
ballot_server_url: https://ballots.example.org
session_lifetime: 5m
log_format: json
ballot_styles:
  B7:
    - id: mayor
      title: Mayor
      candidates: [Ann, Ben]
      max_selections: 1
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8443, cfg.Port)
	assert.Equal(t, "https://ballots.example.org", cfg.BallotServerURL)
	assert.Equal(t, 5*time.Minute, cfg.SessionLifetime)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 24*time.Hour, cfg.RegistrarTokenTTL, "unset fields keep defaults")
	require.Len(t, cfg.BallotStyles["B7"], 1)
	assert.Equal(t, []string{"Ann", "Ben"}, cfg.BallotStyles["B7"][0].Candidates)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"BALLOTBOX_PORT":             "6000",
		"BALLOTBOX_REGISTRAR_URL":    "http://registrar:9000",
		"BALLOTBOX_SECURE_COOKIES":   "true",
		"BALLOTBOX_BACKEND_TIMEOUT":  "3s",
		"BALLOTBOX_SESSION_LIFETIME": "1h",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, "http://registrar:9000", cfg.RegistrarURL)
	assert.True(t, cfg.SecureCookies)
	assert.Equal(t, 3*time.Second, cfg.BackendTimeout)
	assert.Equal(t, time.Hour, cfg.SessionLifetime)

	env["BALLOTBOX_PORT"] = "abc"
	assert.Error(t, Default().applyEnv(lookup))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"bad port", func(c *Config) { c.Port = 0 }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, false},
		{"zero lifetime", func(c *Config) { c.SessionLifetime = 0 }, false},
		{"relative url", func(c *Config) { c.RegistrarURL = "registrar:9000" }, false},
		{"empty url", func(c *Config) { c.BallotServerURL = "" }, false},
		{"contest without id", func(c *Config) {
			c.MockBackends = true
			c.BallotStyles = map[string][]ballotserver.Contest{"B1": {{Title: "x"}}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestCrossOrigin(t *testing.T) {
	for origin, want := range map[string]bool{
		"":                         false,
		"localhost":                false,
		"127.0.0.1":                false,
		"http://localhost:3000":    false,
		"https://vote.example.org": true,
		"vote.example.org":         true,
		"http://127.0.0.1:8080":    false,
	} {
		cfg := Default()
		cfg.AllowOrigin = origin
		assert.Equal(t, want, cfg.CrossOrigin(), origin)
	}
}

func TestNewKeys(t *testing.T) {
	cfg := validConfig(t)

	keys, err := NewKeys(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.SharedKey, keys.Shared.Encode())
	assert.NotNil(t, keys.Cookie)
	assert.Len(t, keys.Session, 32)

	again, err := NewKeys(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, keys.Cookie, again.Cookie, "cookie key is per process unless configured")

	cfg.CookieKey = keys.Cookie.Encode()
	pinned, err := NewKeys(cfg)
	require.NoError(t, err)
	assert.Equal(t, keys.Session, pinned.Session)
}

func TestNewKeysErrors(t *testing.T) {
	cfg := Default()
	_, err := NewKeys(cfg)
	assert.ErrorContains(t, err, "shared_key")

	cfg.MockBackends = true
	keys, err := NewKeys(cfg)
	require.NoError(t, err)
	assert.NotNil(t, keys.Shared)

	cfg.CookieKey = "not-a-key"
	_, err = NewKeys(cfg)
	assert.ErrorContains(t, err, "cookie_key")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogFormat = "json"

	l := NewLogger(cfg, &buf)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	l.WithField("component", "test").Info("hello")
	assert.Contains(t, buf.String(), `"component":"test"`)

	cfg.Debug = true
	assert.Equal(t, logrus.DebugLevel, NewLogger(cfg, &buf).GetLevel())
}
