package config

import (
	"fmt"

	"ballotbox/encryption"

	"github.com/fernet/fernet-go"
)

const sessionKeyInfo = "ballotbox session cookie v1"

// Keys is the per-process key set. It is built once at start and never
// changed.
type Keys struct {
	// Shared decrypts registrar tokens and seals registrar messages.
	Shared *fernet.Key
	// Cookie protects the encrypted selections cookie.
	Cookie *fernet.Key
	// Session signs the session cookie.
	Session []byte
}

// NewKeys builds the key set from c. A missing cookie key is generated. A
// missing shared key is only allowed with mock backends, where one is
// generated too.
func NewKeys(c *Config) (*Keys, error) {
	shared, err := keyOrGenerate(c.SharedKey, c.MockBackends)
	if err != nil {
		return nil, fmt.Errorf("shared_key: %w", err)
	}
	cookie, err := keyOrGenerate(c.CookieKey, true)
	if err != nil {
		return nil, fmt.Errorf("cookie_key: %w", err)
	}
	session, err := encryption.DeriveKey(cookie[:], sessionKeyInfo, 32)
	if err != nil {
		return nil, fmt.Errorf("session key: %w", err)
	}
	return &Keys{Shared: shared, Cookie: cookie, Session: session}, nil
}

func keyOrGenerate(encoded string, generate bool) (*fernet.Key, error) {
	if encoded != "" {
		return encryption.DecodeKey(encoded)
	}
	if !generate {
		return nil, fmt.Errorf("is required")
	}
	return encryption.GenerateKey()
}
