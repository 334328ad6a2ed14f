package encryption

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
)

// ErrDecryption is returned for any value that does not decode, authenticate
// and decrypt under the expected key.
var ErrDecryption = errors.New("encryption: cannot decrypt value")

// GenerateKey returns a fresh random Fernet key.
func GenerateKey() (*fernet.Key, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return nil, fmt.Errorf("encryption: generate key: %w", err)
	}
	return &k, nil
}

// DecodeKey parses a base64 encoded Fernet key.
func DecodeKey(s string) (*fernet.Key, error) {
	k, err := fernet.DecodeKey(s)
	if err != nil {
		return nil, fmt.Errorf("encryption: decode key: %w", err)
	}
	return k, nil
}

// Seal encrypts plaintext with key and returns the standard base64 encoding
// of the Fernet token.
func Seal(plaintext []byte, key *fernet.Key) (string, error) {
	tok, err := fernet.EncryptAndSign(plaintext, key)
	if err != nil {
		return "", fmt.Errorf("encryption: seal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(tok), nil
}

// Open reverses Seal. Tokens older than ttl are rejected.
func Open(value string, ttl time.Duration, key *fernet.Key) ([]byte, error) {
	tok, err := base64.StdEncoding.Strict().DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: outer encoding: %v", ErrDecryption, err)
	}
	// fernet-go ignores decode errors in the token itself, so reject any
	// non canonical encoding before verifying.
	if _, err := base64.URLEncoding.Strict().DecodeString(string(tok)); err != nil {
		return nil, fmt.Errorf("%w: token encoding: %v", ErrDecryption, err)
	}
	msg := fernet.VerifyAndDecrypt(tok, ttl, []*fernet.Key{key})
	if msg == nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return msg, nil
}

// SealJSON serializes v and seals it.
func SealJSON(v any, key *fernet.Key) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encryption: marshal: %w", err)
	}
	return Seal(data, key)
}

// OpenJSON opens value and decodes it into v.
func OpenJSON(value string, ttl time.Duration, key *fernet.Key, v any) error {
	data, err := Open(value, ttl, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("encryption: unmarshal: %w", err)
	}
	return nil
}
