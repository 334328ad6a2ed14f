package encryption

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
)

// SaltLen is the number of random bytes prefixed (hex encoded) to every
// cookie plaintext.
const SaltLen = 16

var saltHexLen = hex.EncodedLen(SaltLen)

// CookieCodec encrypts values held by the client between requests. The key
// is owned by the caller and is never written anywhere by the codec.
type CookieCodec struct {
	key *fernet.Key
	ttl time.Duration
}

func NewCookieCodec(key *fernet.Key, ttl time.Duration) *CookieCodec {
	return &CookieCodec{key: key, ttl: ttl}
}

// GenerateSalt returns SaltLen random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	_, err := rand.Read(salt)
	return salt, err
}

// Encrypt salts and seals plaintext. Two calls with the same plaintext
// produce different tokens.
func (c *CookieCodec) Encrypt(plaintext []byte) (string, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return "", fmt.Errorf("encryption: generate salt: %w", err)
	}

	salted := make([]byte, 0, saltHexLen+len(plaintext))
	salted = append(salted, hex.EncodeToString(salt)...)
	salted = append(salted, plaintext...)
	return Seal(salted, c.key)
}

// Decrypt opens a token produced by Encrypt and discards the salt.
func (c *CookieCodec) Decrypt(token string) ([]byte, error) {
	salted, err := Open(token, c.ttl, c.key)
	if err != nil {
		return nil, err
	}
	if len(salted) < saltHexLen {
		return nil, fmt.Errorf("%w: value shorter than salt", ErrDecryption)
	}
	return salted[saltHexLen:], nil
}
