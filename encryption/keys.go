package encryption

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands secret into size bytes bound to info. Distinct info
// strings give independent keys from the same secret.
func DeriveKey(secret []byte, info string, size int) ([]byte, error) {
	out := make([]byte, size)
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("encryption: derive %q: %w", info, err)
	}
	return out, nil
}
