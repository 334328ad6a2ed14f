package registry

import (
	"errors"
	"fmt"
	"time"

	"ballotbox/encryption"
	"ballotbox/models"

	"github.com/fernet/fernet-go"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidToken covers every way a registrar token can fail to parse:
	// bad encoding, wrong key, bad JSON or a missing field.
	ErrInvalidToken = errors.New("registry: invalid registrar token")

	// ErrIneligibleVoter is returned when the registrar refuses a well formed
	// token.
	ErrIneligibleVoter = errors.New("registry: voter is not eligible")
)

var validate = validator.New()

// ParseToken decrypts a registrar token with the key shared with the
// registrar. Tokens older than ttl are rejected.
func ParseToken(token string, key *fernet.Key, ttl time.Duration) (*models.RegistrarToken, error) {
	var tok models.RegistrarToken
	if err := encryption.OpenJSON(token, ttl, key, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := validate.Struct(&tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &tok, nil
}

// IssueToken produces the token the registrar hands a voter at check-in.
func IssueToken(tok models.RegistrarToken, key *fernet.Key) (string, error) {
	if err := validate.Struct(&tok); err != nil {
		return "", fmt.Errorf("registry: issue token: %w", err)
	}
	return encryption.SealJSON(tok, key)
}
