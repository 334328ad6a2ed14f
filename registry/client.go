package registry

import (
	"context"
	"fmt"

	"ballotbox/encryption"
	"ballotbox/remote"

	"github.com/fernet/fernet-go"
)

const (
	tokenPath = "/voter/token"
	votedPath = "/voter/voted"

	eligibleResponse = "valid"
)

// Registrar is the registrar as seen by the voting session.
type Registrar interface {
	CheckEligibility(ctx context.Context, voterNumber int64, tokenID string) (bool, error)
	AnnounceCast(ctx context.Context, voterNumber int64) error
}

type eligibilityRequest struct {
	VoterNumber int64  `json:"voter_number"`
	TokenID     string `json:"token_id"`
}

type castAnnouncement struct {
	VoterNumber int64 `json:"voter_number"`
}

// Client talks to the registrar over HTTP. Request bodies are sealed with
// the shared key.
type Client struct {
	remote *remote.Client
	key    *fernet.Key
}

func NewClient(rc *remote.Client, key *fernet.Key) *Client {
	return &Client{remote: rc, key: key}
}

// CheckEligibility asks the registrar whether the voter may check in with
// tokenID. Anything other than the literal answer "valid" is ineligible,
// including transport failures; the error says why.
func (c *Client) CheckEligibility(ctx context.Context, voterNumber int64, tokenID string) (bool, error) {
	blob, err := encryption.SealJSON(eligibilityRequest{VoterNumber: voterNumber, TokenID: tokenID}, c.key)
	if err != nil {
		return false, fmt.Errorf("registry: seal eligibility request: %w", err)
	}

	resp, err := c.remote.PostText(ctx, tokenPath, blob)
	if err != nil {
		return false, err
	}
	if resp != eligibleResponse {
		return false, ErrIneligibleVoter
	}
	return true, nil
}

// AnnounceCast tells the registrar the voter has cast a ballot. The
// response body is ignored.
func (c *Client) AnnounceCast(ctx context.Context, voterNumber int64) error {
	blob, err := encryption.SealJSON(castAnnouncement{VoterNumber: voterNumber}, c.key)
	if err != nil {
		return fmt.Errorf("registry: seal cast announcement: %w", err)
	}
	_, err = c.remote.PostText(ctx, votedPath, blob)
	return err
}
