package models

import "time"

// RegistrarToken is the decrypted check-in token issued by the registrar.
type RegistrarToken struct {
	BallotStyle string `json:"ballot_style" validate:"required"`
	TokenID     string `json:"token_id" validate:"required"`
	VoterNumber int64  `json:"voter_number" validate:"required"`
}

// SessionState is the furthest step a voter session has reached.
type SessionState int

const (
	StateAnonymous SessionState = iota
	StateCheckedIn
	StateBallotPresented
	StateSelectionsHeld
	StateCast
	StateSpoiled
)

func (s SessionState) String() string {
	switch s {
	case StateCheckedIn:
		return "checked_in"
	case StateBallotPresented:
		return "ballot_presented"
	case StateSelectionsHeld:
		return "selections_held"
	case StateCast:
		return "cast"
	case StateSpoiled:
		return "spoiled"
	default:
		return "anonymous"
	}
}

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool {
	return s == StateCast || s == StateSpoiled
}

// VoterSession lives from check-in until cast, spoil or logout.
type VoterSession struct {
	ID          string       `json:"id"`
	VoterNumber int64        `json:"voter_number"`
	BallotStyle string       `json:"ballot_style"`
	State       SessionState `json:"state"`
	CheckedInAt time.Time    `json:"checked_in_at"`
	ExpiresAt   time.Time    `json:"expires_at"`

	// SelectionsHash is the SHA-256 of the last selections token issued to
	// this session. Only that token can be cast or spoiled.
	SelectionsHash string `json:"-"`
}

// Expired reports whether the session is past its lifetime at now.
func (s *VoterSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
