package models

import (
	"encoding/json"
	"errors"
)

// Selections maps a contest identifier to one selection (string) or
// several ([]string).
type Selections map[string]any

// SubmissionAction is what the ballot server should do with a marked ballot.
type SubmissionAction string

const (
	ActionCast  SubmissionAction = "CAST"
	ActionSpoil SubmissionAction = "SPOIL"
)

func (a SubmissionAction) Valid() bool {
	return a == ActionCast || a == ActionSpoil
}

// MarkedBallot is the ballot server's marked ballot document, kept as the
// exact JSON bytes the ballot server returned. Its schema belongs to the
// ballot server.
type MarkedBallot json.RawMessage

var errNotObject = errors.New("marked ballot is not a JSON object")

func (b MarkedBallot) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	return b, nil
}

func (b *MarkedBallot) UnmarshalJSON(data []byte) error {
	*b = append((*b)[0:0], data...)
	return nil
}

// Validate checks that the ballot is a well formed JSON object.
func (b MarkedBallot) Validate() error {
	if !json.Valid(b) {
		return errNotObject
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil || obj == nil {
		return errNotObject
	}
	return nil
}
