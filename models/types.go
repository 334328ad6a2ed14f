package models

import (
	"encoding/json"
	"time"
)

// ContestInfo is the ballot server's description of the contests of a
// ballot style, passed through to the voter untouched.
type ContestInfo json.RawMessage

func (c ContestInfo) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return c, nil
}

func (c *ContestInfo) UnmarshalJSON(data []byte) error {
	*c = append((*c)[0:0], data...)
	return nil
}

// SubmissionReceipt is returned by the ballot server after a cast or spoil.
type SubmissionReceipt struct {
	VerificationCode string `json:"verification_code"`
	Timestamp        int64  `json:"timestamp"`
	ContentHash      string `json:"content_hash"`
}

// Time returns the receipt timestamp as a local time.
func (r *SubmissionReceipt) Time() time.Time {
	return time.Unix(r.Timestamp, 0)
}
