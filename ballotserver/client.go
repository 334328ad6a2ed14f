// Package ballotserver is the client for the ballot server, which owns
// contest definitions, ballot marking and final submission.
package ballotserver

import (
	"context"
	"errors"
	"fmt"

	"ballotbox/models"
	"ballotbox/remote"
)

const (
	infoPath   = "/ballot/info"
	markPath   = "/ballot/mark"
	submitPath = "/ballot/submit"
)

// BallotServer is the ballot server as seen by the voting session.
type BallotServer interface {
	ContestInfo(ctx context.Context, ballotStyle string) (models.ContestInfo, error)
	MarkBallot(ctx context.Context, ballotStyle string, selections models.Selections) (models.MarkedBallot, error)
	Submit(ctx context.Context, ballot models.MarkedBallot, action models.SubmissionAction) (*models.SubmissionReceipt, error)
}

type infoRequest struct {
	BallotStyle string `json:"ballot_style"`
}

type markRequest struct {
	BallotStyle string            `json:"ballot_style"`
	Selections  models.Selections `json:"selections"`
}

type submitRequest struct {
	Ballot models.MarkedBallot     `json:"ballot"`
	Action models.SubmissionAction `json:"action"`
}

// Client is a stateless adapter over the ballot server's JSON endpoints.
type Client struct {
	remote *remote.Client
}

func NewClient(rc *remote.Client) *Client {
	return &Client{remote: rc}
}

// ContestInfo returns the contests of ballotStyle.
func (c *Client) ContestInfo(ctx context.Context, ballotStyle string) (models.ContestInfo, error) {
	var info models.ContestInfo
	if err := c.remote.PostJSON(ctx, infoPath, infoRequest{BallotStyle: ballotStyle}, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// MarkBallot turns raw selections into the ballot server's marked ballot.
func (c *Client) MarkBallot(ctx context.Context, ballotStyle string, selections models.Selections) (models.MarkedBallot, error) {
	var ballot models.MarkedBallot
	req := markRequest{BallotStyle: ballotStyle, Selections: selections}
	if err := c.remote.PostJSON(ctx, markPath, req, &ballot); err != nil {
		return nil, err
	}
	if err := ballot.Validate(); err != nil {
		return nil, &remote.Error{Endpoint: markPath, Cause: err}
	}
	return ballot, nil
}

// Submit casts or spoils ballot and returns the ballot server's receipt.
func (c *Client) Submit(ctx context.Context, ballot models.MarkedBallot, action models.SubmissionAction) (*models.SubmissionReceipt, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("ballotserver: unknown action %q", action)
	}

	var receipt models.SubmissionReceipt
	if err := c.remote.PostJSON(ctx, submitPath, submitRequest{Ballot: ballot, Action: action}, &receipt); err != nil {
		return nil, err
	}
	if receipt.VerificationCode == "" {
		return nil, &remote.Error{Endpoint: submitPath, Cause: errors.New("receipt without verification code")}
	}
	return &receipt, nil
}
