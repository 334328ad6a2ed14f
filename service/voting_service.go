package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"ballotbox/ballotserver"
	"ballotbox/encryption"
	"ballotbox/models"
	"ballotbox/registry"

	"github.com/fernet/fernet-go"
	"github.com/sirupsen/logrus"
)

var (
	// ErrCheckInFailed is the only check-in failure callers see, whatever
	// the cause.
	ErrCheckInFailed = errors.New("invalid token, login failed")

	// ErrAuthentication means the step needs a live voter session.
	ErrAuthentication = errors.New("service: no active voter session")

	// ErrSessionState means the session lacks data the step needs.
	ErrSessionState = errors.New("service: session is missing required state")
)

// Config wires a VotingService.
type Config struct {
	Registrar    registry.Registrar
	BallotServer ballotserver.BallotServer
	Codec        *encryption.CookieCodec
	SharedKey    *fernet.Key
	TokenTTL     time.Duration
	Sessions     *SessionStore
	Metrics      *MetricsCollector
	Log          *logrus.Entry
}

// VotingService runs the voting session: check-in, ballot, marks, then cast
// or spoil. It keeps no ballot content; in-progress selections only exist
// in the encrypted token handed back to the voter.
type VotingService struct {
	registrar registry.Registrar
	ballots   ballotserver.BallotServer
	codec     *encryption.CookieCodec
	sharedKey *fernet.Key
	tokenTTL  time.Duration
	sessions  *SessionStore
	metrics   *MetricsCollector
	log       *logrus.Entry
}

// SubmitResult is what the voter receives after submitting marks.
type SubmitResult struct {
	EncryptedSelections string              `json:"-"`
	MarkedBallot        models.MarkedBallot `json:"marked_ballot"`
}

// CastResult is the outcome of a cast or spoil. ContentHash is computed
// here over the decrypted ballot; Receipt.ContentHash is the ballot
// server's. Comparing them is left to the voter.
type CastResult struct {
	Action        models.SubmissionAction  `json:"action"`
	Receipt       models.SubmissionReceipt `json:"receipt"`
	ContentHash   string                   `json:"content_hash"`
	EncryptedHash string                   `json:"encrypted_hash"`
	HashMatch     bool                     `json:"hash_match"`
}

func NewVotingService(cfg Config) (*VotingService, error) {
	switch {
	case cfg.Registrar == nil:
		return nil, errors.New("service: registrar is required")
	case cfg.BallotServer == nil:
		return nil, errors.New("service: ballot server is required")
	case cfg.Codec == nil:
		return nil, errors.New("service: cookie codec is required")
	case cfg.SharedKey == nil:
		return nil, errors.New("service: registrar shared key is required")
	}

	vs := &VotingService{
		registrar: cfg.Registrar,
		ballots:   cfg.BallotServer,
		codec:     cfg.Codec,
		sharedKey: cfg.SharedKey,
		tokenTTL:  cfg.TokenTTL,
		sessions:  cfg.Sessions,
		metrics:   cfg.Metrics,
		log:       cfg.Log,
	}
	if vs.sessions == nil {
		vs.sessions = NewSessionStore(time.Hour)
	}
	if vs.metrics == nil {
		vs.metrics = NewMetricsCollector()
	}
	if vs.log == nil {
		vs.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return vs, nil
}

// Sessions returns the session store.
func (vs *VotingService) Sessions() *SessionStore {
	return vs.sessions
}

// Metrics returns a snapshot of the step metrics.
func (vs *VotingService) Metrics() MetricsResponse {
	return vs.metrics.GetMetrics(vs.sessions.Len())
}

// CheckIn validates a registrar token and asks the registrar whether the
// voter is eligible. Every failure is reported as ErrCheckInFailed; the
// cause is only logged.
func (vs *VotingService) CheckIn(ctx context.Context, token string) (session *models.VoterSession, err error) {
	start := time.Now()
	defer func() { vs.metrics.Record(OpCheckIn, start, err) }()

	tok, err := registry.ParseToken(token, vs.sharedKey, vs.tokenTTL)
	if err != nil {
		vs.log.WithError(err).Warn("check-in rejected: unreadable token")
		return nil, ErrCheckInFailed
	}

	eligible, err := vs.registrar.CheckEligibility(ctx, tok.VoterNumber, tok.TokenID)
	if err != nil || !eligible {
		vs.log.WithError(err).WithField("voter_number", tok.VoterNumber).Warn("check-in rejected: registrar refused")
		return nil, ErrCheckInFailed
	}

	s := vs.sessions.Create(tok.VoterNumber, tok.BallotStyle)
	vs.log.WithFields(logrus.Fields{
		"session_id":   s.ID,
		"ballot_style": s.BallotStyle,
	}).Info("voter checked in")
	return &s, nil
}

// Session returns the live session sessionID.
func (vs *VotingService) Session(sessionID string) (*models.VoterSession, error) {
	if sessionID == "" {
		return nil, ErrAuthentication
	}
	s, ok := vs.sessions.Get(sessionID)
	if !ok {
		return nil, ErrAuthentication
	}
	return &s, nil
}

func (vs *VotingService) styledSession(sessionID string) (*models.VoterSession, error) {
	s, err := vs.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if s.BallotStyle == "" {
		return nil, fmt.Errorf("%w: ballot style", ErrSessionState)
	}
	return s, nil
}

// RequestBallot returns the contests of the session's ballot style.
func (vs *VotingService) RequestBallot(ctx context.Context, sessionID string) (info models.ContestInfo, err error) {
	start := time.Now()
	defer func() { vs.metrics.Record(OpBallot, start, err) }()

	s, err := vs.styledSession(sessionID)
	if err != nil {
		return nil, err
	}

	info, err = vs.ballots.ContestInfo(ctx, s.BallotStyle)
	if err != nil {
		return nil, fmt.Errorf("service: contest info: %w", err)
	}
	vs.sessions.Advance(s.ID, models.StateBallotPresented)
	return info, nil
}

// SubmitMarks has the ballot server mark the ballot and returns it with
// its encrypted form. Only the encrypted form may be kept by the caller.
// The ballot must have been presented first; submitting again replaces the
// held selections.
func (vs *VotingService) SubmitMarks(ctx context.Context, sessionID string, selections models.Selections) (result *SubmitResult, err error) {
	start := time.Now()
	defer func() { vs.metrics.Record(OpSubmit, start, err) }()

	s, err := vs.styledSession(sessionID)
	if err != nil {
		return nil, err
	}
	if s.State < models.StateBallotPresented {
		return nil, fmt.Errorf("%w: ballot not presented", ErrSessionState)
	}

	ballot, err := vs.ballots.MarkBallot(ctx, s.BallotStyle, selections)
	if err != nil {
		return nil, fmt.Errorf("service: mark ballot: %w", err)
	}

	encrypted, err := vs.codec.Encrypt(ballot)
	if err != nil {
		return nil, fmt.Errorf("service: encrypt selections: %w", err)
	}

	if !vs.sessions.HoldSelections(s.ID, encryption.HashData([]byte(encrypted))) {
		return nil, ErrAuthentication
	}
	return &SubmitResult{EncryptedSelections: encrypted, MarkedBallot: ballot}, nil
}

// Cast submits the ballot held in encryptedSelections for counting,
// announces the cast to the registrar and ends the session. The token must
// be the last one SubmitMarks issued to this session.
func (vs *VotingService) Cast(ctx context.Context, sessionID, encryptedSelections string) (*CastResult, error) {
	return vs.finish(ctx, sessionID, encryptedSelections, models.ActionCast)
}

// Spoil submits the ballot held in encryptedSelections as spoiled and ends
// the session.
func (vs *VotingService) Spoil(ctx context.Context, sessionID, encryptedSelections string) (*CastResult, error) {
	return vs.finish(ctx, sessionID, encryptedSelections, models.ActionSpoil)
}

func (vs *VotingService) finish(ctx context.Context, sessionID, encryptedSelections string, action models.SubmissionAction) (result *CastResult, err error) {
	start := time.Now()
	op := OpSpoil
	if action == models.ActionCast {
		op = OpCast
	}
	defer func() { vs.metrics.Record(op, start, err) }()

	s, err := vs.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if s.State != models.StateSelectionsHeld {
		return nil, fmt.Errorf("%w: no selections held", ErrSessionState)
	}

	plaintext, err := vs.codec.Decrypt(encryptedSelections)
	if err != nil {
		return nil, fmt.Errorf("service: read selections: %w", err)
	}
	encryptedHash := encryption.HashData([]byte(encryptedSelections))
	if subtle.ConstantTimeCompare([]byte(encryptedHash), []byte(s.SelectionsHash)) != 1 {
		return nil, fmt.Errorf("%w: selections were not issued to this session", ErrSessionState)
	}
	ballot := models.MarkedBallot(plaintext)
	if err := ballot.Validate(); err != nil {
		return nil, fmt.Errorf("service: read selections: %w: %v", encryption.ErrDecryption, err)
	}

	contentHash, err := encryption.ContentHash(ballot)
	if err != nil {
		return nil, fmt.Errorf("service: hash ballot: %w", err)
	}

	receipt, err := vs.ballots.Submit(ctx, ballot, action)
	if err != nil {
		return nil, fmt.Errorf("service: submit ballot: %w", err)
	}

	if action == models.ActionCast {
		if err := vs.registrar.AnnounceCast(ctx, s.VoterNumber); err != nil {
			vs.metrics.RecordAnnounceFailure()
			vs.log.WithError(err).WithField("verification_code", receipt.VerificationCode).
				Warn("registrar cast announcement failed")
		}
	}

	state := models.StateSpoiled
	if action == models.ActionCast {
		state = models.StateCast
	}
	vs.sessions.Advance(s.ID, state)
	vs.sessions.End(s.ID)

	result = &CastResult{
		Action:        action,
		Receipt:       *receipt,
		ContentHash:   contentHash,
		EncryptedHash: encryptedHash,
		HashMatch:     receipt.ContentHash == contentHash,
	}

	entry := vs.log.WithFields(logrus.Fields{
		"session_id":        s.ID,
		"action":            action,
		"verification_code": receipt.VerificationCode,
	})
	if !result.HashMatch {
		vs.metrics.RecordHashMismatch()
		entry.Warn("receipt content hash differs from submitted ballot")
	} else {
		entry.Info("ballot submitted")
	}
	return result, nil
}

// Logout ends the session without submitting anything.
func (vs *VotingService) Logout(sessionID string) {
	vs.sessions.End(sessionID)
}
