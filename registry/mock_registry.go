package registry

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"ballotbox/encryption"
	"ballotbox/models"

	"github.com/fernet/fernet-go"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/sirupsen/logrus"
)

// VoterRecord is the mock registrar's view of one voter.
type VoterRecord struct {
	VoterNumber int64     `json:"voter_number"`
	BallotStyle string    `json:"ballot_style"`
	TokenID     string    `json:"token_id"`
	IsActive    bool      `json:"is_active"`
	CheckedIn   bool      `json:"checked_in"`
	Voted       bool      `json:"voted"`
	LastUpdated time.Time `json:"last_updated"`
}

// MockRegistrar is an in-memory registrar speaking the same wire protocol
// as the real one. It backs tests and local runs without a registrar.
type MockRegistrar struct {
	key    *fernet.Key
	ttl    time.Duration
	voters cmap.ConcurrentMap[string, VoterRecord]
	log    *logrus.Entry
}

func NewMockRegistrar(key *fernet.Key, log *logrus.Entry) *MockRegistrar {
	return &MockRegistrar{
		key:    key,
		ttl:    time.Hour,
		voters: cmap.New[VoterRecord](),
		log:    log,
	}
}

func recordKey(voterNumber int64) string {
	return strconv.FormatInt(voterNumber, 10)
}

// AddVoter registers an active voter with a fresh token id and returns the
// encrypted token the voter presents at check-in.
func (m *MockRegistrar) AddVoter(voterNumber int64, ballotStyle string) (string, error) {
	rec := VoterRecord{
		VoterNumber: voterNumber,
		BallotStyle: ballotStyle,
		TokenID:     uuid.NewString(),
		IsActive:    true,
		LastUpdated: time.Now(),
	}
	token, err := IssueToken(models.RegistrarToken{
		BallotStyle: rec.BallotStyle,
		TokenID:     rec.TokenID,
		VoterNumber: rec.VoterNumber,
	}, m.key)
	if err != nil {
		return "", fmt.Errorf("mock registrar: %w", err)
	}
	m.voters.Set(recordKey(voterNumber), rec)
	return token, nil
}

// Deactivate marks a voter ineligible.
func (m *MockRegistrar) Deactivate(voterNumber int64) {
	m.update(voterNumber, func(rec *VoterRecord) bool {
		rec.IsActive = false
		return true
	})
}

// Voter returns the record for voterNumber.
func (m *MockRegistrar) Voter(voterNumber int64) (VoterRecord, bool) {
	return m.voters.Get(recordKey(voterNumber))
}

// HasVoted reports whether a cast was announced for voterNumber.
func (m *MockRegistrar) HasVoted(voterNumber int64) bool {
	rec, ok := m.Voter(voterNumber)
	return ok && rec.Voted
}

// update applies fn to an existing record atomically. It reports what fn
// returned, or false when the voter is unknown.
func (m *MockRegistrar) update(voterNumber int64, fn func(rec *VoterRecord) bool) bool {
	k := recordKey(voterNumber)
	if !m.voters.Has(k) {
		return false
	}
	var result bool
	m.voters.Upsert(k, VoterRecord{}, func(exist bool, rec VoterRecord, _ VoterRecord) VoterRecord {
		if !exist {
			return rec
		}
		result = fn(&rec)
		if result {
			rec.LastUpdated = time.Now()
		}
		return rec
	})
	return result
}

// Handler serves POST /voter/token and POST /voter/voted.
func (m *MockRegistrar) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post(tokenPath, m.handleToken)
	r.Post(votedPath, m.handleVoted)
	return r
}

func (m *MockRegistrar) readSealed(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		return err
	}
	return encryption.OpenJSON(string(body), m.ttl, m.key, v)
}

func (m *MockRegistrar) handleToken(w http.ResponseWriter, r *http.Request) {
	var req eligibilityRequest
	if err := m.readSealed(r, &req); err != nil {
		m.log.WithError(err).Warn("mock registrar: unreadable eligibility request")
		w.Write([]byte("invalid"))
		return
	}

	ok := m.update(req.VoterNumber, func(rec *VoterRecord) bool {
		if !rec.IsActive || rec.Voted || rec.TokenID != req.TokenID {
			return false
		}
		rec.CheckedIn = true
		return true
	})
	if !ok {
		w.Write([]byte("invalid"))
		return
	}
	w.Write([]byte(eligibleResponse))
}

func (m *MockRegistrar) handleVoted(w http.ResponseWriter, r *http.Request) {
	var req castAnnouncement
	if err := m.readSealed(r, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ok := m.update(req.VoterNumber, func(rec *VoterRecord) bool {
		rec.Voted = true
		return true
	})
	if !ok {
		http.Error(w, "unknown voter", http.StatusNotFound)
		return
	}
	w.Write([]byte("ok"))
}
