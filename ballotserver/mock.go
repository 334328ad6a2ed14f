package ballotserver

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"ballotbox/encryption"
	"ballotbox/models"
	"ballotbox/storage"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/sirupsen/logrus"
)

// Contest is one race on a ballot style served by MockServer.
type Contest struct {
	ID            string   `yaml:"id" json:"id"`
	Title         string   `yaml:"title" json:"title"`
	Candidates    []string `yaml:"candidates" json:"candidates"`
	MaxSelections int      `yaml:"max_selections" json:"max_selections"`
}

// SubmittedBallot is a ballot the mock server received.
type SubmittedBallot struct {
	Receipt models.SubmissionReceipt `json:"receipt"`
	Action  models.SubmissionAction  `json:"action"`
	Ballot  models.MarkedBallot      `json:"ballot"`
}

// DefaultStyles is the election MockServer serves when none is configured.
func DefaultStyles() map[string][]Contest {
	return map[string][]Contest{
		"B1": {
			{ID: "contest1", Title: "Mayor", Candidates: []string{"CandX", "CandY"}, MaxSelections: 1},
			{ID: "contest2", Title: "Council", Candidates: []string{"Alice", "Bob", "Carol"}, MaxSelections: 2},
		},
	}
}

// MockServer is an in-memory ballot server speaking the same wire protocol
// as the real one. Ballots are marked by keeping the selections that name
// a contest and candidate of the voter's style.
type MockServer struct {
	styles    map[string][]Contest
	submitted cmap.ConcurrentMap[string, SubmittedBallot]
	journal   *storage.Journal[SubmittedBallot]
	now       func() time.Time
	log       *logrus.Entry
}

func NewMockServer(styles map[string][]Contest, log *logrus.Entry) *MockServer {
	if len(styles) == 0 {
		styles = DefaultStyles()
	}
	return &MockServer{
		styles:    styles,
		submitted: cmap.New[SubmittedBallot](),
		now:       time.Now,
		log:       log,
	}
}

// WithJournal records submitted ballots in j and restores those it already
// holds.
func (m *MockServer) WithJournal(j *storage.Journal[SubmittedBallot]) *MockServer {
	for _, b := range j.Records() {
		m.submitted.Set(b.Receipt.VerificationCode, b)
	}
	m.journal = j
	return m
}

// Submitted returns the ballot recorded under a verification code.
func (m *MockServer) Submitted(code string) (SubmittedBallot, bool) {
	return m.submitted.Get(code)
}

// Handler serves the three ballot endpoints.
func (m *MockServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post(infoPath, m.handleInfo)
	r.Post(markPath, m.handleMark)
	r.Post(submitPath, m.handleSubmit)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (m *MockServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	var req infoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	contests, ok := m.styles[req.BallotStyle]
	if !ok {
		http.Error(w, "unknown ballot style", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"ballot_style": req.BallotStyle,
		"contests":     contests,
	})
}

func (m *MockServer) handleMark(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	contests, ok := m.styles[req.BallotStyle]
	if !ok {
		http.Error(w, "unknown ballot style", http.StatusNotFound)
		return
	}

	marked := make(map[string]any)
	for _, contest := range contests {
		if picked := pick(contest, req.Selections[contest.ID]); picked != nil {
			marked[contest.ID] = picked
		}
	}
	writeJSON(w, marked)
}

// pick keeps the known candidates of a raw selection. A single selection
// stays a string.
func pick(contest Contest, raw any) any {
	var names []string
	switch v := raw.(type) {
	case string:
		names = []string{v}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	}

	var kept []string
	for _, name := range names {
		if slices.Contains(contest.Candidates, name) && !slices.Contains(kept, name) {
			kept = append(kept, name)
		}
	}
	if contest.MaxSelections > 0 && len(kept) > contest.MaxSelections {
		kept = kept[:contest.MaxSelections]
	}

	switch {
	case len(kept) == 0:
		return nil
	case len(kept) == 1 && contest.MaxSelections <= 1:
		return kept[0]
	default:
		return kept
	}
}

func (m *MockServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Action.Valid() {
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	if err := req.Ballot.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hash, err := encryption.ContentHash(req.Ballot)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	receipt := models.SubmissionReceipt{
		VerificationCode: uuid.NewString(),
		Timestamp:        m.now().Unix(),
		ContentHash:      hash,
	}
	submitted := SubmittedBallot{Receipt: receipt, Action: req.Action, Ballot: req.Ballot}
	if m.journal != nil {
		if err := m.journal.Append(submitted); err != nil {
			m.log.WithError(err).Error("mock ballot server: journal append failed")
			http.Error(w, "storage failure", http.StatusInternalServerError)
			return
		}
	}
	m.submitted.Set(receipt.VerificationCode, submitted)
	m.log.WithFields(logrus.Fields{
		"verification_code": receipt.VerificationCode,
		"action":            req.Action,
	}).Info("mock ballot server: ballot submitted")

	writeJSON(w, receipt)
}
