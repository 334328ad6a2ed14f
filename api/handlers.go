package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ballotbox/encryption"
	"ballotbox/models"
	"ballotbox/remote"
	"ballotbox/service"
)

const (
	checkInFailedMessage = "Invalid token, login failed."
	badRequestMessage    = "Unable to process the ballot."
)

type stageResponse struct {
	Stage        string              `json:"stage"`
	Flash        string              `json:"flash,omitempty"`
	Ballot       models.ContestInfo  `json:"ballot,omitempty"`
	MarkedBallot models.MarkedBallot `json:"marked_ballot,omitempty"`
}

// ReceiptResponse is shown to the voter after a cast or spoil.
type ReceiptResponse struct {
	Stage            string `json:"stage"`
	Action           string `json:"action"`
	VerificationCode string `json:"verification_code"`
	Time             string `json:"time"`
	Timestamp        int64  `json:"timestamp"`
	UnencryptedHash  string `json:"unencrypted_hash"`
	EncryptedHash    string `json:"encrypted_hash"`
	ReceiptHash      string `json:"receipt_hash"`
	HashMatch        bool   `json:"hash_match"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to responses. Details only go to the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logFrom(r.Context()).WithError(err)

	var backendErr *remote.Error
	switch {
	case errors.Is(err, service.ErrAuthentication):
		s.clearCookie(w, sessionCookie)
		http.Redirect(w, r, "/checkin", http.StatusSeeOther)
	case errors.Is(err, encryption.ErrDecryption):
		log.Warn("selections could not be decrypted")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: badRequestMessage})
	case errors.Is(err, service.ErrSessionState):
		log.Warn("session is missing required state")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: badRequestMessage})
	case errors.As(err, &backendErr):
		log.WithField("endpoint", backendErr.Endpoint).Error("backend call failed")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: badRequestMessage})
	default:
		log.Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal error."})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Metrics())
}

func (s *Server) handleCheckInPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stageResponse{Stage: "checkin", Flash: flashFrom(r.Context())})
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	session, err := s.svc.CheckIn(r.Context(), r.PostForm.Get("token"))
	if err != nil {
		setFlash(w, checkInFailedMessage)
		http.Redirect(w, r, "/checkin", http.StatusSeeOther)
		return
	}

	token, err := GenerateToken(s.opts.SessionKey, session, s.opts.SessionLifetime)
	if err != nil {
		s.svc.Logout(session.ID)
		s.writeError(w, r, err)
		return
	}
	s.setCookie(w, sessionCookie, token)
	s.clearCookie(w, selectionsCookie)
	http.Redirect(w, r, "/vote", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if session := sessionFrom(r.Context()); session != nil {
		s.svc.Logout(session.ID)
	}
	s.clearCookie(w, sessionCookie)
	s.clearCookie(w, selectionsCookie)
	http.Redirect(w, r, "/checkin", http.StatusSeeOther)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	info, err := s.svc.RequestBallot(r.Context(), session.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stageResponse{Stage: "vote", Ballot: info})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	session := sessionFrom(r.Context())
	result, err := s.svc.SubmitMarks(r.Context(), session.ID, formSelections(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.setCookie(w, selectionsCookie, result.EncryptedSelections)
	writeJSON(w, http.StatusOK, stageResponse{Stage: "submit", MarkedBallot: result.MarkedBallot})
}

// formSelections turns the posted form into contest selections. A contest
// posted more than once becomes a list.
func formSelections(r *http.Request) models.Selections {
	selections := make(models.Selections, len(r.PostForm))
	for contest, values := range r.PostForm {
		switch len(values) {
		case 0:
		case 1:
			selections[contest] = values[0]
		default:
			selections[contest] = append([]string(nil), values...)
		}
	}
	return selections
}

// receiptTime renders the receipt timestamp in server local time, in the
// ctime layout voters are shown on the receipt page.
func receiptTime(r models.SubmissionReceipt) string {
	return r.Time().Format(time.ANSIC)
}

func (s *Server) handleCast(w http.ResponseWriter, r *http.Request) {
	s.finish(w, r, models.ActionCast)
}

func (s *Server) handleSpoil(w http.ResponseWriter, r *http.Request) {
	s.finish(w, r, models.ActionSpoil)
}

func (s *Server) finish(w http.ResponseWriter, r *http.Request, action models.SubmissionAction) {
	session := sessionFrom(r.Context())

	var encrypted string
	if c, err := r.Cookie(selectionsCookie); err == nil {
		encrypted = c.Value
	}

	var (
		result *service.CastResult
		err    error
	)
	if action == models.ActionCast {
		result, err = s.svc.Cast(r.Context(), session.ID, encrypted)
	} else {
		result, err = s.svc.Spoil(r.Context(), session.ID, encrypted)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.clearCookie(w, sessionCookie)
	s.clearCookie(w, selectionsCookie)
	writeJSON(w, http.StatusOK, ReceiptResponse{
		Stage:            "receipt",
		Action:           string(result.Action),
		VerificationCode: result.Receipt.VerificationCode,
		Time:             receiptTime(result.Receipt),
		Timestamp:        result.Receipt.Timestamp,
		UnencryptedHash:  result.ContentHash,
		EncryptedHash:    result.EncryptedHash,
		ReceiptHash:      result.Receipt.ContentHash,
		HashMatch:        result.HashMatch,
	})
}
