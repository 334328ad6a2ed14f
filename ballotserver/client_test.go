package ballotserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ballotbox/encryption"
	"ballotbox/models"
	"ballotbox/remote"
	"ballotbox/storage"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newMockClient(t *testing.T) (*Client, *MockServer) {
	t.Helper()
	mock := NewMockServer(nil, testLog())
	srv := httptest.NewServer(mock.Handler())
	t.Cleanup(srv.Close)

	rc, err := remote.New(srv.URL, time.Second, testLog())
	require.NoError(t, err)
	return NewClient(rc), mock
}

func TestContestInfo(t *testing.T) {
	client, _ := newMockClient(t)

	info, err := client.ContestInfo(context.Background(), "B1")
	require.NoError(t, err)

	var decoded struct {
		BallotStyle string    `json:"ballot_style"`
		Contests    []Contest `json:"contests"`
	}
	require.NoError(t, json.Unmarshal(info, &decoded))
	assert.Equal(t, "B1", decoded.BallotStyle)
	assert.Len(t, decoded.Contests, 2)

	_, err = client.ContestInfo(context.Background(), "nope")
	var rerr *remote.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusNotFound, rerr.Status)
}

func TestMarkBallot(t *testing.T) {
	client, _ := newMockClient(t)

	ballot, err := client.MarkBallot(context.Background(), "B1", models.Selections{
		"contest1": "CandX",
		"contest2": []string{"Alice", "Mallory", "Bob"},
		"contest9": "Nobody",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"contest1":"CandX","contest2":["Alice","Bob"]}`, string(ballot))
}

func TestSubmitReceiptHash(t *testing.T) {
	client, mock := newMockClient(t)

	ballot, err := client.MarkBallot(context.Background(), "B1", models.Selections{"contest1": "CandX"})
	require.NoError(t, err)

	receipt, err := client.Submit(context.Background(), ballot, models.ActionCast)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.VerificationCode)
	assert.NotZero(t, receipt.Timestamp)

	want, err := encryption.ContentHash([]byte(`{"contest1":"CandX"}`))
	require.NoError(t, err)
	assert.Equal(t, want, receipt.ContentHash)

	stored, ok := mock.Submitted(receipt.VerificationCode)
	require.True(t, ok)
	assert.Equal(t, models.ActionCast, stored.Action)
}

func TestSubmitRejectsUnknownAction(t *testing.T) {
	client, _ := newMockClient(t)
	_, err := client.Submit(context.Background(), models.MarkedBallot(`{}`), models.SubmissionAction("BURN"))
	assert.Error(t, err)
}

func TestMarkBallotRejectsNonObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["not","an","object"]`))
	}))
	defer srv.Close()

	rc, err := remote.New(srv.URL, time.Second, testLog())
	require.NoError(t, err)

	_, err = NewClient(rc).MarkBallot(context.Background(), "B1", models.Selections{})
	var rerr *remote.Error
	assert.True(t, errors.As(err, &rerr))
}

func TestSubmitRejectsReceiptWithoutCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"timestamp": 1}`))
	}))
	defer srv.Close()

	rc, err := remote.New(srv.URL, time.Second, testLog())
	require.NoError(t, err)

	_, err = NewClient(rc).Submit(context.Background(), models.MarkedBallot(`{"a":"b"}`), models.ActionSpoil)
	var rerr *remote.Error
	assert.True(t, errors.As(err, &rerr))
}

func TestMockJournal(t *testing.T) {
	dir := t.TempDir()
	journal, err := storage.OpenJournal[SubmittedBallot](dir, "submitted")
	require.NoError(t, err)

	mock := NewMockServer(nil, testLog()).WithJournal(journal)
	srv := httptest.NewServer(mock.Handler())
	t.Cleanup(srv.Close)
	rc, err := remote.New(srv.URL, time.Second, testLog())
	require.NoError(t, err)
	client := NewClient(rc)

	receipt, err := client.Submit(context.Background(), models.MarkedBallot(`{"contest1":"CandY"}`), models.ActionSpoil)
	require.NoError(t, err)
	assert.Equal(t, 1, journal.Len())

	reopened, err := storage.OpenJournal[SubmittedBallot](dir, "submitted")
	require.NoError(t, err)
	restarted := NewMockServer(nil, testLog()).WithJournal(reopened)

	got, ok := restarted.Submitted(receipt.VerificationCode)
	require.True(t, ok)
	assert.Equal(t, models.ActionSpoil, got.Action)
	hash, err := encryption.ContentHash(got.Ballot)
	require.NoError(t, err)
	assert.Equal(t, receipt.ContentHash, hash)
}
