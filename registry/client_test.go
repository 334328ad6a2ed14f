package registry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ballotbox/encryption"
	"ballotbox/remote"

	"github.com/fernet/fernet-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestClient(t *testing.T, url string, key *fernet.Key) *Client {
	t.Helper()
	rc, err := remote.New(url, time.Second, testLog())
	require.NoError(t, err)
	return NewClient(rc, key)
}

func TestEligibilityAgainstMockRegistrar(t *testing.T) {
	key, err := encryption.GenerateKey()
	require.NoError(t, err)

	reg := NewMockRegistrar(key, testLog())
	token, err := reg.AddVoter(42, "B1")
	require.NoError(t, err)

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()
	client := newTestClient(t, srv.URL, key)

	tok, err := ParseToken(token, key, time.Hour)
	require.NoError(t, err)

	ok, err := client.CheckEligibility(context.Background(), tok.VoterNumber, tok.TokenID)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, _ := reg.Voter(42)
	assert.True(t, rec.CheckedIn)

	ok, err = client.CheckEligibility(context.Background(), 42, "other-token")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrIneligibleVoter)

	ok, _ = client.CheckEligibility(context.Background(), 7, tok.TokenID)
	assert.False(t, ok)

	require.NoError(t, client.AnnounceCast(context.Background(), 42))
	assert.True(t, reg.HasVoted(42))

	ok, _ = client.CheckEligibility(context.Background(), 42, tok.TokenID)
	assert.False(t, ok, "a voter who has voted cannot check in again")
}

func TestEligibilityDeactivatedVoter(t *testing.T) {
	key, err := encryption.GenerateKey()
	require.NoError(t, err)

	reg := NewMockRegistrar(key, testLog())
	_, err = reg.AddVoter(42, "B1")
	require.NoError(t, err)
	reg.Deactivate(42)
	rec, _ := reg.Voter(42)

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	ok, err := newTestClient(t, srv.URL, key).CheckEligibility(context.Background(), 42, rec.TokenID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrIneligibleVoter)
}

func TestEligibilityRequiresLiteralValid(t *testing.T) {
	key, err := encryption.GenerateKey()
	require.NoError(t, err)

	for _, body := range []string{"valid\n", "VALID", "", `"valid"`, "invalid"} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
		ok, err := newTestClient(t, srv.URL, key).CheckEligibility(context.Background(), 42, "T1")
		srv.Close()

		assert.False(t, ok, "body %q", body)
		assert.ErrorIs(t, err, ErrIneligibleVoter, "body %q", body)
	}
}

func TestEligibilityFailsClosed(t *testing.T) {
	key, err := encryption.GenerateKey()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("valid"))
	}))
	defer srv.Close()

	ok, err := newTestClient(t, srv.URL, key).CheckEligibility(context.Background(), 42, "T1")
	assert.False(t, ok)
	var rerr *remote.Error
	assert.True(t, errors.As(err, &rerr))
}

func TestRegistrarRequestsAreSealed(t *testing.T) {
	key, err := encryption.GenerateKey()
	require.NoError(t, err)

	var got castAnnouncement
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, votedPath, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, encryption.OpenJSON(string(body), time.Hour, key, &got))
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv.URL, key).AnnounceCast(context.Background(), 42))
	assert.Equal(t, int64(42), got.VoterNumber)
}
