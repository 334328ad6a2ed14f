package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ballot/info", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"ballot_style":"B1"}`, string(body))
		w.Write([]byte(`{"contests":["c1"]}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/ignored", time.Second, testLog())
	require.NoError(t, err)

	var out struct {
		Contests []string `json:"contests"`
	}
	require.NoError(t, c.PostJSON(context.Background(), "/ballot/info", map[string]string{"ballot_style": "B1"}, &out))
	assert.Equal(t, []string{"c1"}, out.Contests)
}

func TestPostJSONNonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(srv.URL, time.Second, testLog())
	require.NoError(t, err)

	err = c.PostJSON(context.Background(), "/ballot/mark", struct{}{}, &struct{}{})
	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusInternalServerError, rerr.Status)
	assert.Equal(t, "boom", rerr.Body)
}

func TestPostJSONBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	c, err := New(srv.URL, time.Second, testLog())
	require.NoError(t, err)

	var out map[string]any
	err = c.PostJSON(context.Background(), "/ballot/submit", struct{}{}, &out)
	var rerr *Error
	assert.True(t, errors.As(err, &rerr))
}

func TestPostTextTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := New(url, time.Second, testLog())
	require.NoError(t, err)

	_, err = c.PostText(context.Background(), "/voter/token", "x")
	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Zero(t, rerr.Status)
	assert.NotNil(t, rerr.Cause)
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "ftp://host", "http://", "://bad"} {
		_, err := New(u, time.Second, testLog())
		assert.Error(t, err, "url %q", u)
	}
}
