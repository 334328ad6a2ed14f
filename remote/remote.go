// Package remote is the outbound HTTP transport shared by the ballot server
// and registrar clients. Calls are single attempts: nothing is retried, so a
// ballot submission is never sent twice by this layer.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// maxResponseBody caps the amount read from a backend response (1 MiB).
const maxResponseBody int64 = 1 << 20

// Error is a failed exchange with a backend: transport failure, non-2xx
// status or an undecodable body.
type Error struct {
	Endpoint string
	Status   int
	Body     string
	Cause    error
}

func (e *Error) Error() string {
	switch {
	case e.Cause != nil && e.Status != 0:
		return fmt.Sprintf("remote: %s: status %d: %v", e.Endpoint, e.Status, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("remote: %s: %v", e.Endpoint, e.Cause)
	default:
		return fmt.Sprintf("remote: %s: status %d: %s", e.Endpoint, e.Status, e.Body)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Client posts to one backend base URL.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     *logrus.Entry
}

// New returns a Client for baseURL. A zero timeout leaves the http.Client
// without a deadline; callers then rely on the request context.
func New(baseURL string, timeout time.Duration, log *logrus.Entry) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("remote: base url %q has no host", baseURL)
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}, nil
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(path string) string {
	ref := &url.URL{Path: path}
	return c.baseURL.ResolveReference(ref).String()
}

// PostJSON sends in as a JSON body to path and decodes a JSON response into
// out. Numbers are decoded as json.Number when out is an interface value.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("remote: marshal %s request: %w", path, err)
	}

	body, err := c.post(ctx, path, "application/json", payload)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &Error{Endpoint: c.endpoint(path), Status: http.StatusOK, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// PostText sends body as text/plain and returns the response body.
func (c *Client) PostText(ctx context.Context, path, body string) (string, error) {
	resp, err := c.post(ctx, path, "text/plain; charset=utf-8", []byte(body))
	if err != nil {
		return "", err
	}
	return string(resp), nil
}

func (c *Client) post(ctx context.Context, path, contentType string, payload []byte) ([]byte, error) {
	endpoint := c.endpoint(path)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Cause: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("endpoint", endpoint).Warn("backend request failed")
		return nil, &Error{Endpoint: endpoint, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Status: resp.StatusCode, Cause: fmt.Errorf("read response: %w", err)}
	}
	if int64(len(body)) > maxResponseBody {
		return nil, &Error{Endpoint: endpoint, Status: resp.StatusCode, Cause: fmt.Errorf("response exceeds %d bytes", maxResponseBody)}
	}

	c.log.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("backend request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Endpoint: endpoint, Status: resp.StatusCode, Body: excerpt(body)}
	}
	return body, nil
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
