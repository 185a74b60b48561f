// Package backend is the HTTP client for the storefront backend: session
// bootstrap, the turn stream and product search. The backend owns the
// assistant's text and the catalog; this package only speaks the wire
// contract.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/vitrineai/vitrine/assist/catalog"
)

// Session is the backend session handle.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Bootstrap is the session bootstrap response.
type Bootstrap struct {
	Session  Session
	Greeting string
	Suggest  []catalog.Product
}

// Client talks to the storefront backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a backend client. The stream itself is long-lived, so
// the shared client carries no overall timeout; per-call deadlines come from
// the caller's context.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type bootstrapResponse struct {
	Session  Session `json:"session"`
	Greeting string  `json:"greeting"`
	Suggest  *struct {
		Products []catalog.Product `json:"products"`
	} `json:"suggest"`
}

// CreateSession bootstraps a session for the given user identity.
// A response without a session id counts as a failed bootstrap.
func (c *Client) CreateSession(ctx context.Context, userID string) (*Bootstrap, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "build session request")
	}
	req.Header.Set("X-User-ID", userID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "session bootstrap")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("session bootstrap: HTTP %d", resp.StatusCode)
	}

	var br bootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, errors.Wrap(err, "decode session response")
	}
	if br.Session.ID == "" {
		return nil, errors.New("session bootstrap: backend returned no session id")
	}
	if br.Session.CreatedAt.IsZero() {
		br.Session.CreatedAt = time.Now()
	}

	b := &Bootstrap{Session: br.Session, Greeting: br.Greeting}
	if br.Suggest != nil {
		b.Suggest = br.Suggest.Products
	}
	return b, nil
}

type streamRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// OpenStream starts the turn stream for one user message and returns the
// incrementally delivered response body. The caller owns cancellation via
// ctx and must close the body.
func (c *Client) OpenStream(ctx context.Context, sessionID, message string) (io.ReadCloser, error) {
	body, err := json.Marshal(streamRequest{SessionID: sessionID, Message: message})
	if err != nil {
		return nil, errors.Wrap(err, "encode stream request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stream", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build stream request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "open stream")
	}
	if resp.StatusCode/100 != 2 {
		_ = resp.Body.Close()
		return nil, errors.Errorf("open stream: HTTP %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// suggestPaths are tried in order: the primary endpoint, then the legacy
// search path still served by older backend deployments.
var suggestPaths = []string{"/suggest", "/products/search"}

// Suggest searches the catalog for the given query term.
func (c *Client) Suggest(ctx context.Context, query string, limit int) ([]catalog.Product, error) {
	var lastErr error
	for _, path := range suggestPaths {
		products, err := c.suggest(ctx, path, query, limit)
		if err == nil {
			return products, nil
		}
		lastErr = err
		if !isNotFound(err) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) suggest(ctx context.Context, path, query string, limit int) ([]catalog.Product, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "build suggest request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "product search")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("product search: HTTP %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read search response")
	}
	products, err := catalog.ParseList(payload)
	if err != nil {
		return nil, errors.Wrap(err, "decode search response")
	}
	return products, nil
}

var errNotFound = fmt.Errorf("endpoint not found")

func isNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}
