package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sessions", r.URL.Path)
		require.Equal(t, "u1", r.Header.Get("X-User-ID"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"session":  map[string]any{"id": "sess-1"},
			"greeting": "oi, tudo bem?",
			"suggest": map[string]any{
				"products": []map[string]any{
					{"id": "p1", "title": "iPhone 15", "price": 749},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	b, err := c.CreateSession(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, "sess-1", b.Session.ID)
	assert.False(t, b.Session.CreatedAt.IsZero(), "missing createdAt must be filled in")
	assert.Equal(t, "oi, tudo bem?", b.Greeting)
	require.Len(t, b.Suggest, 1)
	assert.Equal(t, "iPhone 15", b.Suggest[0].Title)
}

func TestClient_CreateSessionRejectsEmptyID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"greeting": "oi"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.CreateSession(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session id")
}

func TestClient_CreateSessionHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.CreateSession(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_OpenStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stream", r.URL.Path)
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var req streamRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sess-1", req.SessionID)
		assert.Equal(t, "oi", req.Message)

		_, _ = w.Write([]byte("{\"type\":\"done\"}\n\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	body, err := c.OpenStream(context.Background(), "sess-1", "oi")
	require.NoError(t, err)
	defer func() { _ = body.Close() }()

	buf := make([]byte, 64)
	n, _ := body.Read(buf)
	assert.Contains(t, string(buf[:n]), `"done"`)
}

func TestClient_SuggestPrimaryEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/suggest", r.URL.Path)
		assert.Equal(t, "iphone 15", r.URL.Query().Get("q"))
		assert.Equal(t, "6", r.URL.Query().Get("limit"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"products": []map[string]any{{"id": "p1", "title": "iPhone 15"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	products, err := c.Suggest(context.Background(), "iphone 15", 6)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "p1", products[0].ID)
}

// Older backend deployments only serve /products/search; a 404 on the primary
// path falls through to it.
func TestClient_SuggestLegacyFallback(t *testing.T) {
	var suggestHits, legacyHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/suggest":
			suggestHits.Add(1)
			w.WriteHeader(http.StatusNotFound)
		case "/products/search":
			legacyHits.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{{"id": "p9", "name": "Galaxy S24"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	products, err := c.Suggest(context.Background(), "galaxy", 6)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Galaxy S24", products[0].Title, "name alias must populate the title")
	assert.Equal(t, int32(1), suggestHits.Load())
	assert.Equal(t, int32(1), legacyHits.Load())
}

// Non-404 failures do not fall through to the legacy path.
func TestClient_SuggestServerErrorStops(t *testing.T) {
	var legacyHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/products/search" {
			legacyHits.Add(1)
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Suggest(context.Background(), "galaxy", 6)
	require.Error(t, err)
	assert.Equal(t, int32(0), legacyHits.Load())
}
