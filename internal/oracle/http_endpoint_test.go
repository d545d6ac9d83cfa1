package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPEndpointFetchRescales(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feeds/feed-usdx", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price":"99731234","decimals":8,"timestamp":1700000000}`))
	}))
	defer server.Close()

	ep := NewHTTPEndpoint(HTTPEndpointOptions{BaseURL: server.URL}, zerolog.Nop())

	price, ts, err := ep.Fetch(context.Background(), "feed-usdx")
	require.NoError(t, err)
	assert.Equal(t, "0.99731234", price.String())
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ts)
}

func TestHTTPEndpointFetchErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"api error description", http.StatusBadRequest, `{"errorType":"BadFeed","description":"unknown feed id"}`, "unknown feed id"},
		{"api error message", http.StatusInternalServerError, `{"message":"upstream timeout"}`, "upstream timeout"},
		{"plain error body", http.StatusBadGateway, "bad gateway", "bad gateway"},
		{"zero price", http.StatusOK, `{"price":"0","decimals":8,"timestamp":1700000000}`, "zero price"},
		{"unparseable price", http.StatusOK, `{"price":"abc","decimals":8,"timestamp":1700000000}`, "parse feed price"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			ep := NewHTTPEndpoint(HTTPEndpointOptions{BaseURL: server.URL}, zerolog.Nop())
			_, _, err := ep.Fetch(context.Background(), "feed-usdx")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestHTTPEndpointFetchWithoutBaseURL(t *testing.T) {
	ep := NewHTTPEndpoint(HTTPEndpointOptions{}, zerolog.Nop())
	_, _, err := ep.Fetch(context.Background(), "feed-usdx")
	require.Error(t, err)
}

func TestHTTPEndpointPing(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	ep := NewHTTPEndpoint(HTTPEndpointOptions{BaseURL: healthy.URL}, zerolog.Nop())
	require.NoError(t, ep.Ping(context.Background()))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	ep = NewHTTPEndpoint(HTTPEndpointOptions{BaseURL: broken.URL}, zerolog.Nop())
	require.Error(t, ep.Ping(context.Background()))
}

func TestHTTPEndpointUserAgentOverride(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.Write([]byte(`{"price":"100000000","decimals":8,"timestamp":1700000000}`))
	}))
	defer server.Close()

	ep := NewHTTPEndpoint(HTTPEndpointOptions{BaseURL: server.URL, UserAgent: "custom-agent/2.0"}, zerolog.Nop())
	_, _, err := ep.Fetch(context.Background(), "feed-usdx")
	require.NoError(t, err)
	assert.Equal(t, "custom-agent/2.0", got)
}
