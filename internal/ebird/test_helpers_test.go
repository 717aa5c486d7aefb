package ebird

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockResponse represents a mocked HTTP response
type mockResponse struct {
	status      int
	body        string
	contentType string
}

// recordedRequest is what the mock server saw.
type recordedRequest struct {
	path  string
	query string
	token string
}

type mockServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func (m *mockServer) recorded() []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedRequest(nil), m.requests...)
}

// setupMockServer serves responses keyed by URL path. Unknown paths get an
// empty JSON array, and requests without a token get 401.
func setupMockServer(tb testing.TB, responses map[string]mockResponse) *mockServer {
	tb.Helper()

	m := &mockServer{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests = append(m.requests, recordedRequest{
			path:  r.URL.Path,
			query: r.URL.RawQuery,
			token: r.Header.Get(apiTokenHeader),
		})
		m.mu.Unlock()

		if r.Header.Get(apiTokenHeader) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"title": "Unauthorized", "status": 401, "detail": "Missing API key"}`))
			return
		}

		resp, ok := responses[r.URL.Path]
		if !ok {
			resp = mockResponse{status: http.StatusOK, body: `[]`}
		}
		if resp.contentType == "" {
			resp.contentType = "application/json"
		}
		w.Header().Set("Content-Type", resp.contentType)
		w.WriteHeader(resp.status)
		_, _ = w.Write([]byte(resp.body))
	}))
	tb.Cleanup(m.Close)

	return m
}

// setupTestClient creates a fast, unthrottled client against url.
func setupTestClient(tb testing.TB, url string, mutate ...func(*Config)) *Client {
	tb.Helper()

	cfg := Config{
		APIKey:            "test-key",
		BaseURL:           url,
		Timeout:           5 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             10,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	client, err := NewClient(cfg)
	require.NoError(tb, err)
	tb.Cleanup(client.Close)

	return client
}

const sampleObservations = `[
  {"speciesCode":"amewoo","comName":"American Woodcock","sciName":"Scolopax minor",
   "locId":"L123","locName":"Central Park","obsDt":"2024-03-10 18:45","howMany":2,
   "lat":40.78,"lng":-73.96,"obsValid":true,"obsReviewed":false,"locationPrivate":false,"subId":"S100"},
  {"speciesCode":"mallar3","comName":"Mallard","sciName":"Anas platyrhynchos",
   "locId":"L124","locName":"The Lake","obsDt":"2024-03-10 07:10",
   "lat":40.77,"lng":-73.97,"obsValid":true,"obsReviewed":true,"locationPrivate":true,"subId":"S101"}
]`
