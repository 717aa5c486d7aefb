package httpclient

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	client := New(nil)
	assert.Equal(t, DefaultTimeout, client.defaultTimeout)
	assert.Equal(t, defaultUserAgent, client.userAgent)

	cfg := Config{DefaultTimeout: 5 * time.Second, UserAgent: "ebirdsync-test/1.0"}
	client = New(&cfg)
	assert.Equal(t, 5*time.Second, client.defaultTimeout)
	assert.Equal(t, "ebirdsync-test/1.0", client.userAgent)
	assert.Empty(t, cfg.Headers, "caller config must not be mutated")
}

func TestDoSetsUserAgentAndDefaultHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotToken, gotAccept string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotToken = r.Header.Get("X-eBirdApiToken")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClientWithConfig(t, &Config{
		UserAgent: "ebirdsync-test",
		Headers: http.Header{
			"X-Ebirdapitoken": []string{"key-1"},
			"Accept":          []string{"application/json"},
		},
	})

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/plain")

	resp, err := client.Do(t.Context(), req)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	assert.Equal(t, "ebirdsync-test", gotUA)
	assert.Equal(t, "key-1", gotToken)
	assert.Equal(t, "text/plain", gotAccept, "request headers win over defaults")
}

func TestDoBodyReadableAfterReturn(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		_, _ = w.Write([]byte("part one,"))
		if flusher != nil {
			flusher.Flush()
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("part two"))
	})

	client := newTestClientWithConfig(t, &Config{DefaultTimeout: 2 * time.Second})

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "part one,part two", string(body))
}

func TestDoContextErrors(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	t.Run("canceled", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		resp, err := client.Get(ctx, server.URL)
		closeResponseBody(t, resp)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("caller deadline", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t)
		ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
		defer cancel()

		resp, err := client.Get(ctx, server.URL)
		closeResponseBody(t, resp)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("default timeout", func(t *testing.T) {
		t.Parallel()
		client := newTestClientWithConfig(t, &Config{DefaultTimeout: 30 * time.Millisecond})

		resp, err := client.Get(t.Context(), server.URL)
		closeResponseBody(t, resp)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("caller deadline overrides default", func(t *testing.T) {
		t.Parallel()
		client := newTestClientWithConfig(t, &Config{DefaultTimeout: 10 * time.Millisecond})
		ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
		defer cancel()

		resp, err := client.Get(ctx, server.URL)
		require.NoError(t, err)
		defer closeResponseBody(t, resp)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestDoConcurrentRequests(t *testing.T) {
	t.Parallel()

	var requestCount atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(t)

	const concurrency = 25
	var wg sync.WaitGroup
	errs := make(chan error, concurrency)

	for range concurrency {
		wg.Go(func() {
			resp, err := client.Get(t.Context(), server.URL)
			if err != nil {
				errs <- err
				return
			}
			_ = resp.Body.Close()
		})
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(concurrency), requestCount.Load())
}

func TestPostBodies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		body        any
		wantCT      string
		wantBody    string
	}{
		{"nil body", "application/json", nil, "application/json", ""},
		{"string", "text/plain", "hello", "text/plain", "hello"},
		{"bytes", "application/octet-stream", []byte{'o', 'k'}, "application/octet-stream", "ok"},
		{"json value", "", map[string]int{"events": 2}, "application/json", `{"events":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			transport := httpmock.NewMockTransport()
			var gotCT, gotBody string
			transport.RegisterResponder(http.MethodPost, "https://sink.test/events",
				func(r *http.Request) (*http.Response, error) {
					gotCT = r.Header.Get("Content-Type")
					data, _ := io.ReadAll(r.Body)
					gotBody = string(data)
					return httpmock.NewStringResponse(http.StatusCreated, ""), nil
				})

			client := newTestClientWithConfig(t, &Config{Transport: transport})
			resp, err := client.Post(t.Context(), "https://sink.test/events", tt.contentType, tt.body)
			require.NoError(t, err)
			defer closeResponseBody(t, resp)

			assert.Equal(t, http.StatusCreated, resp.StatusCode)
			assert.Equal(t, tt.wantCT, gotCT)
			assert.Equal(t, tt.wantBody, gotBody)
		})
	}
}

func TestPostWithHeaderOverridesDefaults(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	var gotHeaders http.Header
	transport.RegisterResponder(http.MethodPost, "https://sink.test/events",
		func(r *http.Request) (*http.Response, error) {
			gotHeaders = r.Header.Clone()
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	defaults := http.Header{}
	defaults.Set("X-Source", "default")
	client := newTestClientWithConfig(t, &Config{Transport: transport, Headers: defaults})

	resp, err := client.Post(t.Context(), "https://sink.test/events", "", []string{"a"},
		WithHeader("X-Source", "override"),
		WithHeader("X-Integration-ID", "int-1"))
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	assert.Equal(t, "override", gotHeaders.Get("X-Source"))
	assert.Equal(t, "int-1", gotHeaders.Get("X-Integration-ID"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
}

func TestPostMarshalError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	_, err := client.Post(t.Context(), "https://sink.test/events", "", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal body")
}

func TestDoNilRequest(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	_, err := client.Do(t.Context(), nil)
	require.Error(t, err)
}

func TestCloseIsRepeatable(t *testing.T) {
	t.Parallel()

	client := New(nil)
	client.Close()
	client.Close()
}
