package pull

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ebirdsync/internal/app"
	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/observation"
)

type recordingSink struct {
	mu      sync.Mutex
	batches map[string]int
}

func (s *recordingSink) Send(_ context.Context, integrationID string, events []observation.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batches == nil {
		s.batches = make(map[string]int)
	}
	s.batches[integrationID] += len(events)
	return nil
}

func (s *recordingSink) Close() error { return nil }

// setupMockServer serves one observation for US-NY and an auth error for
// any other region.
func setupMockServer(t *testing.T) *httptest.Server {
	t.Helper()

	observedAt := time.Now().UTC().Add(-time.Hour).Format("2006-01-02 15:04")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ref/region/info/US-NY" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"result":"New York, United States"}`))
			return
		}
		if r.URL.Path != "/data/obs/US-NY/recent" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":[{"title":"Forbidden"}]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{
			"speciesCode":"norcar","comName":"Northern Cardinal","sciName":"Cardinalis cardinalis",
			"locId":"L2","locName":"Prospect Park","obsDt":"` + observedAt + `","howMany":1,
			"lat":40.66,"lng":-73.97,"obsValid":true,"obsReviewed":false,
			"locationPrivate":false,"subId":"S2"}]`))
	}))
	t.Cleanup(server.Close)
	return server
}

func integration(id, region, baseURL string) conf.IntegrationSettings {
	return conf.IntegrationSettings{
		ID:       id,
		ActionID: conf.DefaultActionID,
		Auth:     conf.AuthSettings{APIKey: "key-" + id, BaseURL: baseURL},
		Pull: conf.PullSettings{
			SearchParameter: conf.SearchModeRegion,
			RegionCode:      region,
			NumDays:         2,
			MaxLookbackDays: 30,
		},
	}
}

func newTestApp(t *testing.T, integrations ...conf.IntegrationSettings) (*app.App, *recordingSink) {
	t.Helper()

	settings := conf.Defaults()
	settings.Watermark.Backend = conf.BackendMemory
	settings.Sync.Concurrency = 2
	settings.Integrations = integrations

	recorder := &recordingSink{}
	a, err := app.New(context.Background(), settings, app.Options{Sink: recorder})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, recorder
}

func TestRunSelected(t *testing.T) {
	t.Parallel()

	server := setupMockServer(t)
	a, recorder := newTestApp(t,
		integration("ny", "US-NY", server.URL),
		integration("other", "US-NY", server.URL),
	)

	var out bytes.Buffer
	err := Run(context.Background(), &out, a, []string{"ny"}, false)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "ny: ok forwarded=1")
	assert.NotContains(t, out.String(), "other:")
	assert.Equal(t, map[string]int{"ny": 1}, recorder.batches)

	// the second run finds nothing new
	out.Reset()
	require.NoError(t, Run(context.Background(), &out, a, []string{"ny"}, false))
	assert.Contains(t, out.String(), "ny: ok forwarded=0")
}

func TestRunAllReportsFailures(t *testing.T) {
	t.Parallel()

	server := setupMockServer(t)
	a, recorder := newTestApp(t,
		integration("ny", "US-NY", server.URL),
		integration("ca", "US-CA", server.URL),
	)

	var out bytes.Buffer
	err := Run(context.Background(), &out, a, nil, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ca:")

	var outcomes []outcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &outcomes))
	require.Len(t, outcomes, 2)
	assert.Equal(t, "ny", outcomes[0].Result.IntegrationID)
	assert.Empty(t, outcomes[0].Error)
	assert.Equal(t, 1, outcomes[0].Result.EventsForwarded)
	assert.Equal(t, "ca", outcomes[1].Result.IntegrationID)
	assert.NotEmpty(t, outcomes[1].Error)

	assert.Equal(t, map[string]int{"ny": 1}, recorder.batches)
}

func TestRunUnknownIntegration(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, integration("ny", "US-NY", "http://127.0.0.1:1"))

	err := Run(context.Background(), &bytes.Buffer{}, a, []string{"nope"}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown integration")
}

func TestRunPushesMetrics(t *testing.T) {
	t.Parallel()

	var pushed sync.WaitGroup
	pushed.Add(1)
	var once sync.Once
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/metrics/job/ebirdsync") {
			once.Do(pushed.Done)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(gateway.Close)

	server := setupMockServer(t)
	a, _ := newTestApp(t, integration("ny", "US-NY", server.URL))
	a.Settings.Metrics.PushGatewayURL = gateway.URL

	require.NoError(t, Run(context.Background(), &bytes.Buffer{}, a, nil, false))
	pushed.Wait()
}

func TestCommandArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no ids", []string{}, "specify integration ids or --all"},
		{"ids with all", []string{"--all", "ny"}, "--all cannot be combined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd := Command(conf.Defaults())
			cmd.SetArgs(tt.args)
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
