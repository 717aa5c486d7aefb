package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/observability"
	"github.com/tphakala/ebirdsync/internal/syncer"
	"github.com/tphakala/ebirdsync/internal/watermark"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// stubRunner returns a canned result and can block until released.
type stubRunner struct {
	result  syncer.Result
	err     error
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (r *stubRunner) Run(ctx context.Context, integration conf.IntegrationSettings) (syncer.Result, error) {
	r.calls.Add(1)
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return syncer.Result{}, ctx.Err()
		}
	}
	result := r.result
	result.IntegrationID = integration.ID
	result.ActionID = integration.ActionID
	return result, r.err
}

type fixture struct {
	server  *Server
	store   *watermark.MemoryStore
	metrics *observability.Metrics
	runners map[string]*stubRunner
}

func newFixture(t *testing.T, runners map[string]*stubRunner) *fixture {
	t.Helper()

	settings := conf.Defaults()
	settings.Integrations = nil
	asRunners := make(map[string]Runner, len(runners))
	for id, r := range runners {
		settings.Integrations = append(settings.Integrations, conf.IntegrationSettings{
			ID:       id,
			ActionID: conf.DefaultActionID,
		})
		asRunners[id] = r
	}

	m, err := observability.NewMetrics(false)
	require.NoError(t, err)

	store := watermark.NewMemoryStore()
	s, err := New(Options{
		Settings: settings,
		Runners:  asRunners,
		Store:    store,
		Metrics:  m,
		Logger:   logger.NewSlogLogger(nil, logger.LogLevelDebug, nil),
	})
	require.NoError(t, err)
	t.Cleanup(s.cancel)

	return &fixture{server: s, store: store, metrics: m, runners: runners}
}

func (f *fixture) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, http.NoBody)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Settings: conf.Defaults()})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, body.Uptime)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.metrics.Sync.RecordRun("int-1", "success", time.Second)

	rec := f.do(http.MethodGet, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ebirdsync_runs_total{integration="int-1",status="success"} 1`)
}

func TestListIntegrations(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]*stubRunner{"int-1": {}})
	rec := f.do(http.MethodGet, "/api/v1/integrations")

	require.Equal(t, http.StatusOK, rec.Code)
	var list []IntegrationStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, IntegrationStatus{ID: "int-1", ActionID: conf.DefaultActionID}, list[0])
}

func TestTriggerPull(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{result: syncer.Result{RunID: "run-1", EventsForwarded: 3}}
	f := newFixture(t, map[string]*stubRunner{"int-1": runner})

	rec := f.do(http.MethodPost, "/api/v1/integrations/int-1/pull")

	require.Equal(t, http.StatusOK, rec.Code)
	var result syncer.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, "int-1", result.IntegrationID)
	assert.Equal(t, 3, result.EventsForwarded)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestTriggerPullUnknownIntegration(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]*stubRunner{"int-1": {}})
	rec := f.do(http.MethodPost, "/api/v1/integrations/nope/pull")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerPullFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		category errors.ErrorCategory
		status   int
	}{
		{"submission", errors.CategorySubmission, http.StatusBadGateway},
		{"authentication", errors.CategoryAuthentication, http.StatusBadGateway},
		{"configuration", errors.CategoryConfiguration, http.StatusUnprocessableEntity},
		{"state", errors.CategoryState, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			runner := &stubRunner{
				result: syncer.Result{RunID: "run-2"},
				err:    errors.Newf("boom").Category(tt.category).Component("test").Build(),
			}
			f := newFixture(t, map[string]*stubRunner{"int-1": runner})

			rec := f.do(http.MethodPost, "/api/v1/integrations/int-1/pull")

			require.Equal(t, tt.status, rec.Code)
			var body PullError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(tt.category), body.Category)
			assert.Equal(t, "run-2", body.Result.RunID)
			assert.Contains(t, body.Error, "boom")
		})
	}
}

func TestTriggerPullRejectsOverlap(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	f := newFixture(t, map[string]*stubRunner{"int-1": runner})

	var wg sync.WaitGroup
	var first *httptest.ResponseRecorder
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = f.do(http.MethodPost, "/api/v1/integrations/int-1/pull")
	}()
	<-runner.started

	second := f.do(http.MethodPost, "/api/v1/integrations/int-1/pull")
	assert.Equal(t, http.StatusConflict, second.Code)

	reset := f.do(http.MethodDelete, "/api/v1/integrations/int-1/state")
	assert.Equal(t, http.StatusConflict, reset.Code)

	close(runner.release)
	wg.Wait()

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, int32(1), runner.calls.Load())

	// released integrations accept new triggers
	runner.started = nil
	third := f.do(http.MethodPost, "/api/v1/integrations/int-1/pull")
	assert.Equal(t, http.StatusOK, third.Code)
}

func TestGetState(t *testing.T) {
	t.Parallel()

	latest := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	blob, err := watermark.Encode(latest)
	require.NoError(t, err)

	tests := []struct {
		name      string
		blob      []byte
		wantFound bool
		wantError bool
	}{
		{"absent", nil, false, false},
		{"stored", blob, true, false},
		{"corrupt", []byte("not json"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, map[string]*stubRunner{"int-1": {}})
			if tt.blob != nil {
				require.NoError(t, f.store.Set(context.Background(), "int-1", conf.DefaultActionID, tt.blob))
			}

			rec := f.do(http.MethodGet, "/api/v1/integrations/int-1/state")

			require.Equal(t, http.StatusOK, rec.Code)
			var body StateResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "int-1", body.IntegrationID)
			assert.Equal(t, tt.wantFound, body.Found)
			assert.Equal(t, tt.wantError, body.Error != "")
			if tt.wantFound {
				require.NotNil(t, body.LatestObservationAt)
				assert.True(t, latest.Equal(*body.LatestObservationAt))
			}
		})
	}
}

func TestGetStateUnknownIntegration(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/v1/integrations/nope/state")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, map[string]*stubRunner{"int-1": {}})
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, "int-1", conf.DefaultActionID, []byte(`{}`)))

	rec := f.do(http.MethodDelete, "/api/v1/integrations/int-1/state")

	require.Equal(t, http.StatusNoContent, rec.Code)
	_, found, err := f.store.Get(ctx, "int-1", conf.DefaultActionID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunAll(t *testing.T) {
	t.Parallel()

	runners := make(map[string]*stubRunner)
	for i := range 5 {
		runners[fmt.Sprintf("int-%d", i)] = &stubRunner{}
	}
	runners["int-2"].err = errors.NewStd("failed")

	f := newFixture(t, runners)
	f.server.settings.Sync.Concurrency = 2

	f.server.RunAll(context.Background())

	for id, r := range runners {
		assert.Equal(t, int32(1), r.calls.Load(), id)
	}
}

func TestRunServesAndShutsDown(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	f := newFixture(t, map[string]*stubRunner{"int-1": runner})
	f.server.settings.Server.Listen = "127.0.0.1:0"
	f.server.settings.Server.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Run(ctx) }()

	require.Eventually(t, func() bool {
		return runner.calls.Load() > 0
	}, 5*time.Second, 10*time.Millisecond, "scheduler should run the integration")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestShutdownRefusesNewRuns(t *testing.T) {
	t.Parallel()

	blocked := &stubRunner{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	idle := &stubRunner{}
	f := newFixture(t, map[string]*stubRunner{"int-1": blocked, "int-2": idle})

	done := make(chan error, 1)
	go func() {
		_, err := f.server.runOnce("int-1")
		done <- err
	}()
	<-blocked.started

	// Shutdown cancels the running sync and waits for it
	require.NoError(t, f.server.Shutdown())
	require.ErrorIs(t, <-done, context.Canceled)

	_, err := f.server.runOnce("int-2")
	require.ErrorIs(t, err, errShuttingDown)

	rec := f.do(http.MethodPost, "/api/v1/integrations/int-2/pull")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.server.RunAll(context.Background())
	assert.Zero(t, idle.calls.Load())
}

func TestStatusForCategory(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusBadGateway, statusForCategory(errors.CategoryNetwork))
	assert.Equal(t, http.StatusUnprocessableEntity, statusForCategory(errors.CategoryValidation))
	assert.Equal(t, http.StatusInternalServerError, statusForCategory(errors.CategoryGeneric))
}
