package errors

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureReporter struct {
	mu       sync.Mutex
	reported []*EnhancedError
}

func (c *captureReporter) ReportError(ee *EnhancedError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reported = append(c.reported, ee)
	ee.MarkReported()
}

func (c *captureReporter) IsEnabled() bool { return true }

func (c *captureReporter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reported)
}

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.IsReported())
}

func TestBuilderSetsFields(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := Newf("fetch failed for %s", "US-NY").
		Component("ebird").
		Category(CategoryNetwork).
		Priority(PriorityHigh).
		Context("region", "US-NY").
		Context("operation", "fetch_observations").
		Build()

	assert.Equal(t, "fetch failed for US-NY", ee.Error())
	assert.Equal(t, "ebird", ee.GetComponent())
	assert.Equal(t, CategoryNetwork, ee.Category)
	assert.Equal(t, PriorityHigh, ee.Priority)

	ctx := ee.GetContext()
	assert.Equal(t, "US-NY", ctx["region"])
	assert.Equal(t, "fetch_observations", ctx["operation"])

	// The returned context is a copy.
	ctx["region"] = "changed"
	assert.Equal(t, "US-NY", ee.GetContext()["region"])
}

func TestPriorityFallsBackToMedium(t *testing.T) {
	t.Parallel()

	eb := New(NewStd("x")).Priority("urgent")
	assert.Equal(t, PriorityMedium, eb.priority)

	eb = New(NewStd("x")).Priority("")
	assert.Empty(t, eb.priority)
}

func TestCategoryHelpers(t *testing.T) {
	SetTelemetryReporter(nil)

	base := New(NewStd("no such region")).Category(CategoryNotFound).Build()
	wrapped := fmt.Errorf("outer: %w", base)

	assert.True(t, IsCategory(wrapped, CategoryNotFound))
	assert.Equal(t, CategoryNotFound, CategoryOf(wrapped))
	assert.Equal(t, CategoryGeneric, CategoryOf(NewStd("plain")))
	assert.False(t, IsCategory(nil, CategoryNotFound))
}

func TestEnhancedErrorIsMatchesCategory(t *testing.T) {
	SetTelemetryReporter(nil)

	sentinel := NewStd("sentinel")
	a := New(sentinel).Category(CategoryState).Build()
	b := New(NewStd("other")).Category(CategoryState).Build()
	c := New(NewStd("other")).Category(CategorySubmission).Build()

	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, c)
	assert.ErrorIs(t, a, sentinel)
}

func TestDetectCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"deadline", context.DeadlineExceeded, CategoryTimeout},
		{"canceled", context.Canceled, CategoryCancellation},
		{"dial", NewStd("dial tcp 127.0.0.1:443: connection refused"), CategoryNetwork},
		{"invalid", NewStd("invalid latitude"), CategoryValidation},
		{"generic", NewStd("something odd"), CategoryGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, detectCategory(tt.err))
		})
	}
}

func TestSlowPathReportsToTelemetry(t *testing.T) {
	reporter := &captureReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := Newf("watermark write failed").Category(CategoryState).Build()

	require.Equal(t, 1, reporter.count())
	assert.True(t, ee.IsReported())
	assert.Equal(t, CategoryState, ee.Category)
}

func TestValidationErrorsAreNotReported(t *testing.T) {
	reporter := &captureReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	for i := range 5 {
		ee := Newf("record %d: missing obsDt", i).Category(CategoryValidation).Build()
		assert.False(t, ee.IsReported())
	}
	assert.Equal(t, 0, reporter.count())

	Newf("sink rejected batch").Category(CategorySubmission).Build()
	assert.Equal(t, 1, reporter.count())
}

func TestSlowPathDetectsCategory(t *testing.T) {
	reporter := &captureReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(context.DeadlineExceeded).Build()
	assert.Equal(t, CategoryTimeout, ee.Category)
}

func TestDisabledReporterKeepsFastPath(t *testing.T) {
	SetTelemetryReporter(NewSentryReporter(false))
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	assert.False(t, hasActiveReporting.Load())
}

func TestBasicURLScrub(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		contains string
		absent   string
	}{
		{
			name:     "query string",
			input:    "GET https://api.ebird.org/v2/data/obs/US/recent?back=2&sppLocale=en failed",
			contains: "https://api.ebird.org/v2/data/obs/US/recent?[REDACTED]",
			absent:   "back=2",
		},
		{
			name:     "api key",
			input:    "config error: api_key=secret123 is invalid",
			contains: "[API_KEY_REDACTED]",
			absent:   "secret123",
		},
		{
			name:     "ebird token header",
			input:    "X-eBirdApiToken: abc123 rejected",
			contains: "[API_KEY_REDACTED]",
			absent:   "abc123",
		},
		{
			name:     "integration id",
			input:    "integration_id=779ff3ab-1d1f-4b3c failed",
			contains: "[ID_REDACTED]",
			absent:   "779ff3ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := basicURLScrub(tt.input)
			assert.Contains(t, got, tt.contains)
			assert.NotContains(t, got, tt.absent)
		})
	}
}

func TestGenerateErrorTitle(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(NewStd("boom")).
		Component("sink").
		Category(CategorySubmission).
		Context("operation", "send_events").
		Build()

	assert.Equal(t, "Sink Submission Error Send Events", generateErrorTitle(ee))
}

func TestComponentRegistryLookup(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "watermark", lookupComponent("github.com/tphakala/ebirdsync/internal/watermark.(*RedisStore).Set"))
	assert.Equal(t, ComponentUnknown, lookupComponent("main.main"))
}
