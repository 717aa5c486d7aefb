// Package metrics provides custom Prometheus metrics for ebirdsync.
package metrics

import "time"

// SyncRecorder records the outcome of sync runs. Components depend on this
// interface rather than on SyncMetrics so tests can run without a registry.
type SyncRecorder interface {
	// RecordRun records a finished run with one of the Status* values.
	RecordRun(integrationID, status string, duration time.Duration)

	// RecordForwarded adds n events accepted by the sink.
	RecordForwarded(integrationID string, n int)

	// RecordSkipped adds n malformed records that were dropped.
	RecordSkipped(integrationID string, n int)

	// RecordFiltered adds n events dropped as already seen.
	RecordFiltered(integrationID string, n int)

	// RecordSubmissionFailure counts a batch the sink refused.
	RecordSubmissionFailure(integrationID string)

	// SetWatermark exposes the committed watermark.
	SetWatermark(integrationID string, watermark time.Time)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) RecordRun(string, string, time.Duration) {}
func (NoopRecorder) RecordForwarded(string, int)             {}
func (NoopRecorder) RecordSkipped(string, int)               {}
func (NoopRecorder) RecordFiltered(string, int)              {}
func (NoopRecorder) RecordSubmissionFailure(string)          {}
func (NoopRecorder) SetWatermark(string, time.Time)          {}

var _ SyncRecorder = NoopRecorder{}
