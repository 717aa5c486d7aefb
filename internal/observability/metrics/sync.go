package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics contains Prometheus metrics for sync runs.
type SyncMetrics struct {
	runsTotal            *prometheus.CounterVec
	runDuration          *prometheus.HistogramVec
	eventsForwardedTotal *prometheus.CounterVec
	recordsSkippedTotal  *prometheus.CounterVec
	eventsFilteredTotal  *prometheus.CounterVec
	submissionFailures   *prometheus.CounterVec
	watermarkTimestamp   *prometheus.GaugeVec
	lastRunTimestamp     *prometheus.GaugeVec
}

// NewSyncMetrics creates and registers sync metrics on registry.
func NewSyncMetrics(registry prometheus.Registerer) (*SyncMetrics, error) {
	m := &SyncMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register sync metrics: %w", err)
	}
	return m, nil
}

func (m *SyncMetrics) initMetrics() {
	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ebirdsync_runs_total",
		Help: "Total number of sync runs by outcome",
	}, []string{"integration", "status"})

	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ebirdsync_run_duration_seconds",
		Help:    "Duration of sync runs in seconds",
		Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount12),
	}, []string{"integration"})

	m.eventsForwardedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ebirdsync_events_forwarded_total",
		Help: "Total number of events accepted by the sink",
	}, []string{"integration"})

	m.recordsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ebirdsync_records_skipped_total",
		Help: "Total number of malformed source records skipped",
	}, []string{"integration"})

	m.eventsFilteredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ebirdsync_events_filtered_total",
		Help: "Total number of events dropped as not newer than the watermark",
	}, []string{"integration"})

	m.submissionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ebirdsync_submission_failures_total",
		Help: "Total number of batches rejected by the sink",
	}, []string{"integration"})

	m.watermarkTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ebirdsync_watermark_timestamp_seconds",
		Help: "Committed watermark as a Unix timestamp",
	}, []string{"integration"})

	m.lastRunTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ebirdsync_last_run_timestamp_seconds",
		Help: "Time the last run finished, by outcome",
	}, []string{"integration", "status"})
}

func (m *SyncMetrics) RecordRun(integrationID, status string, duration time.Duration) {
	m.runsTotal.WithLabelValues(integrationID, status).Inc()
	m.runDuration.WithLabelValues(integrationID).Observe(duration.Seconds())
	m.lastRunTimestamp.WithLabelValues(integrationID, status).SetToCurrentTime()
}

func (m *SyncMetrics) RecordForwarded(integrationID string, n int) {
	m.eventsForwardedTotal.WithLabelValues(integrationID).Add(float64(n))
}

func (m *SyncMetrics) RecordSkipped(integrationID string, n int) {
	m.recordsSkippedTotal.WithLabelValues(integrationID).Add(float64(n))
}

func (m *SyncMetrics) RecordFiltered(integrationID string, n int) {
	m.eventsFilteredTotal.WithLabelValues(integrationID).Add(float64(n))
}

func (m *SyncMetrics) RecordSubmissionFailure(integrationID string) {
	m.submissionFailures.WithLabelValues(integrationID).Inc()
}

func (m *SyncMetrics) SetWatermark(integrationID string, watermark time.Time) {
	m.watermarkTimestamp.WithLabelValues(integrationID).Set(float64(watermark.Unix()))
}

// Describe implements the prometheus.Collector interface.
func (m *SyncMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.runsTotal.Describe(ch)
	m.runDuration.Describe(ch)
	m.eventsForwardedTotal.Describe(ch)
	m.recordsSkippedTotal.Describe(ch)
	m.eventsFilteredTotal.Describe(ch)
	m.submissionFailures.Describe(ch)
	m.watermarkTimestamp.Describe(ch)
	m.lastRunTimestamp.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *SyncMetrics) Collect(ch chan<- prometheus.Metric) {
	m.runsTotal.Collect(ch)
	m.runDuration.Collect(ch)
	m.eventsForwardedTotal.Collect(ch)
	m.recordsSkippedTotal.Collect(ch)
	m.eventsFilteredTotal.Collect(ch)
	m.submissionFailures.Collect(ch)
	m.watermarkTimestamp.Collect(ch)
	m.lastRunTimestamp.Collect(ch)
}

var _ SyncRecorder = (*SyncMetrics)(nil)
