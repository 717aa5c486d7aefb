package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SinkMetrics contains Prometheus metrics for downstream submissions.
type SinkMetrics struct {
	BatchesDelivered *prometheus.CounterVec
	EventsDelivered  *prometheus.CounterVec
	Errors           *prometheus.CounterVec
	BatchSize        *prometheus.HistogramVec
	SendLatency      *prometheus.HistogramVec
}

// NewSinkMetrics creates and registers sink metrics on registry.
func NewSinkMetrics(registry prometheus.Registerer) (*SinkMetrics, error) {
	m := &SinkMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register sink metrics: %w", err)
	}
	return m, nil
}

func (m *SinkMetrics) initMetrics() {
	m.BatchesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ebirdsync_sink_batches_delivered_total",
		Help: "Total number of batches accepted by the sink",
	}, []string{"sink"})

	m.EventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ebirdsync_sink_events_delivered_total",
		Help: "Total number of events accepted by the sink",
	}, []string{"sink"})

	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ebirdsync_sink_errors_total",
		Help: "Total number of failed submissions",
	}, []string{"sink"})

	m.BatchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ebirdsync_sink_batch_size_events",
		Help:    "Number of events per submitted batch",
		Buckets: prometheus.ExponentialBuckets(1, BucketFactor2, BucketCount10),
	}, []string{"sink"})

	m.SendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ebirdsync_sink_send_latency_seconds",
		Help:    "Latency of sink submissions in seconds",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	}, []string{"sink"})
}

// ObserveSend records one submission attempt.
func (m *SinkMetrics) ObserveSend(sinkType string, events int, duration time.Duration, err error) {
	m.SendLatency.WithLabelValues(sinkType).Observe(duration.Seconds())
	if err != nil {
		m.Errors.WithLabelValues(sinkType).Inc()
		return
	}
	m.BatchesDelivered.WithLabelValues(sinkType).Inc()
	m.EventsDelivered.WithLabelValues(sinkType).Add(float64(events))
	m.BatchSize.WithLabelValues(sinkType).Observe(float64(events))
}

// Collect implements the prometheus.Collector interface.
func (m *SinkMetrics) Collect(ch chan<- prometheus.Metric) {
	m.BatchesDelivered.Collect(ch)
	m.EventsDelivered.Collect(ch)
	m.Errors.Collect(ch)
	m.BatchSize.Collect(ch)
	m.SendLatency.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *SinkMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.BatchesDelivered.Describe(ch)
	m.EventsDelivered.Describe(ch)
	m.Errors.Describe(ch)
	m.BatchSize.Describe(ch)
	m.SendLatency.Describe(ch)
}
