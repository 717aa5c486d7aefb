package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EBirdMetrics contains Prometheus metrics for eBird API requests. It
// satisfies ebird.RequestObserver.
type EBirdMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewEBirdMetrics creates and registers eBird request metrics on registry.
func NewEBirdMetrics(registry prometheus.Registerer) (*EBirdMetrics, error) {
	m := &EBirdMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ebirdsync_ebird_requests_total",
			Help: "Total number of eBird API requests by endpoint and HTTP status (0 for transport errors)",
		}, []string{"endpoint", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ebirdsync_ebird_request_duration_seconds",
			Help:    "Duration of eBird API requests in seconds",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		}, []string{"endpoint"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register eBird metrics: %w", err)
	}
	return m, nil
}

// ObserveRequest records one request.
func (m *EBirdMetrics) ObserveRequest(endpoint string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// Describe implements the prometheus.Collector interface.
func (m *EBirdMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requestsTotal.Describe(ch)
	m.requestDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *EBirdMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requestsTotal.Collect(ch)
	m.requestDuration.Collect(ch)
}
