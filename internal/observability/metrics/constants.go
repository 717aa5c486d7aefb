// Package metrics provides constants used across metric definitions.
package metrics

// Run status label values.
const (
	// StatusSuccess is a run that forwarded its batch and committed the watermark.
	StatusSuccess = "success"
	// StatusEmpty is a run that had nothing new to forward.
	StatusEmpty = "empty"
	// StatusError is a run that failed before committing.
	StatusError = "error"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for request latency histograms.
	BucketStart1ms = 0.001
	// BucketStart100ms is the starting bucket for whole-run histograms.
	BucketStart100ms = 0.1
	// BucketFactor2 doubles each bucket.
	BucketFactor2 = 2
	// BucketCount12 spans 1ms to ~2s or 100ms to ~3m.
	BucketCount12 = 12
	// BucketCount10 is used for batch size histograms.
	BucketCount10 = 10
)
