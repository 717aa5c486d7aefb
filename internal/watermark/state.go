// Package watermark persists the per (integration, action) sync position:
// the observed-at time of the newest observation that was forwarded.
package watermark

import (
	"encoding/json"
	"time"

	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/observation"
)

const (
	stateKey       = "latest_observation_at"
	legacyStateKey = "latest_observation_datetime"
)

// Encode serializes a watermark. The timestamp is written in UTC.
func Encode(latest time.Time) ([]byte, error) {
	return json.Marshal(map[string]string{
		stateKey: latest.UTC().Format(time.RFC3339Nano),
	})
}

// Decode reads a watermark blob. An empty blob or one without a timestamp
// is absent (found=false, nil error). A blob that cannot be read gives a
// state error. Naive timestamps are taken as UTC.
func Decode(blob []byte) (latest time.Time, found bool, err error) {
	if len(blob) == 0 {
		return time.Time{}, false, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(blob, &raw); err != nil {
		return time.Time{}, false, corruptState(err, len(blob))
	}

	value, ok := raw[stateKey]
	if !ok {
		value, ok = raw[legacyStateKey]
	}
	if !ok || string(value) == "null" {
		return time.Time{}, false, nil
	}

	var text string
	if err := json.Unmarshal(value, &text); err != nil {
		return time.Time{}, false, corruptState(err, len(blob))
	}

	latest, err = observation.ParseObservedAt(text)
	if err != nil {
		return time.Time{}, false, corruptState(err, len(blob))
	}
	return latest, true, nil
}

func corruptState(err error, size int) error {
	return errors.Newf("corrupt watermark state: %w", err).
		Category(errors.CategoryState).
		Component("watermark").
		Context("blob_size", size).
		Build()
}
