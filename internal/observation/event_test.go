package observation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform(t *testing.T) {
	t.Parallel()

	o, err := Normalize([]byte(woodcock))
	require.NoError(t, err)

	e := Transform(o)

	assert.Equal(t, "American Woodcock observation", e.Title)
	assert.Equal(t, EventType, e.EventType)
	assert.Equal(t, o.ObservedAt, e.RecordedAt)
	assert.Equal(t, Location{Lat: 40.78, Lon: -73.96}, e.Location)
	assert.Equal(t, "amewoo", e.EventDetails.SpeciesCode)
	assert.Equal(t, "S100", e.EventDetails.SubmissionID)
	assert.Equal(t, Attribution, e.EventDetails.Attribution)

	// the event does not alias the observation's count
	*o.Count = 99
	assert.Equal(t, 2, *e.EventDetails.Quantity)
}

func TestTransformIsDeterministic(t *testing.T) {
	t.Parallel()

	o, err := Normalize([]byte(woodcock))
	require.NoError(t, err)
	assert.Equal(t, Transform(o), Transform(o))
}

func TestEventJSON(t *testing.T) {
	t.Parallel()

	o, err := Normalize([]byte(woodcock))
	require.NoError(t, err)
	o.Count = nil

	data, err := json.Marshal(Transform(o))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"title": "American Woodcock observation",
		"event_type": "ebird_observation",
		"recorded_at": "2024-03-10T18:45:00Z",
		"location": {"lat": 40.78, "lon": -73.96},
		"event_details": {
			"common_name": "American Woodcock",
			"scientific_name": "Scolopax minor",
			"species_code": "amewoo",
			"location_id": "L123",
			"location_name": "Central Park",
			"location_private": false,
			"quantity": null,
			"valid": true,
			"reviewed": false,
			"submission_id": "S100",
			"attribution": "Data from https://eBird.org, Cornell Lab of Ornithology."
		}
	}`, string(data))
}

func eventAt(ts time.Time) Event {
	return Event{RecordedAt: ts}
}

func TestAfterIsStrict(t *testing.T) {
	t.Parallel()

	w := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		eventAt(w.Add(-time.Hour)),
		eventAt(w),
		eventAt(w.Add(time.Hour)),
		eventAt(w.Add(time.Minute)),
	}

	kept, dropped := After(events, w)
	assert.Equal(t, 2, dropped)
	require.Len(t, kept, 2)
	assert.Equal(t, w.Add(time.Hour), kept[0].RecordedAt)
	assert.Equal(t, w.Add(time.Minute), kept[1].RecordedAt)

	kept, dropped = After(events, time.Time{})
	assert.Zero(t, dropped)
	assert.Len(t, kept, 4)
}

func TestLatest(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, Latest(nil).IsZero())
	assert.Equal(t, base.Add(3*time.Hour), Latest([]Event{
		eventAt(base.Add(time.Hour)),
		eventAt(base.Add(3 * time.Hour)),
		eventAt(base),
	}))
}
