package observation

import "time"

const (
	// EventType is the downstream event type of every transformed observation.
	EventType = "ebird_observation"

	// Attribution is required by the eBird API terms of use.
	Attribution = "Data from https://eBird.org, Cornell Lab of Ornithology."
)

// Event is the downstream representation of one observation.
type Event struct {
	Title        string       `json:"title"`
	EventType    string       `json:"event_type"`
	RecordedAt   time.Time    `json:"recorded_at"`
	Location     Location     `json:"location"`
	EventDetails EventDetails `json:"event_details"`
}

// Location is a WGS84 point.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// EventDetails carries every observation field the envelope does not.
type EventDetails struct {
	CommonName      string `json:"common_name"`
	ScientificName  string `json:"scientific_name"`
	SpeciesCode     string `json:"species_code"`
	LocationID      string `json:"location_id"`
	LocationName    string `json:"location_name"`
	LocationPrivate bool   `json:"location_private"`
	Quantity        *int   `json:"quantity"`
	Valid           bool   `json:"valid"`
	Reviewed        bool   `json:"reviewed"`
	SubmissionID    string `json:"submission_id"`
	Attribution     string `json:"attribution"`
}

// Transform maps an observation to its event.
func Transform(o Observation) Event {
	var quantity *int
	if o.Count != nil {
		n := *o.Count
		quantity = &n
	}

	return Event{
		Title:      o.CommonName + " observation",
		EventType:  EventType,
		RecordedAt: o.ObservedAt.UTC(),
		Location: Location{
			Lat: o.Latitude,
			Lon: o.Longitude,
		},
		EventDetails: EventDetails{
			CommonName:      o.CommonName,
			ScientificName:  o.ScientificName,
			SpeciesCode:     o.SpeciesCode,
			LocationID:      o.LocationID,
			LocationName:    o.LocationName,
			LocationPrivate: o.LocationPrivate,
			Quantity:        quantity,
			Valid:           o.Valid,
			Reviewed:        o.Reviewed,
			SubmissionID:    o.SubmissionID,
			Attribution:     Attribution,
		},
	}
}

// Latest returns the greatest RecordedAt in events, or the zero time.
func Latest(events []Event) time.Time {
	var latest time.Time
	for i := range events {
		if events[i].RecordedAt.After(latest) {
			latest = events[i].RecordedAt
		}
	}
	return latest
}

// After keeps the events strictly newer than watermark, preserving order.
// It also returns how many were dropped.
func After(events []Event, watermark time.Time) (kept []Event, dropped int) {
	kept = make([]Event, 0, len(events))
	for _, e := range events {
		if e.RecordedAt.After(watermark) {
			kept = append(kept, e)
		} else {
			dropped++
		}
	}
	return kept, dropped
}
