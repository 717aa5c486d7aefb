// Package observation turns raw eBird records into canonical observations
// and downstream events.
package observation

import (
	"fmt"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/tphakala/ebirdsync/internal/errors"
)

// Observation is one normalized eBird sighting. ObservedAt is always UTC.
type Observation struct {
	SpeciesCode     string
	CommonName      string
	ScientificName  string
	LocationID      string
	LocationName    string
	ObservedAt      time.Time
	Count           *int // nil when the observer reported "X"
	Latitude        float64
	Longitude       float64
	Valid           bool
	Reviewed        bool
	LocationPrivate bool
	SubmissionID    string
}

// observedAtLayouts are tried in order. Layouts without an offset are
// interpreted as UTC.
var observedAtLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Normalize parses one raw record. Missing or malformed required fields
// give a validation error naming the first offending field.
func Normalize(raw []byte) (Observation, error) {
	obj, err := jason.NewObjectFromBytes(raw)
	if err != nil {
		return Observation{}, invalidRecord("record", err, Observation{})
	}

	var o Observation
	p := fieldParser{obj: obj}

	o.SpeciesCode = p.str("speciesCode")
	o.CommonName = p.str("comName")
	o.ScientificName = p.str("sciName")
	o.LocationID = p.str("locId")
	o.LocationName = p.str("locName")
	o.SubmissionID = p.str("subId")
	o.Latitude = p.float("lat")
	o.Longitude = p.float("lng")
	o.Valid = p.boolean("obsValid")
	o.Reviewed = p.boolean("obsReviewed")
	o.LocationPrivate = p.boolean("locationPrivate")
	o.Count = p.optionalInt("howMany")

	obsDt := p.str("obsDt")
	if p.err != nil {
		return Observation{}, invalidRecord(p.field, p.err, o)
	}

	o.ObservedAt, err = ParseObservedAt(obsDt)
	if err != nil {
		return Observation{}, invalidRecord("obsDt", err, o)
	}

	return o, nil
}

// ParseObservedAt parses an eBird timestamp and returns it in UTC.
func ParseObservedAt(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range observedAtLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// fieldParser reads fields until the first failure and then becomes a no-op.
type fieldParser struct {
	obj   *jason.Object
	field string
	err   error
}

func (p *fieldParser) fail(field string, err error) {
	if p.err == nil {
		p.field, p.err = field, err
	}
}

func (p *fieldParser) str(field string) string {
	if p.err != nil {
		return ""
	}
	v, err := p.obj.GetString(field)
	if err != nil {
		p.fail(field, err)
		return ""
	}
	if strings.TrimSpace(v) == "" {
		p.fail(field, fmt.Errorf("empty value"))
	}
	return v
}

func (p *fieldParser) float(field string) float64 {
	if p.err != nil {
		return 0
	}
	v, err := p.obj.GetFloat64(field)
	if err != nil {
		p.fail(field, err)
	}
	return v
}

func (p *fieldParser) boolean(field string) bool {
	if p.err != nil {
		return false
	}
	v, err := p.obj.GetBoolean(field)
	if err != nil {
		p.fail(field, err)
	}
	return v
}

// optionalInt accepts a missing or null field as nil.
func (p *fieldParser) optionalInt(field string) *int {
	if p.err != nil {
		return nil
	}
	value, err := p.obj.GetValue(field)
	if err != nil || value.Null() == nil {
		return nil
	}
	n, err := value.Int64()
	if err != nil {
		p.fail(field, err)
		return nil
	}
	count := int(n)
	return &count
}

// RecordError describes the field that made a raw record unusable.
type RecordError struct {
	Field string
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("invalid observation field %s: %v", e.Field, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

func invalidRecord(field string, err error, partial Observation) error {
	b := errors.New(&RecordError{Field: field, Err: err}).
		Category(errors.CategoryValidation).
		Component("observation").
		Context("field", field)
	if partial.SubmissionID != "" {
		b = b.Context("submission_id", partial.SubmissionID)
	}
	if partial.SpeciesCode != "" {
		b = b.Context("species_code", partial.SpeciesCode)
	}
	return b.Build()
}
