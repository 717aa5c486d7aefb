package ebird

import (
	"net/url"
	"strconv"

	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/errors"
)

// Query selects where observations are searched. It is implemented only by
// RegionQuery and PointRadiusQuery.
type Query interface {
	isQuery()
}

// RegionQuery searches a country, subnational or hotspot region code.
type RegionQuery struct {
	RegionCode string
}

// PointRadiusQuery searches a circle around a coordinate.
type PointRadiusQuery struct {
	Latitude   float64
	Longitude  float64
	DistanceKm float64
}

func (RegionQuery) isQuery()      {}
func (PointRadiusQuery) isQuery() {}

// QueryOptions are the parameters shared by both query shapes.
type QueryOptions struct {
	Back               int      // days, 1-30
	Species            []string // one query unit per code; empty means all species
	IncludeProvisional bool
	Locale             string
}

// NewQuery validates pull settings and builds the matching query.
func NewQuery(p conf.PullSettings) (Query, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	switch p.SearchParameter {
	case conf.SearchModeRegion:
		return RegionQuery{RegionCode: p.Region()}, nil
	case conf.SearchModeLatLonDistance:
		return PointRadiusQuery{
			Latitude:   *p.Latitude,
			Longitude:  *p.Longitude,
			DistanceKm: p.Distance,
		}, nil
	default:
		// unreachable after Validate
		return nil, errors.Newf("unknown search parameter %q", p.SearchParameter).
			Category(errors.CategoryConfiguration).
			Component("ebird").
			Build()
	}
}

// OptionsFromSettings derives query options for a lookback of back days.
func OptionsFromSettings(p conf.PullSettings, back int) QueryOptions {
	locale, err := conf.NormalizeLocale(p.Locale)
	if err != nil {
		locale = conf.DefaultLocale
	}
	return QueryOptions{
		Back:               back,
		Species:            p.Species(),
		IncludeProvisional: p.IncludeProvisional,
		Locale:             locale,
	}
}

// Describe returns a short human readable form of q for logs.
func Describe(q Query) string {
	switch q := q.(type) {
	case RegionQuery:
		return "region " + q.RegionCode
	case PointRadiusQuery:
		return "(" + formatFloat(q.Latitude) + ", " + formatFloat(q.Longitude) + ") within " +
			formatFloat(q.DistanceKm) + " km"
	default:
		return "unknown query"
	}
}

// endpoint returns the path and query parameters of one query unit.
func endpoint(q Query, species string, opts QueryOptions) (string, url.Values, error) {
	params := url.Values{}
	var path string

	switch q := q.(type) {
	case RegionQuery:
		if q.RegionCode == "" {
			return "", nil, errors.Newf("region query requires a region code").
				Category(errors.CategoryConfiguration).
				Component("ebird").
				Build()
		}
		path = "/data/obs/" + url.PathEscape(q.RegionCode) + "/recent"
	case PointRadiusQuery:
		path = "/data/obs/geo/recent"
		params.Set("lat", formatFloat(q.Latitude))
		params.Set("lng", formatFloat(q.Longitude))
		params.Set("dist", formatFloat(q.DistanceKm))
	default:
		return "", nil, errors.Newf("unsupported query type %T", q).
			Category(errors.CategoryConfiguration).
			Component("ebird").
			Build()
	}

	if species != "" {
		path += "/" + url.PathEscape(species)
	}

	params.Set("back", strconv.Itoa(opts.Back))
	params.Set("includeProvisional", strconv.FormatBool(opts.IncludeProvisional))
	if opts.Locale != "" {
		params.Set("sppLocale", opts.Locale)
	}
	return path, params, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
