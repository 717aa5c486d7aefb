package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ebirdsync/internal/errors"
)

func ptr(f float64) *float64 { return &f }

func validPoint() PullSettings {
	p := PullSettings{Latitude: ptr(40.78), Longitude: ptr(-73.96)}
	p.ApplyDefaults()
	return p
}

func TestPullSettingsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(p *PullSettings)
		wantErr string
	}{
		{name: "valid point", mutate: func(*PullSettings) {}},
		{name: "valid region", mutate: func(p *PullSettings) {
			p.SearchParameter = SearchModeRegion
			p.RegionCode = "US-NY"
			p.Latitude, p.Longitude = nil, nil
		}},
		{name: "longitude up to 360", mutate: func(p *PullSettings) { p.Longitude = ptr(359.5) }},
		{name: "unknown mode", mutate: func(p *PullSettings) { p.SearchParameter = "bbox" },
			wantErr: `search_parameter must be "region" or "lat-lon-distance"`},
		{name: "region any", mutate: func(p *PullSettings) {
			p.SearchParameter = SearchModeRegion
			p.RegionCode = "ANY"
		}, wantErr: "region_code is required"},
		{name: "missing latitude", mutate: func(p *PullSettings) { p.Latitude = nil },
			wantErr: "latitude is required"},
		{name: "latitude range", mutate: func(p *PullSettings) { p.Latitude = ptr(-91) },
			wantErr: "latitude must be between -90 and 90"},
		{name: "longitude range", mutate: func(p *PullSettings) { p.Longitude = ptr(-181) },
			wantErr: "longitude must be between -180 and 360"},
		{name: "distance too small", mutate: func(p *PullSettings) { p.Distance = 0.5 },
			wantErr: "distance must be between 1 and 50 km"},
		{name: "num days", mutate: func(p *PullSettings) { p.NumDays = 31 },
			wantErr: "num_days must be between 1 and 30"},
		{name: "max lookback", mutate: func(p *PullSettings) { p.MaxLookbackDays = -1 },
			wantErr: "max_lookback_days must be between 1 and 30"},
		{name: "locale", mutate: func(p *PullSettings) { p.Locale = "ja" },
			wantErr: "unsupported locale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validPoint()
			tt.mutate(&p)

			err := p.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPullSettingsValidateListsEveryViolation(t *testing.T) {
	t.Parallel()

	p := validPoint()
	p.Latitude = ptr(100)
	p.NumDays = 0
	p.Locale = "xx-invalid-locale-tag"

	err := p.Validate()
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 3)
}

func TestSpeciesAndRegionSentinels(t *testing.T) {
	t.Parallel()

	p := PullSettings{RegionCode: " Any ", SpeciesCode: "any"}
	assert.Empty(t, p.Region())
	assert.Empty(t, p.Species())

	p = PullSettings{RegionCode: "US-NY", SpeciesCode: "amewoo,,  mallar3 ,ANY"}
	assert.Equal(t, "US-NY", p.Region())
	assert.Equal(t, []string{"amewoo", "mallar3"}, p.Species())
}

func TestValidateSettingsBackendsAndSinks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"defaults", func(*Settings) {}, ""},
		{"unknown backend", func(s *Settings) { s.Watermark.Backend = "etcd" }, `watermark.backend "etcd" is not supported`},
		{"redis without url", func(s *Settings) {
			s.Watermark.Backend = BackendRedis
			s.Watermark.Redis.URL = ""
		}, "watermark.redis.url is required"},
		{"mysql without dsn", func(s *Settings) {
			s.Watermark.Backend = BackendMySQL
			s.Watermark.SQL.DSN = ""
		}, "watermark.sql.dsn is required for the mysql backend"},
		{"mqtt without broker", func(s *Settings) { s.Sink.Type = SinkMQTT }, "sink.mqtt.broker is required"},
		{"kafka without brokers", func(s *Settings) { s.Sink.Type = SinkKafka }, "sink.kafka.brokers is required"},
		{"relative gundi url", func(s *Settings) { s.Sink.Gundi.URL = "/events" }, "sink.gundi.url must be an absolute URL"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry.dsn is required"},
		{"zero concurrency", func(s *Settings) { s.Sync.Concurrency = 0 }, "sync.concurrency must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := Defaults()
			tt.mutate(s)

			err := ValidateSettings(s)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
