// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tphakala/ebirdsync/internal/errors"
)

// Bounds for pull settings
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 360.0
	MinDistance  = 1.0
	MaxDistance  = 50.0
	MinDays      = 1
	MaxDays      = 30
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %s", strings.Join(ve.Errors, "; "))
}

func configurationError(op string, violations []string) error {
	return errors.New(ValidationError{Errors: violations}).
		Category(errors.CategoryConfiguration).
		Component("configuration").
		Context("operation", op).
		Context("violations", len(violations)).
		Build()
}

// Validate checks the pull settings and reports every violation in one
// configuration error.
func (p *PullSettings) Validate() error {
	if violations := p.violations(); len(violations) > 0 {
		return configurationError("validate-pull-settings", violations)
	}
	return nil
}

func (p *PullSettings) violations() []string {
	var out []string

	switch p.SearchParameter {
	case SearchModeRegion:
		if p.Region() == "" {
			out = append(out, "region_code is required when search_parameter is region")
		}
	case SearchModeLatLonDistance:
		if p.Latitude == nil {
			out = append(out, "latitude is required when search_parameter is lat-lon-distance")
		}
		if p.Longitude == nil {
			out = append(out, "longitude is required when search_parameter is lat-lon-distance")
		}
	default:
		out = append(out, fmt.Sprintf("search_parameter must be %q or %q, got %q",
			SearchModeRegion, SearchModeLatLonDistance, p.SearchParameter))
	}

	if p.Latitude != nil && (*p.Latitude < MinLatitude || *p.Latitude > MaxLatitude) {
		out = append(out, fmt.Sprintf("latitude must be between %g and %g, got %g", MinLatitude, MaxLatitude, *p.Latitude))
	}
	if p.Longitude != nil && (*p.Longitude < MinLongitude || *p.Longitude > MaxLongitude) {
		out = append(out, fmt.Sprintf("longitude must be between %g and %g, got %g", MinLongitude, MaxLongitude, *p.Longitude))
	}
	if p.SearchParameter == SearchModeLatLonDistance && (p.Distance < MinDistance || p.Distance > MaxDistance) {
		out = append(out, fmt.Sprintf("distance must be between %g and %g km, got %g", MinDistance, MaxDistance, p.Distance))
	}
	if p.NumDays < MinDays || p.NumDays > MaxDays {
		out = append(out, fmt.Sprintf("num_days must be between %d and %d, got %d", MinDays, MaxDays, p.NumDays))
	}
	if p.MaxLookbackDays < MinDays || p.MaxLookbackDays > MaxDays {
		out = append(out, fmt.Sprintf("max_lookback_days must be between %d and %d, got %d", MinDays, MaxDays, p.MaxLookbackDays))
	}
	if _, err := NormalizeLocale(p.Locale); err != nil {
		out = append(out, err.Error())
	}

	return out
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	var violations []string

	seen := make(map[string]bool, len(settings.Integrations))
	for i := range settings.Integrations {
		in := &settings.Integrations[i]
		label := in.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			violations = append(violations, fmt.Sprintf("integrations[%d]: id is required", i))
		} else if seen[in.ID] {
			violations = append(violations, fmt.Sprintf("integrations[%s]: duplicate id", in.ID))
		}
		seen[in.ID] = true

		for _, v := range in.Pull.violations() {
			violations = append(violations, fmt.Sprintf("integrations[%s].pull: %s", label, v))
		}
	}

	violations = append(violations, validateWatermarkSettings(&settings.Watermark)...)
	violations = append(violations, validateSinkSettings(&settings.Sink)...)

	if settings.Sync.Concurrency < 1 {
		violations = append(violations, "sync.concurrency must be at least 1")
	}
	if settings.EBird.RequestsPerSecond <= 0 {
		violations = append(violations, "ebird.requests_per_second must be greater than 0")
	}
	if settings.Server.Interval < 0 {
		violations = append(violations, "server.interval must not be negative")
	}
	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		violations = append(violations, "sentry.dsn is required when sentry is enabled")
	}

	if len(violations) > 0 {
		return configurationError("validate-settings", violations)
	}
	return nil
}

func validateWatermarkSettings(w *WatermarkSettings) []string {
	switch w.Backend {
	case BackendMemory:
		return nil
	case BackendRedis:
		if w.Redis.URL == "" {
			return []string{"watermark.redis.url is required for the redis backend"}
		}
	case BackendSQLite, BackendMySQL:
		if w.SQL.DSN == "" {
			return []string{fmt.Sprintf("watermark.sql.dsn is required for the %s backend", w.Backend)}
		}
	default:
		return []string{fmt.Sprintf("watermark.backend %q is not supported", w.Backend)}
	}
	return nil
}

func validateSinkSettings(s *SinkSettings) []string {
	var out []string
	switch s.Type {
	case SinkGundi:
		if u, err := url.Parse(s.Gundi.URL); err != nil || u.Scheme == "" || u.Host == "" {
			out = append(out, "sink.gundi.url must be an absolute URL")
		}
	case SinkMQTT:
		if s.MQTT.Broker == "" {
			out = append(out, "sink.mqtt.broker is required for the mqtt sink")
		}
		if s.MQTT.Topic == "" {
			out = append(out, "sink.mqtt.topic is required for the mqtt sink")
		}
		if s.MQTT.QoS > 2 {
			out = append(out, "sink.mqtt.qos must be 0, 1 or 2")
		}
	case SinkKafka:
		if len(s.Kafka.Brokers) == 0 {
			out = append(out, "sink.kafka.brokers is required for the kafka sink")
		}
		if s.Kafka.Topic == "" {
			out = append(out, "sink.kafka.topic is required for the kafka sink")
		}
	default:
		out = append(out, fmt.Sprintf("sink.type %q is not supported", s.Type))
	}
	return out
}
