// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tphakala/ebirdsync/internal/logger"
)

const envPrefix = "EBIRDSYNC"

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // viper config key
	EnvVar    string             // environment variable name
	Validate  func(string) error // optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "EBIRDSYNC_DEBUG", validateEnvBool},
		{"logging.default_level", "EBIRDSYNC_LOG_LEVEL", validateEnvLogLevel},

		{"ebird.api_key", "EBIRDSYNC_EBIRD_API_KEY", nil},
		{"ebird.base_url", "EBIRDSYNC_EBIRD_BASE_URL", validateEnvURL},
		{"ebird.request_timeout", "EBIRDSYNC_EBIRD_REQUEST_TIMEOUT", validateEnvDuration},
		{"ebird.requests_per_second", "EBIRDSYNC_EBIRD_REQUESTS_PER_SECOND", validateEnvPositiveFloat},

		{"sync.concurrency", "EBIRDSYNC_SYNC_CONCURRENCY", validateEnvPositiveInt},

		{"watermark.backend", "EBIRDSYNC_WATERMARK_BACKEND", validateEnvBackend},
		{"watermark.redis.url", "EBIRDSYNC_WATERMARK_REDIS_URL", validateEnvURL},
		{"watermark.sql.dsn", "EBIRDSYNC_WATERMARK_SQL_DSN", nil},

		{"sink.type", "EBIRDSYNC_SINK_TYPE", validateEnvSinkType},
		{"sink.gundi.url", "EBIRDSYNC_SINK_GUNDI_URL", validateEnvURL},
		{"sink.gundi.api_key", "EBIRDSYNC_SINK_GUNDI_API_KEY", nil},
		{"sink.mqtt.broker", "EBIRDSYNC_SINK_MQTT_BROKER", validateEnvURL},
		{"sink.mqtt.username", "EBIRDSYNC_SINK_MQTT_USERNAME", nil},
		{"sink.mqtt.password", "EBIRDSYNC_SINK_MQTT_PASSWORD", nil},
		{"sink.kafka.brokers", "EBIRDSYNC_SINK_KAFKA_BROKERS", nil},
		{"sink.kafka.topic", "EBIRDSYNC_SINK_KAFKA_TOPIC", nil},

		{"metrics.pushgateway_url", "EBIRDSYNC_METRICS_PUSHGATEWAY_URL", validateEnvURL},
		{"sentry.enabled", "EBIRDSYNC_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "EBIRDSYNC_SENTRY_DSN", nil},
		{"notification.urls", "EBIRDSYNC_NOTIFICATION_URLS", nil},

		{"server.listen", "EBIRDSYNC_SERVER_LISTEN", nil},
		{"server.interval", "EBIRDSYNC_SERVER_INTERVAL", validateEnvDuration},
	}
}

// bindEnvVars binds every known variable and validates the ones that are set.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v",
					binding.EnvVar, logger.RedactSensitiveData(envValue), err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("log level must be one of trace, debug, info, warn, error")
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("duration must not be negative, got %s", d)
	}
	return nil
}

func validateEnvPositiveFloat(value string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if f <= 0 {
		return fmt.Errorf("must be greater than 0, got %g", f)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1, got %d", n)
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL must include scheme and host")
	}
	return nil
}

func validateEnvBackend(value string) error {
	switch value {
	case BackendMemory, BackendRedis, BackendSQLite, BackendMySQL:
		return nil
	}
	return fmt.Errorf("backend must be one of %s, %s, %s, %s", BackendMemory, BackendRedis, BackendSQLite, BackendMySQL)
}

func validateEnvSinkType(value string) error {
	switch value {
	case SinkGundi, SinkMQTT, SinkKafka:
		return nil
	}
	return fmt.Errorf("sink type must be one of %s, %s, %s", SinkGundi, SinkMQTT, SinkKafka)
}
