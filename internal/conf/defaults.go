// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultActionID        = "pull_observations"
	DefaultBaseURL         = "https://api.ebird.org/v2"
	DefaultDistanceKm      = 25.0
	DefaultNumDays         = 2
	DefaultMaxLookbackDays = 30
	DefaultLocale          = "en"
)

// setDefaultConfig registers default values on v.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "UTC")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/ebirdsync.log")
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("ebird.base_url", DefaultBaseURL)
	v.SetDefault("ebird.request_timeout", 30*time.Second)
	v.SetDefault("ebird.requests_per_second", 2.0)
	v.SetDefault("ebird.burst", 1)
	v.SetDefault("ebird.region_cache_ttl", 24*time.Hour)

	v.SetDefault("sync.concurrency", 4)

	v.SetDefault("watermark.backend", BackendSQLite)
	v.SetDefault("watermark.redis.url", "redis://localhost:6379/0")
	v.SetDefault("watermark.redis.key_prefix", "ebirdsync:state")
	v.SetDefault("watermark.sql.dsn", "ebirdsync.db")
	v.SetDefault("watermark.sql.slow_query_threshold", 200*time.Millisecond)

	v.SetDefault("sink.type", SinkGundi)
	v.SetDefault("sink.gundi.url", "https://sensors.api.gundiservice.org/v2/events/")
	v.SetDefault("sink.gundi.timeout", 30*time.Second)
	v.SetDefault("sink.mqtt.client_id", "ebirdsync")
	v.SetDefault("sink.mqtt.topic", "ebirdsync/events")
	v.SetDefault("sink.mqtt.qos", 1)
	v.SetDefault("sink.kafka.topic", "ebird-observations")
	v.SetDefault("sink.kafka.client_id", "ebirdsync")
	v.SetDefault("sink.kafka.partitions", 1)
	v.SetDefault("sink.kafka.replication_factor", 1)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.job_name", "ebirdsync")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("notification.timeout", 10*time.Second)

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.interval", time.Duration(0))
}
