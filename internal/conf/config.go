// Package conf provides configuration management for ebirdsync.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/secrets"
)

// SearchMode selects how observations are queried.
type SearchMode string

const (
	SearchModeRegion         SearchMode = "region"
	SearchModeLatLonDistance SearchMode = "lat-lon-distance"
)

// Watermark store backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
)

// Sink types
const (
	SinkGundi = "gundi"
	SinkMQTT  = "mqtt"
	SinkKafka = "kafka"
)

// anySentinel in region or species code means "not set".
const anySentinel = "any"

// Settings is the root configuration.
type Settings struct {
	Debug        bool                  `yaml:"debug" mapstructure:"debug"`
	Logging      logger.LoggingConfig  `yaml:"logging" mapstructure:"logging"`
	EBird        EBirdSettings         `yaml:"ebird" mapstructure:"ebird"`
	Integrations []IntegrationSettings `yaml:"integrations" mapstructure:"integrations"`
	Sync         SyncSettings          `yaml:"sync" mapstructure:"sync"`
	Watermark    WatermarkSettings     `yaml:"watermark" mapstructure:"watermark"`
	Sink         SinkSettings          `yaml:"sink" mapstructure:"sink"`
	Metrics      MetricsSettings       `yaml:"metrics" mapstructure:"metrics"`
	Sentry       SentrySettings        `yaml:"sentry" mapstructure:"sentry"`
	Notification NotificationSettings  `yaml:"notification" mapstructure:"notification"`
	Server       ServerSettings        `yaml:"server" mapstructure:"server"`
}

// EBirdSettings holds API defaults shared by all integrations.
type EBirdSettings struct {
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`                         // used when an integration has no key of its own
	APIKeyFile        string        `yaml:"api_key_file,omitempty" mapstructure:"api_key_file"`     // mounted secret, wins over api_key
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`                       // e.g. https://api.ebird.org/v2
	RequestTimeout    time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`         // per HTTP request
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"` // client-side pacing
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	RegionCacheTTL    time.Duration `yaml:"region_cache_ttl" mapstructure:"region_cache_ttl"`
}

// IntegrationSettings describes one configured connector instance.
type IntegrationSettings struct {
	ID       string       `yaml:"id" mapstructure:"id"`
	ActionID string       `yaml:"action_id" mapstructure:"action_id"`
	Auth     AuthSettings `yaml:"auth" mapstructure:"auth"`
	Pull     PullSettings `yaml:"pull" mapstructure:"pull"`
}

// AuthSettings holds per-integration eBird credentials.
type AuthSettings struct {
	APIKey     string `yaml:"api_key" mapstructure:"api_key"`
	APIKeyFile string `yaml:"api_key_file,omitempty" mapstructure:"api_key_file"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
}

// PullSettings is the pull-observations action configuration.
type PullSettings struct {
	SearchParameter    SearchMode `yaml:"search_parameter" mapstructure:"search_parameter"`
	RegionCode         string     `yaml:"region_code" mapstructure:"region_code"`
	Latitude           *float64   `yaml:"latitude,omitempty" mapstructure:"latitude"`
	Longitude          *float64   `yaml:"longitude,omitempty" mapstructure:"longitude"`
	Distance           float64    `yaml:"distance" mapstructure:"distance"` // km
	SpeciesCode        string     `yaml:"species_code" mapstructure:"species_code"`
	NumDays            int        `yaml:"num_days" mapstructure:"num_days"`
	MaxLookbackDays    int        `yaml:"max_lookback_days" mapstructure:"max_lookback_days"`
	IncludeProvisional bool       `yaml:"include_provisional" mapstructure:"include_provisional"`
	Locale             string     `yaml:"locale" mapstructure:"locale"`
}

// SyncSettings controls how runs are executed.
type SyncSettings struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"` // integrations pulled at once by `pull --all`
}

// WatermarkSettings selects and configures the watermark store.
type WatermarkSettings struct {
	Backend string        `yaml:"backend" mapstructure:"backend"`
	Redis   RedisSettings `yaml:"redis" mapstructure:"redis"`
	SQL     SQLSettings   `yaml:"sql" mapstructure:"sql"`
}

type RedisSettings struct {
	URL       string `yaml:"url" mapstructure:"url"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

type SQLSettings struct {
	DSN                string        `yaml:"dsn" mapstructure:"dsn"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" mapstructure:"slow_query_threshold"`
}

// SinkSettings selects and configures the downstream event sink.
type SinkSettings struct {
	Type  string        `yaml:"type" mapstructure:"type"`
	Gundi GundiSettings `yaml:"gundi" mapstructure:"gundi"`
	MQTT  MQTTSettings  `yaml:"mqtt" mapstructure:"mqtt"`
	Kafka KafkaSettings `yaml:"kafka" mapstructure:"kafka"`
}

type GundiSettings struct {
	URL        string        `yaml:"url" mapstructure:"url"`
	APIKey     string        `yaml:"api_key" mapstructure:"api_key"`
	APIKeyFile string        `yaml:"api_key_file,omitempty" mapstructure:"api_key_file"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type MQTTSettings struct {
	Broker   string `yaml:"broker" mapstructure:"broker"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	// PasswordFile is a mounted secret and wins over Password.
	PasswordFile string `yaml:"password_file,omitempty" mapstructure:"password_file"`
	Topic        string `yaml:"topic" mapstructure:"topic"`
	QoS          byte   `yaml:"qos" mapstructure:"qos"`
	Retain       bool   `yaml:"retain" mapstructure:"retain"`
}

type KafkaSettings struct {
	Brokers           []string `yaml:"brokers" mapstructure:"brokers"`
	Topic             string   `yaml:"topic" mapstructure:"topic"`
	ClientID          string   `yaml:"client_id" mapstructure:"client_id"`
	CreateTopic       bool     `yaml:"create_topic" mapstructure:"create_topic"`
	Partitions        int32    `yaml:"partitions" mapstructure:"partitions"`
	ReplicationFactor int16    `yaml:"replication_factor" mapstructure:"replication_factor"`
}

// MetricsSettings configures Prometheus metrics.
type MetricsSettings struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	PushGatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"` // one-shot `pull` pushes here
	JobName        string `yaml:"job_name" mapstructure:"job_name"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	DSN         string  `yaml:"dsn" mapstructure:"dsn"`
	Environment string  `yaml:"environment" mapstructure:"environment"`
	SampleRate  float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// NotificationSettings configures needs-attention alerts.
type NotificationSettings struct {
	URLs    []string      `yaml:"urls" mapstructure:"urls"` // shoutrrr service URLs
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ServerSettings configures the `serve` command.
type ServerSettings struct {
	Listen   string        `yaml:"listen" mapstructure:"listen"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"` // 0 disables the scheduled pull
}

// Load reads defaults, the config file and environment variables into Settings.
// An empty configFile searches the default config paths; a missing file
// there is not an error.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaultConfig(v)

	if err := readConfig(v, configFile); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := bindEnvVars(v); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "bind-env").
			Build()
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}

	if err := settings.resolveSecrets(); err != nil {
		return nil, err
	}
	settings.applyIntegrationDefaults()

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

func readConfig(v *viper.Viper, configFile string) error {
	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		paths, err := GetDefaultConfigPaths()
		if err != nil {
			return err
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			GetLogger().Debug("no config file found, using defaults and environment")
			return nil
		}
		return errors.New(fmt.Errorf("error reading config file: %w", err)).
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Build()
	}

	GetLogger().Debug("loaded config file", logger.String("path", v.ConfigFileUsed()))
	return nil
}

// Defaults returns Settings populated from built-in defaults only.
func Defaults() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	// defaults are static; an unmarshal failure here is a programming error
	if err := v.Unmarshal(settings); err != nil {
		panic(fmt.Sprintf("conf: invalid built-in defaults: %v", err))
	}
	return settings
}

// resolveSecrets replaces credentials with the content of their secret
// files or with their ${VAR} expansion.
func (s *Settings) resolveSecrets() error {
	type secretRef struct {
		name  string
		file  string
		value *string
	}

	targets := []secretRef{
		{"ebird.api_key", s.EBird.APIKeyFile, &s.EBird.APIKey},
		{"sink.gundi.api_key", s.Sink.Gundi.APIKeyFile, &s.Sink.Gundi.APIKey},
		{"sink.mqtt.password", s.Sink.MQTT.PasswordFile, &s.Sink.MQTT.Password},
	}
	for i := range s.Integrations {
		auth := &s.Integrations[i].Auth
		targets = append(targets, secretRef{fmt.Sprintf("integrations[%s].auth.api_key", s.Integrations[i].ID), auth.APIKeyFile, &auth.APIKey})
	}

	for _, t := range targets {
		resolved, err := secrets.Resolve(t.file, *t.value)
		if err != nil {
			return errors.New(err).
				Category(errors.CategoryConfiguration).
				Context("operation", "resolve-secret").
				Context("setting", t.name).
				Build()
		}
		*t.value = resolved
	}
	return nil
}

// applyIntegrationDefaults fills per-integration fields that viper defaults
// cannot reach inside a list.
func (s *Settings) applyIntegrationDefaults() {
	for i := range s.Integrations {
		in := &s.Integrations[i]
		if in.ActionID == "" {
			in.ActionID = DefaultActionID
		}
		if in.Auth.APIKey == "" {
			in.Auth.APIKey = s.EBird.APIKey
		}
		if in.Auth.BaseURL == "" {
			in.Auth.BaseURL = s.EBird.BaseURL
		}
		in.Pull.ApplyDefaults()
	}
}

// Integration returns the integration with the given id.
func (s *Settings) Integration(id string) (IntegrationSettings, bool) {
	for _, in := range s.Integrations {
		if in.ID == id {
			return in, true
		}
	}
	return IntegrationSettings{}, false
}

// ApplyDefaults sets defaults for zero-valued fields.
func (p *PullSettings) ApplyDefaults() {
	if p.SearchParameter == "" {
		p.SearchParameter = SearchModeLatLonDistance
	}
	if p.Distance == 0 {
		p.Distance = DefaultDistanceKm
	}
	if p.NumDays == 0 {
		p.NumDays = DefaultNumDays
	}
	if p.MaxLookbackDays == 0 {
		p.MaxLookbackDays = DefaultMaxLookbackDays
	}
	if p.Locale == "" {
		p.Locale = DefaultLocale
	}
}

// Region returns the region code, or "" when unset or "any".
func (p PullSettings) Region() string {
	return normalizeSentinel(p.RegionCode)
}

// Species returns the configured species codes in order. An empty result
// means all species.
func (p PullSettings) Species() []string {
	var codes []string
	for code := range strings.SplitSeq(p.SpeciesCode, ",") {
		if c := normalizeSentinel(code); c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}

func normalizeSentinel(code string) string {
	code = strings.TrimSpace(code)
	if strings.EqualFold(code, anySentinel) {
		return ""
	}
	return code
}

// Redacted returns a copy safe to print: credentials are masked.
func (s *Settings) Redacted() *Settings {
	const mask = "[REDACTED]"
	redact := func(v string) string {
		if v == "" {
			return v
		}
		return mask
	}

	out := *s
	out.EBird.APIKey = redact(s.EBird.APIKey)
	out.Sink.Gundi.APIKey = redact(s.Sink.Gundi.APIKey)
	out.Sink.MQTT.Password = redact(s.Sink.MQTT.Password)
	out.Sentry.DSN = redact(s.Sentry.DSN)
	out.Watermark.Redis.URL = logger.RedactSensitiveData(s.Watermark.Redis.URL)
	out.Watermark.SQL.DSN = redactDSN(s.Watermark.SQL.DSN)

	out.Integrations = make([]IntegrationSettings, len(s.Integrations))
	for i, in := range s.Integrations {
		in.Auth.APIKey = redact(in.Auth.APIKey)
		out.Integrations[i] = in
	}

	out.Notification.URLs = make([]string, len(s.Notification.URLs))
	for i, u := range s.Notification.URLs {
		out.Notification.URLs[i] = logger.RedactSensitiveData(u)
	}
	return &out
}

// redactDSN masks the password in a MySQL "user:pass@tcp(...)" DSN.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	colon := strings.Index(dsn, ":")
	if at < 0 || colon < 0 || colon > at {
		return dsn
	}
	return dsn[:colon+1] + "[REDACTED]" + dsn[at:]
}
