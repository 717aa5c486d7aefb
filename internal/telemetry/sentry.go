// Package telemetry reports errors to Sentry with credentials and host
// details scrubbed. It is opt-in and disabled by default.
package telemetry

import (
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/privacy"
)

var initialized atomic.Bool

// Options configures Sentry.
type Options struct {
	DSN         string
	Environment string
	SampleRate  float64
	Release     string
	Debug       bool

	// Transport replaces the HTTP transport, used by tests.
	Transport sentry.Transport
}

// OptionsFromSettings maps the sentry config section.
func OptionsFromSettings(s conf.SentrySettings, release string) Options {
	return Options{
		DSN:         s.DSN,
		Environment: s.Environment,
		SampleRate:  s.SampleRate,
		Release:     release,
	}
}

// Init initializes the Sentry SDK and routes EnhancedError reports to it.
func Init(opts Options) error {
	if opts.DSN == "" {
		return errors.Newf("sentry DSN is required when telemetry is enabled").
			Category(errors.CategoryConfiguration).
			Component("telemetry").
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		SampleRate:       opts.SampleRate,
		Debug:            opts.Debug,
		AttachStacktrace: false,
		Environment:      opts.Environment,
		ServerName:       "",
		Release:          "ebirdsync@" + opts.Release,
		Transport:        opts.Transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized.Store(true)

	GetLogger().Info("sentry telemetry enabled",
		logger.String("environment", opts.Environment),
		logger.Float64("sample_rate", opts.SampleRate))
	return nil
}

// Enabled reports whether Init has succeeded.
func Enabled() bool {
	return initialized.Load()
}

// Flush waits up to timeout for queued events and stops reporting.
func Flush(timeout time.Duration) bool {
	if !initialized.Load() {
		return true
	}
	ok := sentry.Flush(timeout)
	errors.SetTelemetryReporter(nil)
	initialized.Store(false)
	return ok
}

// applyPrivacyFilters strips host and user details and scrubs every free
// text field.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Message = privacy.ScrubMessage(event.Message)

	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range maps.Keys(event.Extra) {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}

// GetLogger returns the telemetry package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
