// Package ebird provides a client for the eBird API v2 recent-observation
// endpoints used by the sync engine.
package ebird

import (
	"net/http"
	"time"
)

// Config holds configuration for the eBird client
type Config struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration // per request
	RequestsPerSecond float64
	Burst             int
	RegionCacheTTL    time.Duration

	// Transport replaces the default transport, used by tests.
	Transport http.RoundTripper
	// Observer receives one call per API request. Optional.
	Observer RequestObserver
}

// RequestObserver is notified after every eBird API request.
type RequestObserver interface {
	ObserveRequest(endpoint string, statusCode int, duration time.Duration)
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://api.ebird.org/v2",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 2,
		Burst:             1,
		RegionCacheTTL:    24 * time.Hour, // region metadata rarely changes
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = d.RequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.RegionCacheTTL <= 0 {
		c.RegionCacheTTL = d.RegionCacheTTL
	}
}

// CredentialStatus is the outcome of a credential check.
type CredentialStatus struct {
	ValidCredentials bool `json:"valid_credentials"`
	StatusCode       int  `json:"status_code,omitempty"`
}

// RegionInfo is the body of /ref/region/info/{code}.
type RegionInfo struct {
	Result string        `json:"result"`
	Bounds *RegionBounds `json:"bounds,omitempty"`
}

type RegionBounds struct {
	MinX float64 `json:"minX"`
	MaxX float64 `json:"maxX"`
	MinY float64 `json:"minY"`
	MaxY float64 `json:"maxY"`
}
