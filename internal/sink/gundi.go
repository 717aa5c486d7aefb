package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/httpclient"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/observation"
)

const (
	gundiAPIKeyHeader      = "apikey"
	gundiIntegrationHeader = "X-Integration-ID"
	maxErrorBody           = 512
)

// GundiConfig configures the Gundi sensors API sink.
type GundiConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration

	// Transport replaces the default transport, used by tests.
	Transport http.RoundTripper
}

// GundiSink posts event batches as a JSON array to the Gundi events endpoint.
type GundiSink struct {
	url    string
	apiKey string
	http   *httpclient.Client
	log    logger.Logger
}

// NewGundiSink validates cfg and creates the sink.
func NewGundiSink(cfg GundiConfig) (*GundiSink, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("invalid gundi URL %q", cfg.URL).
			Category(errors.CategoryConfiguration).
			Component("sink").
			Build()
	}

	return &GundiSink{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		http: httpclient.New(&httpclient.Config{
			DefaultTimeout: cfg.Timeout,
			Transport:      cfg.Transport,
		}),
		log: GetLogger().With(logger.String("sink", "gundi")),
	}, nil
}

// Send posts the whole batch in one request. Any transport failure or
// non-2xx response is a submission error.
func (s *GundiSink) Send(ctx context.Context, integrationID string, events []observation.Event) error {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	opts := []httpclient.RequestOption{httpclient.WithHeader(gundiIntegrationHeader, integrationID)}
	if s.apiKey != "" {
		opts = append(opts, httpclient.WithHeader(gundiAPIKeyHeader, s.apiKey))
	}
	resp, err := s.http.Post(ctx, s.url, "application/json", events, opts...)
	if err != nil {
		return submissionError(fmt.Errorf("gundi request failed: %w", err), "gundi", integrationID, len(events)).
			NetworkContext(s.url, 0).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return submissionError(
			fmt.Errorf("gundi returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			"gundi", integrationID, len(events)).
			Context("status_code", resp.StatusCode).
			Build()
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	s.log.Debug("events submitted",
		logger.String("integration_id", integrationID),
		logger.Int("events", len(events)),
		logger.Int("status_code", resp.StatusCode),
		logger.Duration("duration", time.Since(start)))
	return nil
}

func (s *GundiSink) Close() error {
	s.http.Close()
	return nil
}
