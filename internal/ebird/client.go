package ebird

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/k3a/html2text"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/httpclient"
	"github.com/tphakala/ebirdsync/internal/logger"
)

const (
	apiTokenHeader = "X-eBirdApiToken"

	// credentialCheckRegion is fetched to verify an API key.
	credentialCheckRegion = "US"

	maxResponseBytes = 32 << 20
	maxErrorPreview  = 300

	endpointObservations = "observations"
	endpointRegionInfo   = "region_info"
)

// Client provides methods for interacting with the eBird API
type Client struct {
	config  Config
	http    *httpclient.Client
	cache   *cache.Cache
	limiter *rate.Limiter
	log     logger.Logger
}

// NewClient creates a new eBird API client
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.Newf("eBird API key is required").
			Category(errors.CategoryAuthentication).
			Component("ebird").
			Build()
	}
	config.applyDefaults()
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	headers := http.Header{}
	headers.Set(apiTokenHeader, config.APIKey)
	headers.Set("Accept", "application/json")

	client := &Client{
		config: config,
		http: httpclient.New(&httpclient.Config{
			DefaultTimeout: config.Timeout,
			Headers:        headers,
			Transport:      config.Transport,
		}),
		cache:   cache.New(config.RegionCacheTTL, config.RegionCacheTTL*2),
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		log:     GetLogger(),
	}

	client.log.Debug("eBird client initialized",
		logger.String("base_url", config.BaseURL),
		logger.Float64("requests_per_second", config.RequestsPerSecond),
		logger.Duration("timeout", config.Timeout))

	return client, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.Close()
}

// Fetch runs every query unit of q in order and returns the raw records
// concatenated. Each species code is one unit; no species means a single
// unit for all species. The first failing unit aborts the fetch.
func (c *Client) Fetch(ctx context.Context, q Query, opts QueryOptions) ([]json.RawMessage, error) {
	units := opts.Species
	if len(units) == 0 {
		units = []string{""}
	}

	c.log.Info("loading eBird observations",
		logger.String("query", Describe(q)),
		logger.Int("back_days", opts.Back),
		logger.Int("query_units", len(units)))

	var records []json.RawMessage
	for _, species := range units {
		path, params, err := endpoint(q, species, opts)
		if err != nil {
			return nil, err
		}

		var unit []json.RawMessage
		if err := c.getJSON(ctx, endpointObservations, path, params, &unit); err != nil {
			return nil, err
		}

		if species != "" {
			if len(unit) == 0 {
				c.log.Info("no observations found for species", logger.String("species_code", species))
			} else {
				c.log.Info("loaded observations for species",
					logger.String("species_code", species),
					logger.Int("count", len(unit)))
			}
		}
		records = append(records, unit...)
	}

	return records, nil
}

// CheckCredentials verifies the API key by requesting region info for the
// US. A 401 or 403 is reported as invalid credentials, not as an error.
func (c *Client) CheckCredentials(ctx context.Context) (CredentialStatus, error) {
	resp, err := c.get(ctx, endpointRegionInfo, "/ref/region/info/"+credentialCheckRegion, nil)
	if err != nil {
		return CredentialStatus{}, err
	}

	switch {
	case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
		c.log.Warn("eBird API rejected credentials", logger.Int("status_code", resp.status))
		return CredentialStatus{ValidCredentials: false, StatusCode: resp.status}, nil
	case resp.status < 200 || resp.status > 299:
		return CredentialStatus{}, statusError(endpointRegionInfo, resp)
	}

	var info RegionInfo
	if err := json.Unmarshal(resp.body, &info); err == nil {
		c.cache.SetDefault(regionCacheKey(credentialCheckRegion), &info)
	}

	return CredentialStatus{ValidCredentials: true, StatusCode: resp.status}, nil
}

// RegionInfo returns the display name and bounds of a region code.
// Results are cached.
func (c *Client) RegionInfo(ctx context.Context, regionCode string) (*RegionInfo, error) {
	key := regionCacheKey(regionCode)
	if cached, found := c.cache.Get(key); found {
		if info, ok := cached.(*RegionInfo); ok {
			return info, nil
		}
	}

	var info RegionInfo
	if err := c.getJSON(ctx, endpointRegionInfo, "/ref/region/info/"+url.PathEscape(regionCode), nil, &info); err != nil {
		return nil, err
	}

	c.cache.SetDefault(key, &info)
	return &info, nil
}

func regionCacheKey(code string) string {
	return "region:" + strings.ToUpper(code)
}

type response struct {
	status      int
	contentType string
	body        []byte
	url         string
}

func (c *Client) getJSON(ctx context.Context, name, path string, params url.Values, result any) error {
	resp, err := c.get(ctx, name, path, params)
	if err != nil {
		return err
	}
	if resp.status < 200 || resp.status > 299 {
		return statusError(name, resp)
	}

	if err := json.Unmarshal(resp.body, result); err != nil {
		return errors.Newf("failed to parse eBird response: %w", err).
			Category(errors.CategoryFileParsing).
			Component("ebird").
			Context("endpoint", name).
			Context("response_size", len(resp.body)).
			Build()
	}
	return nil
}

// get performs one paced GET and reads the whole body.
func (c *Client) get(ctx context.Context, name, path string, params url.Values) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.New(err).
			Category(contextCategory(ctx, err)).
			Component("ebird").
			Context("operation", "rate_limiter_wait").
			Context("endpoint", name).
			Build()
	}

	target := c.config.BaseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	httpResp, err := c.http.Get(reqCtx, target)
	if err != nil {
		c.observe(name, 0, time.Since(start))
		return nil, errors.Newf("eBird request failed: %w", err).
			Category(contextCategory(reqCtx, err)).
			Component("ebird").
			Context("endpoint", name).
			NetworkContext(target, c.config.Timeout).
			Build()
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes+1))
	duration := time.Since(start)
	c.observe(name, httpResp.StatusCode, duration)
	if err != nil {
		return nil, errors.Newf("failed to read eBird response body: %w", err).
			Category(contextCategory(reqCtx, err)).
			Component("ebird").
			Context("endpoint", name).
			Context("status_code", httpResp.StatusCode).
			Build()
	}
	if len(body) > maxResponseBytes {
		return nil, errors.Newf("eBird response too large: exceeds %d bytes", maxResponseBytes).
			Category(errors.CategoryLimit).
			Component("ebird").
			Context("endpoint", name).
			Context("status_code", httpResp.StatusCode).
			Build()
	}

	c.log.Debug("eBird API response",
		logger.String("endpoint", name),
		logger.String("path", path),
		logger.Int("status_code", httpResp.StatusCode),
		logger.Int("response_size", len(body)),
		logger.Duration("duration", duration))

	return &response{
		status:      httpResp.StatusCode,
		contentType: httpResp.Header.Get("Content-Type"),
		body:        body,
		url:         target,
	}, nil
}

func (c *Client) observe(name string, status int, d time.Duration) {
	if c.config.Observer != nil {
		c.config.Observer.ObserveRequest(name, status, d)
	}
}

// contextCategory distinguishes deadline and cancellation from plain
// network failures.
func contextCategory(ctx context.Context, err error) errors.ErrorCategory {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.CategoryTimeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return errors.CategoryCancellation
	default:
		return errors.CategoryNetwork
	}
}

// categoryForStatus maps an HTTP status to an error category.
func categoryForStatus(status int) errors.ErrorCategory {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.CategoryAuthentication
	case http.StatusTooManyRequests:
		return errors.CategoryLimit
	case http.StatusNotFound:
		return errors.CategoryNotFound
	default:
		return errors.CategoryNetwork
	}
}

func statusError(name string, resp *response) error {
	return errors.Newf("eBird API returned status %d: %s", resp.status, errorMessage(resp)).
		Category(categoryForStatus(resp.status)).
		Component("ebird").
		Context("endpoint", name).
		Context("status_code", resp.status).
		NetworkContext(resp.url, 0).
		Build()
}

// errorBody covers both shapes eBird uses for error responses.
type errorBody struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// errorMessage extracts a short readable message from an error response.
func errorMessage(resp *response) string {
	ct := strings.ToLower(resp.contentType)

	if strings.Contains(ct, "json") {
		var eb errorBody
		if err := json.Unmarshal(resp.body, &eb); err == nil {
			switch {
			case eb.Detail != "":
				return eb.Detail
			case eb.Title != "":
				return eb.Title
			case len(eb.Errors) > 0 && eb.Errors[0].Title != "":
				return eb.Errors[0].Title
			}
		}
	}

	text := string(resp.body)
	if strings.Contains(ct, "html") || strings.HasPrefix(strings.TrimSpace(text), "<") {
		text = html2text.HTML2Text(text)
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return http.StatusText(resp.status)
	}
	return truncate(text, maxErrorPreview)
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
