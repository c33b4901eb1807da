// Package metadata looks up per-resource Open Graph values from the metadata service.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"og-meta-proxy/internal/config"
	"og-meta-proxy/internal/metrics"
	"og-meta-proxy/internal/model"
)

const userAgent = "og-meta-proxy/1.0"

// resultOK is the value of the top-level "result" field on success.
const resultOK = "OK"

// serviceResponse mirrors the metadata service payload. Pointer fields let a missing
// key be told apart from an empty string.
type serviceResponse struct {
	Result   string `json:"result"`
	JSONData *struct {
		URL         *string `json:"url"`
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Image       *string `json:"image"`
	} `json:"jsonData"`
}

// Fetcher calls the metadata service. It is safe for concurrent use.
type Fetcher struct {
	httpClient *http.Client
	baseURL    *url.URL
	param      string
	timeout    time.Duration
	maxBytes   int64
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewFetcher creates a Fetcher from cfg.Metadata.
// The metrics parameter is optional; pass nil to disable recording.
func NewFetcher(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Fetcher, error) {
	u, err := url.Parse(cfg.Metadata.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse metadata base_url: %w", err)
	}

	timeout := time.Duration(cfg.Metadata.TimeoutSeconds) * time.Second
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Fetcher{
		httpClient: &http.Client{Transport: transport, Timeout: timeout},
		baseURL:    u,
		param:      cfg.Metadata.QueryParam,
		timeout:    timeout,
		maxBytes:   cfg.Metadata.MaxResponseBytes,
		logger:     logger.With("component", "metadata_fetcher"),
		metrics:    m,
	}, nil
}

// Fetch looks up the Open Graph values for resourceID. It makes exactly one request
// and never returns an error: every failure is logged and yields model.Unavailable.
// Callers must not pass an empty resourceID.
func (f *Fetcher) Fetch(ctx context.Context, resourceID string) model.MetadataResult {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	og, reason, err := f.fetch(ctx, resourceID)
	if f.metrics != nil {
		f.metrics.MetadataDuration.Observe(time.Since(start).Seconds())
		f.metrics.MetadataResults.WithLabelValues(reason).Inc()
	}
	if err != nil {
		f.logger.Warn("metadata unavailable",
			"resource_id", resourceID,
			"reason", reason,
			"err", err,
		)
		return model.Unavailable
	}

	f.logger.Debug("metadata fetched", "resource_id", resourceID)
	return model.Found(og)
}

// fetch returns the decoded values, or a metrics reason label and the cause.
func (f *Fetcher) fetch(ctx context.Context, resourceID string) (model.OpenGraph, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.lookupURL(resourceID), http.NoBody)
	if err != nil {
		return model.OpenGraph{}, "transport_error", fmt.Errorf("build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return model.OpenGraph{}, "transport_error", fmt.Errorf("metadata request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return model.OpenGraph{}, "bad_status", fmt.Errorf("metadata service returned status %d", resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return model.OpenGraph{}, "transport_error", fmt.Errorf("read metadata body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return model.OpenGraph{}, "too_large", fmt.Errorf("metadata body exceeds %d bytes", f.maxBytes)
	}

	var sr serviceResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return model.OpenGraph{}, "bad_json", fmt.Errorf("decode metadata body: %w", err)
	}
	if sr.Result != resultOK {
		return model.OpenGraph{}, "not_ok", fmt.Errorf("metadata result %q", sr.Result)
	}

	d := sr.JSONData
	if d == nil || d.URL == nil || d.Title == nil || d.Description == nil || d.Image == nil {
		return model.OpenGraph{}, "missing_fields", fmt.Errorf("metadata jsonData lacks required fields")
	}

	return model.OpenGraph{
		URL:         *d.URL,
		Title:       *d.Title,
		Description: *d.Description,
		Image:       *d.Image,
	}, "ok", nil
}

// lookupURL adds the resource id to the base URL's query, keeping any existing parameters.
func (f *Fetcher) lookupURL(resourceID string) string {
	u := *f.baseURL
	q := u.Query()
	q.Set(f.param, resourceID)
	u.RawQuery = q.Encode()
	return u.String()
}
