package service

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"og-meta-proxy/internal/config"
	"og-meta-proxy/internal/metadata"
	"og-meta-proxy/internal/metrics"
	"og-meta-proxy/internal/model"
	"og-meta-proxy/internal/og"
)

// Interception outcomes, used as the og_proxy_rewrites_total label.
const (
	outcomeRewritten      = "rewritten"
	outcomeNotHTML        = "not_html"
	outcomeEmptyBody      = "empty_body"
	outcomeNoResourceID   = "no_resource_id"
	outcomeUndecodable    = "undecodable"
	outcomeUnavailable    = "metadata_unavailable"
	outcomeNoPlaceholders = "no_placeholders"
)

const htmlMediaType = "text/html"

// Interceptor fills Open Graph placeholders in HTML origin responses.
// It holds no per-request state and is safe for concurrent use.
type Interceptor struct {
	fetcher   *metadata.Fetcher
	rewriter  *og.Rewriter
	idSegment int
	maxBytes  int64
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewInterceptor creates an Interceptor.
// The metrics parameter is optional; pass nil to disable recording.
func NewInterceptor(f *metadata.Fetcher, r *og.Rewriter, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Interceptor {
	segment := cfg.Metadata.IDSegment
	if segment == 0 {
		segment = DefaultIDSegment
	}
	return &Interceptor{
		fetcher:   f,
		rewriter:  r,
		idSegment: segment,
		maxBytes:  cfg.Origin.MaxResponseBytes,
		logger:    logger.With("component", "interceptor"),
		metrics:   m,
	}
}

// Intercept returns the response to release to the client. Whenever the response is
// not HTML, or metadata cannot be obtained, or nothing was substituted, resp itself
// is returned untouched. Otherwise a new response carries the rewritten, uncompressed
// body; resp is never modified.
func (i *Interceptor) Intercept(ctx context.Context, req *model.ProxyRequest, resp *model.OriginResponse) *model.OriginResponse {
	if !isHTML(resp.Header.Get("Content-Type")) {
		return i.pass(outcomeNotHTML, resp)
	}
	if len(resp.Body) == 0 {
		return i.pass(outcomeEmptyBody, resp)
	}

	id, ok := ResourceID(req.Path, i.idSegment)
	if !ok {
		i.logger.Debug("no resource id in path", "path", req.Path, "segment", i.idSegment)
		return i.pass(outcomeNoResourceID, resp)
	}

	doc, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"), i.maxBytes)
	if err != nil {
		i.logger.Warn("cannot decode html body",
			"path", req.Path,
			"content_encoding", resp.Header.Get("Content-Encoding"),
			"err", err,
		)
		return i.pass(outcomeUndecodable, resp)
	}

	result := i.fetcher.Fetch(ctx, id)
	if !result.Available {
		i.logger.Info("serving original html, metadata unavailable", "path", req.Path, "resource_id", id)
		return i.pass(outcomeUnavailable, resp)
	}

	out, missing := i.rewriter.Rewrite(doc, result.Data)
	for _, tag := range missing {
		if i.metrics != nil {
			i.metrics.PlaceholdersMissing.WithLabelValues(tag).Inc()
		}
	}
	if len(missing) > 0 {
		i.logger.Warn("placeholders missing from origin html",
			"path", req.Path,
			"resource_id", id,
			"missing", missing,
		)
	}
	if len(missing) == len(og.Tags) {
		return i.pass(outcomeNoPlaceholders, resp)
	}

	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	// The validators describe the origin bytes, not the rewritten body.
	header.Del("Content-Encoding")
	header.Del("ETag")
	header.Del("Content-MD5")
	header.Set("Content-Length", strconv.Itoa(len(out)))

	i.logger.Debug("rewrote open graph tags", "path", req.Path, "resource_id", id)
	i.count(outcomeRewritten)
	return &model.OriginResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       out,
	}
}

func (i *Interceptor) pass(outcome string, resp *model.OriginResponse) *model.OriginResponse {
	i.count(outcome)
	return resp
}

func (i *Interceptor) count(outcome string) {
	if i.metrics != nil {
		i.metrics.Rewrites.WithLabelValues(outcome).Inc()
	}
}

func isHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), htmlMediaType)
}
