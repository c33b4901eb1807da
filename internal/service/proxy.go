// Package service implements origin forwarding and response interception.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"og-meta-proxy/internal/client"
	"og-meta-proxy/internal/config"
	"og-meta-proxy/internal/model"
)

// ErrResponseTooLarge is returned when the origin body exceeds origin.max_response_bytes.
var ErrResponseTooLarge = errors.New("origin response exceeds buffer limit")

// hopByHopHeaders apply to a single connection and are never forwarded (RFC 9110 §7.6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyService forwards requests to the origin and buffers the responses.
type ProxyService struct {
	client   *client.OriginClient
	logger   *slog.Logger
	baseURL  *url.URL
	maxBytes int64
}

// NewProxyService creates a ProxyService for cfg.Origin.
func NewProxyService(c *client.OriginClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Origin.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin target_url: %w", err)
	}

	return &ProxyService{
		client:   c,
		logger:   logger.With("component", "proxy_service"),
		baseURL:  u,
		maxBytes: cfg.Origin.MaxResponseBytes,
	}, nil
}

// Forward sends a ProxyRequest to the origin and returns the response with its body
// fully read. The whole body is needed before interception can run, so nothing is
// streamed through.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.OriginResponse, error) {
	upstreamURL := s.buildUpstreamURL(pr.Path, pr.RawPath, pr.RawQuery)
	header := s.prepareRequestHeaders(pr.Header, pr.RemoteAddr)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	body := pr.Body
	if body == nil {
		body = http.NoBody
	}
	resp, err := s.client.DoStream(pr.Ctx, pr.Method, upstreamURL, header, body, pr.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("forward to origin: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := s.readBody(resp.Body)
	if err != nil {
		return nil, err
	}

	return &model.OriginResponse{
		StatusCode: resp.StatusCode,
		Header:     stripHopByHop(resp.Header.Clone()),
		Body:       data,
	}, nil
}

func (s *ProxyService) readBody(r io.Reader) ([]byte, error) {
	if s.maxBytes > 0 {
		r = io.LimitReader(r, s.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read origin body: %w", err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, s.maxBytes)
	}
	return data, nil
}

// buildUpstreamURL joins the target path with the request path:
// target "/share" + "/propertytoshare/48" -> "/share/propertytoshare/48".
// Percent-encoding in the request path, such as %2F, reaches the origin as sent.
func (s *ProxyService) buildUpstreamURL(path, rawPath, rawQuery string) string {
	u := *s.baseURL
	u.Path, u.RawPath = joinURLPath(s.baseURL, path, rawPath)
	switch {
	case s.baseURL.RawQuery == "":
		u.RawQuery = rawQuery
	case rawQuery == "":
		u.RawQuery = s.baseURL.RawQuery
	default:
		u.RawQuery = s.baseURL.RawQuery + "&" + rawQuery
	}
	return u.String()
}

func joinURLPath(base *url.URL, path, rawPath string) (string, string) {
	if base.RawPath == "" && rawPath == "" {
		return joinPath(base.Path, path), ""
	}
	escaped := rawPath
	if escaped == "" {
		escaped = (&url.URL{Path: path}).EscapedPath()
	}
	return joinPath(base.Path, path), joinPath(base.EscapedPath(), escaped)
}

func joinPath(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// prepareRequestHeaders copies the client headers minus hop-by-hop ones and records
// the client address in X-Forwarded-For. The Host header follows the upstream URL.
func (s *ProxyService) prepareRequestHeaders(src http.Header, remoteAddr string) http.Header {
	dst := stripHopByHop(src.Clone())
	if dst == nil {
		dst = make(http.Header)
	}
	dst.Del("Host")

	if ip := clientIP(remoteAddr); ip != "" {
		if prior := dst.Values("X-Forwarded-For"); len(prior) > 0 {
			ip = strings.Join(prior, ", ") + ", " + ip
		}
		dst.Set("X-Forwarded-For", ip)
	}
	return dst
}

// stripHopByHop removes hop-by-hop headers, including any listed in Connection.
func stripHopByHop(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = textproto.TrimString(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
	return h
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
