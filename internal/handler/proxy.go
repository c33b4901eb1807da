package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"og-meta-proxy/internal/model"
	"og-meta-proxy/internal/service"
)

// ProxyHandler forwards every inbound request to the origin and releases the
// intercepted response.
type ProxyHandler struct {
	service     *service.ProxyService
	interceptor *service.Interceptor
	logger      *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, ic *service.Interceptor, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:     svc,
		interceptor: ic,
		logger:      logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the origin, buffers the full response, runs it
// through the interceptor and writes the result.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.Path,
		RawPath:       req.URL.RawPath,
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
		RemoteAddr:    req.RemoteAddr,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}

	out := h.interceptor.Intercept(req.Context(), pr, resp)

	header := c.Response().Header()
	for key, vals := range out.Header {
		for _, v := range vals {
			header.Add(key, v)
		}
	}
	// HEAD responses keep the origin's Content-Length for the body they describe.
	withBody := req.Method != http.MethodHead && bodyAllowed(out.StatusCode)
	if withBody {
		header.Set(echo.HeaderContentLength, strconv.Itoa(len(out.Body)))
	}

	c.Response().WriteHeader(out.StatusCode)
	if !withBody || len(out.Body) == 0 {
		return nil
	}

	// The status is already sent; a write failure here is almost always a client
	// that went away, so it is only logged.
	if _, err := c.Response().Write(out.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrResponseTooLarge) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "origin response too large",
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "origin request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "origin host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"error": "origin request timed out",
			})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "origin connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "origin request failed",
	})
}
