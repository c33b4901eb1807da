package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"og-meta-proxy/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records request count, latency,
// in-flight gauge and response size. Every proxied origin path shares the "proxy"
// label, so a crawler walking thousands of share pages adds no series; the proxy's
// own endpoints keep their path.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start).Seconds()

			method := metrics.NormalizeMethod(c.Request().Method)
			path := metrics.NormalizePath(c.Request().URL.Path)
			status := strconv.Itoa(responseStatus(c, err))

			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(elapsed)
			m.ResponseSize.WithLabelValues(path).Observe(float64(c.Response().Size))

			return err
		}
	}
}

// responseStatus is the status the client will see. An *echo.HTTPError is only
// written later by the central error handler, so its code wins over the recorder.
func responseStatus(c echo.Context, err error) int {
	var he *echo.HTTPError
	if err != nil && errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}
