package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"og-meta-proxy/internal/config"
	"og-meta-proxy/internal/metrics"
	"og-meta-proxy/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Every path that is
// not one of the proxy's own endpoints is forwarded to the origin.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	admin := e.Group("/_proxy", middleware.SecurityHeaders())
	admin.GET("/healthz", health.Healthz)
	admin.GET("/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})), middleware.SecurityHeaders())
	}

	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
}
