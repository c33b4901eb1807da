package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"og-meta-proxy/internal/config"
	"og-meta-proxy/internal/metrics"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves the proxy's own liveness and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	metrics *metrics.Metrics
}

// NewHealthHandler creates a HealthHandler. m may be nil, in which case the status
// report carries no counters.
func NewHealthHandler(cfg *config.Config, v Version, m *metrics.Metrics) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, metrics: m}
}

type statusResponse struct {
	Status          string             `json:"status"`
	Version         string             `json:"version"`
	OriginURL       string             `json:"origin_url"`
	MetadataURL     string             `json:"metadata_url"`
	QueryParam      string             `json:"metadata_query_param"`
	IDSegment       int                `json:"id_segment"`
	EscapeValues    bool               `json:"escape_values"`
	Rewrites        map[string]float64 `json:"rewrites,omitempty"`
	MetadataResults map[string]float64 `json:"metadata_results,omitempty"`
	MissingTags     map[string]float64 `json:"placeholders_missing,omitempty"`
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports where the proxy points, how it rewrites, and how rewriting has
// gone since start-up.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := statusResponse{
		Status:       "ok",
		Version:      string(h.version),
		OriginURL:    h.cfg.Origin.TargetURL,
		MetadataURL:  h.cfg.Metadata.BaseURL,
		QueryParam:   h.cfg.Metadata.QueryParam,
		IDSegment:    h.cfg.Metadata.IDSegment,
		EscapeValues: h.cfg.Rewrite.EscapeValues,
	}

	if h.metrics != nil {
		counters, err := h.counters()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "gathering metrics failed",
			})
		}
		resp.Rewrites = counters["og_proxy_rewrites_total"]
		resp.MetadataResults = counters["og_proxy_metadata_results_total"]
		resp.MissingTags = counters["og_proxy_placeholders_missing_total"]
	}

	return c.JSON(http.StatusOK, resp)
}

// counters returns, per counter family of interest, the value of each series keyed
// by its single label value.
func (h *HealthHandler) counters() (map[string]map[string]float64, error) {
	families, err := h.metrics.Registry.Gather()
	if err != nil {
		return nil, err
	}

	out := map[string]map[string]float64{}
	for _, f := range families {
		switch f.GetName() {
		case "og_proxy_rewrites_total", "og_proxy_metadata_results_total", "og_proxy_placeholders_missing_total":
		default:
			continue
		}
		values := map[string]float64{}
		for _, metric := range f.GetMetric() {
			labels := metric.GetLabel()
			if len(labels) != 1 {
				continue
			}
			values[labels[0].GetValue()] = metric.GetCounter().GetValue()
		}
		out[f.GetName()] = values
	}
	return out, nil
}
