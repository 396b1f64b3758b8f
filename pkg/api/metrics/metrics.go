// Package metrics provides the HTTP handler serving Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler is an HTTP handle for serving metric data.
type Handler struct {
	Path   string
	Handle http.Handler
}

// New creates a handler exposing everything gatherer collects on /v1/metrics.
func New(gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		Path:   "/v1/metrics",
		Handle: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	}
}
