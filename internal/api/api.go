// Package api wires imagekeeper's HTTP endpoints onto the token-protected API server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagekeeper/pkg/api"
	metricsAPI "github.com/nicholas-fedor/imagekeeper/pkg/api/metrics"
)

// errStartFailed indicates the HTTP API could not be started.
var errStartFailed = errors.New("failed to start HTTP API")

// Config selects the endpoints to serve.
type Config struct {
	Host          string
	Port          string
	Token         string
	EnableMetrics bool
	// Gatherer supplies the metrics; defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Server replaces the http.Server, for tests.
	Server api.HTTPServer
}

// GetAPIAddr formats the API address string based on host and port.
func GetAPIAddr(host, port string) string {
	address := host + ":" + port
	if host != "" && strings.Contains(host, ":") && net.ParseIP(host) != nil {
		address = "[" + host + "]:" + port
	}

	return address
}

// SetupAndStartAPI registers the enabled endpoints and starts the server in
// the background. Nothing is started when no endpoint is enabled.
//
// Parameters:
//   - ctx: Context whose end shuts the server down.
//   - cfg: Endpoint selection and server settings.
//
// Returns:
//   - error: Non-nil if the server cannot start, e.g. without a token.
func SetupAndStartAPI(ctx context.Context, cfg Config) error {
	address := GetAPIAddr(cfg.Host, cfg.Port)

	var httpAPI *api.API
	if cfg.Server != nil {
		httpAPI = api.New(cfg.Token, address, cfg.Server)
	} else {
		httpAPI = api.New(cfg.Token, address)
	}

	if cfg.EnableMetrics {
		gatherer := cfg.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}

		metricsHandler := metricsAPI.New(gatherer)
		httpAPI.RegisterHandler(metricsHandler.Path, metricsHandler.Handle)
	}

	if err := httpAPI.Start(ctx, false); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Error("Failed to start API")

		return fmt.Errorf("%w: %w", errStartFailed, err)
	}

	return nil
}
