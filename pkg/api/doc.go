// Package api provides the token-protected HTTP server that watch mode uses
// to expose Prometheus metrics.
//
// Key components:
//   - API: Manages server setup and endpoint registration.
//   - RequireToken: Wraps handlers with bearer token validation.
//
// Usage example:
//
//	server := api.New("secure-token", ":8080")
//	handler := metricsAPI.New(prometheus.DefaultGatherer)
//	server.RegisterHandler(handler.Path, handler.Handle)
//	if err := server.Start(ctx, false); err != nil {
//	    logrus.WithError(err).Error("API start failed")
//	}
package api
