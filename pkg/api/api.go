package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// readHeaderTimeout is the timeout for reading request headers.
	readHeaderTimeout = 10 * time.Second
	// shutdownTimeout is the timeout for graceful server shutdown.
	shutdownTimeout = 5 * time.Second
)

var (
	// errEmptyToken indicates an API start without a bearer token.
	errEmptyToken = errors.New("API token is empty or unset")
	// errShutdownFailed indicates the server did not shut down cleanly.
	errShutdownFailed = errors.New("server shutdown failed")
)

// HTTPServer is the part of http.Server the API drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// API is the token-protected HTTP server used in watch mode.
type API struct {
	Token      string
	Addr       string
	registered bool
	mux        *http.ServeMux
	server     HTTPServer // Optional injected server for testing.
}

// New creates an API listening on addr. The server parameter is optional and
// replaces the http.Server the API would build.
func New(token, addr string, server ...HTTPServer) *API {
	var injected HTTPServer
	if len(server) > 0 {
		injected = server[0]
	}

	logrus.WithField("addr", addr).Debug("Initialized new API instance")

	return &API{
		Token:  token,
		Addr:   addr,
		mux:    http.NewServeMux(),
		server: injected,
	}
}

// RegisterHandler registers a token-protected handler for path.
func (a *API) RegisterHandler(path string, handler http.Handler) {
	a.mux.Handle(path, a.RequireToken(handler.ServeHTTP))
	a.registered = true
}

// Handler returns the API's routing handler.
func (a *API) Handler() http.Handler {
	return a.mux
}

// Start runs the HTTP server until ctx ends.
//
// Parameters:
//   - ctx: Context whose end shuts the server down.
//   - block: Run in the foreground when true, in a goroutine otherwise.
//
// Returns:
//   - error: Non-nil if the token is empty or, when blocking, the server fails.
func (a *API) Start(ctx context.Context, block bool) error {
	if !a.registered {
		logrus.Info("No handlers registered, skipping API start")

		return nil
	}

	if a.Token == "" {
		return errEmptyToken
	}

	server := a.server
	if server == nil {
		server = &http.Server{
			Addr:              a.Addr,
			Handler:           a.mux,
			ReadHeaderTimeout: readHeaderTimeout,
			BaseContext:       func(_ net.Listener) context.Context { return ctx },
		}
	}

	logrus.WithField("addr", a.Addr).Info("Starting HTTP API server")

	if block {
		return RunHTTPServer(ctx, server)
	}

	go func() {
		if err := RunHTTPServer(ctx, server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("HTTP API server failed")
		}
	}()

	return nil
}

// RequireToken wraps a handler function with bearer token authentication.
func (a *API) RequireToken(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if a.Token == "" || !strings.HasPrefix(auth, "Bearer ") ||
			strings.TrimPrefix(auth, "Bearer ") != a.Token {
			logrus.WithField("path", r.URL.Path).Debug("Rejected unauthenticated API request")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)

			return
		}

		handler(w, r)
	}
}

// RunHTTPServer starts server and shuts it down gracefully when ctx ends.
func RunHTTPServer(ctx context.Context, server HTTPServer) error {
	errChan := make(chan error, 1)

	go func() {
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%w: %w", errShutdownFailed, err)
		}

		return nil
	}
}
