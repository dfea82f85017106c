// Package relayrest provides the relay's HTTP plumbing: a chi router with CORS
// and logging middleware, JSON response helpers and a webserver with graceful
// shutdown.
package relayrest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// DefaultRouter constructs a chi router with the common middleware.
func DefaultRouter(logger zerolog.Logger, allowedOrigins []string) chi.Router {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		WithCORS(allowedOrigins),
		WithLogger(logger),
		middleware.Recoverer,
	)
	return router
}

func WithCORS(allowedOrigins []string) func(next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	})
}

func WithLogger(logger zerolog.Logger) func(handler http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			l := logger.With().Str("request_id", middleware.GetReqID(req.Context())).Logger()
			ctx := l.WithContext(req.Context())
			req = req.WithContext(ctx)
			handler.ServeHTTP(w, req)
		})
	}
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes {"error": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// DecodeJSON decodes a request body, rejecting bodies larger than limit bytes.
func DecodeJSON(w http.ResponseWriter, req *http.Request, limit int64, v interface{}) error {
	req.Body = http.MaxBytesReader(w, req.Body, limit)
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

// Webserver listens on port and serves routes until ctx is cancelled, then
// stops accepting new requests and waits up to grace for in-flight requests.
// Hijacked connections are not waited on; the caller owns them.
func Webserver(ctx context.Context, logger zerolog.Logger, port int, routes http.Handler, grace time.Duration) error {
	addr := fmt.Sprintf(":%v", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to listen on %v: %w", addr, err)
	}
	return Serve(ctx, logger, listener, routes, grace)
}

// Serve is Webserver on an existing listener.
func Serve(ctx context.Context, logger zerolog.Logger, listener net.Listener, routes http.Handler, grace time.Duration) error {
	server := &http.Server{
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return logger.WithContext(context.Background()) },
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", listener.Addr().String()).Msg("starting http server")
		errs <- server.Serve(listener)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Dur("grace", grace).Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
