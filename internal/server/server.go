package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiquetal/go-jwk-provider/internal/config"
	"github.com/kiquetal/go-jwk-provider/internal/jwks"
	"github.com/kiquetal/go-jwk-provider/internal/provider"
)

const requestIDHeader = "X-Request-ID"

type Server struct {
	config  config.ServerConfig
	manager *provider.Manager
	logger  *slog.Logger
	server  *http.Server
}

func New(cfg config.ServerConfig, manager *provider.Manager, logger *slog.Logger) *Server {
	s := &Server{
		config:  cfg,
		manager: manager,
		logger:  logger,
	}
	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routed handler wrapped in the request middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/keys/", s.handleGetKey)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/status/", s.handleIDPStatus)

	return s.requestIDMiddleware(s.loggingMiddleware(mux))
}

// Start serves until Shutdown is called; it returns nil once the server is closed
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
		"idps":   s.manager.Names(),
	}); err != nil {
		s.logger.Error("Failed to encode health response", "error", err)
	}
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract IDP name and kid from /keys/{idp}/{kid}
	idpName, kid, _ := strings.Cut(r.URL.Path[len("/keys/"):], "/")
	if idpName == "" || kid == "" {
		http.Error(w, "IDP name and key ID required", http.StatusBadRequest)
		return
	}

	key, err := s.manager.GetKey(r.Context(), idpName, kid)
	if err != nil {
		s.writeLookupError(w, idpName, kid, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-IDP", idpName)
	if err := json.NewEncoder(w).Encode(key.JWK()); err != nil {
		s.logger.Error("Failed to encode key response", "error", err, "idp", idpName, "kid", kid)
	}
}

func (s *Server) writeLookupError(w http.ResponseWriter, idpName, kid string, err error) {
	var rl *provider.RateLimitError
	switch {
	case errors.Is(err, provider.ErrUnknownIDP):
		http.Error(w, fmt.Sprintf("IDP '%s' not found", idpName), http.StatusNotFound)
	case errors.Is(err, provider.ErrKeyNotFound):
		http.Error(w, fmt.Sprintf("Key '%s' not found for IDP '%s'", kid, idpName), http.StatusNotFound)
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rl.RetryAfter)))
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
	case errors.Is(err, jwks.ErrSourceUnavailable), errors.Is(err, jwks.ErrSourceMalformed):
		http.Error(w, fmt.Sprintf("Key source for IDP '%s' failed", idpName), http.StatusBadGateway)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "Key lookup timed out", http.StatusGatewayTimeout)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// retryAfterSeconds rounds up to whole seconds, at least one
func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	all := s.manager.StatusAll()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(all); err != nil {
		s.logger.Error("Failed to encode status response", "error", err)
	}
}

func (s *Server) handleIDPStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract IDP name from path
	idpName := r.URL.Path[len("/status/"):]
	if idpName == "" {
		http.Error(w, "IDP name required", http.StatusBadRequest)
		return
	}

	status, exists := s.manager.Status(idpName)
	if !exists {
		http.Error(w, fmt.Sprintf("IDP '%s' not found", idpName), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to encode status response", "error", err, "idp", idpName)
	}
}

type requestIDKey struct{}

// RequestID returns the request ID stored in ctx by the middleware
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create response writer wrapper to capture status code
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"request_id", RequestID(r.Context()),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
