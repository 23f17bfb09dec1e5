// Package http exposes the matching engine over a JSON REST API:
// candidate discovery, like/pass decisions, unmatch and the match list,
// plus health and readiness probes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/dentameet/matching-engine/internal/application/command"
	"github.com/dentameet/matching-engine/internal/application/query"
	"github.com/dentameet/matching-engine/internal/interface/http/handlers"
	"github.com/dentameet/matching-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// MaxBodyBytes - maximum size of request bodies.
	MaxBodyBytes int64

	// RequestTimeout bounds the context every handler runs with.
	RequestTimeout time.Duration

	// AllowedOrigins - allowed origins for CORS. Empty disables CORS.
	AllowedOrigins []string

	// RateLimitPerMinute - requests per minute per client (0 = disabled).
	RateLimitPerMinute int

	// TrustProxyHeaders keys clients by X-Forwarded-For / X-Real-IP
	// instead of the peer address.
	TrustProxyHeaders bool

	// Version is reported by the root endpoint.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        120 * time.Second,
		MaxHeaderBytes:     1 << 20, // 1 MB
		MaxBodyBytes:       64 << 10,
		RequestTimeout:     15 * time.Second,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 600,
		Version:            "dev",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Query handlers
	DiscoverCandidates *query.DiscoverCandidatesHandler
	ListMatches        *query.ListMatchesHandler

	// Command handlers
	RecordAction *command.RecordActionHandler
	Unmatch      *command.UnmatchHandler

	Logger *logger.Logger

	// HealthChecker backs /health and /ready.
	HealthChecker handlers.HealthChecker
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	logger     *logger.Logger

	limiter *clientLimiter

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		logger: deps.Logger,
	}

	if s.logger == nil {
		s.logger = logger.Default()
	}
	s.logger = s.logger.With(logger.Component("http"))

	if deps.HealthChecker == nil {
		s.deps.HealthChecker = handlers.NewNoopHealthChecker(config.Version)
	}

	if config.RateLimitPerMinute > 0 {
		s.limiter = newClientLimiter(config.RateLimitPerMinute)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.buildMiddlewareChain(s.router),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the fully wrapped handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /healthz", s.handleHealth) // Kubernetes alias
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /live", s.handleLive)
	s.router.HandleFunc("GET /{$}", s.handleRoot)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	api := handlers.Chain(handlers.NoCacheMiddleware, handlers.TimeoutMiddleware(s.config.RequestTimeout))

	s.router.Handle("GET /api/v1/users/{id}/candidates", api(http.HandlerFunc(s.handleDiscoverCandidates)))
	s.router.Handle("GET /api/v1/users/{id}/matches", api(http.HandlerFunc(s.handleListMatches)))
	s.router.Handle("POST /api/v1/interactions", api(http.HandlerFunc(s.handleRecordAction)))
	s.router.Handle("DELETE /api/v1/interactions/{pairKey}", api(http.HandlerFunc(s.handleUnmatch)))
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN
// ══════════════════════════════════════════════════════════════════════════════

// buildMiddlewareChain wraps the router. Middleware is listed outermost first.
func (s *Server) buildMiddlewareChain(router http.Handler) http.Handler {
	var chain []handlers.MiddlewareFunc

	if s.limiter != nil {
		chain = append(chain, s.rateLimitMiddleware)
	}
	if len(s.config.AllowedOrigins) > 0 {
		chain = append(chain, cors.New(cors.Options{
			AllowedOrigins: s.config.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
			MaxAge:         86400,
		}).Handler)
	}
	chain = append(chain,
		s.recoveryMiddleware,
		s.requestIDMiddleware,
		s.loggingMiddleware,
		handlers.SecurityHeadersMiddleware,
	)
	if s.config.MaxBodyBytes > 0 {
		chain = append(chain, handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes))
	}

	return handlers.ChainHandler(router, chain...)
}

// requestIDMiddleware adds a unique request ID to each request.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		ctx = logger.WithContext(ctx, s.logger.WithRequestID(requestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs all HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		fields := []logger.Field{
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rw.status),
			logger.Latency(time.Since(start)),
			logger.String("ip", s.clientIP(r)),
			logger.String("request_id", requestIDFrom(r.Context())),
		}
		if rw.status >= http.StatusInternalServerError {
			s.logger.Warn("http request", fields...)
			return
		}
		s.logger.Info("http request", fields...)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					logger.Any("error", err),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", r.URL.Path),
					logger.String("request_id", requestIDFrom(r.Context())),
				)
				writeProblem(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// ErrAlreadyListening is returned by a second call to Listen.
var ErrAlreadyListening = errors.New("http: server already listening")

// Listen binds the configured address. Port 0 picks a free port; the
// returned address is the one actually bound.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil, ErrAlreadyListening
	}

	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return nil, fmt.Errorf("http: listen on %s: %w", s.config.Address(), err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Serve accepts connections on the bound listener in the background. The
// channel yields at most one error and is closed when serving stops,
// including after Shutdown.
func (s *Server) Serve() <-chan error {
	errCh := make(chan error, 1)

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		errCh <- errors.New("http: Serve called before Listen")
		close(errCh)
		return errCh
	}

	s.logger.Info("serving HTTP", logger.String("address", ln.Addr().String()))
	go func() {
		defer close(errCh)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: serve: %w", err)
		}
	}()
	return errCh
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends. It is a no-op for a server that never listened.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// Every body is a JSONResponse envelope carrying the request ID.
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	APIVersion string    `json:"api_version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

const apiVersion = "v1"

func send(w http.ResponseWriter, r *http.Request, status int, body JSONResponse) {
	body.RequestID = requestIDFrom(r.Context())
	if body.Meta == nil {
		body.Meta = &ResponseMeta{}
	}
	body.Meta.Timestamp = time.Now().UTC()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.FromContext(r.Context()).Debug("response write failed", logger.Err(err))
	}
}

// writeData answers with data. Success follows the status class.
func writeData(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	send(w, r, status, JSONResponse{
		Success: status < http.StatusBadRequest,
		Data:    data,
		Meta:    &ResponseMeta{APIVersion: apiVersion},
	})
}

// writeList answers with a collection and its size.
func writeList(w http.ResponseWriter, r *http.Request, status int, data interface{}, count int) {
	send(w, r, status, JSONResponse{
		Success: status < http.StatusBadRequest,
		Data:    data,
		Meta:    &ResponseMeta{APIVersion: apiVersion, TotalCount: count},
	})
}

// writeProblem answers with an error body. details is optional.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, message string, details ...string) {
	apiErr := &APIError{Code: code, Message: message}
	if len(details) > 0 {
		apiErr.Details = details[0]
	}
	send(w, r, status, JSONResponse{Error: apiErr})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST CONTEXT
// ══════════════════════════════════════════════════════════════════════════════

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusRecorder remembers the status written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
