// Package api provides the local HTTP bridge: the UI's sync controls and
// progress stream, and the endpoint peers connect to.
package api

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mediashelf/mediashelf/internal/http/response"
	"github.com/mediashelf/mediashelf/internal/ratelimit"
	"github.com/mediashelf/mediashelf/internal/sse"
	"github.com/mediashelf/mediashelf/internal/transport/network"
)

// Options carries the optional parts of the server.
type Options struct {
	Version string

	// Peers answers incoming peer connections. Nil leaves the peer route
	// unregistered, as with the loopback transport.
	Peers http.Handler

	// PeerLimiter throttles peer connection attempts per remote address.
	PeerLimiter *ratelimit.KeyedRateLimiter
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	services   *Services
	sseHandler *sse.Handler
	opts       Options
	router     *chi.Mux
	api        huma.API
	logger     *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(services *Services, sseManager *sse.Manager, opts Options, logger *slog.Logger) *Server {
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}

	router := chi.NewRouter()
	s := &Server{
		services:   services,
		sseHandler: sse.NewHandler(sseManager, logger),
		opts:       opts,
		router:     router,
		logger:     logger,
	}

	s.setupMiddleware()

	humaConfig := huma.DefaultConfig("MediaShelf Sync API", opts.Version)
	s.api = humachi.New(router, humaConfig)
	RegisterErrorHandler()

	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.registerHealthRoutes()
	s.registerSyncRoutes()
	s.registerLibraryRoutes()

	// Streaming routes stay on chi.
	s.router.Get("/api/v1/sync/events", s.sseHandler.ServeHTTP)
	if s.opts.Peers != nil {
		s.router.Get(network.PeerPath, s.limitPeers(s.opts.Peers).ServeHTTP)
	}
}

// limitPeers rejects peers that reconnect faster than the limiter allows.
func (s *Server) limitPeers(next http.Handler) http.Handler {
	if s.opts.PeerLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !s.opts.PeerLimiter.Allow(key) {
			s.logger.Warn("peer connection rate limited", "ip", key)
			response.TooManyRequests(w, "too many connection attempts", s.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr, which RealIP has already
// rewritten when a proxy header is present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
