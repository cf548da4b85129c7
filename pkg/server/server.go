// Package server is the public HTTP surface of the engine: resolution,
// per-session stream endpoints, preload, health and metrics.
package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"streamgate/pkg/auth"
	"streamgate/pkg/config"
	"streamgate/pkg/logger"
	"streamgate/pkg/metrics"
	"streamgate/pkg/preload"
	"streamgate/pkg/proxy"
	"streamgate/pkg/resolver"
	"streamgate/pkg/session"
)

// Server wires the engine components behind HTTP routes
type Server struct {
	config        *config.Config
	resolver      *resolver.Resolver
	sessions      *session.Store
	proxy         *proxy.Proxy
	preloader     *preload.Preloader
	deviceManager *auth.DeviceManager
	metrics       *metrics.Metrics
	apiHandler    http.Handler
}

// NewServer creates the HTTP server front
func NewServer(cfg *config.Config, res *resolver.Resolver, sessions *session.Store,
	prx *proxy.Proxy, pre *preload.Preloader, deviceManager *auth.DeviceManager,
	m *metrics.Metrics) (*Server, error) {

	s := &Server{
		config:        cfg,
		resolver:      res,
		sessions:      sessions,
		proxy:         prx,
		preloader:     pre,
		deviceManager: deviceManager,
		metrics:       m,
	}

	if err := s.CheckPort(cfg.Port); err != nil {
		return nil, err
	}

	return s, nil
}

// CheckPort verifies if the configured port is available
func (s *Server) CheckPort(port int) error {
	address := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("port %d is already in use", port)
	}
	ln.Close()
	return nil
}

// SetAPIHandler sets the handler for /api requests
func (s *Server) SetAPIHandler(h http.Handler) {
	s.apiHandler = h
}

// SetupRoutes configures HTTP routes on the mux.
//
// Requests may carry a device token as the first path segment; it is
// verified, stripped, and the device attached to the request context before
// internal routing. When no devices are registered the token prefix is
// optional and everything routes as-is.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	limiter := httprate.Limit(
		s.config.RateLimit.RequestLimit,
		time.Duration(s.config.RateLimit.WindowSeconds)*time.Second,
		httprate.WithKeyFuncs(s.rateLimitKey),
	)

	finalHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		requireToken := s.deviceManager != nil && s.deviceManager.Count() > 0

		// Check for a device token as the leading path segment
		trimmedPath := strings.TrimPrefix(path, "/")
		parts := strings.SplitN(trimmedPath, "/", 2)

		if requireToken && len(parts) >= 1 && parts[0] != "" {
			device, err := s.deviceManager.AuthenticateToken(parts[0])
			if err == nil && device != nil {
				if len(parts) > 1 {
					path = "/" + parts[1]
				} else {
					path = "/"
				}
				r.URL.Path = path
				r = r.WithContext(auth.ContextWithDevice(r.Context(), device))
			} else if protectedRoute(path) {
				logger.Warn("Unauthorized request", "path", path, "remote", r.RemoteAddr)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		} else if requireToken && protectedRoute(path) {
			logger.Warn("Unauthorized request - device token required", "path", path, "remote", r.RemoteAddr)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// Internal routing
		switch {
		case path == "/resolve":
			s.handleResolve(w, r)
		case path == "/preload":
			s.handlePreload(w, r)
		case strings.HasPrefix(path, "/stream/"):
			s.handleStream(w, r, path)
		case path == "/health":
			s.handleHealth(w, r)
		case path == "/metrics":
			s.metrics.Handler(func() {
				s.metrics.SetActiveSessions(s.sessions.Stats().ActiveSessions)
			}).ServeHTTP(w, r)
		case strings.HasPrefix(path, "/api/"):
			if s.apiHandler != nil {
				s.apiHandler.ServeHTTP(w, r)
			} else {
				http.NotFound(w, r)
			}
		default:
			http.NotFound(w, r)
		}
	})

	mux.Handle("/", limiter(finalHandler))
}

// protectedRoute reports whether a path needs a device token when devices
// are configured. Health and metrics stay open for probes and scrapers.
func protectedRoute(path string) bool {
	return path == "/resolve" || path == "/preload" ||
		strings.HasPrefix(path, "/stream/") || strings.HasPrefix(path, "/api/")
}

// rateLimitKey scopes the rate limit to the device token when one is
// present, falling back to the client IP.
func (s *Server) rateLimitKey(r *http.Request) (string, error) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/")
	if i := strings.Index(trimmed, "/"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if s.deviceManager != nil && trimmed != "" {
		if _, err := s.deviceManager.AuthenticateToken(trimmed); err == nil {
			return trimmed, nil
		}
	}
	if token := auth.TokenFromRequest(r); token != "" {
		return token, nil
	}
	return httprate.KeyByIP(r)
}
