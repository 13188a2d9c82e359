// Package server exposes the authentication service over HTTP. All
// endpoints speak JSON; errors carry a machine-readable code clients branch
// on.
package server

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/promptforge/auth-server/auth"
	"github.com/promptforge/auth-server/internal/config"
)

type Server struct {
	env     string // Environment (e.g., "development", "production")
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	auth    *auth.Service
	limiter *rateLimiter
	logger  zerolog.Logger
}

func New(cfg config.Config, authService *auth.Service, logger zerolog.Logger) (*Server, error) {
	s := &Server{
		mux:     http.NewServeMux(),
		config:  cfg,
		auth:    authService,
		limiter: newRateLimiter(cfg.LoginRateLimit, cfg.RateWindow()),
		logger:  logger,
	}
	s.env = cfg.Env

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logger.Debug().Str("method", parts[0]).Str("path", parts[1]).Msg("route registered")
		} else {
			s.logger.Debug().Str("path", parts[0]).Msg("route registered")
		}
	}
}

// clientIP resolves the caller's address, preferring the forwarding header
// set by the reverse proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx != -1 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}
