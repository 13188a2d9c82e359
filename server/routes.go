package server

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	// Public auth routes
	s.RegisterRouteHandler("POST "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))

	// Routes requiring a live session
	s.RegisterRouteHandler("GET "+RouteAuthCheck, ChainMiddleware(s.CheckHandler(), append(s.APIMiddleware(), s.RequireAuth())...))

	// Admin routes (feature check happens in the handler)
	s.RegisterRouteHandler("POST "+RouteAuthRevoke, ChainMiddleware(s.RevokeHandler(), append(s.APIMiddleware(), s.RequireAuth())...))

	// Operational routes
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.Handler())
}
